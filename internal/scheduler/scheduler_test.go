package scheduler

import (
	"io"
	"testing"

	"github.com/pennos-project/pennos/internal/clock"
	"github.com/pennos-project/pennos/internal/kernel"
	"github.com/pennos-project/pennos/internal/pcb"
	"github.com/pennos-project/pennos/internal/penlog"
)

func newTestRig(t *testing.T) (*kernel.Kernel, *Scheduler) {
	t.Helper()
	k := kernel.New(&clock.Quantum{}, penlog.New(io.Discard))
	init := k.Boot()
	s := New(k, init)
	return k, s
}

// spinEntry yields forever, modeling any long-running job whose only
// observable behavior under test is how often the scheduler revisits it.
func spinEntry(counter *int) pcb.Entry {
	return func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		for {
			*counter++
			ctx.Yield()
		}
	}
}

func spawnSpin(k *kernel.Kernel, parent *pcb.PCB, name string, priority int, counter *int) *pcb.PCB {
	child := k.Create(parent, name)
	child.Priority = priority
	child.Start(spinEntry(counter), nil)
	return child
}

func TestScheduleTableRatioMatchesSourceConstruction(t *testing.T) {
	_, s := newTestRig(t)
	var low, normal, high int
	for _, p := range s.table {
		switch p {
		case pcb.PriorityLow:
			low++
		case pcb.PriorityNormal:
			normal++
		case pcb.PriorityHigh:
			high++
		}
	}
	if low != 4 || normal != 6 || high != 9 {
		t.Fatalf("slot counts = low:%d normal:%d high:%d; want 4:6:9", low, normal, high)
	}
}

func TestNineteenQuantaSelectExactRatio(t *testing.T) {
	k, s := newTestRig(t)
	root, _ := k.Lookup(kernel.InitPID)

	var hi, mid, lo int
	for _, c := range []struct {
		name string
		prio int
		runs *int
	}{
		{"hi", pcb.PriorityHigh, &hi},
		{"mid", pcb.PriorityNormal, &mid},
		{"lo", pcb.PriorityLow, &lo},
	} {
		s.Enqueue(spawnSpin(k, root, c.name, c.prio, c.runs))
	}

	for i := 0; i < tableSize; i++ {
		s.Step()
	}

	if hi != 9 || mid != 6 || lo != 4 {
		t.Fatalf("selections over one table cycle = hi:%d mid:%d lo:%d; want 9:6:4", hi, mid, lo)
	}
}

func TestHighPriorityRunsMoreOftenThanLow(t *testing.T) {
	k, s := newTestRig(t)
	var highRuns, lowRuns int
	root, _ := k.Lookup(kernel.InitPID)
	high := spawnSpin(k, root, "high", pcb.PriorityHigh, &highRuns)
	low := spawnSpin(k, root, "low", pcb.PriorityLow, &lowRuns)
	s.Enqueue(high)
	s.Enqueue(low)

	for i := 0; i < tableSize*10; i++ {
		s.Step()
	}

	if highRuns <= lowRuns {
		t.Fatalf("high priority ran %d times, low ran %d; want high > low", highRuns, lowRuns)
	}
}

func TestBlockedProcessIsNotRescheduledUntilWaiterLogic(t *testing.T) {
	k, s := newTestRig(t)
	root, _ := k.Lookup(kernel.InitPID)
	child := k.Create(root, "waiter")
	child.Priority = pcb.PriorityNormal
	blocked := false
	child.Start(func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		ctx.Block()
		blocked = true
	}, nil)
	s.Enqueue(child)

	for i := 0; i < tableSize; i++ {
		s.Step()
	}

	if child.Status != pcb.StatusBlocked {
		t.Fatalf("child.Status = %v; want BLOCKED after calling ctx.Block()", child.Status)
	}
	if blocked {
		t.Fatalf("entry body resumed past Block() without the scheduler waking it")
	}
}

func TestExitMarksZombieAndNotifiesWaitingParent(t *testing.T) {
	k, s := newTestRig(t)
	root, _ := k.Lookup(kernel.InitPID)

	parent := k.Create(root, "parent")
	parent.Priority = pcb.PriorityNormal
	resumed := false
	parent.Start(func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		p.WaitTarget = pcb.AnyChild
		ctx.Block()
		resumed = true
		for {
			ctx.Yield()
		}
	}, nil)

	child := k.Create(parent, "worker")
	child.Priority = pcb.PriorityNormal
	child.Start(func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		p.Exit()
	}, nil)

	s.Enqueue(parent)
	s.Enqueue(child)

	for i := 0; i < tableSize*2; i++ {
		s.Step()
	}

	if !resumed {
		t.Fatalf("waiting parent never resumed after its child exited")
	}
	if parent.WaitObservedKind != pcb.ExitNormal {
		t.Fatalf("parent.WaitObservedKind = %v; want EXITED_NORMAL", parent.WaitObservedKind)
	}
	if parent.WaitTarget != child.PID {
		t.Fatalf("parent.WaitTarget = %d; want the exited child's pid %d", parent.WaitTarget, child.PID)
	}
	if _, ok := s.ReapZombie(child.PID); !ok {
		t.Fatalf("expected %d to be reapable from the zombie queue", child.PID)
	}
}

func TestStopReportsToWaitingParentOnce(t *testing.T) {
	k, s := newTestRig(t)
	root, _ := k.Lookup(kernel.InitPID)

	parent := k.Create(root, "parent")
	parent.Priority = pcb.PriorityNormal
	parent.Start(func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		p.WaitTarget = pcb.AnyChild
		ctx.Block()
		for {
			ctx.Yield()
		}
	}, nil)

	var runs int
	child := spawnSpin(k, parent, "job", pcb.PriorityNormal, &runs)

	s.Enqueue(parent)
	s.Enqueue(child)
	// Two slots: the table's leading low-priority slot is empty, then the
	// normal slot dispatches the parent, which blocks on any child.
	s.Step()
	s.Step()

	if err := s.Kill(child.PID, SigStop); err != nil {
		t.Fatalf("Kill(STOP): %v", err)
	}

	if parent.WaitObservedKind != pcb.ExitStoppedReported {
		t.Fatalf("parent.WaitObservedKind = %v; want STOPPED_REPORTED", parent.WaitObservedKind)
	}
	if child.ExitKind != pcb.ExitNoChange {
		t.Fatalf("child.ExitKind = %v; want NO_CHANGE once the stop was consumed", child.ExitKind)
	}
}

func TestKillStopThenContRoundTrips(t *testing.T) {
	k, s := newTestRig(t)
	root, _ := k.Lookup(kernel.InitPID)
	var runs int
	child := spawnSpin(k, root, "job", pcb.PriorityNormal, &runs)
	s.Enqueue(child)

	if err := s.Kill(child.PID, SigStop); err != nil {
		t.Fatalf("Kill(STOP): %v", err)
	}
	if child.Status != pcb.StatusStopped {
		t.Fatalf("child.Status = %v; want STOPPED", child.Status)
	}

	if err := s.Kill(child.PID, SigCont); err != nil {
		t.Fatalf("Kill(CONT): %v", err)
	}
	// promoteResumedStopped only runs as part of Step's housekeeping.
	s.Step()
	if child.Status != pcb.StatusReady && child.Status != pcb.StatusRunning {
		t.Fatalf("child.Status = %v; want READY or RUNNING after CONT settles", child.Status)
	}
}

func TestKillTermZombifiesImmediately(t *testing.T) {
	k, s := newTestRig(t)
	root, _ := k.Lookup(kernel.InitPID)
	var runs int
	child := spawnSpin(k, root, "job", pcb.PriorityNormal, &runs)
	s.Enqueue(child)

	if err := s.Kill(child.PID, SigTerm); err != nil {
		t.Fatalf("Kill(TERM): %v", err)
	}
	if child.Status != pcb.StatusZombie {
		t.Fatalf("child.Status = %v; want ZOMBIE", child.Status)
	}
	if child.ExitKind != pcb.ExitSignaled {
		t.Fatalf("child.ExitKind = %v; want EXITED_SIGNAL", child.ExitKind)
	}
}

func TestNiceMovesReadyProcessBetweenQueuesImmediately(t *testing.T) {
	k, s := newTestRig(t)
	root, _ := k.Lookup(kernel.InitPID)
	var runs int
	child := spawnSpin(k, root, "job", pcb.PriorityLow, &runs)
	s.Enqueue(child)

	if s.pos.Size() != 1 {
		t.Fatalf("pos queue size = %d; want 1 before Nice", s.pos.Size())
	}
	if err := s.Nice(child.PID, pcb.PriorityHigh); err != nil {
		t.Fatalf("Nice: %v", err)
	}
	if s.pos.Size() != 0 || s.neg.Size() != 1 {
		t.Fatalf("after Nice: pos=%d neg=%d; want pos=0 neg=1", s.pos.Size(), s.neg.Size())
	}
}
