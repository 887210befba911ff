package procapi

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/pennos-project/pennos/internal/clock"
	"github.com/pennos-project/pennos/internal/fdtable"
	"github.com/pennos-project/pennos/internal/kernel"
	"github.com/pennos-project/pennos/internal/pcb"
	"github.com/pennos-project/pennos/internal/penlog"
	"github.com/pennos-project/pennos/internal/scheduler"
	"github.com/pennos-project/pennos/internal/vfat"
)

func newTestRig(t *testing.T) (*API, *kernel.Kernel, *scheduler.Scheduler, *pcb.PCB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.fs")
	if err := vfat.Mkfs(path, 1, 0); err != nil {
		t.Fatalf("Mkfs: %s", err)
	}
	fs, err := vfat.Mount(path)
	if err != nil {
		t.Fatalf("Mount: %s", err)
	}
	t.Cleanup(func() { fs.Unmount() })

	k := kernel.New(&clock.Quantum{}, penlog.New(io.Discard))
	init := k.Boot()
	sched := scheduler.New(k, init)
	fds := fdtable.New(fs, func() int64 { return 0 }, strings.NewReader(""), &bytes.Buffer{})
	api := New(k, sched, fds)

	init.OpenFDs = fdtable.NewProcessFDs()
	return api, k, sched, init
}

func runUntilIdle(s *scheduler.Scheduler, quanta int) {
	for i := 0; i < quanta; i++ {
		s.Step()
	}
}

func TestSpawnEnqueuesChildReady(t *testing.T) {
	api, _, sched, init := newTestRig(t)

	pid, err := api.Spawn(init, func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		p.Exit()
	}, []string{"child"}, 0, 1, "child")
	if err != nil {
		t.Fatalf("Spawn: %s", err)
	}
	if pid <= 0 {
		t.Fatalf("Spawn returned pid %d; want positive", pid)
	}

	runUntilIdle(sched, 19)

	if _, ok := sched.ReapZombie(pid); !ok {
		t.Fatalf("child %d never reached the zombie queue", pid)
	}
}

func TestSpawnRejectsInvalidFD(t *testing.T) {
	api, _, _, init := newTestRig(t)
	if _, err := api.Spawn(init, func(p *pcb.PCB, ctx *pcb.Context, argv []string) {}, nil, 99, 1, "bad"); err == nil {
		t.Fatalf("Spawn with invalid fd_in succeeded; want error")
	}
}

func TestWaitNoHangPollsWithoutBlocking(t *testing.T) {
	api, _, sched, init := newTestRig(t)

	pid, err := api.Spawn(init, func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		ctx.Yield()
		p.Exit()
	}, nil, 0, 1, "child")
	if err != nil {
		t.Fatalf("Spawn: %s", err)
	}

	if gotPID, _, err := api.Wait(init, nil, pcb.AnyChild, true); err != nil || gotPID != 0 {
		t.Fatalf("Wait(nohang) before exit = (%d, %v); want (0, nil)", gotPID, err)
	}

	runUntilIdle(sched, 19*2)

	gotPID, kind, err := api.Wait(init, nil, pcb.AnyChild, true)
	if err != nil {
		t.Fatalf("Wait(nohang) after exit: %s", err)
	}
	if gotPID != pid {
		t.Fatalf("Wait(nohang) reaped pid %d; want %d", gotPID, pid)
	}
	if !kind.IsTerminal() {
		t.Fatalf("ExitKind = %v; want terminal", kind)
	}
}

func TestBlockingWaitRendezvousAndSecondWaitErrors(t *testing.T) {
	api, _, sched, init := newTestRig(t)

	type waitResult struct {
		pid    int
		kind   pcb.ExitKind
		err    error
		reWait error
	}
	var got waitResult

	_, err := api.Spawn(init, func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		childPID, err := api.Spawn(p, func(c *pcb.PCB, cctx *pcb.Context, argv []string) {
			c.Exit()
		}, nil, 0, 1, "worker")
		if err != nil {
			got.err = err
			p.Exit()
		}
		pid, kind, werr := api.Wait(p, ctx, childPID, false)
		got.pid, got.kind, got.err = pid, kind, werr
		_, _, got.reWait = api.Wait(p, ctx, childPID, true)
		p.Exit()
	}, nil, 0, 1, "parent")
	if err != nil {
		t.Fatalf("Spawn parent: %s", err)
	}

	runUntilIdle(sched, 19*3)

	if got.err != nil {
		t.Fatalf("blocking Wait: %s", got.err)
	}
	if !got.kind.IsExitedNormal() {
		t.Fatalf("ExitKind = %v; want EXITED_NORMAL", got.kind)
	}
	if got.pid <= 0 {
		t.Fatalf("Wait returned pid %d; want the exited child's pid", got.pid)
	}
	if got.reWait == nil {
		t.Fatalf("second Wait on an already-reaped child succeeded; want already-waited error")
	}
}

func TestStopContOnSleeperPausesCountdown(t *testing.T) {
	api, _, sched, init := newTestRig(t)

	pid := api.Sleep(init, 2)
	if err := api.Kill(pid, scheduler.SigStop); err != nil {
		t.Fatalf("Kill(STOP): %s", err)
	}
	for i := 0; i < 5; i++ {
		sched.Step()
	}
	if _, ok := sched.ReapZombie(pid); ok {
		t.Fatalf("stopped sleeper kept counting down its ticks")
	}

	if err := api.Kill(pid, scheduler.SigCont); err != nil {
		t.Fatalf("Kill(CONT): %s", err)
	}
	for i := 0; i < 2; i++ {
		sched.Step()
	}
	z, ok := sched.ReapZombie(pid)
	if !ok {
		t.Fatalf("resumed sleeper never expired")
	}
	if !z.ExitKind.IsExitedNormal() {
		t.Fatalf("sleeper ExitKind = %v; want EXITED_NORMAL", z.ExitKind)
	}
}

func TestSleepBlocksAndExpiresAfterTicks(t *testing.T) {
	api, k, sched, init := newTestRig(t)

	pid := api.Sleep(init, 3)
	child, ok := k.Lookup(pid)
	if !ok {
		t.Fatalf("Lookup(%d) failed", pid)
	}
	if child.Status != pcb.StatusBlocked {
		t.Fatalf("sleep child status = %v; want BLOCKED", child.Status)
	}

	for i := 0; i < 2; i++ {
		sched.Step()
	}
	if _, ok := sched.ReapZombie(pid); ok {
		t.Fatalf("sleep child reaped too early, after only 2 quanta of a 3-tick sleep")
	}

	sched.Step()
	if _, ok := sched.ReapZombie(pid); !ok {
		t.Fatalf("sleep child not zombified after its tick count elapsed")
	}
}

func TestKillTermZombifiesAndExitSignaled(t *testing.T) {
	api, _, sched, init := newTestRig(t)

	pid, err := api.Spawn(init, func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		for {
			ctx.Yield()
		}
	}, nil, 0, 1, "looper")
	if err != nil {
		t.Fatalf("Spawn: %s", err)
	}
	sched.Step()

	if err := api.Kill(pid, scheduler.SigTerm); err != nil {
		t.Fatalf("Kill: %s", err)
	}
	z, ok := sched.ReapZombie(pid)
	if !ok {
		t.Fatalf("killed process not in zombie queue")
	}
	if z.ExitKind != pcb.ExitSignaled {
		t.Fatalf("ExitKind = %v; want ExitSignaled, full PCB snapshot:\n%s", z.ExitKind, spew.Sdump(z))
	}
}

func TestNiceMovesBetweenReadyQueues(t *testing.T) {
	api, k, _, init := newTestRig(t)

	pid, err := api.Spawn(init, func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		for {
			ctx.Yield()
		}
	}, nil, 0, 1, "looper")
	if err != nil {
		t.Fatalf("Spawn: %s", err)
	}

	if err := api.Nice(pid, pcb.PriorityHigh); err != nil {
		t.Fatalf("Nice: %s", err)
	}
	child, ok := k.Lookup(pid)
	if !ok {
		t.Fatalf("Lookup(%d) failed", pid)
	}
	if child.Priority != pcb.PriorityHigh {
		t.Fatalf("Priority = %d; want PriorityHigh", child.Priority)
	}
}

func TestPsOmitsTerminated(t *testing.T) {
	api, _, sched, init := newTestRig(t)

	pid, err := api.Spawn(init, func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		p.Exit()
	}, nil, 0, 1, "child")
	if err != nil {
		t.Fatalf("Spawn: %s", err)
	}
	runUntilIdle(sched, 19)
	if _, _, err := api.Wait(init, nil, pid, true); err != nil {
		t.Fatalf("Wait: %s", err)
	}

	for _, p := range api.Ps() {
		if p.PID == pid {
			t.Fatalf("Ps() still lists reaped pid %d", pid)
		}
	}
}
