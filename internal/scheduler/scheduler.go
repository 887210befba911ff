// Package scheduler implements the priority round-robin scheduler: the
// three ready queues, the blocked/stopped/zombie queues, the fixed 19-slot
// schedule table, and every state transition a quantum boundary can trigger
// (yield, block, exit, stop, continue, sleep expiry, orphan/zombie
// reconciliation).
package scheduler

import (
	"context"
	"time"

	"github.com/pennos-project/pennos/internal/deque"
	"github.com/pennos-project/pennos/internal/kernel"
	"github.com/pennos-project/pennos/internal/pcb"
	"github.com/pennos-project/pennos/internal/pennerr"
	"github.com/pennos-project/pennos/internal/penlog"
)

// Signal is one of the three job-control signals Kill understands.
type Signal int

const (
	SigStop Signal = iota
	SigCont
	SigTerm
)

func (s Signal) String() string {
	switch s {
	case SigStop:
		return "S_SIGSTOP"
	case SigCont:
		return "S_SIGCONT"
	case SigTerm:
		return "S_SIGTERM"
	default:
		return "S_UNKNOWN"
	}
}

const tableSize = 19

// DefaultQuantum is the real-time length of one scheduling slice: ten 10ms
// timer periods per quantum.
const DefaultQuantum = 100 * time.Millisecond

// Scheduler owns every queue a PCB can live in once it leaves the kernel's
// flat registry. It is not safe for concurrent use, but it doesn't need to
// be: the cooperative handoff in internal/pcb guarantees that at most one
// goroutine (either the scheduler loop, parked in Dispatch, or whichever
// entry currently holds the baton) ever touches it at a time.
type Scheduler struct {
	kernel *kernel.Kernel

	neg, zero, pos   *deque.Deque[*pcb.PCB]
	blocked, stopped *deque.Deque[*pcb.PCB]
	zombie           *deque.Deque[*pcb.PCB]

	table      [tableSize]int
	trackerPos int

	quantum time.Duration

	idle       *pcb.PCB
	idleQueued bool
}

// idlePID is reserved and never handed out by Kernel.Create, so idle never
// shows up in ps, can't be waited on, and can't be killed - it isn't in the
// registry at all.
const idlePID = 0

func idleEntry(p *pcb.PCB, ctx *pcb.Context, argv []string) {
	for {
		ctx.Yield()
	}
}

// New constructs a Scheduler around k. initProc is the PCB returned by
// Kernel.Boot; it starts parked in the blocked queue waiting on any child,
// mirroring init's role as the orphan reaper of last resort.
func New(k *kernel.Kernel, initProc *pcb.PCB) *Scheduler {
	s := &Scheduler{
		kernel:  k,
		neg:     deque.New[*pcb.PCB](),
		zero:    deque.New[*pcb.PCB](),
		pos:     deque.New[*pcb.PCB](),
		blocked: deque.New[*pcb.PCB](),
		stopped: deque.New[*pcb.PCB](),
		zombie:  deque.New[*pcb.PCB](),
		quantum: DefaultQuantum,
	}
	s.buildTable()

	initProc.Status = pcb.StatusBlocked
	initProc.WaitTarget = pcb.AnyChild
	s.blocked.PushBack(initProc)

	var idleFDs [pcb.MaxOpenFiles]int
	for i := range idleFDs {
		idleFDs[i] = pcb.FreeFD
	}
	idleFDs[0], idleFDs[1] = 0, 1
	s.idle = pcb.New(idlePID, idlePID, idleFDs, pcb.PriorityNormal, "idle")
	s.idle.Start(idleEntry, nil)

	return s
}

// buildTable constructs the fixed 19-slot cycle: four slots of low priority,
// six of normal, nine of high, giving high-priority processes more than
// double the CPU share of low-priority ones without starving either.
func (s *Scheduler) buildTable() {
	for i := 0; i < tableSize; i++ {
		switch {
		case i == 0 || i == 3 || i == 6 || i == 9:
			s.table[i] = pcb.PriorityLow
		case i == 1 || i == 4 || i == 7 || i == 10 || i == 12 || i == 14:
			s.table[i] = pcb.PriorityNormal
		default:
			s.table[i] = pcb.PriorityHigh
		}
	}
}

func (s *Scheduler) queueForPriority(priority int) *deque.Deque[*pcb.PCB] {
	switch priority {
	case pcb.PriorityHigh:
		return s.neg
	case pcb.PriorityNormal:
		return s.zero
	case pcb.PriorityLow:
		return s.pos
	default:
		panic("scheduler: undefined priority")
	}
}

func (s *Scheduler) scheduleReady(p *pcb.PCB) {
	p.Status = pcb.StatusReady
	s.queueForPriority(p.Priority).PushBack(p)
}

// Enqueue places a freshly spawned (or newly resumed) PCB onto its priority
// class's ready queue.
func (s *Scheduler) Enqueue(p *pcb.PCB) {
	s.scheduleReady(p)
}

// SetQuantum overrides the real-time slice length Run paces itself by.
// Non-positive durations are ignored.
func (s *Scheduler) SetQuantum(d time.Duration) {
	if d > 0 {
		s.quantum = d
	}
}

// Run drives the scheduler loop until ctx is canceled, taking one schedule-
// table slot per timer tick. Each tick advances the table by exactly one
// slot regardless of whether that slot's queue had work.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.quantum)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step runs exactly one schedule-table slot: pick the slot's priority class,
// dispatch its front runnable PCB (if any) for one quantum, then always apply
// the post-quantum housekeeping passes. If every ready queue is empty, idle
// fills the slot so housekeeping still runs every quantum and the scheduler
// always has something to swap into. Exported so tests can drive the
// scheduler deterministically without a background goroutine.
func (s *Scheduler) Step() {
	priority := s.table[s.trackerPos]
	s.trackerPos = (s.trackerPos + 1) % tableSize
	pq := s.queueForPriority(priority)

	if !s.idleQueued && s.neg.Size() == 0 && s.zero.Size() == 0 && s.pos.Size() == 0 {
		s.idle.Priority = priority
		s.idle.Status = pcb.StatusReady
		pq.PushBack(s.idle)
		s.idleQueued = true
	}

	quantum := s.kernel.Clock().Now()
	if p, ok := pq.PopFront(); ok {
		if p.PID == idlePID {
			s.idleQueued = false
		}
		quantum = s.dispatchOne(p, priority)
	}

	s.runSleepTicks(quantum)
	s.promoteResumedStopped()
	s.rescanZombies()
}

// dispatchOne runs p for one quantum if it is still eligible for this slot,
// or files it under its real status/priority otherwise. Returns the quantum
// count to stamp subsequent housekeeping log lines with.
func (s *Scheduler) dispatchOne(p *pcb.PCB, priority int) int {
	if p.Status != pcb.StatusReady {
		// The PCB was signaled while it sat in the ready queue; file it
		// under its real status instead of dispatching it.
		switch p.Status {
		case pcb.StatusZombie:
			s.zombie.PushBack(p)
		case pcb.StatusStopped:
			s.stopped.PushBack(p)
		}
		return s.kernel.Clock().Now()
	}
	if p.Priority != priority {
		// Nice() changed its class after it was enqueued here; requeue
		// under the class it actually belongs to now.
		s.scheduleReady(p)
		return s.kernel.Clock().Now()
	}
	if !p.Runnable() {
		// A bookkeeping PCB with no entry goroutine ended up on a ready
		// queue; log it and park it back in the blocked queue instead of
		// dispatching into nothing.
		quantum := s.kernel.Clock().Now()
		s.log().Emit(quantum, penlog.EventBlocked, p.PID, p.Priority, p.Name)
		p.Status = pcb.StatusBlocked
		s.blocked.PushBack(p)
		return quantum
	}

	quantum := s.kernel.Clock().Tick()
	s.log().Emit(quantum, penlog.EventSchedule, p.PID, p.Priority, p.Name)

	p.Status = pcb.StatusRunning
	reason := p.Dispatch()

	switch reason {
	case pcb.PauseYielded:
		switch {
		case p.PID == idlePID:
			// idle never lingers in a ready queue; Step re-enqueues it
			// fresh the next slot it's actually needed.
		case p.Status != pcb.StatusRunning:
			// The process signaled itself before yielding; honor the
			// state its own kill left behind instead of requeueing it.
			s.handleExited(p, quantum)
		default:
			s.scheduleReady(p)
		}
	case pcb.PauseBlocked:
		p.Status = pcb.StatusBlocked
		s.log().Emit(quantum, penlog.EventBlocked, p.PID, p.Priority, p.Name)
		s.blocked.PushBack(p)
	case pcb.PauseExited:
		s.handleExited(p, quantum)
	}
	return quantum
}

func (s *Scheduler) handleExited(p *pcb.PCB, quantum int) {
	s.notifyWaiters(p)
	switch p.Status {
	case pcb.StatusZombie:
		s.log().Emit(quantum, penlog.EventZombie, p.PID, p.Priority, p.Name)
		s.zombie.PushBack(p)
	case pcb.StatusStopped:
		s.log().Emit(quantum, penlog.EventStopped, p.PID, p.Priority, p.Name)
		s.stopped.PushBack(p)
	}
}

// runSleepTicks decrements every sleeping bookkeeping PCB in the blocked
// queue by one quantum, zombifying (and unblocking any waiter on) whichever
// ones reach zero. A finished sleeper migrates into the zombie queue
// immediately, so it is reapable by the next wait() the same as any other
// exited child.
func (s *Scheduler) runSleepTicks(quantum int) {
	for _, p := range s.blocked.ToSlice() {
		if !p.IsSleeping() {
			continue
		}
		p.SleepTicksRemaining--
		if p.SleepTicksRemaining > 0 {
			continue
		}
		p.Status = pcb.StatusZombie
		p.ExitKind = pcb.ExitNormal
		s.blocked.RemoveWhere(func(b *pcb.PCB) bool { return b.PID == p.PID })
		s.log().Emit(quantum, penlog.EventExited, p.PID, p.Priority, p.Name)
		s.notifyWaiters(p)
		s.zombie.PushBack(p)
	}
}

// promoteResumedStopped migrates any stopped-queue PCB that a CONT signal
// has already flipped to READY back onto its ready queue.
func (s *Scheduler) promoteResumedStopped() {
	for _, p := range s.stopped.ToSlice() {
		if p.Status != pcb.StatusReady {
			continue
		}
		s.stopped.RemoveWhere(func(b *pcb.PCB) bool { return b.PID == p.PID })
		s.notifyWaiters(p)
		s.scheduleReady(p)
	}
}

// rescanZombies gives notifyWaiters a second chance at every zombie each
// quantum, covering the case where the parent only started waiting after
// the child had already exited.
func (s *Scheduler) rescanZombies() {
	for _, p := range s.zombie.ToSlice() {
		if p.Status != pcb.StatusTerminated {
			s.notifyWaiters(p)
		}
	}
}

// notifyWaiters looks for p's parent sitting in the blocked queue and, if it
// is waiting on p specifically (or on any child), unblocks it with the
// observed status. Reports whether a matching waiter was woken; at most one
// waiter per child is assumed. init never wakes: it is
// parked in the blocked queue forever as the adopter of last resort and has
// no entry goroutine to resume, so its wait target is left untouched.
func (s *Scheduler) notifyWaiters(p *pcb.PCB) bool {
	var parent *pcb.PCB
	s.blocked.Each(func(b *pcb.PCB) bool {
		if b.PID == p.ParentPID {
			parent = b
			return false
		}
		return true
	})
	if parent == nil || parent.PID == kernel.InitPID {
		return false
	}

	// Re-notifying a STOP whose exit kind was already consumed is a no-op;
	// only a fresh STOPPED_REPORTED may claim the waiter.
	if p.Status == pcb.StatusStopped && p.ExitKind != pcb.ExitStoppedReported {
		return false
	}

	if parent.WaitTarget == pcb.AnyChild {
		parent.WaitTarget = p.PID
	}
	if parent.WaitTarget != p.PID {
		return false
	}

	switch p.Status {
	case pcb.StatusZombie:
		parent.WaitObservedKind = p.ExitKind
	case pcb.StatusStopped:
		parent.WaitObservedKind = pcb.ExitStoppedReported
		p.ExitKind = pcb.ExitNoChange
	case pcb.StatusReady:
		// A CONT without an intervening report completes the wait with
		// NOT_EXITED so the waiter can observe the resume.
		parent.WaitObservedKind = pcb.ExitNotExited
	default:
		return false
	}

	s.blocked.RemoveWhere(func(b *pcb.PCB) bool { return b.PID == parent.PID })
	s.log().Emit(s.kernel.Clock().Now(), penlog.EventUnblocked, parent.PID, parent.Priority, parent.Name)
	s.scheduleReady(parent)
	return true
}

// Block parks a PCB that never goes through Dispatch directly into the
// blocked queue: sleep's synthetic bookkeeping child and the shell PCB the
// embedding process owns. A running process blocks by setting its wait
// target and calling ctx.Block(); the dispatch loop files it here itself.
func (s *Scheduler) Block(p *pcb.PCB, waitTarget int) {
	p.Status = pcb.StatusBlocked
	p.WaitTarget = waitTarget
	s.blocked.PushBack(p)
}

// ReapZombie removes and returns the zombie-queue PCB matching pid, for
// wait() to finalize via Kernel.Cleanup.
func (s *Scheduler) ReapZombie(pid int) (*pcb.PCB, bool) {
	var found *pcb.PCB
	s.zombie.RemoveWhere(func(b *pcb.PCB) bool {
		if b.PID != pid {
			return false
		}
		found = b
		return true
	})
	return found, found != nil
}

// FindZombieChild returns the first zombie (in queue order) whose parent is
// parentPID and whose pid matches target, or any zombie child when target
// is pcb.AnyChild.
func (s *Scheduler) FindZombieChild(parentPID, target int) (*pcb.PCB, bool) {
	return s.zombie.Find(func(b *pcb.PCB) bool {
		if b.ParentPID != parentPID {
			return false
		}
		return target == pcb.AnyChild || b.PID == target
	})
}

// FindStoppedChild returns the first stopped-and-not-yet-reported child of
// parentPID matching target, for wait(WNOHANG)-style polling of a STOP.
func (s *Scheduler) FindStoppedChild(parentPID, target int) (*pcb.PCB, bool) {
	return s.stopped.Find(func(b *pcb.PCB) bool {
		if b.ParentPID != parentPID || b.ExitKind != pcb.ExitStoppedReported {
			return false
		}
		return target == pcb.AnyChild || b.PID == target
	})
}

// Kill applies a STOP, CONT, or TERM job-control signal to pid's process.
func (s *Scheduler) Kill(pid int, sig Signal) error {
	p, ok := s.kernel.Lookup(pid)
	if !ok {
		return pennerr.New(pennerr.CodeNoSuchPID, "kill", "no such pid %d", pid)
	}
	if p.Status == pcb.StatusTerminated {
		return pennerr.New(pennerr.CodeStatusUnrecognized, "kill", "pid %d already terminated", pid)
	}
	if p.Status == pcb.StatusZombie {
		// Already exited; nothing left to stop, resume, or terminate.
		return nil
	}

	// A signal aimed at the on-CPU process only flips its state; the dispatch
	// loop files it into the right queue when its quantum ends.
	running := p.Status == pcb.StatusRunning

	quantum := s.kernel.Clock().Now()
	switch sig {
	case SigStop:
		if !running {
			s.removeFromQueues(p)
		}
		p.Status = pcb.StatusStopped
		p.ExitKind = pcb.ExitStoppedReported
		if !running {
			s.stopped.PushBack(p)
			s.notifyWaiters(p)
		}
	case SigTerm:
		if !running {
			s.removeFromQueues(p)
		}
		p.Status = pcb.StatusZombie
		p.ExitKind = pcb.ExitSignaled
		if !running {
			s.zombie.PushBack(p)
			s.notifyWaiters(p)
		}
	case SigCont:
		if p.Status != pcb.StatusStopped {
			return nil
		}
		s.removeFromQueues(p)
		if p.IsSleeping() {
			p.Status = pcb.StatusBlocked
			s.blocked.PushBack(p)
		} else {
			// Leave the status flip for promoteResumedStopped to notice
			// on the next housekeeping pass rather than racing the
			// running dispatch.
			p.Status = pcb.StatusReady
			s.stopped.PushBack(p)
		}
		s.log().Emit(quantum, penlog.EventContinued, p.PID, p.Priority, p.Name)
		return nil
	default:
		return pennerr.New(pennerr.CodeInvalidSignal, "kill", "unrecognized signal %v", sig)
	}

	s.log().Emit(quantum, penlog.EventSignaled, p.PID, p.Priority, p.Name)
	return nil
}

// Nice changes a PCB's priority class, moving it between ready queues
// immediately if it is currently READY.
func (s *Scheduler) Nice(pid, priority int) error {
	p, ok := s.kernel.Lookup(pid)
	if !ok {
		return pennerr.New(pennerr.CodeNoSuchPID, "nice", "no such pid %d", pid)
	}
	if priority < pcb.PriorityHigh || priority > pcb.PriorityLow {
		return pennerr.New(pennerr.CodeBadArgument, "nice", "invalid priority %d", priority)
	}
	old := p.Priority
	p.Priority = priority
	if p.Status == pcb.StatusReady {
		s.queueForPriority(old).RemoveWhere(func(b *pcb.PCB) bool { return b.PID == p.PID })
		s.scheduleReady(p)
	}
	s.log().Emit(s.kernel.Clock().Now(), penlog.EventNice, p.PID, p.Priority, p.Name)
	return nil
}

// removeFromQueues strips p out of whichever of the ready/blocked/stopped
// queues currently holds it, ahead of a status-driven requeue.
func (s *Scheduler) removeFromQueues(p *pcb.PCB) {
	byPID := func(b *pcb.PCB) bool { return b.PID == p.PID }
	s.neg.RemoveWhere(byPID)
	s.zero.RemoveWhere(byPID)
	s.pos.RemoveWhere(byPID)
	s.blocked.RemoveWhere(byPID)
	s.stopped.RemoveWhere(byPID)
}

func (s *Scheduler) log() *penlog.Logger { return s.kernel.Log() }

// Kernel exposes the backing registry for process-layer syscalls that need
// to look up or create PCBs alongside queue placement.
func (s *Scheduler) Kernel() *kernel.Kernel { return s.kernel }
