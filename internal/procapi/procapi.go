// Package procapi is the thin policy layer offered to the shell collaborator
// (out of scope for this repo) as the process control surface: spawn, wait,
// kill, exit, sleep, nice, fg/bg, ps. It owns nothing of its own; every call
// is a direct translation against internal/kernel, internal/scheduler, and
// internal/fdtable.
package procapi

import (
	"sort"

	"github.com/pennos-project/pennos/internal/fdtable"
	"github.com/pennos-project/pennos/internal/kernel"
	"github.com/pennos-project/pennos/internal/pcb"
	"github.com/pennos-project/pennos/internal/pennerr"
	"github.com/pennos-project/pennos/internal/scheduler"
)

// API bundles the three subsystems a process-control call needs.
type API struct {
	Kernel *kernel.Kernel
	Sched  *scheduler.Scheduler
	FDs    *fdtable.Table
}

// New constructs an API over an already-booted kernel/scheduler/fd table.
func New(k *kernel.Kernel, s *scheduler.Scheduler, fds *fdtable.Table) *API {
	return &API{Kernel: k, Sched: s, FDs: fds}
}

// Spawn creates a child of parent running entry with argv, installing
// fdIn/fdOut (parent-local descriptor indices) as the child's descriptors 0
// and 1, and enqueues it READY.
func (a *API) Spawn(parent *pcb.PCB, entry pcb.Entry, argv []string, fdIn, fdOut int, name string) (int, error) {
	if fdIn < 0 || fdIn >= pcb.MaxOpenFiles || parent.OpenFDs[fdIn] == pcb.FreeFD {
		return 0, pennerr.New(pennerr.CodeSpawnFailure, "spawn", "invalid fd_in %d", fdIn)
	}
	if fdOut < 0 || fdOut >= pcb.MaxOpenFiles || parent.OpenFDs[fdOut] == pcb.FreeFD {
		return 0, pennerr.New(pennerr.CodeSpawnFailure, "spawn", "invalid fd_out %d", fdOut)
	}

	child := a.Kernel.Create(parent, name)
	child.OpenFDs[0] = parent.OpenFDs[fdIn]
	child.OpenFDs[1] = parent.OpenFDs[fdOut]
	a.FDs.Share(child.OpenFDs[0])
	a.FDs.Share(child.OpenFDs[1])

	child.Start(entry, argv)
	a.Sched.Enqueue(child)
	return child.PID, nil
}

// Wait waits on target AnyChild or a specific pid, blocking or
// WNOHANG-style polling. On a terminal exit kind it reaps the
// child via Kernel.Cleanup before returning.
func (a *API) Wait(caller *pcb.PCB, ctx *pcb.Context, target int, nohang bool) (int, pcb.ExitKind, error) {
	if target == pcb.AnyChild {
		return a.waitAny(caller, ctx, nohang)
	}
	return a.waitSpecific(caller, ctx, target, nohang)
}

func (a *API) waitAny(caller *pcb.PCB, ctx *pcb.Context, nohang bool) (int, pcb.ExitKind, error) {
	if len(caller.Children) == 0 {
		return 0, pcb.ExitNotExited, pennerr.New(pennerr.CodeNoSuchPID, "wait", "no children")
	}

	if nohang {
		if z, ok := a.Sched.FindZombieChild(caller.PID, pcb.AnyChild); ok {
			return a.reap(z)
		}
		if s, ok := a.Sched.FindStoppedChild(caller.PID, pcb.AnyChild); ok {
			return s.PID, s.ExitKind, nil
		}
		return 0, pcb.ExitNotExited, nil
	}

	// The dispatch loop files the caller into the blocked queue once
	// ctx.Block() hands the quantum back; only the wait target is set here.
	caller.WaitTarget = pcb.AnyChild
	ctx.Block()
	return a.finishBlockingWait(caller)
}

func (a *API) waitSpecific(caller *pcb.PCB, ctx *pcb.Context, target int, nohang bool) (int, pcb.ExitKind, error) {
	child, ok := a.Kernel.Lookup(target)
	if !ok || child.ParentPID != caller.PID {
		return 0, pcb.ExitNotExited, pennerr.New(pennerr.CodeWrongParent, "wait", "pid %d is not a child of %d", target, caller.PID)
	}
	if child.Status == pcb.StatusTerminated {
		return 0, pcb.ExitNotExited, pennerr.New(pennerr.CodeAlreadyWaitedOn, "wait", "pid %d already reaped", target)
	}

	if nohang {
		switch child.Status {
		case pcb.StatusZombie:
			return a.reap(child)
		case pcb.StatusStopped:
			return child.PID, child.ExitKind, nil
		default:
			return 0, pcb.ExitNotExited, nil
		}
	}

	caller.WaitTarget = target
	ctx.Block()
	return a.finishBlockingWait(caller)
}

// finishBlockingWait reads the scheduler-filled WaitObservedKind/WaitTarget
// after a blocking wait's ctx.Block() returns, reaping the child if its exit
// kind was terminal.
func (a *API) finishBlockingWait(caller *pcb.PCB) (int, pcb.ExitKind, error) {
	kind := caller.WaitObservedKind
	pid := caller.WaitTarget
	caller.WaitTarget = pcb.NoWaitTarget
	caller.WaitObservedKind = pcb.ExitNotExited

	if kind.IsTerminal() {
		if child, ok := a.Kernel.Lookup(pid); ok {
			if _, ok := a.Sched.ReapZombie(pid); ok {
				if err := a.Kernel.Cleanup(child); err != nil {
					return 0, pcb.ExitNotExited, err
				}
			}
		}
	}
	return pid, kind, nil
}

func (a *API) reap(child *pcb.PCB) (int, pcb.ExitKind, error) {
	kind := child.ExitKind
	pid := child.PID
	if _, ok := a.Sched.ReapZombie(pid); ok {
		if err := a.Kernel.Cleanup(child); err != nil {
			return 0, pcb.ExitNotExited, err
		}
	}
	return pid, kind, nil
}

// Kill applies a job-control signal to pid.
func (a *API) Kill(pid int, sig scheduler.Signal) error {
	return a.Sched.Kill(pid, sig)
}

// Exit closes every non-stdio descriptor held by p and unwinds its entry's
// stack as ZOMBIE/EXITED_NORMAL. It never returns.
func (a *API) Exit(p *pcb.PCB) {
	a.FDs.CloseAll(p)
	p.Exit()
}

// Sleep creates a "sleep" bookkeeping child: a
// child PCB with no entry goroutine, parked directly in the blocked queue
// with a tick countdown the scheduler's post-quantum housekeeping decrements.
func (a *API) Sleep(caller *pcb.PCB, ticks int) int {
	child := a.Kernel.Create(caller, "sleep")
	child.SleepTicksRemaining = ticks
	a.Sched.Block(child, pcb.NoWaitTarget)
	return child.PID
}

// Nice reassigns pid's priority class.
func (a *API) Nice(pid, priority int) error {
	return a.Sched.Nice(pid, priority)
}

// Fg resumes a stopped (or sleep-blocked) process: CONT
// if stopped, a no-op if it's already runnable or still counting down a sleep.
func (a *API) Fg(pid int) error {
	return a.Sched.Kill(pid, scheduler.SigCont)
}

// Bg has identical semantics to Fg at the process-API layer; the
// shell-visible distinction (foreground job control, terminal ownership) is
// the external shell collaborator's concern, not this package's.
func (a *API) Bg(pid int) error {
	return a.Sched.Kill(pid, scheduler.SigCont)
}

// Ps returns every non-TERMINATED PCB, ordered by pid, for the shell
// collaborator's `ps` built-in or cmd/pennos's table output.
func (a *API) Ps() []pcb.PCB {
	snap := a.Kernel.Snapshot()
	sort.Slice(snap, func(i, j int) bool { return snap[i].PID < snap[j].PID })
	return snap
}
