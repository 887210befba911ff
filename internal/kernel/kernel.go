// Package kernel provides the lowest user-visible layer over the process
// registry: creation, cleanup/reaping, and pid lookup. Queue placement is the
// scheduler's job (internal/scheduler); this package only ever knows about
// the flat pid -> PCB map and parent/child bookkeeping.
package kernel

import (
	"sync"

	"github.com/pennos-project/pennos/internal/clock"
	"github.com/pennos-project/pennos/internal/pcb"
	"github.com/pennos-project/pennos/internal/pennerr"
	"github.com/pennos-project/pennos/internal/penlog"
)

// InitPID and ShellPID are the two well-known roots: init adopts orphans,
// and a direct child of the shell resets to normal
// priority regardless of what its parent happens to be running at.
const (
	InitPID  = 1
	ShellPID = 2
)

// Kernel owns the global PCB registry.
type Kernel struct {
	mu      sync.Mutex
	byPID   map[int]*pcb.PCB
	order   []int // insertion order, for deterministic ps/walks
	nextPID int
	clock   *clock.Quantum
	log     *penlog.Logger
}

// New returns an empty Kernel. Call Boot to create the init process before
// any other operation.
func New(clk *clock.Quantum, log *penlog.Logger) *Kernel {
	return &Kernel{
		byPID:   map[int]*pcb.PCB{},
		nextPID: InitPID,
		clock:   clk,
		log:     log,
	}
}

// Boot creates the init process (pid 1), the implicit parent of every
// orphan. It must be called exactly once, before any Create.
func (k *Kernel) Boot() *pcb.PCB {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.byPID[InitPID]; ok {
		panic("kernel: Boot called twice")
	}
	var noFDs [pcb.MaxOpenFiles]int
	for i := range noFDs {
		noFDs[i] = pcb.FreeFD
	}
	init := pcb.New(InitPID, InitPID, noFDs, pcb.PriorityNormal, "init")
	k.register(init)
	return init
}

func (k *Kernel) register(p *pcb.PCB) {
	k.byPID[p.PID] = p
	k.order = append(k.order, p.PID)
	if k.nextPID <= p.PID {
		k.nextPID = p.PID + 1
	}
}

// Create allocates a new child PCB inheriting parent's open descriptor table
// and priority, with one exception: a direct child of the shell (pid 2)
// always starts at normal priority regardless of the shell's own priority.
func (k *Kernel) Create(parent *pcb.PCB, name string) *pcb.PCB {
	k.mu.Lock()
	defer k.mu.Unlock()

	pid := k.nextPID
	k.nextPID++

	priority := parent.Priority
	if parent.PID == ShellPID {
		priority = pcb.PriorityNormal
	}

	child := pcb.New(pid, parent.PID, parent.OpenFDs, priority, name)
	k.register(child)
	parent.Children = append(parent.Children, pid)

	k.log.Emit(k.clock.Now(), penlog.EventCreate, child.PID, child.Priority, child.Name)
	return child
}

// Lookup walks the registry for pid, returning ok=false if it has never
// existed.
func (k *Kernel) Lookup(pid int) (*pcb.PCB, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.byPID[pid]
	return p, ok
}

// Cleanup reaps a TERMINATED-bound process: every child is reparented to
// init and removed from p's own parent's child list. It must be called at
// most once per PCB; a second call is a programmer error in the scheduler
// and is reported rather than silently repeated.
func (k *Kernel) Cleanup(p *pcb.PCB) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if p.Status == pcb.StatusTerminated {
		return pennerr.New(pennerr.CodeStatusUnrecognized, "cleanup", "pid %d already terminated", p.PID)
	}
	p.Status = pcb.StatusTerminated

	for _, childPID := range p.Children {
		child, ok := k.byPID[childPID]
		if !ok {
			continue
		}
		child.ParentPID = InitPID
		if init, ok := k.byPID[InitPID]; ok {
			init.Children = append(init.Children, childPID)
		}
		k.log.Emit(k.clock.Now(), penlog.EventOrphan, child.PID, child.Priority, child.Name)
	}
	p.Children = nil

	if parent, ok := k.byPID[p.ParentPID]; ok && parent.PID != p.PID {
		removePID(&parent.Children, p.PID)
	}
	k.log.Emit(k.clock.Now(), penlog.EventWaited, p.PID, p.Priority, p.Name)
	return nil
}

func removePID(s *[]int, pid int) {
	out := (*s)[:0]
	for _, v := range *s {
		if v != pid {
			out = append(out, v)
		}
	}
	*s = out
}

// Snapshot returns a point-in-time copy of every non-TERMINATED PCB, ordered
// by creation, suitable for ps/the status UI without racing the scheduler.
func (k *Kernel) Snapshot() []pcb.PCB {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]pcb.PCB, 0, len(k.order))
	for _, pid := range k.order {
		p, ok := k.byPID[pid]
		if !ok || p.Status == pcb.StatusTerminated {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}

// WithLock runs fn while holding the registry lock, giving the scheduler a
// way to perform multi-step updates (kill, nice) without racing Create or
// Cleanup. fn must not call back into the Kernel.
func (k *Kernel) WithLock(fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	fn()
}

// Log exposes the shared logger so the scheduler can emit transition events
// under the same format without constructing its own.
func (k *Kernel) Log() *penlog.Logger { return k.log }

// Clock exposes the shared quantum counter.
func (k *Kernel) Clock() *clock.Quantum { return k.clock }
