package pcb

// PauseReason is why a running PCB handed control back to the scheduler.
type PauseReason int

const (
	// PauseYielded means the entry did one quantum's worth of work and is
	// still runnable; the scheduler should re-enqueue it as READY.
	PauseYielded PauseReason = iota
	// PauseBlocked means the entry put itself to sleep waiting for an event
	// (wait, sleep-ticking); the scheduler should move it to the blocked queue.
	PauseBlocked
	// PauseExited means the entry returned or called Exit; the scheduler
	// should treat the PCB's current Status/ExitKind as authoritative.
	PauseExited
)

// exitSignal unwinds an entry's goroutine stack from inside Exit, upholding
// the "exit never returns to the caller" contract without a busy loop.
type exitSignal struct{}

// Context is a process's suspendable execution snapshot, built on a pair of
// unbuffered handoff channels: exactly one side is ever unblocked at a time,
// so the channel send/receive itself provides the happens-before edge the
// scheduler needs.
type Context struct {
	resume chan struct{}
	paused chan PauseReason
}

func newContext() *Context {
	return &Context{
		resume: make(chan struct{}),
		paused: make(chan PauseReason),
	}
}

// Entry is the body of a user-space process. argv has already been split and
// numeric-looking elements left as strings; callers that need ints (sleep,
// nice, ...) parse them themselves per the process-entry design note.
type Entry func(p *PCB, ctx *Context, argv []string)

// Start launches the entry in its own goroutine, parked immediately waiting
// for the scheduler's first dispatch.
func (p *PCB) Start(entry Entry, argv []string) {
	p.ctx = newContext()
	ctx := p.ctx
	go func() {
		<-ctx.resume
		func() {
			defer func() {
				if r := recover(); r != nil {
					if _, ok := r.(exitSignal); !ok {
						panic(r)
					}
				}
			}()
			entry(p, ctx, argv)
		}()
		// Returning from the entry behaves as exit: a process that was still
		// RUNNING when its body fell off the end becomes a reapable zombie.
		if p.Status == StatusRunning {
			p.Status = StatusZombie
			p.ExitKind = ExitNormal
		}
		ctx.paused <- PauseExited
	}()
}

// Dispatch resumes the process for one scheduling slice and blocks until it
// pauses, returning why.
func (c *Context) dispatch() PauseReason {
	c.resume <- struct{}{}
	return <-c.paused
}

// Dispatch is the scheduler-facing half of dispatch(); exported via the PCB
// so callers never touch a nil Context by accident.
func (p *PCB) Dispatch() PauseReason {
	return p.ctx.dispatch()
}

// Yield gives up the remainder of the current quantum while remaining
// runnable. Entry bodies that do bounded work per quantum call this once per
// scheduling step.
func (c *Context) Yield() {
	c.paused <- PauseYielded
	<-c.resume
}

// Block parks the process until the scheduler explicitly resumes it (a
// waiter wakeup, a CONT signal, or sleep completion). Unlike Yield, the
// caller is not expected to be re-dispatched on the very next quantum.
func (c *Context) Block() {
	c.paused <- PauseBlocked
	<-c.resume
}

// Exit marks the process ZOMBIE/EXITED_NORMAL and unwinds the entry's stack.
// It never returns to its caller, matching the process-API contract.
func (p *PCB) Exit() {
	p.Status = StatusZombie
	p.ExitKind = ExitNormal
	panic(exitSignal{})
}
