// Package clock holds the monotonic quantum counter shared by the scheduler
// (which advances it) and anything that stamps a transition log line with it
// (the kernel and the scheduler).
package clock

import "sync/atomic"

// Quantum is a monotonically increasing tick counter, safe for concurrent
// readers while the scheduler loop is the sole writer.
type Quantum struct {
	n int64
}

// Now returns the current quantum count without advancing it.
func (q *Quantum) Now() int {
	return int(atomic.LoadInt64(&q.n))
}

// Tick advances the counter by one and returns the new value.
func (q *Quantum) Tick() int {
	return int(atomic.AddInt64(&q.n, 1))
}
