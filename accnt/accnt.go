// Package accnt tracks per-thread tick accounting: how many timer ticks a
// TCB has spent running. The tick a TCB was created at is not kept here;
// it is the TCB's own CreationTick field.
//
// This kernel has no wall clock, only the PIT tick counter, and no
// getrusage syscall, so accounting is kept to a plain tick counter
// rather than a POSIX rusage byte buffer.
package accnt

import "sync/atomic"

// Accnt_t accumulates the number of timer ticks a thread has spent
// scheduled Running. Safe for concurrent use from the timer IRQ path,
// which runs with interrupts disabled, and from a diagnostic reader that
// may run concurrently on the same core between traps.
type Accnt_t struct {
	runTicks int64
}

// Tick credits one timer tick to the thread currently Running when the
// IRQ fired.
func (a *Accnt_t) Tick() {
	atomic.AddInt64(&a.runTicks, 1)
}

// RunTicks reports the total number of ticks credited so far.
func (a *Accnt_t) RunTicks() int64 {
	return atomic.LoadInt64(&a.runTicks)
}

// Add merges n's accumulated ticks into a, used when a zombie child's
// accounting is folded into its parent at reap time.
func (a *Accnt_t) Add(n *Accnt_t) {
	atomic.AddInt64(&a.runTicks, n.RunTicks())
}
