// Package testsync provides small goroutine-rendezvous helpers used by
// this module's concurrency tests to make otherwise-racy orderings
// deterministic (e.g. "wait until exactly 3 readers are parked on the
// lock before releasing the writer").
package testsync

import "sync"

// Latch counts down from an initial value as goroutines Arrive, and
// releases every Wait caller once the count reaches zero. Unlike
// sync.WaitGroup it is safe to Wait before any Arrive has happened and
// the count may be inspected without blocking via Remaining.
type Latch struct {
	mu        sync.Mutex
	remaining int
	zero      chan struct{}
}

// NewLatch creates a Latch that releases its waiters once n parties have
// called Arrive. NewLatch(0) is already released.
func NewLatch(n int) *Latch {
	l := &Latch{remaining: n, zero: make(chan struct{})}
	if n <= 0 {
		close(l.zero)
	}
	return l
}

// Arrive records one party reaching the rendezvous point. It panics if
// called more times than the Latch's initial count, which almost always
// indicates the test's expected concurrency doesn't match reality.
func (l *Latch) Arrive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remaining <= 0 {
		panic("testsync: Latch arrived more times than its count")
	}
	l.remaining--
	if l.remaining == 0 {
		close(l.zero)
	}
}

// Wait blocks until n parties have called Arrive.
func (l *Latch) Wait() {
	<-l.zero
}

// Remaining reports how many Arrive calls are still outstanding.
func (l *Latch) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining
}
