package ingest

import (
	"context"
	"errors"
	"time"
)

// ErrBusy is returned when every import slot stays taken for the whole
// wait period. Clients should retry after a short delay.
var ErrBusy = errors.New("too many concurrent imports")

// Limiter bounds how many imports run at once. Imports hold the catalog
// write lock row by row, so letting many run together only queues them
// behind each other while their request bodies sit in memory.
type Limiter struct {
	slots   chan struct{}
	maxWait time.Duration
}

// NewLimiter allows n concurrent imports; a caller waits at most maxWait
// for a free slot. Non-positive arguments fall back to 1 and 10s.
func NewLimiter(n int, maxWait time.Duration) *Limiter {
	if n <= 0 {
		n = 1
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	return &Limiter{slots: make(chan struct{}, n), maxWait: maxWait}
}

// Acquire takes a slot. The caller must Release it when done.
func (l *Limiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	<-l.slots
}

// Active returns the number of imports holding a slot.
func (l *Limiter) Active() int {
	return len(l.slots)
}

// Max returns the slot count.
func (l *Limiter) Max() int {
	return cap(l.slots)
}
