package httputil

import (
	"context"
	"sync/atomic"
)

// Semaphore bounds concurrent operations. The analysis engine uses one
// instance as the process-wide phase-1 worker pool (tasks block on Acquire,
// applying backpressure across concurrent requests) and another to cap
// fire-and-forget audit persistence (TryAcquire, drop under pressure).
type Semaphore struct {
	sem     chan struct{}
	dropped atomic.Int64
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 8
	}
	return &Semaphore{
		sem: make(chan struct{}, capacity),
	}
}

// TryAcquire attempts to acquire a slot without blocking.
// Returns false if at capacity. Use for fire-and-forget work where
// dropping is acceptable; drops are counted for monitoring.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Acquire blocks until a slot is available or the context is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Must follow a successful TryAcquire or Acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.sem:
	default:
		// Release without a matching acquire; nothing to do.
	}
}

// DroppedCount returns the number of operations dropped at capacity.
func (s *Semaphore) DroppedCount() int64 {
	return s.dropped.Load()
}

// InUse returns the number of slots currently held.
func (s *Semaphore) InUse() int {
	return len(s.sem)
}

// Stats returns current semaphore statistics.
func (s *Semaphore) Stats() SemaphoreStats {
	return SemaphoreStats{
		Capacity:  cap(s.sem),
		InUse:     len(s.sem),
		Available: cap(s.sem) - len(s.sem),
		Dropped:   s.dropped.Load(),
	}
}

// SemaphoreStats provides pool metrics for monitoring.
type SemaphoreStats struct {
	Capacity  int   `json:"capacity"`
	InUse     int   `json:"in_use"`
	Available int   `json:"available"`
	Dropped   int64 `json:"dropped"`
}
