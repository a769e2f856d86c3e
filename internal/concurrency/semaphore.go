package concurrency

import "context"

// Semaphore bounds concurrent access to a resource. Renderer subprocesses
// acquire a slot before spawning so CPU-heavy renders don't pile up.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(maxConcurrent int) *Semaphore {
	return &Semaphore{slots: make(chan struct{}, maxConcurrent)}
}

// Acquire blocks until a slot is available or the context is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (s *Semaphore) Release() {
	<-s.slots
}

// TryAcquire grabs a slot without blocking; false when all are in use.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	return cap(s.slots) - len(s.slots)
}
