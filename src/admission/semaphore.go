package admission

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrent = 1

// Semaphore bounds the number of in-flight operations.
type Semaphore struct {
	sem      *semaphore.Weighted
	max      int64
	inFlight atomic.Int64
}

// NewSemaphore creates a semaphore admitting maxConcurrent holders.
func NewSemaphore(maxConcurrent int64) *Semaphore {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Semaphore{
		sem: semaphore.NewWeighted(maxConcurrent),
		max: maxConcurrent,
	}
}

// Do runs fn while holding one slot. The slot is released on every exit
// path of fn, including panics.
func (s *Semaphore) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.inFlight.Add(1)
	defer func() {
		s.inFlight.Add(-1)
		s.sem.Release(1)
	}()

	return fn(ctx)
}

// InFlight reports how many holders currently run.
func (s *Semaphore) InFlight() int64 {
	return s.inFlight.Load()
}

// Max returns the configured bound.
func (s *Semaphore) Max() int64 {
	return s.max
}
