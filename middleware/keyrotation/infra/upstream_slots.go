package infra

import (
	"context"
	"sync"
	"sync/atomic"
)

// UpstreamSlots é um semáforo de channel para requests em voo no upstream.
type UpstreamSlots struct {
	sem      chan struct{}
	inFlight atomic.Int64
}

func NewUpstreamSlots(capacity int) *UpstreamSlots {
	return &UpstreamSlots{sem: make(chan struct{}, capacity)}
}

func (s *UpstreamSlots) Acquire(ctx context.Context) (func(), bool) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, false
	}
	s.inFlight.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.inFlight.Add(-1)
			<-s.sem
		})
	}, true
}

func (s *UpstreamSlots) InFlight() int { return int(s.inFlight.Load()) }

func (s *UpstreamSlots) Capacity() int { return cap(s.sem) }
