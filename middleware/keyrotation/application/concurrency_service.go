package application

import (
	"context"
	"time"

	"apikey-gateway/middleware/keyrotation/domain"
)

// ConcurrencyService controla as vagas de upstream e informa a ocupação ao Observer.
// AcquireTimeout <= 0 espera até o ctx do request encerrar.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
	Observer       domain.SlotObserver
}

func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(ctx)
	if !ok {
		if s.Observer != nil {
			s.Observer.Rejected()
		}
		return nil, false
	}
	s.observe()

	return func() {
		release()
		s.observe()
	}, true
}

func (s ConcurrencyService) observe() {
	if s.Observer != nil {
		s.Observer.InFlight(s.Pool.InFlight())
	}
}
