package application

import (
	"time"

	"apikey-gateway/middleware/keyrotation/domain"
)

// ThrottleService decide se um cliente do gateway pode seguir.
// MinRetryAfter é o piso do Retry-After quando o bucket não informa nada útil.
type ThrottleService struct {
	Store         domain.LimiterStore
	MinRetryAfter time.Duration
}

func (s ThrottleService) Decide(key domain.ClientKey) domain.Decision {
	if s.Store == nil {
		return domain.Decision{Allowed: true}
	}

	lim := s.Store.Get(key)
	if lim == nil || lim.Allow() {
		return domain.Decision{Allowed: true}
	}

	wait := lim.RetryIn()
	floor := s.MinRetryAfter
	if floor <= 0 {
		floor = time.Second
	}
	if wait < floor {
		wait = floor
	}
	return domain.Decision{RetryAfter: wait}
}
