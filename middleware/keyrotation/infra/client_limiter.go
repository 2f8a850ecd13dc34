package infra

import (
	"sync"
	"time"

	"apikey-gateway/middleware/keyrotation/domain"

	"golang.org/x/time/rate"
)

// ClientLimiterStore guarda um token bucket (x/time/rate) por cliente e por escopo.
//
// O escopo padrão protege o proxy; Scope cria escopos mais restritos (ex.: a
// rota administrativa, onde cada tentativa é um chute de password). Todos os
// escopos dividem o mesmo mapa e o mesmo janitor.
type ClientLimiterStore struct {
	mu           sync.Mutex
	entries      map[scopedKey]*limiterEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time

	def *ClientLimiters
}

type scopedKey struct {
	scope  string
	client domain.ClientKey
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type ClientLimiterOption func(*ClientLimiterStore)

func WithIdleTTL(d time.Duration) ClientLimiterOption {
	return func(s *ClientLimiterStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) ClientLimiterOption {
	return func(s *ClientLimiterStore) { s.cleanupEvery = d }
}

func WithLimiterClock(now func() time.Time) ClientLimiterOption {
	return func(s *ClientLimiterStore) { s.now = now }
}

// NewClientLimiterStore cria o store com o escopo padrão (rps, burst).
func NewClientLimiterStore(rps float64, burst int, opts ...ClientLimiterOption) *ClientLimiterStore {
	s := &ClientLimiterStore{
		entries:      make(map[scopedKey]*limiterEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.def = s.Scope("", rps, burst)
	return s
}

// Scope devolve a visão de um escopo com limites próprios.
func (s *ClientLimiterStore) Scope(name string, rps float64, burst int) *ClientLimiters {
	return &ClientLimiters{store: s, scope: name, rps: rate.Limit(rps), burst: burst}
}

func (s *ClientLimiterStore) RPS() float64 { return s.def.RPS() }
func (s *ClientLimiterStore) Burst() int   { return s.def.Burst() }

// Get implementa domain.LimiterStore no escopo padrão.
func (s *ClientLimiterStore) Get(key domain.ClientKey) domain.Limiter {
	return s.def.Get(key)
}

// Len conta os buckets vivos de todos os escopos.
func (s *ClientLimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *ClientLimiterStore) limiter(k scopedKey, rps rate.Limit, burst int) *rate.Limiter {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[k]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(rps, burst)
	s.entries[k] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup descarta buckets sem uso há mais de idleTTL.
func (s *ClientLimiterStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa clientes inativos periodicamente.
// Pare cancelando o contexto.
func (s *ClientLimiterStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// ClientLimiters é um escopo do ClientLimiterStore; também é um domain.LimiterStore.
type ClientLimiters struct {
	store *ClientLimiterStore
	scope string
	rps   rate.Limit
	burst int
}

func (c *ClientLimiters) RPS() float64 { return float64(c.rps) }
func (c *ClientLimiters) Burst() int   { return c.burst }

func (c *ClientLimiters) Get(key domain.ClientKey) domain.Limiter {
	return clientBucket{
		lim:   c.store.limiter(scopedKey{scope: c.scope, client: key}, c.rps, c.burst),
		store: c.store,
	}
}

// clientBucket adapta *rate.Limiter para domain.Limiter usando o relógio do store.
type clientBucket struct {
	lim   *rate.Limiter
	store *ClientLimiterStore
}

func (b clientBucket) Allow() bool { return b.lim.AllowN(b.store.now(), 1) }

// RetryIn estima quanto falta para o próximo token.
func (b clientBucket) RetryIn() time.Duration {
	missing := 1 - b.lim.TokensAt(b.store.now())
	if missing <= 0 {
		return 0
	}
	limit := float64(b.lim.Limit())
	if limit <= 0 {
		return time.Hour
	}
	return time.Duration(missing / limit * float64(time.Second))
}

// DoneContext aceita context.Context sem acoplar infra ao pacote context.
type DoneContext interface {
	Done() <-chan struct{}
}
