package infra

import (
	"context"
	"sync"
	"time"

	"apikey-gateway/middleware/keyrotation/domain"
)

// MemoryWindowCounter é a janela deslizante em memória, para deploy de instância única.
//
// Um único mutex cobre remover + contar + inserir, liberado em todo caminho
// de saída. Com mais de um processo use RedisWindowCounter.
type MemoryWindowCounter struct {
	mu      sync.Mutex
	entries map[string][]time.Time

	window       time.Duration
	cleanupEvery time.Duration
}

type MemoryWindowOption func(*MemoryWindowCounter)

// WithJanitorWindow define a janela usada pelo Cleanup periódico.
func WithJanitorWindow(d time.Duration) MemoryWindowOption {
	return func(c *MemoryWindowCounter) { c.window = d }
}

func WithJanitorEvery(d time.Duration) MemoryWindowOption {
	return func(c *MemoryWindowCounter) { c.cleanupEvery = d }
}

func NewMemoryWindowCounter(opts ...MemoryWindowOption) *MemoryWindowCounter {
	c := &MemoryWindowCounter{
		entries:      make(map[string][]time.Time),
		window:       domain.DefaultWindow,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryWindowCounter) TryAdmit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (domain.Admission, error) {
	if err := ctx.Err(); err != nil {
		return domain.Admission{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	live := prune(c.entries[key], now.Add(-window))
	if len(live) < limit {
		live = append(live, now)
		c.entries[key] = live
		return domain.Admission{Allowed: true, Count: len(live)}, nil
	}

	c.entries[key] = live
	return domain.Admission{Count: len(live), OldestAt: oldest(live)}, nil
}

func (c *MemoryWindowCounter) Reset(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

// Live conta as entradas vivas sem admitir nada.
func (c *MemoryWindowCounter) Live(key string, now time.Time, window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(prune(c.entries[key], now.Add(-window)))
}

// Cleanup remove entradas expiradas e chaves vazias.
func (c *MemoryWindowCounter) Cleanup(now time.Time) {
	cutoff := now.Add(-c.window)

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, ts := range c.entries {
		live := prune(ts, cutoff)
		if len(live) == 0 {
			delete(c.entries, k)
			continue
		}
		c.entries[k] = live
	}
}

// StartJanitor inicia uma goroutine que limpa entradas expiradas periodicamente.
// Pare cancelando o contexto.
func (c *MemoryWindowCounter) StartJanitor(ctx DoneContext) {
	if c.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(c.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				c.Cleanup(now)
			}
		}
	}()
}

// prune descarta entradas com timestamp < cutoff, sem alterar ts.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		if !t.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func oldest(ts []time.Time) time.Time {
	var o time.Time
	for i, t := range ts {
		if i == 0 || t.Before(o) {
			o = t
		}
	}
	return o
}
