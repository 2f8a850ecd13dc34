package infra

import (
	"context"
	"sync"

	"apikey-gateway/middleware/keyrotation/domain"
)

// Counters são os totais de tentativas por outcome.
type Counters struct {
	Admitted   int64
	Exhausted  int64
	StoreError int64
}

// Total soma todas as tentativas.
func (c Counters) Total() int64 { return c.Admitted + c.Exhausted + c.StoreError }

func (c *Counters) add(o domain.Outcome) { c.addN(o, 1) }

func (c *Counters) addN(o domain.Outcome, n int64) {
	switch o {
	case domain.OutcomeAdmitted:
		c.Admitted += n
	case domain.OutcomeExhausted:
		c.Exhausted += n
	case domain.OutcomeStoreError:
		c.StoreError += n
	}
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu           sync.Mutex
	total        Counters
	byCredential map[string]Counters
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{byCredential: make(map[string]Counters)}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Outcome)
	c := s.byCredential[ev.Credential]
	c.add(ev.Outcome)
	s.byCredential[ev.Credential] = c
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ByCredential devolve os contadores indexados pela credencial mascarada.
func (s *MemoryStatsStore) ByCredential() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byCredential))
	for k, v := range s.byCredential {
		out[k] = v
	}
	return out
}
