package domain

import (
	"context"
	"time"
)

// Outcome de uma tentativa de admissão.
type Outcome string

const (
	OutcomeAdmitted   Outcome = "admitted"
	OutcomeExhausted  Outcome = "exhausted"
	OutcomeStoreError Outcome = "store_error"
)

// StatsEvent representa uma tentativa de admissão de uma credencial.
//
// Credential é sempre a forma mascarada; o valor cru nunca sai do rotator.
// Cuidado com cardinalidade ao indexar por credencial (Redis/Prometheus).
type StatsEvent struct {
	Credential string
	Outcome    Outcome

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// Quem chama trata erro como best-effort (não derruba a admissão).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
