package domain

import "context"

// SlotPool limita quantas requisições seguem para o upstream ao mesmo tempo.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// O release devolvido é idempotente.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	InFlight() int
}

// SlotObserver acompanha a ocupação do pool (gauge de requests em voo e recusas).
type SlotObserver interface {
	InFlight(n int)
	Rejected()
}
