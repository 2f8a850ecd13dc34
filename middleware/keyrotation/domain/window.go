package domain

import (
	"context"
	"time"
)

// Valores padrão da janela deslizante por credencial.
const (
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 10
)

// Admission é o resultado de uma tentativa de admissão na janela.
type Admission struct {
	Allowed bool
	// Count é o número de entradas vivas após a decisão.
	Count int
	// OldestAt é o timestamp da entrada viva mais antiga quando negado.
	// Zero quando não informado.
	OldestAt time.Time
}

// WindowCounter conta admissões por chave numa janela deslizante.
//
// TryAdmit precisa ser atômico em relação a qualquer outro processo que use o
// mesmo store: remover entradas < now-window, contar, e inserir now se
// count < limit, tudo numa operação só. Ler e depois escrever em duas idas ao
// store é bug (dois processos passam do limite juntos).
type WindowCounter interface {
	TryAdmit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Admission, error)
	// Reset apaga os contadores das chaves informadas.
	Reset(ctx context.Context, keys ...string) error
}
