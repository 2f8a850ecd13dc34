package domain

import (
	"errors"
	"time"
)

// Taxonomia de erros exposta pelas camadas application/infra.
// Nada abaixo dessa fronteira (erro cru do Redis, erro de cripto) deve vazar
// para quem chama: converta para um destes e logue o detalhe.
var (
	ErrInvalidPassword    = errors.New("invalid password")
	ErrPoolExhausted      = errors.New("credential pool exhausted")
	ErrStoreUnavailable   = errors.New("counter store unavailable")
	ErrDecryptionFailed   = errors.New("decryption failed")
	ErrNoCredentialsFound = errors.New("no credentials found")

	ErrEmptyPool = errors.New("credential pool is empty")
	ErrClosed    = errors.New("rotator closed")
)

// ExhaustedError é devolvido quando todas as credenciais do pool estão no limite.
//
// RetryAt é o instante mais cedo em que alguma credencial libera uma vaga
// (menor entrada viva + janela). errors.Is(err, ErrPoolExhausted) é verdadeiro.
type ExhaustedError struct {
	RetryAt time.Time
}

func (e *ExhaustedError) Error() string { return ErrPoolExhausted.Error() }

func (e *ExhaustedError) Unwrap() error { return ErrPoolExhausted }

// RetryAfter extrai de err quanto tempo falta, a partir de now, até uma vaga abrir.
// ok=false se err não carrega essa informação.
func RetryAfter(err error, now time.Time) (time.Duration, bool) {
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.RetryAt.IsZero() {
		return 0, false
	}
	d := ex.RetryAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
