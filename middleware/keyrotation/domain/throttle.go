package domain

// Limite por cliente na frente do gateway (ex.: força bruta no password).
//
// Independente da janela por credencial: aqui a chave é o cliente (IP/header),
// não a API key.

import "time"

type ClientKey string

// Limiter decide se uma ação do cliente é permitida agora e, se não for,
// quanto falta para a próxima vaga.
type Limiter interface {
	Allow() bool
	RetryIn() time.Duration
}

// LimiterStore obtém o limiter de um cliente.
type LimiterStore interface {
	Get(ClientKey) Limiter
}

type Decision struct {
	Allowed bool
	// RetryAfter só é preenchido quando bloqueado.
	RetryAfter time.Duration
}
