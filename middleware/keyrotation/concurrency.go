package keyrotation

import (
	"log/slog"
	"net/http"
	"time"

	"apikey-gateway/middleware/keyrotation/application"
	"apikey-gateway/middleware/keyrotation/domain"
	"apikey-gateway/middleware/keyrotation/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// Observer recebe a ocupação (ex.: infra.PrometheusSlots). Opcional.
	Observer domain.SlotObserver
	Logger   *slog.Logger
}

// ConcurrencyMiddleware limita quantos requests seguem ao upstream ao mesmo tempo.
//
// Deve envolver o Middleware de rotação: o slot é reservado antes do rotator
// ser chamado, então um request recusado aqui (RejectStatus, padrão 503) não
// consome admissão de nenhuma credencial. A espera por um slot vai até
// AcquireTimeout ou até o cliente desistir. Max <= 0 desliga o limite.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	svc := application.ConcurrencyService{
		Pool:           infra.NewUpstreamSlots(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
		Observer:       opts.Observer,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				opts.Logger.Debug("upstream busy", "max", opts.Max, "path", r.URL.Path)
				writeJSON(w, opts.RejectStatus, errorBody{Error: "Upstream busy"})
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
