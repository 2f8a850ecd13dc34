package keyrotation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"apikey-gateway/middleware/keyrotation/domain"
)

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError traduz a taxonomia do domínio para status + mensagem genérica.
// Nunca inclui password, credencial ou erro cru no corpo.
func writeError(w http.ResponseWriter, log *slog.Logger, err error, now time.Time) {
	status, msg := http.StatusInternalServerError, "Internal server error"

	switch {
	case errors.Is(err, domain.ErrInvalidPassword):
		status, msg = http.StatusUnauthorized, "Invalid password"
	case errors.Is(err, domain.ErrPoolExhausted):
		status, msg = http.StatusTooManyRequests, "All API keys are rate limited"
		if d, ok := domain.RetryAfter(err, now); ok {
			w.Header().Set("Retry-After", retryAfterSeconds(d))
		}
	case errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, domain.ErrClosed),
		errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusServiceUnavailable, "Service unavailable"
	case errors.Is(err, domain.ErrNoCredentialsFound),
		errors.Is(err, domain.ErrEmptyPool):
		status, msg = http.StatusServiceUnavailable, "No API keys available"
	}

	if status >= http.StatusInternalServerError {
		log.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: msg})
}
