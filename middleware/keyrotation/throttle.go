package keyrotation

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"apikey-gateway/middleware/keyrotation/application"
	"apikey-gateway/middleware/keyrotation/domain"
)

// ClientKeyFunc identifica o cliente do gateway (não a API key de upstream).
type ClientKeyFunc func(r *http.Request) string

type ThrottleOptions struct {
	Store              domain.LimiterStore
	KeyFn              ClientKeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	Logger             *slog.Logger

	RejectStatus int
	// RetryAfter é o piso do Retry-After; o valor real vem do bucket do cliente.
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

// DefaultClientKeyFunc identifica o cliente por header, X-Forwarded-For ou RemoteAddr.
// IPs são normalizados (ex.: "::ffff:10.0.0.1" vira "10.0.0.1").
func DefaultClientKeyFunc(keyHeader string, trustXFF bool) ClientKeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}

		addr := strings.TrimSpace(r.RemoteAddr)
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
		if ip := net.ParseIP(addr); ip != nil {
			return ip.String()
		}
		if addr != "" {
			return addr
		}
		return "unknown"
	}
}

// ThrottleMiddleware limita cada cliente do gateway (token bucket), antes de
// qualquer verificação de password ou consumo de credencial.
func ThrottleMiddleware(opts ThrottleOptions) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultClientKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	svc := application.ThrottleService{
		Store:         opts.Store,
		MinRetryAfter: opts.RetryAfter,
	}
	info, hasInfo := opts.Store.(rateInfo)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.AddRateLimitHeaders && hasInfo {
				w.Header().Set("X-RateLimit-RPS", formatFloat(info.RPS()))
				w.Header().Set("X-RateLimit-Burst", formatInt(info.Burst()))
			}

			client := opts.KeyFn(r)
			dec := svc.Decide(domain.ClientKey(client))
			if !dec.Allowed {
				opts.Logger.Debug("client throttled", "client", client, "path", r.URL.Path, "retryAfter", dec.RetryAfter)
				w.Header().Set("Retry-After", retryAfterSeconds(dec.RetryAfter))
				writeJSON(w, opts.RejectStatus, errorBody{Error: "Too many requests"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
