package keyrotation

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"apikey-gateway/middleware/keyrotation/application"
	"apikey-gateway/middleware/keyrotation/domain"
)

type Options struct {
	Gate    application.Gate
	Vault   *application.Vault
	Rotator *application.Rotator
	Logger  *slog.Logger

	// Headers lidos do cliente (removidos antes de ir ao upstream).
	PasswordHeader   string
	CredentialHeader string

	// Onde injetar a credencial no request do upstream.
	// Padrão: "Authorization: Bearer <key>". Com UpstreamQueryParam, vai na query.
	UpstreamHeader     string
	UpstreamPrefix     string
	UpstreamQueryParam string

	// Wait usa NextOrWait (espera limitada quando o pool está esgotado).
	Wait bool

	Now func() time.Time
}

const (
	DefaultPasswordHeader   = "X-Gateway-Password"
	DefaultCredentialHeader = "X-Gateway-Keys"
)

// Middleware escolhe uma credencial do pool para cada request e a injeta antes
// de chamar next (normalmente o reverse proxy).
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.PasswordHeader == "" {
		opts.PasswordHeader = DefaultPasswordHeader
	}
	if opts.CredentialHeader == "" {
		opts.CredentialHeader = DefaultCredentialHeader
	}
	if opts.UpstreamHeader == "" && opts.UpstreamQueryParam == "" {
		opts.UpstreamHeader = "Authorization"
		if opts.UpstreamPrefix == "" {
			opts.UpstreamPrefix = "Bearer "
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	pick := opts.Rotator.Next
	if opts.Wait {
		pick = opts.Rotator.NextOrWait
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			creds, err := resolvePool(ctx, opts, r.Header.Get(opts.PasswordHeader), r.Header.Get(opts.CredentialHeader))
			if err != nil {
				writeError(w, opts.Logger, err, opts.Now())
				return
			}
			if creds != "" {
				if _, err := opts.Rotator.Initialize(ctx, creds); err != nil {
					writeError(w, opts.Logger, err, opts.Now())
					return
				}
			}

			cred, err := pick(ctx)
			if err != nil {
				writeError(w, opts.Logger, err, opts.Now())
				return
			}

			r.Header.Del(opts.PasswordHeader)
			r.Header.Del(opts.CredentialHeader)
			inject(r, opts, cred)

			h.ServeHTTP(w, r)
		})
	}
}

// resolvePool aplica o Gate e, se preciso, abre o cofre.
// Sem cofre configurado devolve "" e o pool atual do rotator é mantido.
func resolvePool(ctx context.Context, opts Options, password, payload string) (string, error) {
	res, err := opts.Gate.Resolve(password, payload)
	if err != nil {
		return "", err
	}
	if !res.FromVault {
		return res.Credentials, nil
	}
	if opts.Vault == nil {
		return "", nil
	}
	return opts.Vault.VerifyAndGetKey(ctx, password)
}

func inject(r *http.Request, opts Options, cred domain.Credential) {
	if opts.UpstreamQueryParam != "" {
		q := r.URL.Query()
		q.Set(opts.UpstreamQueryParam, string(cred))
		r.URL.RawQuery = q.Encode()
		return
	}
	r.Header.Set(opts.UpstreamHeader, opts.UpstreamPrefix+string(cred))
}
