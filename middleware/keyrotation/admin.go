package keyrotation

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"apikey-gateway/middleware/keyrotation/application"
)

type StoreOptions struct {
	Gate  application.Gate
	Vault *application.Vault
	// Rotator, se informado, passa a usar as credenciais recém gravadas
	// (Replace: zera os contadores das credenciais que saíram do pool).
	Rotator *application.Rotator
	Logger  *slog.Logger

	MaxBodyBytes int64
}

type storeRequest struct {
	Password string `json:"password"`
	APIKey   string `json:"apiKey"`
}

// StoreHandler recebe {password, apiKey} via POST e grava a lista cifrada no cofre.
// Só o password de preset autoriza a gravação.
func StoreHandler(opts StoreOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
			return
		}

		var req storeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, opts.MaxBodyBytes)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
			return
		}
		if req.Password == "" || strings.TrimSpace(req.APIKey) == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing required fields"})
			return
		}

		res, err := opts.Gate.Resolve(req.Password, req.APIKey)
		if err != nil || res.Action != application.ActionStore {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid password"})
			return
		}

		if !opts.Vault.StoreEncryptedKey(r.Context(), res.Credentials) {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to store API key"})
			return
		}

		if opts.Rotator != nil {
			if _, err := opts.Rotator.Replace(r.Context(), res.Credentials); err != nil {
				opts.Logger.Warn("stored keys not activated", "error", err)
			}
		}
		writeJSON(w, http.StatusOK, messageBody{Message: "API key stored successfully"})
	})
}
