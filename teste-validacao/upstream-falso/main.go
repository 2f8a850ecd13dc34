package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"apikey-gateway/middleware/keyrotation/domain"
)

// Upstream falso para testar o gateway na mão: responde com a credencial
// (mascarada) que chegou no Authorization.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		cred := domain.Credential(auth)
		logger.Info("request recebido", "path", r.URL.Path, "credential", cred.Masked())

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"path":       r.URL.Path,
			"credential": cred.Masked(),
		})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	logger.Info("upstream falso rodando", "addr", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Error("erro ao subir o servidor", "error", err)
		os.Exit(1)
	}
}
