package keyrotation

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"apikey-gateway/middleware/keyrotation/application"
	"apikey-gateway/middleware/keyrotation/infra"

	"github.com/stretchr/testify/require"
)

const (
	adminPassword  = "admin-pass"
	presetPassword = "preset-pass"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stack struct {
	gate    application.Gate
	vault   *application.Vault
	rotator *application.Rotator
	counter *infra.MemoryWindowCounter
	blobs   *infra.MemoryBlobStore
}

func newStack(t *testing.T, limit int, now func() time.Time) *stack {
	t.Helper()
	sealer, err := infra.NewPassphraseSealer("vault-passphrase", infra.WithIterations(1_000))
	require.NoError(t, err)

	s := &stack{
		gate:    application.NewGate(application.GatePolicy{Password: adminPassword, Preset: presetPassword}),
		counter: infra.NewMemoryWindowCounter(),
		blobs:   infra.NewMemoryBlobStore(),
	}
	s.vault = application.NewVault(application.VaultConfig{
		Store:    s.blobs,
		Sealer:   sealer,
		Sentinel: adminPassword,
		Logger:   quietLogger,
	})
	s.rotator = application.NewRotator(application.RotatorConfig{
		Counter: s.counter,
		Limit:   limit,
		Logger:  quietLogger,
		Now:     now,
	})
	return s
}

func sealerOf(t *testing.T) *infra.PassphraseSealer {
	t.Helper()
	s, err := infra.NewPassphraseSealer("vault-passphrase", infra.WithIterations(1_000))
	require.NoError(t, err)
	return s
}
