package application

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"apikey-gateway/middleware/keyrotation/domain"
)

// DefaultVaultKey é a chave do store que guarda o array JSON de envelopes.
const DefaultVaultKey = "encrypted_api_keys"

type VaultConfig struct {
	Store  domain.BlobStore
	Sealer domain.Sealer
	Logger *slog.Logger

	// Key onde o blob é gravado (padrão DefaultVaultKey).
	Key string
	// Sentinel é a passphrase que libera o conteúdo do cofre em VerifyAndGetKey.
	Sentinel string
	// Passthrough: passphrase diferente do sentinel é devolvida como a própria
	// lista de credenciais. Desligado, ela é rejeitada com ErrInvalidPassword.
	Passthrough bool
	// Combined grava um único envelope com a lista inteira em vez de um por credencial.
	Combined bool
}

// Vault persiste o pool de credenciais cifrado no BlobStore.
//
// Load guarda o último blob decifrado: enquanto o valor no store não muda,
// o PBKDF2 não roda de novo.
type Vault struct {
	cfg VaultConfig
	log *slog.Logger

	mu         sync.Mutex
	cachedBlob string
	cachedList string
}

func NewVault(cfg VaultConfig) *Vault {
	if cfg.Key == "" {
		cfg.Key = DefaultVaultKey
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Vault{cfg: cfg, log: log}
}

// Encrypt cifra plaintext num envelope base64 (salt ‖ iv ‖ ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	return v.cfg.Sealer.Seal(plaintext)
}

// Decrypt abre um envelope. Qualquer falha vira domain.ErrDecryptionFailed, sem detalhe.
func (v *Vault) Decrypt(envelope string) (string, error) {
	plaintext, err := v.cfg.Sealer.Open(envelope)
	if err != nil {
		return "", domain.ErrDecryptionFailed
	}
	return plaintext, nil
}

// StoreEncryptedKey separa raw por vírgulas, cifra cada credencial separadamente
// e grava o array JSON inteiro (sobrescreve o anterior). Nunca devolve erro:
// o resultado é só sucesso/falha e o detalhe vai para o log.
func (v *Vault) StoreEncryptedKey(ctx context.Context, raw string) bool {
	creds := domain.ParseCredentials(raw)
	if len(creds) == 0 {
		v.log.Warn("vault_store", "type", "vault_store", "ok", false, "reason", "empty credential list")
		return false
	}

	var plaintexts []string
	if v.cfg.Combined {
		plaintexts = []string{domain.JoinCredentials(creds)}
	} else {
		plaintexts = make([]string, len(creds))
		for i, c := range creds {
			plaintexts[i] = string(c)
		}
	}

	envelopes := make([]string, 0, len(plaintexts))
	for _, p := range plaintexts {
		env, err := v.Encrypt(p)
		if err != nil {
			v.log.Error("vault_store", "type", "vault_store", "ok", false, "reason", "encrypt", "error", err)
			return false
		}
		envelopes = append(envelopes, env)
	}

	var value string
	if v.cfg.Combined {
		value = envelopes[0]
	} else {
		b, err := json.Marshal(envelopes)
		if err != nil {
			v.log.Error("vault_store", "type", "vault_store", "ok", false, "reason", "marshal", "error", err)
			return false
		}
		value = string(b)
	}

	if err := v.cfg.Store.Set(ctx, v.cfg.Key, value); err != nil {
		v.log.Error("vault_store", "type", "vault_store", "ok", false, "reason", "store", "error", err)
		return false
	}
	v.log.Info("vault_store", "type", "vault_store", "ok", true, "keys", len(creds), "envelopes", len(envelopes))
	return true
}

// VerifyAndGetKey resolve uma passphrase para a lista de credenciais (separada por vírgulas).
//
// Sentinel → decifra o cofre. Outra passphrase → devolvida como está se
// Passthrough estiver ligado, senão domain.ErrInvalidPassword.
func (v *Vault) VerifyAndGetKey(ctx context.Context, passphrase string) (string, error) {
	if v.cfg.Sentinel == "" || !constantTimeEqual(passphrase, v.cfg.Sentinel) {
		if v.cfg.Passthrough && strings.TrimSpace(passphrase) != "" {
			return passphrase, nil
		}
		return "", domain.ErrInvalidPassword
	}
	return v.Load(ctx)
}

// Load decifra todos os envelopes gravados. Envelopes que não abrem são pulados;
// se nenhum sobrar, domain.ErrNoCredentialsFound.
func (v *Vault) Load(ctx context.Context) (string, error) {
	value, found, err := v.cfg.Store.Get(ctx, v.cfg.Key)
	if err != nil {
		v.log.Error("vault load failed", "error", err)
		return "", domain.ErrStoreUnavailable
	}
	if !found || strings.TrimSpace(value) == "" {
		return "", domain.ErrNoCredentialsFound
	}

	if list, ok := v.cached(value); ok {
		return list, nil
	}

	envelopes, err := decodeEnvelopes(value)
	if err != nil {
		v.log.Warn("vault blob is not a valid envelope list")
		return "", domain.ErrNoCredentialsFound
	}

	var out []string
	for i, env := range envelopes {
		plaintext, err := v.Decrypt(env)
		if err != nil {
			v.log.Warn("vault_entry_skipped", "type", "vault_entry_skipped", "index", i)
			continue
		}
		if plaintext = strings.TrimSpace(plaintext); plaintext != "" {
			out = append(out, plaintext)
		}
	}
	if len(out) == 0 {
		return "", domain.ErrNoCredentialsFound
	}
	list := strings.Join(out, ",")

	v.mu.Lock()
	v.cachedBlob, v.cachedList = value, list
	v.mu.Unlock()
	return list, nil
}

func (v *Vault) cached(value string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cachedList == "" || v.cachedBlob != value {
		return "", false
	}
	return v.cachedList, true
}

// decodeEnvelopes aceita o array JSON (um envelope por credencial) ou um
// envelope único (modo combinado).
func decodeEnvelopes(value string) ([]string, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "[") {
		return []string{value}, nil
	}
	var envelopes []string
	if err := json.Unmarshal([]byte(value), &envelopes); err != nil {
		return nil, err
	}
	if len(envelopes) == 0 {
		return nil, errors.New("empty envelope list")
	}
	return envelopes, nil
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
