package infra

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"apikey-gateway/middleware/keyrotation/domain"

	"golang.org/x/crypto/pbkdf2"
)

// Formato do envelope: base64(salt ‖ iv ‖ ciphertext ‖ tag).
const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	DefaultIterations = 100_000
)

// PassphraseSealer cifra credenciais com AES-256-GCM e chave derivada de uma
// passphrase fixa via PBKDF2-SHA256. Cada Seal usa salt e iv novos.
type PassphraseSealer struct {
	passphrase []byte
	iterations int
	rand       io.Reader
}

type SealerOption func(*PassphraseSealer)

// WithIterations troca o número de iterações do PBKDF2. Envelopes só abrem
// com o mesmo valor usado para criá-los.
func WithIterations(n int) SealerOption {
	return func(s *PassphraseSealer) { s.iterations = n }
}

// WithRandom troca a fonte de aleatoriedade (salt/iv).
func WithRandom(r io.Reader) SealerOption {
	return func(s *PassphraseSealer) { s.rand = r }
}

func NewPassphraseSealer(passphrase string, opts ...SealerOption) (*PassphraseSealer, error) {
	if passphrase == "" {
		return nil, errors.New("vault passphrase is required")
	}
	s := &PassphraseSealer{
		passphrase: []byte(passphrase),
		iterations: DefaultIterations,
		rand:       rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.iterations <= 0 {
		return nil, errors.New("pbkdf2 iterations must be > 0")
	}
	return s, nil
}

func (s *PassphraseSealer) Seal(plaintext string) (string, error) {
	buf := make([]byte, saltSize+nonceSize)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return "", fmt.Errorf("rand salt/iv: %w", err)
	}
	salt, nonce := buf[:saltSize], buf[saltSize:]

	gcm, err := s.aead(salt)
	if err != nil {
		return "", err
	}

	// Seal acrescenta ciphertext ‖ tag depois de salt ‖ iv.
	out := gcm.Seal(buf, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open nunca devolve detalhe do erro: qualquer falha vira domain.ErrDecryptionFailed.
func (s *PassphraseSealer) Open(envelope string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", domain.ErrDecryptionFailed
	}
	if len(data) < saltSize+nonceSize+aesGCMTagSize {
		return "", domain.ErrDecryptionFailed
	}

	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	ciphertext := data[saltSize+nonceSize:]

	gcm, err := s.aead(salt)
	if err != nil {
		return "", domain.ErrDecryptionFailed
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", domain.ErrDecryptionFailed
	}
	return string(plaintext), nil
}

const aesGCMTagSize = 16

func (s *PassphraseSealer) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(s.passphrase, salt, s.iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
