package domain

import "context"

// BlobStore é a interface chave/valor genérica usada pelo cofre para persistir
// os envelopes cifrados. found=false quando a chave não existe.
type BlobStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Sealer cifra e decifra um envelope (salt ‖ iv ‖ ciphertext, em base64).
//
// Open deve falhar com ErrDecryptionFailed sem expor texto claro nem chave
// derivada quando o envelope é inválido ou a passphrase não confere.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(envelope string) (string, error)
}
