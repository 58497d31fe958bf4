package notify

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecrypt is returned when a ciphertext fails authentication.
var ErrDecrypt = errors.New("notify: decrypt failed")

const nonceSize = 24

// SecretBox encrypts channel configs at rest with nacl/secretbox.
// The key is derived from a passphrase via sha256.
type SecretBox struct {
	key [32]byte
}

// NewSecretBox derives a box key from the given passphrase.
func NewSecretBox(passphrase string) *SecretBox {
	b := &SecretBox{}
	b.key = sha256.Sum256([]byte(passphrase))
	return b
}

// Encrypt seals plaintext with a random nonce prefixed to the ciphertext.
func (b *SecretBox) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (b *SecretBox) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
