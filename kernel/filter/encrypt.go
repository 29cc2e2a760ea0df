package filter

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var errCiphertextTooShort = errors.New("filter: ciphertext shorter than nonce")

// EncryptionBufferFilter returns a BufferFilter that seals buf with
// ChaCha20-Poly1305 under key (must be chacha20poly1305.KeySize bytes),
// prefixing the nonce to the output so DecryptionBufferFilter can recover it.
func EncryptionBufferFilter(key []byte) (BufferFilter, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return func(buf []byte, _ Args) ([]byte, error) {
		nonce := make([]byte, aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, err
		}
		return aead.Seal(nonce, nonce, buf, nil), nil
	}, nil
}

// DecryptionBufferFilter is the inverse of EncryptionBufferFilter.
func DecryptionBufferFilter(key []byte) (BufferFilter, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return func(buf []byte, _ Args) ([]byte, error) {
		if len(buf) < aead.NonceSize() {
			return nil, errCiphertextTooShort
		}
		nonce, ciphertext := buf[:aead.NonceSize()], buf[aead.NonceSize():]
		return aead.Open(nil, nonce, ciphertext, nil)
	}, nil
}
