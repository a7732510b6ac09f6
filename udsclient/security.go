package udsclient

import (
	"crypto/aes"
	"errors"

	"github.com/chmike/cmac-go"
)

// KeyAlgorithm computes the security access key for a seed.
type KeyAlgorithm interface {
	Key(level byte, seed []byte) ([]byte, error)
}

// KeyFunc adapts a function to KeyAlgorithm.
type KeyFunc func(level byte, seed []byte) ([]byte, error)

func (f KeyFunc) Key(level byte, seed []byte) ([]byte, error) { return f(level, seed) }

// CMACKey derives the key as AES-CMAC(secret, seed) truncated to Size bytes.
type CMACKey struct {
	Secret []byte // 16, 24 or 32 byte AES key
	Size   int    // key length sent to the ECU, 0 keeps the full 16 byte tag
}

func (k CMACKey) Key(_ byte, seed []byte) ([]byte, error) {
	if len(seed) == 0 {
		return nil, errors.New("empty seed")
	}
	h, err := cmac.New(aes.NewCipher, k.Secret)
	if err != nil {
		return nil, err
	}
	h.Write(seed)
	tag := h.Sum(nil)
	if k.Size > 0 && k.Size < len(tag) {
		tag = tag[:k.Size]
	}
	return tag, nil
}
