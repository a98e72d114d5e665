package key

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// NonceLen is the length of the random nonce prepended to every sealed
// message.
const NonceLen = 12

// SessionKey is the symmetric AEAD key protecting control-plane messages for
// one relay connection.
//
// It is derived exactly once per successful handshake (NodePrivate.SessionTo)
// and discarded on disconnect.
type SessionKey struct {
	aead cipher.AEAD
}

func makeSessionKey(secret []byte) (SessionKey, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return SessionKey{}, fmt.Errorf("could not import shared secret: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return SessionKey{}, fmt.Errorf("could not construct AEAD: %w", err)
	}
	return SessionKey{aead: aead}, nil
}

// IsZero reports whether k is the zero value.
func (k SessionKey) IsZero() bool {
	return k.aead == nil
}

// Seal encrypts cleartext under k with a fresh random nonce, and returns
// nonce ‖ ciphertext‖tag.
//
// A new nonce is generated for every call; nonce reuse under the same key is
// forbidden.
func (k SessionKey) Seal(cleartext []byte) (ciphertext []byte) {
	if k.IsZero() {
		panic("can't seal with zero key")
	}
	out := make([]byte, NonceLen, NonceLen+len(cleartext)+k.aead.Overhead())
	rand(out)
	return k.aead.Seal(out, out[:NonceLen], cleartext, nil)
}

// Open decrypts ciphertext, which must be a value created by Seal.
//
// Returns ErrAuthenticationFailed when the input is too short to carry a
// nonce, or when the authentication tag does not verify.
func (k SessionKey) Open(ciphertext []byte) (cleartext []byte, err error) {
	if k.IsZero() {
		panic("can't open with zero key")
	}
	if len(ciphertext) < NonceLen {
		return nil, ErrAuthenticationFailed
	}
	cleartext, e := k.aead.Open(nil, ciphertext[:NonceLen], ciphertext[NonceLen:], nil)
	if e != nil {
		return nil, ErrAuthenticationFailed
	}
	return cleartext, nil
}
