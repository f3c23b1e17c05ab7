package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyPair represents a Curve25519 key pair used for channel encryption.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		Public:  *publicKey,
		Private: *privateKey,
	}, nil
}

// FromSecretKey creates a key pair from an existing private key, deriving
// the public half with X25519.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, fmt.Errorf("%w: secret key is all zeros", ErrInvalidKey)
	}

	pub, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], pub)
	return kp, nil
}

// ParseKey decodes a 64 character hex string into a 32-byte key.
func ParseKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, len(key), len(raw))
	}
	copy(key[:], raw)
	if isZeroKey(key) {
		return key, fmt.Errorf("%w: key is all zeros", ErrInvalidKey)
	}
	return key, nil
}

// PublicKeyHex returns the lowercase hex encoding of the public key.
func (kp *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.Public[:])
}

// IsZeroKey reports whether every byte of key is zero.
func IsZeroKey(key [32]byte) bool {
	return isZeroKey(key)
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
