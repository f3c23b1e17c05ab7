package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// NonceSize is the length of the random nonce prefixed to every box payload.
const NonceSize = 24

// MaxMessageSize bounds plaintext passed to Seal (1MB).
const MaxMessageSize = 1024 * 1024

// Cipher seals and opens payloads exchanged between two key pairs.
// Implementations must be safe for concurrent use.
type Cipher interface {
	// Seal encrypts msg so that only the holder of remote's private key can
	// open it, authenticated as coming from kp.
	Seal(msg []byte, remote [32]byte, kp *KeyPair) ([]byte, error)

	// Open reverses Seal. Failures to authenticate wrap ErrAuthentication.
	Open(ciphertext []byte, remote [32]byte, kp *KeyPair) ([]byte, error)
}

// BoxCipher seals payloads with NaCl crypto_box. The wire form is
// [nonce (24 bytes)][box.Seal output].
type BoxCipher struct{}

var _ Cipher = BoxCipher{}

// Seal encrypts msg for remote under a fresh random nonce.
func (BoxCipher) Seal(msg []byte, remote [32]byte, kp *KeyPair) ([]byte, error) {
	if err := validatePlaintext(msg); err != nil {
		return nil, err
	}
	if kp == nil {
		return nil, fmt.Errorf("%w: nil key pair", ErrInvalidKey)
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, NonceSize, NonceSize+len(msg)+box.Overhead)
	copy(out, nonce[:])
	return box.Seal(out, msg, &nonce, &remote, &kp.Private), nil
}

// validatePlaintext bounds msg. An empty msg is valid and still seals to a
// non-empty authenticated payload.
func validatePlaintext(msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, len(msg), MaxMessageSize)
	}
	return nil
}
