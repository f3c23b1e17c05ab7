package crypto

import (
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// Open authenticates and decrypts a payload produced by Seal.
func (BoxCipher) Open(ciphertext []byte, remote [32]byte, kp *KeyPair) ([]byte, error) {
	if kp == nil {
		return nil, fmt.Errorf("%w: nil key pair", ErrInvalidKey)
	}
	if len(ciphertext) < NonceSize+box.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes)", ErrAuthentication, len(ciphertext))
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := box.Open(nil, ciphertext[NonceSize:], &nonce, &remote, &kp.Private)
	if !ok {
		logFor("BoxCipher.Open").
			WithFields(KeyFields("remote", remote[:])).
			WithField("size", len(ciphertext)).
			Debug("box authentication failed")
		return nil, ErrAuthentication
	}

	return plaintext, nil
}
