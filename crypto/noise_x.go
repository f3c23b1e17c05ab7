package crypto

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/flynn/noise"
)

const (
	// noiseMaxMsgLen is the Noise framework's hard message limit.
	noiseMaxMsgLen = 65535

	// noiseXOverhead is e (32) + encrypted s (32+16) + payload tag (16).
	noiseXOverhead = 32 + 48 + 16

	// NoiseXMaxPayload is the largest plaintext NoiseXCipher can seal.
	NoiseXMaxPayload = noiseMaxMsgLen - noiseXOverhead
)

var noisePrologue = []byte("peerlink/noise-x/1")

// NoiseXCipher seals every payload as a single Noise_X_25519_ChaChaPoly_BLAKE2b
// handshake message. X is a one-way pattern: the sender knows the recipient's
// static key and transmits its own static key encrypted, so each payload is
// independently authenticated without any session state.
type NoiseXCipher struct{}

var _ Cipher = NoiseXCipher{}

func noiseSuite() noise.CipherSuite {
	return noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)
}

func dhKey(kp *KeyPair) noise.DHKey {
	key := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(key.Private, kp.Private[:])
	copy(key.Public, kp.Public[:])
	return key
}

// Seal writes one X handshake message carrying msg.
func (NoiseXCipher) Seal(msg []byte, remote [32]byte, kp *KeyPair) ([]byte, error) {
	if err := validatePlaintext(msg); err != nil {
		return nil, err
	}
	if len(msg) > NoiseXMaxPayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds noise limit %d", ErrMessageTooLarge, len(msg), NoiseXMaxPayload)
	}
	if kp == nil {
		return nil, fmt.Errorf("%w: nil key pair", ErrInvalidKey)
	}

	static := dhKey(kp)
	defer Wipe(static.Private)

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseSuite(),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeX,
		Initiator:     true,
		Prologue:      noisePrologue,
		StaticKeypair: static,
		PeerStatic:    append([]byte(nil), remote[:]...),
	})
	if err != nil {
		return nil, fmt.Errorf("create noise handshake: %w", err)
	}

	out, _, _, err := hs.WriteMessage(nil, msg)
	if err != nil {
		return nil, fmt.Errorf("write noise message: %w", err)
	}
	return out, nil
}

// Open reads one X handshake message and checks that the sender's revealed
// static key is remote.
func (NoiseXCipher) Open(ciphertext []byte, remote [32]byte, kp *KeyPair) ([]byte, error) {
	if kp == nil {
		return nil, fmt.Errorf("%w: nil key pair", ErrInvalidKey)
	}
	if len(ciphertext) < noiseXOverhead {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes)", ErrAuthentication, len(ciphertext))
	}

	static := dhKey(kp)
	defer Wipe(static.Private)

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseSuite(),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeX,
		Initiator:     false,
		Prologue:      noisePrologue,
		StaticKeypair: static,
	})
	if err != nil {
		return nil, fmt.Errorf("create noise handshake: %w", err)
	}

	plaintext, _, _, err := hs.ReadMessage(nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	if !bytes.Equal(hs.PeerStatic(), remote[:]) {
		logFor("NoiseXCipher.Open").
			WithFields(KeyFields("sender", hs.PeerStatic())).
			WithFields(KeyFields("expected", remote[:])).
			Debug("payload sealed by unexpected static key")
		return nil, fmt.Errorf("%w: sealed by unexpected key", ErrAuthentication)
	}

	return plaintext, nil
}
