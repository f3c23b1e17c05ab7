package limits

import (
	"crypto/rand"
	"errors"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

// TestBoxOverheadMatchesNaCl verifies that BoxOverhead matches nonce plus
// the actual overhead from golang.org/x/crypto/nacl/box
func TestBoxOverheadMatchesNaCl(t *testing.T) {
	if BoxOverhead != 24+box.Overhead {
		t.Errorf("BoxOverhead = %d, want %d", BoxOverhead, 24+box.Overhead)
	}
}

func TestActualNaClBoxOverhead(t *testing.T) {
	_, privateKey1, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key pair 1: %v", err)
	}
	publicKey2, _, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key pair 2: %v", err)
	}

	var nonce [24]byte
	msg := make([]byte, MaxMessage)
	sealed := box.Seal(nonce[:], msg, &nonce, publicKey2, privateKey1)
	if len(sealed) > MaxDatagram {
		t.Errorf("sealed max message is %d bytes, exceeds MaxDatagram %d", len(sealed), MaxDatagram)
	}
}

func TestMaxMessageFitsNoiseX(t *testing.T) {
	if MaxMessage+NoiseXOverhead != MaxDatagram {
		t.Errorf("MaxMessage + NoiseXOverhead = %d, want %d", MaxMessage+NoiseXOverhead, MaxDatagram)
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"empty", 0, nil},
		{"one byte", 1, nil},
		{"at limit", MaxMessage, nil},
		{"over limit", MaxMessage + 1, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(make([]byte, tt.size))
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateMessage() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMessage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDatagram(t *testing.T) {
	if err := ValidateDatagram(make([]byte, MaxDatagram)); err != nil {
		t.Errorf("ValidateDatagram() at limit: %v", err)
	}
	if err := ValidateDatagram(make([]byte, MaxDatagram+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("ValidateDatagram() over limit error = %v, want ErrMessageTooLarge", err)
	}
}
