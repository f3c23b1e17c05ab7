// Package limits provides centralized message size limits for peerlink.
// This ensures consistent validation across channels and transports.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagram is the largest UDP payload over IPv4 (65535 - 8 - 20).
	// Transports never carry a sealed payload larger than this.
	MaxDatagram = 65507

	// BoxOverhead is what BoxCipher adds: a 24-byte nonce and a 16-byte
	// Poly1305 tag.
	BoxOverhead = 24 + 16

	// NoiseXOverhead is what NoiseXCipher adds: the ephemeral key, the
	// encrypted static key and the payload tag.
	NoiseXOverhead = 32 + 48 + 16

	// MaxMessage is the largest application message a channel accepts. It
	// leaves room for the larger of the cipher overheads inside one datagram.
	MaxMessage = MaxDatagram - NoiseXOverhead
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateMessage validates an application message against MaxMessage.
// Empty messages are allowed; only sealed datagrams must be non-empty.
func ValidateMessage(message []byte) error {
	if len(message) > MaxMessage {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxMessage)
	}
	return nil
}

// ValidateDatagram validates a sealed payload against MaxDatagram.
func ValidateDatagram(data []byte) error {
	return ValidateMessageSize(data, MaxDatagram)
}
