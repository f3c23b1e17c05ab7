package crypto

import "errors"

var (
	// ErrAuthentication indicates a payload failed authenticated decryption.
	ErrAuthentication = errors.New("message authentication failed")

	// ErrMessageTooLarge indicates a payload larger than MaxMessageSize.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidKey indicates a key that is all zeros or has the wrong length.
	ErrInvalidKey = errors.New("invalid key")
)
