package peerlink

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingOption is returned by New when a required option is unset.
	ErrMissingOption = errors.New("missing required option")

	// ErrDestroyed is returned by operations on a destroyed channel.
	ErrDestroyed = errors.New("channel destroyed")

	// ErrUnknownConnection is returned by SendTo when no connection exists
	// for the address.
	ErrUnknownConnection = errors.New("no connection for address")
)

// ChannelError adds the failing operation and remote address to an error.
type ChannelError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ChannelError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("peerlink %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("peerlink %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

func missingOption(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingOption, name)
}
