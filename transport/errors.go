package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrSocketClosed indicates the socket has been closed
	ErrSocketClosed = errors.New("socket closed")

	// ErrBufferFull indicates the client's outbound buffer is full
	ErrBufferFull = errors.New("send buffer full")

	// ErrFrameTooLarge indicates a payload above limits.MaxDatagram
	ErrFrameTooLarge = errors.New("frame too large")
)

// TransportError represents an error with additional context
type TransportError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *TransportError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newTransportError(op, addr string, err error) *TransportError {
	return &TransportError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
