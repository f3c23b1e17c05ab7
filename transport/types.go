package transport

import (
	"net"
)

// DataHandler receives one inbound payload from a client's remote address.
type DataHandler func(data []byte)

// Client is one logical link to a remote host:port over a shared Socket.
// Delivery is best effort beyond whatever the Socket implementation itself
// retransmits.
type Client interface {
	// Send transmits one payload to the remote address.
	Send(data []byte) error

	// OnData sets the handler for payloads arriving from the remote
	// address. Payloads that arrived before any handler for the address was
	// set are delivered to the first one in arrival order.
	OnData(handler DataHandler)

	// RemoteAddr returns the remote host:port.
	RemoteAddr() string
}

// Socket is a local UDP port shared by any number of clients. Channels
// borrow a Socket; only its creator closes it.
type Socket interface {
	// LocalAddr returns the local address the socket is bound to.
	LocalAddr() net.Addr

	// Client returns a Client for host:port. Callers asking for the same
	// address share the outbound path but each Client has its own OnData
	// handler, and every handler sees every inbound payload.
	Client(host string, port int) (Client, error)

	// Close shuts down the socket and every client on it.
	Close() error
}
