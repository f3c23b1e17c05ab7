package testing

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/peerlink/transport"
	"github.com/sirupsen/logrus"
)

// ErrNoRoute is recorded when a packet is sent to an address that has no
// socket on the simulated network.
var ErrNoRoute = errors.New("no simulated socket at destination")

// DeliveryRecord represents a packet delivery event for testing verification.
type DeliveryRecord struct {
	From      string
	To        string
	Data      []byte
	Timestamp time.Time
	Success   bool
	Error     error
}

// Network connects simulated sockets to each other.
type Network struct {
	mu          sync.RWMutex
	sockets     map[string]*Socket
	deliveryLog []DeliveryRecord
}

// NewNetwork creates an empty simulated network.
func NewNetwork() *Network {
	return &Network{sockets: make(map[string]*Socket)}
}

// NewSocket creates a socket bound to addr ("host:port") on the network.
func (n *Network) NewSocket(addr string) *Socket {
	s := NewSocket(addr)
	s.network = n

	n.mu.Lock()
	n.sockets[s.addr.String()] = s
	n.mu.Unlock()
	return s
}

// DeliveryLog returns every packet sent on the network, in send order.
func (n *Network) DeliveryLog() []DeliveryRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]DeliveryRecord(nil), n.deliveryLog...)
}

// ClearDeliveryLog discards the recorded deliveries.
func (n *Network) ClearDeliveryLog() {
	n.mu.Lock()
	n.deliveryLog = nil
	n.mu.Unlock()
}

func (n *Network) deliver(from, to string, data []byte) error {
	n.mu.Lock()
	dst, ok := n.sockets[to]
	rec := DeliveryRecord{
		From:      from,
		To:        to,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
		Success:   ok,
	}
	if !ok {
		rec.Error = ErrNoRoute
	}
	n.deliveryLog = append(n.deliveryLog, rec)
	n.mu.Unlock()

	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Network.deliver",
			"from":     from,
			"to":       to,
		}).Debug("Dropping simulated packet with no route")
		return nil
	}
	dst.receive(from, data)
	return nil
}

// Socket is an in-memory transport.Socket.
type Socket struct {
	addr    *net.UDPAddr
	network *Network

	mu       sync.Mutex
	clients  map[string]*Client
	requests []string
	closed   bool
	fail     error
}

var _ transport.Socket = (*Socket)(nil)

// NewSocket creates a socket that is not attached to any network. Its
// clients only record what they send.
func NewSocket(addr string) *Socket {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		panic(fmt.Sprintf("simulated socket address %q: %v", addr, err))
	}
	return &Socket{
		addr:    udpAddr,
		clients: make(map[string]*Client),
	}
}

// LocalAddr implements transport.Socket.
func (s *Socket) LocalAddr() net.Addr {
	return s.addr
}

// Client implements transport.Socket. Repeated calls for the same address
// return the same client, so a simulated socket serves one handler per
// address. Give sibling channels their own sockets.
func (s *Socket) Client(host string, port int) (transport.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, addr)
	if s.closed {
		return nil, transport.ErrSocketClosed
	}
	if s.fail != nil {
		return nil, s.fail
	}
	return s.clientLocked(addr), nil
}

func (s *Socket) clientLocked(addr string) *Client {
	c, ok := s.clients[addr]
	if !ok {
		c = &Client{socket: s, remote: addr}
		s.clients[addr] = c
	}
	return c
}

// ClientFor returns the client for addr, or nil if none was created.
func (s *Socket) ClientFor(addr string) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[addr]
}

// Requests returns every address passed to Client, in call order.
func (s *Socket) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// FailClients makes subsequent Client calls return err. A nil err restores
// normal behaviour.
func (s *Socket) FailClients(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Close implements transport.Socket.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// receive hands data from addr to the matching client, creating it so data
// that arrives first is held until a handler is registered.
func (s *Socket) receive(from string, data []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	c := s.clientLocked(from)
	s.mu.Unlock()
	c.Deliver(data)
}

// Client is an in-memory transport.Client.
type Client struct {
	socket *Socket
	remote string

	mu      sync.Mutex
	handler transport.DataHandler
	backlog [][]byte
	sent    [][]byte
	sendErr error
}

var _ transport.Client = (*Client)(nil)

// Send records data and forwards it over the network, if any.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	c.mu.Unlock()

	if c.socket.network == nil {
		return nil
	}
	return c.socket.network.deliver(c.socket.addr.String(), c.remote, data)
}

// OnData implements transport.Client. Data delivered before a handler was
// registered is flushed to it immediately.
func (c *Client) OnData(fn transport.DataHandler) {
	c.mu.Lock()
	c.handler = fn
	backlog := c.backlog
	c.backlog = nil
	c.mu.Unlock()

	for _, data := range backlog {
		fn(data)
	}
}

// RemoteAddr implements transport.Client.
func (c *Client) RemoteAddr() string {
	return c.remote
}

// Deliver feeds data to the client as if it arrived from the remote.
func (c *Client) Deliver(data []byte) {
	buf := append([]byte(nil), data...)

	c.mu.Lock()
	fn := c.handler
	if fn == nil {
		c.backlog = append(c.backlog, buf)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(buf)
}

// Sent returns a copy of everything sent through the client.
func (c *Client) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// SetSendError makes subsequent sends fail with err.
func (c *Client) SetSendError(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}
