package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/peerlink/limits"
	"github.com/sirupsen/logrus"
)

// UDPSocket implements Socket over one UDP port. Every client shares the
// port; inbound datagrams are routed to clients by source address. Delivery
// is best effort: nothing is retransmitted.
type UDPSocket struct {
	conn    net.PacketConn
	router  *router
	clients map[string]*udpClient
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Socket = (*UDPSocket)(nil)

// NewUDPSocket binds listenAddr and starts the receive loop.
func NewUDPSocket(listenAddr string) (*UDPSocket, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, newTransportError("listen", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &UDPSocket{
		conn:    conn,
		router:  newRouter(),
		clients: make(map[string]*udpClient),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.wg.Add(1)
	go s.processPackets()

	logrus.WithFields(logrus.Fields{
		"function": "NewUDPSocket",
		"addr":     conn.LocalAddr().String(),
	}).Info("UDP socket listening")

	return s, nil
}

// LocalAddr returns the local address the socket is listening on.
func (s *UDPSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Client returns a new view of the client for host:port. Views of one
// address share the outbound path and each receives every inbound payload.
func (s *UDPSocket) Client(host string, port int) (Client, error) {
	hostport := net.JoinHostPort(host, strconv.Itoa(port))
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, newTransportError("resolve", hostport, err)
	}
	key := addr.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil, ErrSocketClosed
	}
	c, ok := s.clients[key]
	if !ok {
		c = &udpClient{sock: s, addr: addr, key: key}
		s.clients[key] = c
	}
	return newView(c, s.router.claim(key)), nil
}

// Close shuts down the socket.
func (s *UDPSocket) Close() error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.mu.Unlock()

	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// processPackets handles incoming datagrams until the socket is closed.
func (s *UDPSocket) processPackets() {
	defer s.wg.Done()

	buffer := make([]byte, limits.MaxDatagram)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			s.processIncomingPacket(buffer)
		}
	}
}

// processIncomingPacket reads and routes a single datagram.
func (s *UDPSocket) processIncomingPacket(buffer []byte) {
	// Set read deadline for non-blocking reads with timeout
	_ = s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	n, addr, err := s.conn.ReadFrom(buffer)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		if s.ctx.Err() == nil {
			logrus.WithError(err).Debug("UDP socket read failed")
		}
		return
	}

	data := make([]byte, n)
	copy(data, buffer[:n])
	s.router.route(addr.String(), data)
}

type udpClient struct {
	sock *UDPSocket
	addr *net.UDPAddr
	key  string
}

// Send writes one datagram to the remote address.
func (c *udpClient) Send(data []byte) error {
	if err := limits.ValidateDatagram(data); err != nil {
		return newTransportError("send", c.key, err)
	}
	if c.sock.ctx.Err() != nil {
		return ErrSocketClosed
	}
	if _, err := c.sock.conn.WriteTo(data, c.addr); err != nil {
		return newTransportError("send", c.key, err)
	}
	return nil
}

// RemoteAddr returns the remote host:port.
func (c *udpClient) RemoteAddr() string {
	return c.key
}
