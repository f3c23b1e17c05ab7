package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/peerlink/limits"
	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	dialBackoffMin = 500 * time.Millisecond
	dialBackoffMax = 30 * time.Second
)

// QUICConfig tunes a QUICSocket.
type QUICConfig struct {
	HandshakeTimeout time.Duration
	KeepAlivePeriod  time.Duration
	MaxIdleTimeout   time.Duration

	// SendBuffer is the number of payloads a client queues while dialing.
	SendBuffer int
}

// DefaultQUICConfig returns the configuration used when none is supplied.
func DefaultQUICConfig() *QUICConfig {
	return &QUICConfig{
		HandshakeTimeout: 5 * time.Second,
		KeepAlivePeriod:  5 * time.Second,
		MaxIdleTimeout:   30 * time.Second,
		SendBuffer:       1024,
	}
}

// QUICSocket implements Socket with QUIC over one UDP port. The same port
// listens and dials, so a remote sees one address for this node no matter
// who dialed. Each client writes length-prefixed frames on one
// unidirectional stream, giving ordered delivery with retransmission.
type QUICSocket struct {
	conn      net.PacketConn
	tr        *quic.Transport
	ln        *quic.Listener
	clientTLS *tls.Config
	qconf     *quic.Config
	cfg       *QUICConfig
	router    *router

	mu      sync.Mutex
	clients map[string]*quicClient
	conns   map[*quic.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Socket = (*QUICSocket)(nil)

// NewQUICSocket binds listenAddr and starts accepting connections. A nil
// cfg uses DefaultQUICConfig.
func NewQUICSocket(listenAddr string, cfg *QUICConfig) (*QUICSocket, error) {
	if cfg == nil {
		cfg = DefaultQUICConfig()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultQUICConfig().SendBuffer
	}

	serverTLS, clientTLS, err := selfSignedTLS()
	if err != nil {
		return nil, newTransportError("listen", listenAddr, err)
	}

	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, newTransportError("listen", listenAddr, err)
	}

	qconf := &quic.Config{
		HandshakeIdleTimeout: cfg.HandshakeTimeout,
		MaxIdleTimeout:       cfg.MaxIdleTimeout,
		KeepAlivePeriod:      cfg.KeepAlivePeriod,
	}

	tr := &quic.Transport{Conn: conn}
	ln, err := tr.Listen(serverTLS, qconf)
	if err != nil {
		_ = multierr.Combine(tr.Close(), conn.Close())
		return nil, newTransportError("listen", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &QUICSocket{
		conn:      conn,
		tr:        tr,
		ln:        ln,
		clientTLS: clientTLS,
		qconf:     qconf,
		cfg:       cfg,
		router:    newRouter(),
		clients:   make(map[string]*quicClient),
		conns:     make(map[*quic.Conn]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.wg.Add(1)
	go s.acceptLoop()

	logrus.WithFields(logrus.Fields{
		"function": "NewQUICSocket",
		"addr":     conn.LocalAddr().String(),
	}).Info("QUIC socket listening")

	return s, nil
}

// LocalAddr returns the local address the socket is listening on.
func (s *QUICSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Client returns a new view of the client for host:port. Views of one
// address share the connection and each receives every inbound payload.
// Dialing happens in the
// background; payloads sent before the dial completes are queued.
func (s *QUICSocket) Client(host string, port int) (Client, error) {
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
		c = &quicClient{
			sock: s,
			addr: addr,
			key:  key,
			out:  make(chan []byte, s.cfg.SendBuffer),
		}
		s.clients[key] = c

		s.wg.Add(1)
		go c.run()
	}

	return newView(c, s.router.claim(key)), nil
}

// Close closes every QUIC connection, the listener and the UDP port.
func (s *QUICSocket) Close() error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	conns := make([]*quic.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.CloseWithError(0, "socket closed"))
	}
	err = multierr.Append(err, s.ln.Close())
	err = multierr.Append(err, s.tr.Close())
	err = multierr.Append(err, s.conn.Close())

	s.wg.Wait()
	return err
}

func (s *QUICSocket) track(c *quic.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *QUICSocket) untrack(c *quic.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *QUICSocket) acceptLoop() {
	defer s.wg.Done()

	for {
		c, err := s.ln.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				logrus.WithError(err).Debug("QUIC accept failed")
			}
			return
		}
		if !s.track(c) {
			_ = c.CloseWithError(0, "socket closed")
			return
		}

		logrus.WithFields(logrus.Fields{
			"function": "acceptLoop",
			"from":     c.RemoteAddr().String(),
		}).Debug("Accepted QUIC connection")

		s.wg.Add(1)
		go s.readConn(c)
	}
}

// readConn routes every frame on every stream the remote opens on c.
func (s *QUICSocket) readConn(c *quic.Conn) {
	defer s.wg.Done()
	defer s.untrack(c)

	remote := c.RemoteAddr().String()
	for {
		st, err := c.AcceptUniStream(s.ctx)
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.readStream(remote, st)
	}
}

func (s *QUICSocket) readStream(remote string, st *quic.ReceiveStream) {
	defer s.wg.Done()

	br := bufio.NewReader(st)
	for {
		data, err := readFrame(br)
		if err != nil {
			if err != io.EOF && s.ctx.Err() == nil {
				logrus.WithError(err).WithField("from", remote).Debug("QUIC stream read ended")
			}
			return
		}
		s.router.route(remote, data)
	}
}

func writeFrame(w io.Writer, data []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > limits.MaxDatagram {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

type quicClient struct {
	sock *QUICSocket
	addr *net.UDPAddr
	key  string
	out  chan []byte
}

// Send queues one payload for the remote address.
func (c *quicClient) Send(data []byte) error {
	if err := limits.ValidateDatagram(data); err != nil {
		return newTransportError("send", c.key, err)
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case <-c.sock.ctx.Done():
		return ErrSocketClosed
	default:
	}

	select {
	case c.out <- buf:
		return nil
	default:
		return newTransportError("send", c.key, ErrBufferFull)
	}
}

// RemoteAddr returns the remote host:port.
func (c *quicClient) RemoteAddr() string {
	return c.key
}

// open dials the remote and opens the outbound stream.
func (c *quicClient) open() (*quic.Conn, *quic.SendStream, error) {
	ctx, cancel := context.WithTimeout(c.sock.ctx, c.sock.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := c.sock.tr.Dial(ctx, c.addr, c.sock.clientTLS, c.sock.qconf)
	if err != nil {
		return nil, nil, err
	}
	st, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, nil, err
	}
	return conn, st, nil
}

// run drains the outbound queue, dialing and redialing with backoff. A
// payload whose write fails is retried on the next connection.
func (c *quicClient) run() {
	defer c.sock.wg.Done()

	var (
		conn    *quic.Conn
		stream  *quic.SendStream
		pending []byte
		backoff = dialBackoffMin
	)

	for {
		if pending == nil {
			select {
			case pending = <-c.out:
			case <-c.sock.ctx.Done():
				return
			}
		}

		if stream == nil {
			var err error
			conn, stream, err = c.open()
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "quicClient.run",
					"addr":     c.key,
					"backoff":  backoff,
					"error":    err.Error(),
				}).Debug("QUIC dial failed")

				select {
				case <-time.After(backoff):
				case <-c.sock.ctx.Done():
					return
				}
				backoff *= 2
				if backoff > dialBackoffMax {
					backoff = dialBackoffMax
				}
				continue
			}

			backoff = dialBackoffMin
			if !c.sock.track(conn) {
				_ = conn.CloseWithError(0, "socket closed")
				return
			}
			c.sock.wg.Add(1)
			go c.sock.readConn(conn)
		}

		if err := writeFrame(stream, pending); err != nil {
			logrus.WithError(err).WithField("addr", c.key).Debug("QUIC write failed, redialing")
			_ = conn.CloseWithError(0, "write failed")
			stream = nil
			continue
		}
		pending = nil
	}
}
