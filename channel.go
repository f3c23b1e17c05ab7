package peerlink

import (
	"bytes"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/opd-ai/peerlink/crypto"
	"github.com/opd-ai/peerlink/dht"
	"github.com/opd-ai/peerlink/limits"
	"github.com/opd-ai/peerlink/transport"
	"github.com/sirupsen/logrus"
)

// heartbeat is the plaintext of a keepalive: 50 underscores. It is sealed
// like any other payload and never delivered to OnData.
var heartbeat = [50]byte(bytes.Repeat([]byte{'_'}, 50))

// HeartbeatSentinel returns a copy of the keepalive plaintext. A peer that
// speaks this protocol sends it to keep a connection alive.
func HeartbeatSentinel() []byte {
	return append([]byte(nil), heartbeat[:]...)
}

// ConnectionInfo is a snapshot of one connection.
type ConnectionInfo struct {
	Addr string
	// Connected is set once a payload from Addr has decrypted.
	Connected bool
	LastSeen  time.Time
}

// Channel is an encrypted point-to-point channel to one remote public key.
// It finds the remote through discovery, opens a client on the shared
// socket for every address it learns, and replays every message sent so far
// to each new connection.
type Channel struct {
	keyPair   *crypto.KeyPair
	remote    [32]byte
	socket    transport.Socket
	discovery dht.Discovery
	cipher    crypto.Cipher
	clock     clock.Clock
	metrics   *Metrics

	myIP              string
	name              string
	instance          uuid.UUID
	selfTopic         crypto.TopicID
	peerTopic         crypto.TopicID
	port              uint16
	announceInterval  time.Duration
	keepAliveInterval time.Duration

	events callbacks

	mu        sync.Mutex
	ready     bool
	readyCh   chan struct{}
	destroyed bool
	conns     map[string]*connection
	blacklist map[string]struct{}
	queue     *queue
	pending   []string
	announcer *clock.Timer
	cancels   []func()
}

// New creates a channel to opts.PublicKey. The channel starts working as
// soon as the discovery service is ready, which may be before New returns;
// callbacks that must see the first payloads belong in opts.
func New(opts *Options) (*Channel, error) {
	if opts == nil {
		return nil, missingOption("Options")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	o := opts.withDefaults()

	port, err := localPort(o.Socket.LocalAddr())
	if err != nil {
		return nil, &ChannelError{Op: "new", Err: err}
	}

	c := &Channel{
		keyPair:           o.KeyPair,
		remote:            o.PublicKey,
		socket:            o.Socket,
		discovery:         o.Discovery,
		cipher:            o.Cipher,
		clock:             o.Clock,
		metrics:           o.Metrics,
		myIP:              o.MyIP,
		name:              o.Name,
		instance:          uuid.New(),
		selfTopic:         crypto.TopicOf(o.KeyPair.Public),
		peerTopic:         crypto.TopicOf(o.PublicKey),
		port:              port,
		announceInterval:  o.AnnounceInterval,
		keepAliveInterval: o.KeepAliveInterval,
		readyCh:           make(chan struct{}),
		conns:             make(map[string]*connection),
		blacklist:         make(map[string]struct{}),
		queue:             &queue{},
		events: callbacks{
			onData:      o.OnData,
			onWarn:      o.OnWarn,
			onConnected: o.OnConnected,
		},
	}

	c.log("New").WithFields(logrus.Fields{
		"port":       port,
		"self_topic": c.selfTopic.String(),
		"peer_topic": c.peerTopic.String(),
	}).Debug("Channel created, waiting for discovery")

	c.discovery.OnReady(c.watchDiscovery)
	return c, nil
}

func localPort(addr net.Addr) (uint16, error) {
	if addr == nil {
		return 0, fmt.Errorf("socket has no local address")
	}
	if udp, ok := addr.(*net.UDPAddr); ok {
		return uint16(udp.Port), nil
	}
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, fmt.Errorf("parse local address %q: %w", addr.String(), err)
	}
	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse local port %q: %w", p, err)
	}
	return uint16(port), nil
}

func (c *Channel) log(function string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"function": function,
		"name":     c.name,
		"instance": c.instance.String(),
	})
}

// watchDiscovery runs once discovery is ready. It subscribes to the
// discovery feeds, marks the channel ready, reissues deferred connects and
// starts the announce/lookup cycle.
func (c *Channel) watchDiscovery() {
	c.mu.Lock()
	if c.destroyed || c.ready {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	cancelAnnounce := c.discovery.OnAnnounce(func(ann dht.Announcement) {
		if ann.Topic != c.peerTopic {
			return
		}
		c.log("watchDiscovery").WithField("addr", ann.Addr).Debug("Remote announced")
		c.Connect(ann.Addr)
	})
	cancelPeer := c.discovery.OnPeer(c.selfTopic, func(addr string) {
		c.log("watchDiscovery").WithField("addr", addr).Debug("Lookup found peer")
		c.Connect(addr)
	})

	c.mu.Lock()
	if c.destroyed || c.ready {
		c.mu.Unlock()
		cancelAnnounce()
		cancelPeer()
		return
	}
	c.cancels = append(c.cancels, cancelAnnounce, cancelPeer)
	c.ready = true
	close(c.readyCh)
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.log("watchDiscovery").WithField("pending", len(pending)).Info("Channel ready")

	for _, addr := range pending {
		c.Connect(addr)
	}
	c.lookupAndAnnounce()
}

func (c *Channel) lookupAndAnnounce() {
	if c.isDestroyed() {
		return
	}

	logger := c.log("lookupAndAnnounce")
	if err := c.discovery.Announce(c.peerTopic, c.port); err != nil {
		logger.WithError(err).Debug("Announce failed")
	}
	c.discovery.Lookup(c.selfTopic, func(addrs []string) {
		logger.WithField("found", len(addrs)).Debug("Lookup complete")
		c.scheduleAnnounce()
	})
}

func (c *Channel) scheduleAnnounce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	if c.announcer != nil {
		c.announcer.Stop()
	}
	c.announcer = c.clock.AfterFunc(c.announceInterval, c.lookupAndAnnounce)
}

// Connect opens a connection to addr ("host:port") unless one exists, the
// address is blacklisted, or its host is the local IP. Before the channel
// is ready the request is deferred until it is.
func (c *Channel) Connect(addr string) {
	logger := c.log("Connect").WithField("addr", addr)

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		logger.WithError(err).Warn("Ignoring malformed address")
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		logger.Warn("Ignoring address with invalid port")
		return
	}

	c.mu.Lock()
	if skip := c.skipConnectLocked(addr, host); skip != "" {
		c.mu.Unlock()
		logger.WithField("reason", skip).Debug("Not connecting")
		return
	}
	if !c.ready {
		c.pending = append(c.pending, addr)
		c.mu.Unlock()
		logger.Debug("Channel not ready, deferring connect")
		return
	}
	c.mu.Unlock()

	client, err := c.socket.Client(host, port)
	if err != nil {
		logger.WithError(err).Warn("Failed to open client")
		return
	}

	c.mu.Lock()
	if skip := c.skipConnectLocked(addr, host); skip != "" {
		c.mu.Unlock()
		logger.WithField("reason", skip).Debug("Not connecting")
		return
	}
	conn := &connection{addr: addr, client: client}
	c.conns[addr] = conn
	// Hold the connection's send lock until the replay is written so no
	// later Send reaches this client ahead of the history.
	conn.sendMu.Lock()
	backlog := c.queue.Snapshot()
	c.mu.Unlock()

	c.metrics.connectionOpened()
	logger.WithField("replay", len(backlog)).Info("Connecting")

	if err := c.write(conn, heartbeat[:]); err != nil {
		logger.WithError(err).Debug("Heartbeat failed")
	} else {
		c.metrics.sent(kindHeartbeat, 1)
	}
	replayed := 0
	for _, msg := range backlog {
		if err := c.write(conn, msg); err != nil {
			logger.WithError(err).Debug("Replay send failed")
			continue
		}
		replayed++
	}
	conn.sendMu.Unlock()
	c.metrics.sent(kindReplay, replayed)

	client.OnData(func(data []byte) {
		c.handleData(conn, data)
	})
	c.armKeepAlive(conn)
}

func (c *Channel) skipConnectLocked(addr, host string) string {
	switch {
	case c.destroyed:
		return "destroyed"
	case c.conns[addr] != nil:
		return "already connected"
	case c.isBlacklistedLocked(addr):
		return "blacklisted"
	case c.myIP != "" && host == c.myIP:
		return "own address"
	}
	return ""
}

func (c *Channel) handleData(conn *connection, data []byte) {
	logger := c.log("handleData").WithField("addr", conn.addr)

	c.mu.Lock()
	current := !c.destroyed && c.conns[conn.addr] == conn
	c.mu.Unlock()
	if !current {
		logger.Debug("Dropping data for removed connection")
		return
	}

	plaintext, err := c.cipher.Open(data, c.remote, c.keyPair)
	if err != nil {
		c.rejectConnection(conn, data, err)
		return
	}

	c.mu.Lock()
	if c.destroyed || c.conns[conn.addr] != conn {
		c.mu.Unlock()
		return
	}
	first := !conn.connected
	conn.connected = true
	conn.lastSeen = c.clock.Now()
	c.mu.Unlock()

	if first {
		logger.Info("Connected")
		c.events.connected(conn.addr)
	}

	if bytes.Equal(plaintext, heartbeat[:]) {
		logger.Debug("Got heartbeat")
		c.metrics.received(kindHeartbeat)
		return
	}
	c.metrics.received(kindData)
	c.events.data(plaintext)
}

// rejectConnection blacklists the connection's address after a payload
// failed to decrypt.
func (c *Channel) rejectConnection(conn *connection, data []byte, err error) {
	c.mu.Lock()
	c.blacklist[conn.addr] = struct{}{}
	removed := c.removeLocked(conn)
	c.mu.Unlock()

	if removed {
		c.metrics.connectionsClosed(1)
	}
	c.metrics.addressBlacklisted()

	msg := "Unable to decrypt message, blacklisting " + conn.addr
	c.log("rejectConnection").WithFields(logrus.Fields{
		"addr":  conn.addr,
		"bytes": len(data),
		"error": err.Error(),
	}).Warn("Blacklisting address")

	c.events.warn(Warning{
		Addr:    conn.addr,
		Message: msg,
		Payload: append([]byte(nil), data...),
		Err:     err,
	})
}

// Send queues msg for every future connection and sends it to every open
// one. With no connections the message is only queued. msg may be empty;
// it must not exceed limits.MaxMessage.
func (c *Channel) Send(msg []byte) error {
	if err := limits.ValidateMessage(msg); err != nil {
		return &ChannelError{Op: "send", Err: err}
	}
	buf := append([]byte(nil), msg...)

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.queue.push(buf)
	conns := make([]*connection, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()
	c.metrics.queued(1)

	if len(conns) == 0 {
		c.log("Send").WithField("bytes", len(buf)).Debug("No connections, message queued")
		return nil
	}

	sealed, err := c.cipher.Seal(buf, c.remote, c.keyPair)
	if err != nil {
		return &ChannelError{Op: "seal", Err: err}
	}
	for _, conn := range conns {
		c.deliver(conn, sealed)
	}
	return nil
}

// SendTo queues msg like Send but delivers it now only to the connection
// at addr.
func (c *Channel) SendTo(addr string, msg []byte) error {
	if err := limits.ValidateMessage(msg); err != nil {
		return &ChannelError{Op: "send", Addr: addr, Err: err}
	}
	buf := append([]byte(nil), msg...)

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.queue.push(buf)
	conn := c.conns[addr]
	c.mu.Unlock()
	c.metrics.queued(1)

	if conn == nil {
		return &ChannelError{Op: "send", Addr: addr, Err: ErrUnknownConnection}
	}

	sealed, err := c.cipher.Seal(buf, c.remote, c.keyPair)
	if err != nil {
		return &ChannelError{Op: "seal", Addr: addr, Err: err}
	}
	c.deliver(conn, sealed)
	return nil
}

// deliver sends an already sealed payload. Transport errors are logged and
// counted; delivery is best effort.
func (c *Channel) deliver(conn *connection, sealed []byte) {
	conn.sendMu.Lock()
	err := conn.client.Send(sealed)
	conn.sendMu.Unlock()

	if err != nil {
		c.metrics.sendFailed()
		c.log("deliver").WithFields(logrus.Fields{
			"addr":  conn.addr,
			"error": err.Error(),
		}).Debug("Send failed")
		return
	}
	c.metrics.sent(kindData, 1)
}

// write seals msg and sends it. The caller holds conn.sendMu.
func (c *Channel) write(conn *connection, msg []byte) error {
	sealed, err := c.cipher.Seal(msg, c.remote, c.keyPair)
	if err != nil {
		return err
	}
	if err := conn.client.Send(sealed); err != nil {
		c.metrics.sendFailed()
		return err
	}
	return nil
}

// Destroy stops every timer and discovery subscription and releases the
// connection table and queue. The socket and clients are left open.
// Destroy is idempotent.
func (c *Channel) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	if c.announcer != nil {
		c.announcer.Stop()
		c.announcer = nil
	}
	open := len(c.conns)
	for _, conn := range c.conns {
		conn.stopKeepAlive()
	}
	c.conns = make(map[string]*connection)
	queued := c.queue.Len()
	c.queue = &queue{}
	c.pending = nil
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	c.metrics.connectionsClosed(open)
	c.metrics.queued(-queued)

	c.log("Destroy").WithField("connections", open).Info("Channel destroyed")
}

func (c *Channel) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Ready returns a channel closed when the channel becomes ready.
func (c *Channel) Ready() <-chan struct{} {
	return c.readyCh
}

// IsReady reports whether discovery has become ready for this channel.
func (c *Channel) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Name returns the name used in log entries.
func (c *Channel) Name() string {
	return c.name
}

// Connections returns the current connections sorted by address.
func (c *Channel) Connections() []ConnectionInfo {
	c.mu.Lock()
	infos := make([]ConnectionInfo, 0, len(c.conns))
	for _, conn := range c.conns {
		infos = append(infos, ConnectionInfo{
			Addr:      conn.addr,
			Connected: conn.connected,
			LastSeen:  conn.lastSeen,
		})
	}
	c.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Addr < infos[j].Addr })
	return infos
}

// IsBlacklisted reports whether addr failed decryption before.
func (c *Channel) IsBlacklisted(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isBlacklistedLocked(addr)
}

func (c *Channel) isBlacklistedLocked(addr string) bool {
	_, ok := c.blacklist[addr]
	return ok
}

// QueueLen returns the number of messages held for replay.
func (c *Channel) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}
