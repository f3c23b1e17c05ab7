package dht

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/opd-ai/peerlink/crypto"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultDiscoveryPort is the UDP port LAN discovery binds and broadcasts to.
	DefaultDiscoveryPort = 33446

	defaultLookupWindow = 500 * time.Millisecond
	defaultCacheSize    = 1024
	defaultCacheTTL     = 2 * time.Minute
	defaultRateLimit    = 20
	defaultRateBurst    = 40
	limiterCacheSize    = 256
)

// ErrNotStarted is returned by Announce before Start or after Close.
var ErrNotStarted = errors.New("LAN discovery not started")

// LANConfig configures LANDiscovery.
type LANConfig struct {
	// ListenAddr is the local address of the discovery socket.
	ListenAddr string

	// BroadcastAddrs receive every announce and query this node sends.
	BroadcastAddrs []string

	// LookupWindow is how long Lookup waits for replies before completing.
	LookupWindow time.Duration

	// CacheSize and CacheTTL bound the announce cache.
	CacheSize int
	CacheTTL  time.Duration

	// RateLimit and RateBurst bound packets accepted per source IP.
	RateLimit rate.Limit
	RateBurst int
}

// DefaultLANConfig returns the configuration used when none is supplied.
func DefaultLANConfig() *LANConfig {
	port := strconv.Itoa(DefaultDiscoveryPort)
	return &LANConfig{
		ListenAddr: ":" + port,
		BroadcastAddrs: []string{
			net.JoinHostPort(net.IPv4bcast.String(), port),
			net.JoinHostPort("192.168.255.255", port),
			net.JoinHostPort("10.255.255.255", port),
			net.JoinHostPort("172.31.255.255", port),
		},
		LookupWindow: defaultLookupWindow,
		CacheSize:    defaultCacheSize,
		CacheTTL:     defaultCacheTTL,
		RateLimit:    defaultRateLimit,
		RateBurst:    defaultRateBurst,
	}
}

type cacheKey struct {
	topic crypto.TopicID
	addr  string
}

type peerSub struct {
	topic crypto.TopicID
	fn    func(addr string)
}

// LANDiscovery implements Discovery over UDP broadcast on the local network.
// Every node announces (topic, port) pairs; receivers cache them and answer
// queries for topics they announced themselves.
type LANDiscovery struct {
	cfg    *LANConfig
	nodeID uuid.UUID

	mu         sync.RWMutex
	conn       net.PacketConn
	ready      bool
	closed     bool
	onReady    []func()
	announced  map[crypto.TopicID]uint16
	nextSub    uint64
	announceFn map[uint64]func(Announcement)
	peerFn     map[uint64]peerSub
	lookups    map[*time.Timer]struct{}

	cache    *expirable.LRU[cacheKey, time.Time]
	limiters *lru.Cache[string, *rate.Limiter]

	stopChan chan struct{}
	wg       sync.WaitGroup
}

var _ Discovery = (*LANDiscovery)(nil)

// NewLANDiscovery creates a LAN discovery instance. A nil cfg uses
// DefaultLANConfig.
func NewLANDiscovery(cfg *LANConfig) (*LANDiscovery, error) {
	if cfg == nil {
		cfg = DefaultLANConfig()
	}
	if cfg.LookupWindow <= 0 {
		cfg.LookupWindow = defaultLookupWindow
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}

	limiters, err := lru.New[string, *rate.Limiter](limiterCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create limiter cache: %w", err)
	}

	return &LANDiscovery{
		cfg:        cfg,
		nodeID:     uuid.New(),
		announced:  make(map[crypto.TopicID]uint16),
		announceFn: make(map[uint64]func(Announcement)),
		peerFn:     make(map[uint64]peerSub),
		lookups:    make(map[*time.Timer]struct{}),
		cache:      expirable.NewLRU[cacheKey, time.Time](cfg.CacheSize, nil, cfg.CacheTTL),
		limiters:   limiters,
		stopChan:   make(chan struct{}),
	}, nil
}

// Start binds the discovery socket, starts the receive loop and fires the
// ready callbacks.
func (ld *LANDiscovery) Start() error {
	ld.mu.Lock()
	if ld.ready {
		ld.mu.Unlock()
		return nil
	}
	if ld.closed {
		ld.mu.Unlock()
		return ErrNotStarted
	}

	conn, err := net.ListenPacket("udp4", ld.cfg.ListenAddr)
	if err != nil {
		ld.mu.Unlock()
		logrus.WithError(err).Error("Failed to create LAN discovery socket")
		return fmt.Errorf("failed to create LAN discovery socket: %w", err)
	}

	ld.conn = conn
	ld.ready = true
	callbacks := ld.onReady
	ld.onReady = nil
	ld.mu.Unlock()

	ld.wg.Add(1)
	go ld.receiveLoop(conn)

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"addr":     conn.LocalAddr().String(),
		"node":     ld.nodeID.String(),
	}).Info("LAN discovery started")

	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// LocalAddr returns the bound discovery socket address, or nil before Start.
func (ld *LANDiscovery) LocalAddr() net.Addr {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	if ld.conn == nil {
		return nil
	}
	return ld.conn.LocalAddr()
}

// Close stops discovery. Pending lookups never complete after Close.
func (ld *LANDiscovery) Close() error {
	ld.mu.Lock()
	if ld.closed {
		ld.mu.Unlock()
		return nil
	}
	ld.closed = true
	ld.ready = false
	close(ld.stopChan)
	for t := range ld.lookups {
		t.Stop()
	}
	ld.lookups = nil
	conn := ld.conn
	ld.conn = nil
	ld.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	ld.wg.Wait()

	logrus.WithField("function", "Close").Info("LAN discovery stopped")
	return err
}

// Ready reports whether Start has completed.
func (ld *LANDiscovery) Ready() bool {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	return ld.ready
}

// OnReady runs fn once discovery is started.
func (ld *LANDiscovery) OnReady(fn func()) {
	ld.mu.Lock()
	if !ld.ready {
		ld.onReady = append(ld.onReady, fn)
		ld.mu.Unlock()
		return
	}
	ld.mu.Unlock()
	fn()
}

// Announce records topic as served by this node and broadcasts it.
func (ld *LANDiscovery) Announce(topic crypto.TopicID, port uint16) error {
	ld.mu.Lock()
	if !ld.ready {
		ld.mu.Unlock()
		return ErrNotStarted
	}
	ld.announced[topic] = port
	ld.mu.Unlock()

	data, err := encodePacket(kindAnnounce, ld.nodeID[:], topic, port)
	if err != nil {
		return fmt.Errorf("encode announce: %w", err)
	}
	ld.broadcast(data)

	logrus.WithFields(logrus.Fields{
		"function": "Announce",
		"topic":    topic.String(),
		"port":     port,
	}).Debug("Sent LAN announce")
	return nil
}

// Lookup reports cached addresses for topic right away through OnPeer,
// broadcasts a query, and completes after the lookup window.
func (ld *LANDiscovery) Lookup(topic crypto.TopicID, done func(addrs []string)) {
	for _, addr := range ld.cached(topic) {
		ld.emitPeer(topic, addr)
	}

	if data, err := encodePacket(kindQuery, ld.nodeID[:], topic, 0); err == nil {
		ld.broadcast(data)
	}

	ld.mu.Lock()
	if ld.closed {
		ld.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(ld.cfg.LookupWindow, func() {
		ld.mu.Lock()
		if ld.lookups == nil {
			ld.mu.Unlock()
			return
		}
		delete(ld.lookups, timer)
		ld.mu.Unlock()

		addrs := ld.cached(topic)
		logrus.WithFields(logrus.Fields{
			"function": "Lookup",
			"topic":    topic.String(),
			"found":    len(addrs),
		}).Debug("LAN lookup complete")
		if done != nil {
			done(addrs)
		}
	})
	ld.lookups[timer] = struct{}{}
	ld.mu.Unlock()
}

// OnAnnounce subscribes to every received announce.
func (ld *LANDiscovery) OnAnnounce(fn func(Announcement)) (cancel func()) {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	id := ld.nextSub
	ld.nextSub++
	ld.announceFn[id] = fn
	return func() {
		ld.mu.Lock()
		delete(ld.announceFn, id)
		ld.mu.Unlock()
	}
}

// OnPeer subscribes to addresses found for topic.
func (ld *LANDiscovery) OnPeer(topic crypto.TopicID, fn func(addr string)) (cancel func()) {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	id := ld.nextSub
	ld.nextSub++
	ld.peerFn[id] = peerSub{topic: topic, fn: fn}
	return func() {
		ld.mu.Lock()
		delete(ld.peerFn, id)
		ld.mu.Unlock()
	}
}

func (ld *LANDiscovery) cached(topic crypto.TopicID) []string {
	var addrs []string
	for _, k := range ld.cache.Keys() {
		if k.topic == topic {
			addrs = append(addrs, k.addr)
		}
	}
	return addrs
}

// broadcast sends data to every configured broadcast address.
func (ld *LANDiscovery) broadcast(data []byte) {
	ld.mu.RLock()
	conn := ld.conn
	ld.mu.RUnlock()
	if conn == nil {
		return
	}

	for _, target := range ld.cfg.BroadcastAddrs {
		addr, err := net.ResolveUDPAddr("udp4", target)
		if err != nil {
			logrus.WithError(err).WithField("target", target).Debug("Invalid LAN discovery broadcast address")
			continue
		}
		if _, err := conn.WriteTo(data, addr); err != nil {
			logrus.WithError(err).WithField("target", target).Debug("Failed to send LAN discovery packet")
		}
	}
}

// receiveLoop listens for incoming LAN discovery packets.
func (ld *LANDiscovery) receiveLoop(conn net.PacketConn) {
	defer ld.wg.Done()

	buffer := make([]byte, maxPacketSize)
	for {
		n, addr, err := conn.ReadFrom(buffer)
		if err != nil {
			select {
			case <-ld.stopChan:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logrus.WithError(err).Debug("LAN discovery read failed")
			return
		}

		data := make([]byte, n)
		copy(data, buffer[:n])
		ld.handlePacket(data, addr)
	}
}

func (ld *LANDiscovery) allow(ip string) bool {
	limiter, ok := ld.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(ld.cfg.RateLimit, ld.cfg.RateBurst)
		ld.limiters.Add(ip, limiter)
	}
	return limiter.Allow()
}

// handlePacket processes an incoming LAN discovery packet.
func (ld *LANDiscovery) handlePacket(data []byte, addr net.Addr) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		logrus.Debug("Received LAN discovery from non-UDP address")
		return
	}

	if !ld.allow(udpAddr.IP.String()) {
		logrus.WithField("from", udpAddr.String()).Debug("Dropping rate-limited LAN discovery packet")
		return
	}

	p, err := decodePacket(data)
	if err != nil {
		logrus.WithError(err).WithField("from", udpAddr.String()).Debug("Dropping LAN discovery packet")
		return
	}

	// Our own broadcasts loop back on most networks.
	if bytes.Equal(p.Node, ld.nodeID[:]) {
		return
	}

	switch p.Kind {
	case kindAnnounce:
		ld.handleAnnounce(p, udpAddr)
	case kindQuery:
		ld.handleQuery(p, udpAddr)
	}
}

func (ld *LANDiscovery) handleAnnounce(p *packet, from *net.UDPAddr) {
	topic := p.topic()
	peerAddr := net.JoinHostPort(from.IP.String(), strconv.Itoa(int(p.Port)))
	ld.cache.Add(cacheKey{topic: topic, addr: peerAddr}, time.Now())

	logrus.WithFields(logrus.Fields{
		"function":  "handleAnnounce",
		"peer_addr": peerAddr,
		"topic":     topic.String(),
	}).Debug("Received LAN announce")

	ann := Announcement{Addr: peerAddr, Topic: topic, From: from.String()}
	ld.mu.RLock()
	fns := make([]func(Announcement), 0, len(ld.announceFn))
	for _, fn := range ld.announceFn {
		fns = append(fns, fn)
	}
	ld.mu.RUnlock()

	for _, fn := range fns {
		fn(ann)
	}
	ld.emitPeer(topic, peerAddr)
}

// handleQuery answers a query for a topic this node announced with a
// unicast announce.
func (ld *LANDiscovery) handleQuery(p *packet, from *net.UDPAddr) {
	topic := p.topic()

	ld.mu.RLock()
	port, ok := ld.announced[topic]
	conn := ld.conn
	ld.mu.RUnlock()
	if !ok || conn == nil {
		return
	}

	data, err := encodePacket(kindAnnounce, ld.nodeID[:], topic, port)
	if err != nil {
		return
	}
	if _, err := conn.WriteTo(data, from); err != nil {
		logrus.WithError(err).WithField("to", from.String()).Debug("Failed to answer LAN query")
	}
}

func (ld *LANDiscovery) emitPeer(topic crypto.TopicID, addr string) {
	ld.mu.RLock()
	var fns []func(string)
	for _, sub := range ld.peerFn {
		if sub.topic == topic {
			fns = append(fns, sub.fn)
		}
	}
	ld.mu.RUnlock()

	for _, fn := range fns {
		fn(addr)
	}
}
