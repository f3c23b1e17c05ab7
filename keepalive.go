package peerlink

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/peerlink/transport"
)

// connection is one transport client to a discovered address.
type connection struct {
	addr   string
	client transport.Client

	// sendMu orders writes to client. Lock order: Channel.mu, then sendMu.
	sendMu sync.Mutex

	// Guarded by Channel.mu.
	connected bool
	lastSeen  time.Time
	keepAlive *clock.Timer
}

func (conn *connection) stopKeepAlive() {
	if conn.keepAlive != nil {
		conn.keepAlive.Stop()
		conn.keepAlive = nil
	}
}

// removeLocked drops conn from the table if it is still the current
// connection for its address. It reports whether anything was removed.
func (c *Channel) removeLocked(conn *connection) bool {
	if c.conns[conn.addr] != conn {
		return false
	}
	delete(c.conns, conn.addr)
	conn.stopKeepAlive()
	return true
}

func (c *Channel) armKeepAlive(conn *connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || c.conns[conn.addr] != conn {
		return
	}
	conn.keepAlive = c.clock.AfterFunc(c.keepAliveInterval, func() {
		c.keepAliveTick(conn)
	})
}

// keepAliveTick sends one heartbeat and rearms. A tick for a connection that
// has since been removed does nothing.
func (c *Channel) keepAliveTick(conn *connection) {
	c.mu.Lock()
	current := !c.destroyed && c.conns[conn.addr] == conn
	c.mu.Unlock()
	if !current {
		return
	}

	conn.sendMu.Lock()
	err := c.write(conn, heartbeat[:])
	conn.sendMu.Unlock()

	logger := c.log("keepAliveTick").WithField("addr", conn.addr)
	if err != nil {
		logger.WithError(err).Debug("Heartbeat failed")
	} else {
		c.metrics.sent(kindHeartbeat, 1)
		logger.Debug("Sent heartbeat")
	}

	c.armKeepAlive(conn)
}
