package dht

import (
	"github.com/opd-ai/peerlink/crypto"
)

// Announcement is a received "reachable for topic at address" broadcast.
type Announcement struct {
	// Addr is the announced host:port, built from the sender's IP and the
	// port carried in the announce.
	Addr string

	// Topic is the topic the sender announced under.
	Topic crypto.TopicID

	// From is the network address the announce arrived from.
	From string
}

// Discovery is the eventually-consistent rendezvous service channels use to
// find each other. Results may be duplicated or stale; consumers must
// de-duplicate.
//
// Callbacks may run on any goroutine and must not block.
type Discovery interface {
	// Ready reports whether the service can announce and look up.
	Ready() bool

	// OnReady registers fn to run once the service is ready. If the service
	// is already ready, fn runs immediately.
	OnReady(fn func())

	// Announce declares that this node is reachable for topic at port.
	Announce(topic crypto.TopicID, port uint16) error

	// Lookup queries addresses announced under topic. done is called
	// exactly once, possibly with no addresses, unless the service shuts
	// down first.
	Lookup(topic crypto.TopicID, done func(addrs []string))

	// OnAnnounce subscribes to every announce the service hears.
	OnAnnounce(fn func(Announcement)) (cancel func())

	// OnPeer subscribes to addresses found for topic, whether by lookup or
	// by a matching announce.
	OnPeer(topic crypto.TopicID, fn func(addr string)) (cancel func())
}
