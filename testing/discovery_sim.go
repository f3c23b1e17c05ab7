package testing

import (
	"sync"

	"github.com/opd-ai/peerlink/crypto"
	"github.com/opd-ai/peerlink/dht"
	"github.com/sirupsen/logrus"
)

// AnnounceRecord is one Announce call seen by a simulated discovery.
type AnnounceRecord struct {
	Topic crypto.TopicID
	Port  uint16
}

type pendingLookup struct {
	topic crypto.TopicID
	done  func([]string)
}

type peerSub struct {
	topic crypto.TopicID
	fn    func(string)
}

// Discovery is a scripted dht.Discovery.
type Discovery struct {
	mu          sync.Mutex
	ready       bool
	onReady     []func()
	next        int
	announceFns map[int]func(dht.Announcement)
	peerFns     map[int]peerSub
	announces   []AnnounceRecord
	lookups     []pendingLookup
	lookupCount int
	known       map[crypto.TopicID][]string
}

var _ dht.Discovery = (*Discovery)(nil)

// NewDiscovery creates a simulated discovery that is not yet ready.
func NewDiscovery() *Discovery {
	return &Discovery{
		announceFns: make(map[int]func(dht.Announcement)),
		peerFns:     make(map[int]peerSub),
		known:       make(map[crypto.TopicID][]string),
	}
}

// SetKnown makes every later Lookup of topic emit addrs to the topic's
// peer subscribers before it returns, the way a discovery with a warm cache
// does.
func (d *Discovery) SetKnown(topic crypto.TopicID, addrs ...string) {
	d.mu.Lock()
	d.known[topic] = append([]string(nil), addrs...)
	d.mu.Unlock()
}

// SetReady marks the discovery ready and runs the registered callbacks.
func (d *Discovery) SetReady() {
	d.mu.Lock()
	if d.ready {
		d.mu.Unlock()
		return
	}
	d.ready = true
	callbacks := d.onReady
	d.onReady = nil
	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Discovery.SetReady",
		"callbacks": len(callbacks),
	}).Debug("Simulated discovery ready")

	for _, fn := range callbacks {
		fn()
	}
}

// Ready implements dht.Discovery.
func (d *Discovery) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// OnReady implements dht.Discovery.
func (d *Discovery) OnReady(fn func()) {
	d.mu.Lock()
	if !d.ready {
		d.onReady = append(d.onReady, fn)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	fn()
}

// Announce records the call.
func (d *Discovery) Announce(topic crypto.TopicID, port uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.announces = append(d.announces, AnnounceRecord{Topic: topic, Port: port})
	return nil
}

// Lookup records the call and emits any addresses set with SetKnown. It
// completes when the test calls CompleteLookups.
func (d *Discovery) Lookup(topic crypto.TopicID, done func([]string)) {
	d.mu.Lock()
	d.lookupCount++
	d.lookups = append(d.lookups, pendingLookup{topic: topic, done: done})
	known := d.known[topic]
	d.mu.Unlock()

	for _, addr := range known {
		d.EmitPeer(topic, addr)
	}
}

// OnAnnounce implements dht.Discovery.
func (d *Discovery) OnAnnounce(fn func(dht.Announcement)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.next
	d.next++
	d.announceFns[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.announceFns, id)
		d.mu.Unlock()
	}
}

// OnPeer implements dht.Discovery.
func (d *Discovery) OnPeer(topic crypto.TopicID, fn func(string)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.next
	d.next++
	d.peerFns[id] = peerSub{topic: topic, fn: fn}
	return func() {
		d.mu.Lock()
		delete(d.peerFns, id)
		d.mu.Unlock()
	}
}

// EmitAnnounce delivers ann to every announce subscriber.
func (d *Discovery) EmitAnnounce(ann dht.Announcement) {
	d.mu.Lock()
	fns := make([]func(dht.Announcement), 0, len(d.announceFns))
	for _, fn := range d.announceFns {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(ann)
	}
}

// EmitPeer delivers addr to every subscriber of topic.
func (d *Discovery) EmitPeer(topic crypto.TopicID, addr string) {
	d.mu.Lock()
	var fns []func(string)
	for _, sub := range d.peerFns {
		if sub.topic == topic {
			fns = append(fns, sub.fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(addr)
	}
}

// CompleteLookups finishes every pending lookup with addrs and returns how
// many were completed.
func (d *Discovery) CompleteLookups(addrs ...string) int {
	d.mu.Lock()
	pending := d.lookups
	d.lookups = nil
	d.mu.Unlock()

	for _, l := range pending {
		l.done(addrs)
	}
	return len(pending)
}

// Announces returns every Announce call so far.
func (d *Discovery) Announces() []AnnounceRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]AnnounceRecord(nil), d.announces...)
}

// LookupCount returns the number of Lookup calls so far.
func (d *Discovery) LookupCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookupCount
}

// PendingLookups returns the topics of lookups not yet completed.
func (d *Discovery) PendingLookups() []crypto.TopicID {
	d.mu.Lock()
	defer d.mu.Unlock()
	topics := make([]crypto.TopicID, 0, len(d.lookups))
	for _, l := range d.lookups {
		topics = append(topics, l.topic)
	}
	return topics
}

// Subscribers returns the number of live announce and peer subscriptions.
func (d *Discovery) Subscribers() (announce, peer int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.announceFns), len(d.peerFns)
}
