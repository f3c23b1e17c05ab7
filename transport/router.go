package transport

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

const (
	// backlogLimit bounds payloads held for an address with no handler yet.
	backlogLimit = 64

	// unclaimedLimit and unclaimedTTL bound addresses that sent data before
	// any local client was created for them.
	unclaimedLimit = 256
	unclaimedTTL   = 30 * time.Second
)

// inbox delivers payloads for one remote address in arrival order to every
// registered handler, holding them until the first handler is set.
type inbox struct {
	deliverMu sync.Mutex
	mu        sync.Mutex
	nextSlot  int
	order     []int
	handlers  map[int]DataHandler
	backlog   [][]byte
}

// newSlot reserves a handler slot for one caller of Socket.Client.
func (b *inbox) newSlot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSlot++
	return b.nextSlot
}

// setHandler sets or, with a nil h, clears the handler in slot. Any backlog
// goes to the handler that ends the wait.
func (b *inbox) setHandler(slot int, h DataHandler) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if h == nil {
		if _, ok := b.handlers[slot]; ok {
			delete(b.handlers, slot)
			for i, s := range b.order {
				if s == slot {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		}
		b.mu.Unlock()
		return
	}
	if b.handlers == nil {
		b.handlers = make(map[int]DataHandler)
	}
	if _, ok := b.handlers[slot]; !ok {
		b.order = append(b.order, slot)
	}
	b.handlers[slot] = h
	backlog := b.backlog
	b.backlog = nil
	b.mu.Unlock()

	for _, data := range backlog {
		h(data)
	}
}

// deliver hands data to every handler in registration order. Handlers share
// the slice and must not modify it.
func (b *inbox) deliver(data []byte) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if len(b.order) == 0 {
		if len(b.backlog) < backlogLimit {
			b.backlog = append(b.backlog, data)
		}
		b.mu.Unlock()
		return
	}
	hs := make([]DataHandler, 0, len(b.order))
	for _, slot := range b.order {
		hs = append(hs, b.handlers[slot])
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
}

// sender is the outbound half shared by every view of one remote address.
type sender interface {
	Send(data []byte) error
	RemoteAddr() string
}

// view is one caller's Client for a remote address. Views of the same
// address share the sender and each gets every inbound payload.
type view struct {
	sender
	inbox *inbox
	slot  int
}

func newView(s sender, b *inbox) *view {
	return &view{sender: s, inbox: b, slot: b.newSlot()}
}

// OnData sets this view's handler without touching other views.
func (v *view) OnData(handler DataHandler) {
	v.inbox.setHandler(v.slot, handler)
}

// router maps remote addresses to inboxes. Addresses without a local client
// get a short-lived inbox so a client created shortly after still sees what
// the remote sent first.
type router struct {
	mu        sync.Mutex
	claimed   map[string]*inbox
	unclaimed *expirable.LRU[string, *inbox]
}

func newRouter() *router {
	return &router{
		claimed:   make(map[string]*inbox),
		unclaimed: expirable.NewLRU[string, *inbox](unclaimedLimit, nil, unclaimedTTL),
	}
}

// claim returns the inbox for addr, adopting any unclaimed backlog.
func (r *router) claim(addr string) *inbox {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.claimed[addr]; ok {
		return b
	}
	b, ok := r.unclaimed.Get(addr)
	if ok {
		r.unclaimed.Remove(addr)
	} else {
		b = &inbox{}
	}
	r.claimed[addr] = b
	return b
}

// route hands data from addr to its inbox.
func (r *router) route(addr string, data []byte) {
	r.mu.Lock()
	b, ok := r.claimed[addr]
	if !ok {
		b, ok = r.unclaimed.Get(addr)
		if !ok {
			b = &inbox{}
			r.unclaimed.Add(addr, b)
			logrus.WithFields(logrus.Fields{
				"function": "route",
				"from":     addr,
			}).Debug("Holding data from address without a client")
		}
	}
	r.mu.Unlock()

	b.deliver(data)
}
