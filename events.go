package peerlink

import (
	"fmt"
	"sync"
)

// DataCallback receives decrypted application payloads.
type DataCallback func(payload []byte)

// WarnCallback receives non-fatal problems such as a blacklisted address.
type WarnCallback func(w Warning)

// ConnectedCallback fires the first time a payload from addr decrypts.
type ConnectedCallback func(addr string)

// Warning describes an inbound payload the channel rejected.
type Warning struct {
	Addr    string
	Message string
	// Payload is the raw bytes that failed to decrypt.
	Payload []byte
	Err     error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s (%d bytes from %s)", w.Message, len(w.Payload), w.Addr)
}

type callbacks struct {
	mu          sync.RWMutex
	onData      DataCallback
	onWarn      WarnCallback
	onConnected ConnectedCallback
}

func (cb *callbacks) data(payload []byte) {
	cb.mu.RLock()
	fn := cb.onData
	cb.mu.RUnlock()
	if fn != nil {
		fn(payload)
	}
}

func (cb *callbacks) warn(w Warning) {
	cb.mu.RLock()
	fn := cb.onWarn
	cb.mu.RUnlock()
	if fn != nil {
		fn(w)
	}
}

func (cb *callbacks) connected(addr string) {
	cb.mu.RLock()
	fn := cb.onConnected
	cb.mu.RUnlock()
	if fn != nil {
		fn(addr)
	}
}

// OnData sets the callback for decrypted application payloads. Heartbeats
// are never delivered.
func (c *Channel) OnData(callback DataCallback) {
	c.events.mu.Lock()
	c.events.onData = callback
	c.events.mu.Unlock()
}

// OnWarn sets the callback for rejected inbound payloads.
func (c *Channel) OnWarn(callback WarnCallback) {
	c.events.mu.Lock()
	c.events.onWarn = callback
	c.events.mu.Unlock()
}

// OnConnected sets the callback fired on the first successful decryption
// from each address.
func (c *Channel) OnConnected(callback ConnectedCallback) {
	c.events.mu.Lock()
	c.events.onConnected = callback
	c.events.mu.Unlock()
}
