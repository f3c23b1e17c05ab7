package peerlink

import (
	"bytes"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/peerlink/crypto"
	simnet "github.com/opd-ai/peerlink/testing"
	"github.com/stretchr/testify/require"
)

const (
	localAddr = "10.0.0.1:4000"
	peerAddrA = "10.0.0.2:5000"
	peerAddrB = "10.0.0.3:5000"
)

type harness struct {
	t      *testing.T
	clock  *clock.Mock
	disc   *simnet.Discovery
	socket *simnet.Socket
	local  *crypto.KeyPair
	remote *crypto.KeyPair
	cipher crypto.Cipher
	ch     *Channel
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()

	local, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	remote, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	h := &harness{
		t:      t,
		clock:  clock.NewMock(),
		disc:   simnet.NewDiscovery(),
		socket: simnet.NewSocket(localAddr),
		local:  local,
		remote: remote,
	}

	opts := NewOptions()
	opts.KeyPair = local
	opts.PublicKey = remote.Public
	opts.Socket = h.socket
	opts.Discovery = h.disc
	opts.Clock = h.clock
	for _, fn := range configure {
		fn(opts)
	}
	h.ch, err = New(opts)
	require.NoError(t, err)
	h.cipher = h.ch.cipher
	t.Cleanup(h.ch.Destroy)
	return h
}

// readyAndConnect makes the channel ready and feeds addrs through the
// lookup feed.
func (h *harness) readyAndConnect(addrs ...string) {
	h.disc.SetReady()
	for _, addr := range addrs {
		h.disc.EmitPeer(h.ch.selfTopic, addr)
	}
}

func (h *harness) client(addr string) *simnet.Client {
	h.t.Helper()
	c := h.socket.ClientFor(addr)
	require.NotNil(h.t, c, "no client for %s", addr)
	return c
}

// sealFromRemote produces what the remote party would send.
func (h *harness) sealFromRemote(msg []byte) []byte {
	h.t.Helper()
	sealed, err := h.cipher.Seal(msg, h.local.Public, h.remote)
	require.NoError(h.t, err)
	return sealed
}

// received decrypts everything sent to addr as the remote party would.
func (h *harness) received(addr string) (msgs []string, heartbeats int) {
	h.t.Helper()
	for _, sealed := range h.client(addr).Sent() {
		plain, err := h.cipher.Open(sealed, h.local.Public, h.remote)
		require.NoError(h.t, err)
		if bytes.Equal(plain, HeartbeatSentinel()) {
			heartbeats++
			continue
		}
		msgs = append(msgs, string(plain))
	}
	return msgs, heartbeats
}

// heartbeats counts heartbeats sent to addr. It is safe to call from
// Eventually conditions.
func (h *harness) heartbeats(addr string) int {
	c := h.socket.ClientFor(addr)
	if c == nil {
		return 0
	}
	n := 0
	for _, sealed := range c.Sent() {
		plain, err := h.cipher.Open(sealed, h.local.Public, h.remote)
		if err == nil && bytes.Equal(plain, HeartbeatSentinel()) {
			n++
		}
	}
	return n
}

// advanceUntil moves the mock clock forward in steps until cond holds.
// Timer callbacks run on their own goroutines, so each step waits briefly.
func (h *harness) advanceUntil(step time.Duration, cond func() bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		if cond() {
			return true
		}
		h.clock.Add(step)
		return cond()
	}, 2*time.Second, 5*time.Millisecond)
}
