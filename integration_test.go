package peerlink

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/peerlink/crypto"
	"github.com/opd-ai/peerlink/dht"
	simnet "github.com/opd-ai/peerlink/testing"
	"github.com/opd-ai/peerlink/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu   sync.Mutex
	msgs []string
}

func (in *inbox) add(p []byte) {
	in.mu.Lock()
	in.msgs = append(in.msgs, string(p))
	in.mu.Unlock()
}

func (in *inbox) snapshot() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.msgs...)
}

func newPeerChannel(t *testing.T, local, remote *crypto.KeyPair, socket transport.Socket, disc dht.Discovery, clk clock.Clock) *Channel {
	t.Helper()
	opts := NewOptions()
	opts.KeyPair = local
	opts.PublicKey = remote.Public
	opts.Socket = socket
	opts.Discovery = disc
	if clk != nil {
		opts.Clock = clk
	}
	ch, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(ch.Destroy)
	return ch
}

func TestTwoChannelsOverSimulatedNetwork(t *testing.T) {
	ka, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	kb, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	netw := simnet.NewNetwork()
	sockA := netw.NewSocket("10.0.0.1:4000")
	sockB := netw.NewSocket("10.0.0.2:4000")
	discA, discB := simnet.NewDiscovery(), simnet.NewDiscovery()
	discA.SetReady()
	discB.SetReady()

	clk := clock.NewMock()
	a := newPeerChannel(t, ka, kb, sockA, discA, clk)
	b := newPeerChannel(t, kb, ka, sockB, discB, clk)

	var gotA, gotB inbox
	a.OnData(gotA.add)
	b.OnData(gotB.add)
	var connectedB []string
	b.OnConnected(func(addr string) { connectedB = append(connectedB, addr) })

	require.NoError(t, a.Send([]byte("hello")))
	require.NoError(t, a.Send([]byte("are you there?")))

	// A's lookup finds B; B has no client for A yet, so the replay waits in
	// B's socket until B connects back.
	discA.EmitPeer(crypto.TopicOf(ka.Public), "10.0.0.2:4000")
	assert.Empty(t, gotB.snapshot())

	discB.EmitPeer(crypto.TopicOf(kb.Public), "10.0.0.1:4000")
	assert.Equal(t, []string{"hello", "are you there?"}, gotB.snapshot())
	assert.Equal(t, []string{"10.0.0.1:4000"}, connectedB)

	require.NoError(t, b.Send([]byte("yes")))
	assert.Equal(t, []string{"yes"}, gotA.snapshot())

	for _, ch := range []*Channel{a, b} {
		conns := ch.Connections()
		require.Len(t, conns, 1)
		assert.True(t, conns[0].Connected)
	}

	// 2 heartbeats + 2 replayed + 1 reply.
	assert.Len(t, netw.DeliveryLog(), 5)
}

func TestImpostorIsBlacklisted(t *testing.T) {
	ka, _ := crypto.GenerateKeyPair()
	kb, _ := crypto.GenerateKeyPair()
	kEvil, _ := crypto.GenerateKeyPair()

	netw := simnet.NewNetwork()
	sockA := netw.NewSocket("10.0.0.1:4000")
	sockEvil := netw.NewSocket("10.0.0.66:4000")
	discA, discEvil := simnet.NewDiscovery(), simnet.NewDiscovery()
	discA.SetReady()
	discEvil.SetReady()

	clk := clock.NewMock()
	a := newPeerChannel(t, ka, kb, sockA, discA, clk)
	// The impostor knows A's public key but not B's private key.
	evil := newPeerChannel(t, kEvil, ka, sockEvil, discEvil, clk)

	var warnings []Warning
	a.OnWarn(func(w Warning) { warnings = append(warnings, w) })

	discA.EmitPeer(crypto.TopicOf(ka.Public), "10.0.0.66:4000")
	discEvil.EmitPeer(crypto.TopicOf(kEvil.Public), "10.0.0.1:4000")

	require.Len(t, warnings, 1)
	assert.Equal(t, "10.0.0.66:4000", warnings[0].Addr)
	assert.True(t, a.IsBlacklisted("10.0.0.66:4000"))
	assert.Empty(t, a.Connections())
	assert.NotNil(t, evil)
}

func TestTwoChannelsOverLAN(t *testing.T) {
	if testing.Short() {
		t.Skip("uses loopback sockets")
	}

	ka, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	kb, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	newLAN := func() (*dht.LANDiscovery, *dht.LANConfig) {
		cfg := dht.DefaultLANConfig()
		cfg.ListenAddr = "127.0.0.1:0"
		cfg.BroadcastAddrs = nil
		cfg.LookupWindow = 50 * time.Millisecond
		d, err := dht.NewLANDiscovery(cfg)
		require.NoError(t, err)
		require.NoError(t, d.Start())
		t.Cleanup(func() { _ = d.Close() })
		return d, cfg
	}
	discA, cfgA := newLAN()
	discB, cfgB := newLAN()
	cfgA.BroadcastAddrs = []string{discB.LocalAddr().String()}
	cfgB.BroadcastAddrs = []string{discA.LocalAddr().String()}

	newSocket := func() *transport.UDPSocket {
		s, err := transport.NewUDPSocket("127.0.0.1:0")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	sockA, sockB := newSocket(), newSocket()

	a := newPeerChannel(t, ka, kb, sockA, discA, nil)
	b := newPeerChannel(t, kb, ka, sockB, discB, nil)

	var gotA, gotB inbox
	a.OnData(gotA.add)
	b.OnData(gotB.add)

	require.NoError(t, a.Send([]byte("ping")))

	require.Eventually(t, func() bool {
		msgs := gotB.snapshot()
		return len(msgs) > 0 && msgs[0] == "ping"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, b.Send([]byte("pong")))
	require.Eventually(t, func() bool {
		for _, msg := range gotA.snapshot() {
			if msg == "pong" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}
