package transport

import (
	"testing"
	"time"

	"github.com/opd-ai/peerlink/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUDPSocket(t *testing.T) *UDPSocket {
	t.Helper()
	s, err := NewUDPSocket("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUDPSocketExchange(t *testing.T) {
	a := newTestUDPSocket(t)
	b := newTestUDPSocket(t)
	ab, ba := connectPair(t, a, b)

	recB := &recorder{}
	ba.OnData(recB.handle)
	recA := &recorder{}
	ab.OnData(recA.handle)

	require.NoError(t, ab.Send([]byte("ping")))
	assert.Equal(t, [][]byte{[]byte("ping")}, recB.waitFor(t, 1))

	require.NoError(t, ba.Send([]byte("pong")))
	assert.Equal(t, [][]byte{[]byte("pong")}, recA.waitFor(t, 1))
}

func TestUDPSocketClientSharing(t *testing.T) {
	a := newTestUDPSocket(t)

	c1, err := a.Client("127.0.0.1", 4000)
	require.NoError(t, err)
	c2, err := a.Client("127.0.0.1", 4000)
	require.NoError(t, err)
	assert.Same(t, c1.(*view).sender, c2.(*view).sender)
	assert.Equal(t, "127.0.0.1:4000", c1.RemoteAddr())

	c3, err := a.Client("127.0.0.1", 4001)
	require.NoError(t, err)
	assert.NotSame(t, c1.(*view).sender, c3.(*view).sender)
}

func TestUDPSocketSharedAddressKeepsEveryHandler(t *testing.T) {
	a := newTestUDPSocket(t)
	b := newTestUDPSocket(t)

	first, err := b.Client("127.0.0.1", portOf(t, a))
	require.NoError(t, err)
	second, err := b.Client("127.0.0.1", portOf(t, a))
	require.NoError(t, err)

	recFirst, recSecond := &recorder{}, &recorder{}
	first.OnData(recFirst.handle)
	second.OnData(recSecond.handle)

	ab, err := a.Client("127.0.0.1", portOf(t, b))
	require.NoError(t, err)
	require.NoError(t, ab.Send([]byte("to both")))

	assert.Equal(t, [][]byte{[]byte("to both")}, recFirst.waitFor(t, 1))
	assert.Equal(t, [][]byte{[]byte("to both")}, recSecond.waitFor(t, 1))
}

func TestUDPSocketDataBeforeClient(t *testing.T) {
	a := newTestUDPSocket(t)
	b := newTestUDPSocket(t)

	ab, err := a.Client("127.0.0.1", portOf(t, b))
	require.NoError(t, err)
	require.NoError(t, ab.Send([]byte("early")))

	// Give the datagram time to land in b's unclaimed inbox.
	require.Eventually(t, func() bool { return b.router.unclaimed.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	ba, err := b.Client("127.0.0.1", portOf(t, a))
	require.NoError(t, err)
	rec := &recorder{}
	ba.OnData(rec.handle)

	assert.Equal(t, [][]byte{[]byte("early")}, rec.waitFor(t, 1))
}

func TestUDPSocketSendLimits(t *testing.T) {
	a := newTestUDPSocket(t)
	c, err := a.Client("127.0.0.1", 4000)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Send(nil), limits.ErrMessageEmpty)
	assert.ErrorIs(t, c.Send(make([]byte, limits.MaxDatagram+1)), limits.ErrMessageTooLarge)
}

func TestUDPSocketClosed(t *testing.T) {
	a, err := NewUDPSocket("127.0.0.1:0")
	require.NoError(t, err)
	c, err := a.Client("127.0.0.1", 4000)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.ErrorIs(t, c.Send([]byte("x")), ErrSocketClosed)
	_, err = a.Client("127.0.0.1", 4001)
	assert.ErrorIs(t, err, ErrSocketClosed)
}

func TestUDPSocketResolveError(t *testing.T) {
	a := newTestUDPSocket(t)
	_, err := a.Client("127.0.0.1", 70000)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "resolve", te.Op)
	assert.Equal(t, "127.0.0.1:70000", te.Addr)
}
