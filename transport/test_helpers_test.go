package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder collects payloads delivered to a client handler.
type recorder struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (r *recorder) handle(data []byte) {
	r.mu.Lock()
	r.msgs = append(r.msgs, data)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) all() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.msgs...)
}

func (r *recorder) waitFor(t *testing.T, n int) [][]byte {
	t.Helper()
	require.Eventually(t, func() bool { return r.count() >= n }, 5*time.Second, 10*time.Millisecond)
	return r.all()
}

func portOf(t *testing.T, s Socket) int {
	t.Helper()
	addr, ok := s.LocalAddr().(*net.UDPAddr)
	require.True(t, ok, "expected UDP local address, got %T", s.LocalAddr())
	return addr.Port
}

// connectPair creates a client on each socket pointing at the other.
func connectPair(t *testing.T, a, b Socket) (ab, ba Client) {
	t.Helper()
	var err error
	ab, err = a.Client("127.0.0.1", portOf(t, b))
	require.NoError(t, err)
	ba, err = b.Client("127.0.0.1", portOf(t, a))
	require.NoError(t, err)
	return ab, ba
}
