package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/peerlink"
	"github.com/opd-ai/peerlink/config"
	"github.com/opd-ai/peerlink/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	remote, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.PeerKey = remote.PublicKeyHex()
	cfg.Listen = "127.0.0.1:0"
	cfg.Discovery.Listen = "127.0.0.1:0"
	cfg.Discovery.Broadcast = []string{"127.0.0.1:9"}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestParseCLIFlags(t *testing.T) {
	fs := flag.NewFlagSet("peerlink", flag.ContinueOnError)
	cli, err := parseCLIFlags(fs, []string{
		"-peer", "abcd",
		"-listen", ":4000",
		"-transport", "quic",
		"-my-ip", "10.0.0.1",
		"-name", "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, "abcd", cli.peer)
	assert.Equal(t, ":4000", cli.listen)
	assert.Equal(t, "quic", cli.transport)
	assert.Equal(t, "10.0.0.1", cli.myIP)
	assert.Equal(t, "bob", cli.name)

	fs = flag.NewFlagSet("peerlink", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err = parseCLIFlags(fs, []string{"-bogus"})
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Name = "from-file"
	applyFlags(cfg, &CLIConfig{listen: ":5000", logLevel: "debug"})

	assert.Equal(t, ":5000", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "from-file", cfg.Name, "unset flags keep configured values")
	assert.Equal(t, "udp", cfg.Transport)
}

func TestNewSocket(t *testing.T) {
	cfg := testConfig(t)

	for _, kind := range []string{"udp", "quic"} {
		t.Run(kind, func(t *testing.T) {
			cfg.Transport = kind
			s, err := newSocket(cfg)
			require.NoError(t, err)
			assert.NotNil(t, s.LocalAddr())
			assert.NoError(t, s.Close())
		})
	}

	cfg.Transport = "carrier-pigeon"
	_, err := newSocket(cfg)
	assert.Error(t, err)
}

func TestBuildNodeRequiresPeer(t *testing.T) {
	cfg := testConfig(t)
	cfg.PeerKey = ""
	_, err := buildNode(cfg)
	assert.ErrorIs(t, err, config.ErrMissingPeerKey)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunQueuesInput(t *testing.T) {
	n, err := buildNode(testConfig(t))
	require.NoError(t, err)
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var out lockedBuffer
	done := make(chan error, 1)
	go func() {
		done <- n.run(ctx, strings.NewReader("hello\n\nworld\n"), &out)
	}()

	require.Eventually(t, func() bool {
		return n.channel.QueueLen() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "* listening on")
	assert.Contains(t, out.String(), n.keyPair.PublicKeyHex())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsAddr = "127.0.0.1:0"

	n, err := buildNode(cfg)
	require.NoError(t, err)
	defer n.Close()
	require.NotNil(t, n.metrics)

	require.NoError(t, n.channel.Send([]byte("queued")))

	rec := httptest.NewRecorder()
	n.metrics.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "peerlink_queued_messages 1")
}

func TestCloseWipesKey(t *testing.T) {
	n, err := buildNode(testConfig(t))
	require.NoError(t, err)

	require.NoError(t, n.Close())
	assert.True(t, crypto.IsZeroKey(n.keyPair.Private))
	assert.ErrorIs(t, n.channel.Send([]byte("late")), peerlink.ErrDestroyed)
}
