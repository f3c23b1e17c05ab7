package peerlink

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsNamespace(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewMetrics("", registry)
	require.NoError(t, err)
	m.connectionOpened()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["peerlink_connections_opened_total"])
	assert.True(t, names["peerlink_connections_open"])

	_, err = NewMetrics("", registry)
	assert.Error(t, err, "registering twice must fail")

	_, err = NewMetrics("other", nil)
	assert.NoError(t, err)
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.connectionOpened()
		m.connectionsClosed(3)
		m.addressBlacklisted()
		m.sent(kindData, 1)
		m.received(kindHeartbeat)
		m.sendFailed()
		m.queued(2)
	})
}

func TestChannelMetrics(t *testing.T) {
	m, err := NewMetrics("test", prometheus.NewRegistry())
	require.NoError(t, err)
	h := newHarness(t, func(o *Options) { o.Metrics = m })

	require.NoError(t, h.ch.Send([]byte("one")))
	require.NoError(t, h.ch.Send([]byte("two")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queuedMessages))

	h.readyAndConnect(peerAddrA, peerAddrB)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsOpened))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsOpen))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.messagesSent.WithLabelValues(kindReplay)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesSent.WithLabelValues(kindHeartbeat)))

	require.NoError(t, h.ch.Send([]byte("three")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesSent.WithLabelValues(kindData)))

	h.client(peerAddrA).Deliver(h.sealFromRemote([]byte("hi")))
	h.client(peerAddrA).Deliver(h.sealFromRemote(HeartbeatSentinel()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues(kindData)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues(kindHeartbeat)))

	h.client(peerAddrB).Deliver([]byte("garbage garbage garbage garbage garbage garbage"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blacklisted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decryptionErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsOpen))

	h.ch.Destroy()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionsOpen))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queuedMessages))
}
