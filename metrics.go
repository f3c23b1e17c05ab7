package peerlink

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMetricsNamespace prefixes every metric name when no namespace is
// given.
const DefaultMetricsNamespace = "peerlink"

// Metrics records channel activity as Prometheus metrics. Several channels
// may share one Metrics. A nil *Metrics records nothing.
//
//	peerlink_connections_opened_total
//	peerlink_connections_open
//	peerlink_blacklisted_total
//	peerlink_decryption_errors_total
//	peerlink_messages_sent_total{kind="data|replay|heartbeat"}
//	peerlink_messages_received_total{kind="data|heartbeat"}
//	peerlink_send_errors_total
//	peerlink_queued_messages
type Metrics struct {
	connectionsOpened prometheus.Counter
	connectionsOpen   prometheus.Gauge
	blacklisted       prometheus.Counter
	decryptionErrors  prometheus.Counter
	messagesSent      *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	sendErrors        prometheus.Counter
	queuedMessages    prometheus.Gauge
}

const (
	kindData      = "data"
	kindReplay    = "replay"
	kindHeartbeat = "heartbeat"
)

// NewMetrics creates channel metrics under namespace and registers them
// with registerer. An empty namespace uses DefaultMetricsNamespace; a nil
// registerer leaves the metrics unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}

	m := &Metrics{
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Total number of connections opened to discovered addresses",
		}),
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Current number of connections held by channels",
		}),
		blacklisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blacklisted_total",
			Help:      "Total number of addresses blacklisted",
		}),
		decryptionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decryption_errors_total",
			Help:      "Total number of inbound payloads that failed to decrypt",
		}),
		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of sealed payloads handed to a client",
			},
			[]string{"kind"},
		),
		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of payloads decrypted",
			},
			[]string{"kind"},
		),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Total number of client sends that failed",
		}),
		queuedMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_messages",
			Help:      "Current number of messages held for replay",
		}),
	}

	if registerer != nil {
		collectors := []prometheus.Collector{
			m.connectionsOpened,
			m.connectionsOpen,
			m.blacklisted,
			m.decryptionErrors,
			m.messagesSent,
			m.messagesReceived,
			m.sendErrors,
			m.queuedMessages,
		}
		for _, c := range collectors {
			if err := registerer.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connectionsOpened.Inc()
	m.connectionsOpen.Inc()
}

func (m *Metrics) connectionsClosed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.connectionsOpen.Sub(float64(n))
}

func (m *Metrics) addressBlacklisted() {
	if m == nil {
		return
	}
	m.decryptionErrors.Inc()
	m.blacklisted.Inc()
}

func (m *Metrics) sent(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.messagesSent.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) received(kind string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) sendFailed() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}

func (m *Metrics) queued(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.queuedMessages.Add(float64(delta))
}
