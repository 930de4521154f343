package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors shared by all drivers, labelled by
// transport kind. A nil *Metrics is valid and records nothing.
type Metrics struct {
	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	FrameErrors     *prometheus.CounterVec
	DecodeErrors    *prometheus.CounterVec
	ConnectAttempts *prometheus.CounterVec
	AuthFailures    *prometheus.CounterVec
	Connected       *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aprslink",
			Subsystem: "transport",
			Name:      name,
			Help:      help,
		}, []string{"transport"})
	}
	m := &Metrics{
		PacketsSent:     counter("packets_sent_total", "Packets written to the transport"),
		PacketsReceived: counter("packets_received_total", "Frames read from the transport"),
		FrameErrors:     counter("frame_errors_total", "Malformed frames discarded"),
		DecodeErrors:    counter("decode_errors_total", "Frames the packet factory could not decode"),
		ConnectAttempts: counter("connect_attempts_total", "Connect handshakes attempted"),
		AuthFailures:    counter("auth_failures_total", "Logins rejected by the server"),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aprslink",
			Subsystem: "transport",
			Name:      "connected",
			Help:      "Connection status (0=down, 1=connected)",
		}, []string{"transport"}),
	}
	if reg != nil {
		reg.MustRegister(m.PacketsSent, m.PacketsReceived, m.FrameErrors, m.DecodeErrors,
			m.ConnectAttempts, m.AuthFailures, m.Connected)
	}
	return m
}

func (m *Metrics) inc(pick func(*Metrics) *prometheus.CounterVec, k Kind) {
	if m == nil {
		return
	}
	pick(m).WithLabelValues(k.String()).Inc()
}

func (m *Metrics) Sent(k Kind) {
	m.inc(func(m *Metrics) *prometheus.CounterVec { return m.PacketsSent }, k)
}

func (m *Metrics) Received(k Kind) {
	m.inc(func(m *Metrics) *prometheus.CounterVec { return m.PacketsReceived }, k)
}

func (m *Metrics) FrameError(k Kind) {
	m.inc(func(m *Metrics) *prometheus.CounterVec { return m.FrameErrors }, k)
}

func (m *Metrics) DecodeError(k Kind) {
	m.inc(func(m *Metrics) *prometheus.CounterVec { return m.DecodeErrors }, k)
}

func (m *Metrics) ConnectAttempt(k Kind) {
	m.inc(func(m *Metrics) *prometheus.CounterVec { return m.ConnectAttempts }, k)
}

func (m *Metrics) AuthFailure(k Kind) {
	m.inc(func(m *Metrics) *prometheus.CounterVec { return m.AuthFailures }, k)
}

// SetConnected records the connection gauge.
func (m *Metrics) SetConnected(k Kind, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.Connected.WithLabelValues(k.String()).Set(v)
}
