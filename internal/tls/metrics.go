package tls

import (
	"crypto/x509"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Handshake result label values.
const (
	HandshakeResultSuccess = "success"
	HandshakeResultFailure = "failure"
)

// Metrics holds Prometheus metrics for TLS operations.
type Metrics struct {
	handshakesTotal   *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec
	handshakeErrors   *prometheus.CounterVec
	connectionsTotal  *prometheus.CounterVec
	certificateExpiry *prometheus.GaugeVec

	registry *prometheus.Registry
}

// MetricsOption is a functional option for configuring Metrics.
type MetricsOption func(*Metrics)

// WithRegistry sets a custom Prometheus registry.
func WithRegistry(registry *prometheus.Registry) MetricsOption {
	return func(m *Metrics) {
		m.registry = registry
	}
}

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string, opts ...MetricsOption) *Metrics {
	if namespace == "" {
		namespace = "avatls"
	}

	m := &Metrics{}

	for _, opt := range opts {
		opt(m)
	}

	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	m.handshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "handshakes_total",
			Help:      "Total number of TLS handshakes by result",
		},
		[]string{"result"},
	)

	m.handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "handshake_duration_seconds",
			Help:      "TLS handshake duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"version"},
	)

	m.handshakeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "handshake_errors_total",
			Help:      "Total number of TLS handshake errors by reason",
		},
		[]string{"reason"},
	)

	m.connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "connections_total",
			Help:      "Total number of established TLS connections by version and cipher suite",
		},
		[]string{"version", "cipher"},
	)

	m.certificateExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "certificate_expiry_seconds",
			Help:      "Time until certificate expiry in seconds",
		},
		[]string{"subject"},
	)

	m.registry.MustRegister(
		m.handshakesTotal,
		m.handshakeDuration,
		m.handshakeErrors,
		m.connectionsTotal,
		m.certificateExpiry,
	)

	return m
}

// RecordHandshake records the outcome of a handshake.
func (m *Metrics) RecordHandshake(success bool) {
	result := HandshakeResultSuccess
	if !success {
		result = HandshakeResultFailure
	}
	m.handshakesTotal.WithLabelValues(result).Inc()
}

// RecordHandshakeDuration records the duration of a completed TLS handshake.
func (m *Metrics) RecordHandshakeDuration(duration time.Duration, version uint16) {
	m.handshakeDuration.WithLabelValues(TLSVersionName(version)).Observe(duration.Seconds())
}

// RecordHandshakeError records a TLS handshake error.
func (m *Metrics) RecordHandshakeError(reason string) {
	m.handshakeErrors.WithLabelValues(reason).Inc()
}

// RecordConnection records an established TLS connection.
func (m *Metrics) RecordConnection(version uint16, cipherSuite uint16) {
	m.connectionsTotal.WithLabelValues(TLSVersionName(version), CipherSuiteName(cipherSuite)).Inc()
}

// UpdateCertificateExpiry updates the certificate expiry metric.
func (m *Metrics) UpdateCertificateExpiry(cert *x509.Certificate) {
	if cert == nil {
		return
	}
	m.certificateExpiry.WithLabelValues(subjectName(cert)).Set(time.Until(cert.NotAfter).Seconds())
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// NopMetrics is a no-op implementation of metrics for testing.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics instance.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// RecordHandshake is a no-op.
func (m *NopMetrics) RecordHandshake(_ bool) {}

// RecordHandshakeDuration is a no-op.
func (m *NopMetrics) RecordHandshakeDuration(_ time.Duration, _ uint16) {}

// RecordHandshakeError is a no-op.
func (m *NopMetrics) RecordHandshakeError(_ string) {}

// RecordConnection is a no-op.
func (m *NopMetrics) RecordConnection(_ uint16, _ uint16) {}

// UpdateCertificateExpiry is a no-op.
func (m *NopMetrics) UpdateCertificateExpiry(_ *x509.Certificate) {}

// MetricsRecorder defines the interface for recording TLS metrics.
type MetricsRecorder interface {
	RecordHandshake(success bool)
	RecordHandshakeDuration(duration time.Duration, version uint16)
	RecordHandshakeError(reason string)
	RecordConnection(version uint16, cipherSuite uint16)
	UpdateCertificateExpiry(cert *x509.Certificate)
}

// Ensure implementations satisfy the interface.
var (
	_ MetricsRecorder = (*Metrics)(nil)
	_ MetricsRecorder = (*NopMetrics)(nil)
)
