package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/vyrodovalexey/avatls/internal/observability"
)

// Handshake error reasons used as metric labels.
const (
	ReasonProtocolVersion = "protocol_version"
	ReasonNoCipherSuite   = "no_cipher_suite"
	ReasonTimeout         = "timeout"
	ReasonEOF             = "eof"
	ReasonAlert           = "alert"
	ReasonOther           = "other"
)

// Context is the immutable server-side TLS context shared by every handshake
// of one listener.
type Context struct {
	policy  *Policy
	config  *tls.Config
	chain   []*x509.Certificate
	info    CertificateInfo
	logger  observability.Logger
	metrics MetricsRecorder

	expiryWarning time.Duration
}

// ContextOption is a functional option for configuring a Context.
type ContextOption func(*Context)

// WithContextLogger sets the logger for the context.
func WithContextLogger(logger observability.Logger) ContextOption {
	return func(c *Context) {
		c.logger = logger
	}
}

// WithContextMetrics sets the metrics recorder for the context.
func WithContextMetrics(metrics MetricsRecorder) ContextOption {
	return func(c *Context) {
		c.metrics = metrics
	}
}

// WithExpiryWarning sets how close to expiry the leaf must be to log a warning.
func WithExpiryWarning(d time.Duration) ContextOption {
	return func(c *Context) {
		c.expiryWarning = d
	}
}

// BuildContext builds a context with the default policy from a PEM private
// key file and a PEM certificate file.
func BuildContext(keyPath, certPath string, opts ...ContextOption) (*Context, error) {
	cfg := DefaultConfig()
	cfg.KeyFile = keyPath
	cfg.CertFile = certPath
	return NewContext(cfg, opts...)
}

// NewContext builds a context from cfg. Every failure is a TLS-kind *Error
// and no context is returned.
func NewContext(cfg *Config, opts ...ContextOption) (*Context, error) {
	if cfg == nil {
		return nil, configError("config", "is nil", nil)
	}

	c := &Context{
		logger:        observability.NopLogger(),
		metrics:       NewNopMetrics(),
		expiryWarning: DefaultExpiryWarning,
	}
	for _, opt := range opts {
		opt(c)
	}

	policy, err := newPolicy(cfg)
	if err != nil {
		return nil, err
	}

	// No finite-field DH parameters can be installed into crypto/tls.
	if policy.RequiresDHParams() {
		return nil, NewTLSError("build context", "ephemeral DH parameters are not available",
			ErrCipherSuiteUnsupported)
	}

	if strings.TrimSpace(cfg.KeyFile) == "" {
		return nil, configError("keyFile", "is required", ErrPrivateKeyInvalid)
	}
	if strings.TrimSpace(cfg.CertFile) == "" {
		return nil, configError("certFile", "is required", ErrCertificateInvalid)
	}

	cert, chain, err := loadKeyPair(cfg.KeyFile, cfg.CertFile)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	policy.apply(tlsConfig)

	c.policy = policy
	c.config = tlsConfig
	c.chain = chain
	c.info = newCertificateInfo(chain)

	c.logBuilt()
	c.metrics.UpdateCertificateExpiry(chain[0])

	return c, nil
}

func (c *Context) logBuilt() {
	cp := c.policy.CipherPolicy()
	c.logger.Info("TLS context built",
		observability.String("subject", c.info.Subject),
		observability.String("fingerprint", c.info.Fingerprint),
		observability.String("version", TLSVersionName(c.policy.Version())),
		observability.String("cipher_policy", cp.String()),
		observability.Int("cipher_suites", len(c.policy.cipherSuites)),
		observability.Time("not_after", c.info.NotAfter),
	)

	status := CheckCertificateExpirationStatus(c.chain[0], c.expiryWarning)
	switch {
	case status.Expired:
		c.logger.Warn("certificate has expired",
			observability.String("subject", c.info.Subject),
			observability.Time("not_after", c.info.NotAfter),
		)
	case status.ExpiringSoon:
		c.logger.Warn("certificate expires soon",
			observability.String("subject", c.info.Subject),
			observability.Duration("time_until_expiry", status.TimeUntilExpiry),
		)
	}
}

// Policy returns the negotiation policy.
func (c *Context) Policy() *Policy {
	return c.policy
}

// Certificate returns metadata about the loaded leaf certificate.
func (c *Context) Certificate() CertificateInfo {
	info := c.info
	info.DNSNames = append([]string(nil), c.info.DNSNames...)
	return info
}

// Handshake returns a fresh server-side handshake object over conn. The
// handshake runs on first I/O or an explicit HandshakeContext call.
func (c *Context) Handshake(conn net.Conn) *tls.Conn {
	return tls.Server(conn, c.config)
}

// ServerHandshake runs a complete server handshake over conn and records its
// outcome. On failure the returned error is TLS-kind and conn is left open.
func (c *Context) ServerHandshake(ctx context.Context, conn net.Conn) (*tls.Conn, error) {
	tlsConn := c.Handshake(conn)

	start := time.Now()
	err := tlsConn.HandshakeContext(ctx)
	duration := time.Since(start)

	if err != nil {
		reason := HandshakeErrorReason(err)
		c.metrics.RecordHandshake(false)
		c.metrics.RecordHandshakeError(reason)
		c.logger.Debug("TLS handshake failed",
			observability.String("remote_addr", conn.RemoteAddr().String()),
			observability.String("reason", reason),
			observability.Error(err),
		)
		return nil, NewTLSError("handshake", "handshake with "+conn.RemoteAddr().String()+" failed", err)
	}

	state := tlsConn.ConnectionState()
	c.metrics.RecordHandshake(true)
	c.metrics.RecordHandshakeDuration(duration, state.Version)
	c.metrics.RecordConnection(state.Version, state.CipherSuite)

	return tlsConn, nil
}

// HandshakeErrorReason classifies a handshake error into a metric label.
func HandshakeErrorReason(err error) string {
	var netErr net.Error
	var alert tls.AlertError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &netErr) && netErr.Timeout():
		return ReasonTimeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ReasonEOF
	case strings.Contains(err.Error(), "unsupported versions"),
		strings.Contains(err.Error(), "protocol version"):
		return ReasonProtocolVersion
	case strings.Contains(err.Error(), "no cipher suite"):
		return ReasonNoCipherSuite
	case errors.As(err, &alert):
		return ReasonAlert
	default:
		return ReasonOther
	}
}
