package tlsnet

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avatls/internal/observability"
	avatls "github.com/vyrodovalexey/avatls/internal/tls"
)

// DefaultResolveTimeout bounds name resolution during Bind.
const DefaultResolveTimeout = 10 * time.Second

// Listener is a bound TCP socket plus the TLS context applied to every
// accepted connection.
type Listener struct {
	ln      *net.TCPListener
	context *avatls.Context
	logger  observability.Logger

	handshakeTimeout time.Duration
	closed           atomic.Bool
}

type options struct {
	logger           observability.Logger
	metrics          avatls.MetricsRecorder
	tlsConfig        *avatls.Config
	handshakeTimeout time.Duration
	resolver         *net.Resolver
}

// Option is a functional option for Bind.
type Option func(*options)

// WithLogger sets the logger for the listener, its context and its streams.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the TLS metrics recorder.
func WithMetrics(metrics avatls.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithTLSConfig sets the policy used to build the context. Key and
// certificate paths passed to Bind take precedence.
func WithTLSConfig(cfg *avatls.Config) Option {
	return func(o *options) {
		o.tlsConfig = cfg
	}
}

// WithHandshakeTimeout bounds every handshake. Zero means no bound.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = d
	}
}

// WithResolver sets the resolver used for host names in the bind address.
func WithResolver(resolver *net.Resolver) Option {
	return func(o *options) {
		o.resolver = resolver
	}
}

// Bind resolves address, binds the first candidate that accepts a listen,
// and builds the TLS context from the key and certificate files. Socket
// failures are I/O-kind errors; context failures are TLS-kind errors and the
// socket is closed before returning.
func Bind(address, keyPath, certPath string, opts ...Option) (*Listener, error) {
	o := &options{
		logger:   observability.NopLogger(),
		metrics:  avatls.NewNopMetrics(),
		resolver: net.DefaultResolver,
	}
	for _, opt := range opts {
		opt(o)
	}

	candidates, err := resolve(o.resolver, address)
	if err != nil {
		return nil, err
	}

	var (
		ln   *net.TCPListener
		errs []error
	)
	for _, addr := range candidates {
		l, err := net.ListenTCP("tcp", addr)
		if err == nil {
			ln = l
			break
		}
		o.logger.Debug("bind candidate failed",
			observability.String("candidate", addr.String()),
			observability.Error(err),
		)
		errs = append(errs, err)
	}
	if ln == nil {
		return nil, avatls.NewIOError("bind", "failed to bind "+address, errors.Join(errs...))
	}

	cfg := avatls.DefaultConfig()
	if o.tlsConfig != nil {
		cfg = o.tlsConfig.Clone()
	}
	cfg.KeyFile = keyPath
	cfg.CertFile = certPath

	tlsContext, err := avatls.NewContext(cfg,
		avatls.WithContextLogger(o.logger),
		avatls.WithContextMetrics(o.metrics),
	)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	l := &Listener{
		ln:               ln,
		context:          tlsContext,
		logger:           o.logger,
		handshakeTimeout: o.handshakeTimeout,
	}

	l.logger.Info("TLS listener bound",
		observability.String("address", ln.Addr().String()),
		observability.String("version", avatls.TLSVersionName(tlsContext.Policy().Version())),
		observability.Duration("handshake_timeout", o.handshakeTimeout),
	)

	return l, nil
}

// resolve expands host:port into TCP addresses in resolver order. An empty
// host yields the wildcard address.
func resolve(resolver *net.Resolver, address string) ([]*net.TCPAddr, error) {
	host, portName, err := net.SplitHostPort(address)
	if err != nil {
		return nil, avatls.NewIOError("resolve", "invalid address "+address, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultResolveTimeout)
	defer cancel()

	port, err := strconv.Atoi(portName)
	if err != nil {
		port, err = resolver.LookupPort(ctx, "tcp", portName)
		if err != nil {
			return nil, avatls.NewIOError("resolve", "unknown port "+portName, err)
		}
	}
	if port < 0 || port > 65535 {
		return nil, avatls.NewIOError("resolve", fmt.Sprintf("port %d out of range", port), nil)
	}

	if host == "" {
		return []*net.TCPAddr{{Port: port}}, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return []*net.TCPAddr{{IP: ip, Port: port}}, nil
	}

	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, avatls.NewIOError("resolve", "failed to resolve "+host, err)
	}
	if len(ips) == 0 {
		return nil, avatls.NewIOError("resolve", "no addresses for "+host, nil)
	}

	addrs := make([]*net.TCPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, &net.TCPAddr{IP: ip.IP, Port: port, Zone: ip.Zone})
	}
	return addrs, nil
}

// Accept waits for one connection and completes a TLS handshake on it. A
// failed handshake closes only that connection and returns a TLS-kind error;
// the listener stays usable. Accept may be called from several goroutines.
func (l *Listener) Accept() (*Stream, net.Addr, error) {
	conn, err := l.ln.AcceptTCP()
	if err != nil {
		return nil, nil, avatls.NewIOError("accept", "failed to accept connection", err)
	}

	peer := conn.RemoteAddr()

	if l.handshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(l.handshakeTimeout)); err != nil {
			_ = conn.Close()
			return nil, nil, avatls.NewIOError("accept", "failed to set handshake deadline", err)
		}
	}

	start := time.Now()
	tlsConn, err := l.context.ServerHandshake(context.Background(), conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	handshakeDuration := time.Since(start)

	if l.handshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Time{}); err != nil {
			_ = tlsConn.Close()
			return nil, nil, avatls.NewIOError("accept", "failed to clear handshake deadline", err)
		}
	}

	stream := newStream(tlsConn, conn, handshakeDuration)

	l.logger.Debug("TLS connection accepted",
		observability.String("stream_id", stream.ID()),
		observability.String("remote_addr", peer.String()),
		observability.String("version", avatls.TLSVersionName(stream.state.Version)),
		observability.String("cipher", avatls.CipherSuiteName(stream.state.CipherSuite)),
		observability.Duration("handshake", handshakeDuration),
	)

	return stream, peer, nil
}

// Incoming returns an unbounded sequence of Accept results. Each element is
// either a Stream or the error of one failed accept; errors do not end the
// sequence. Iteration ends only when the caller stops ranging, so callers
// should break on IsClosed after Close.
func (l *Listener) Incoming() iter.Seq2[*Stream, error] {
	return func(yield func(*Stream, error) bool) {
		for {
			stream, _, err := l.Accept()
			if !yield(stream, err) {
				return
			}
		}
	}
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Context returns the TLS context shared by all handshakes.
func (l *Listener) Context() *avatls.Context {
	return l.context
}

// Close stops accepting. Blocked Accept calls return an error wrapping
// net.ErrClosed. Established streams are unaffected.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	l.logger.Info("TLS listener closing",
		observability.String("address", l.ln.Addr().String()),
	)

	if err := l.ln.Close(); err != nil {
		return avatls.NewIOError("close", "failed to close listener", err)
	}
	return nil
}
