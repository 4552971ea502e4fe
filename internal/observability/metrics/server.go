// Package metrics serves Prometheus metrics over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/avatls/internal/observability"
)

// ServerConfig holds configuration for the metrics server.
type ServerConfig struct {
	// Address is the host:port to listen on.
	Address string

	// Path is the path to serve metrics on.
	Path string

	// ReadTimeout is the read timeout for the server.
	ReadTimeout time.Duration

	// WriteTimeout is the write timeout for the server.
	WriteTimeout time.Duration

	// EnableRuntimeMetrics registers Go runtime and process collectors.
	EnableRuntimeMetrics bool
}

// DefaultServerConfig returns a ServerConfig with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:              ":9091",
		Path:                 "/metrics",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         10 * time.Second,
		EnableRuntimeMetrics: true,
	}
}

// Server is a Prometheus metrics server.
type Server struct {
	config   *ServerConfig
	server   *http.Server
	logger   observability.Logger
	registry *prometheus.Registry

	mu       sync.Mutex
	listener net.Listener
	stopOnce sync.Once
}

// NewServer creates a new metrics server exposing registry. A nil registry
// gets a fresh one.
func NewServer(config *ServerConfig, registry *prometheus.Registry, logger observability.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if config.EnableRuntimeMetrics {
		// Already-registered collectors are fine when the registry is shared.
		_ = registry.Register(collectors.NewGoCollector())
		_ = registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	s := &Server{
		config:   config,
		logger:   logger,
		registry: registry,
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Handler returns the mux serving the metrics and health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.config.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog:            &errorLogger{logger: s.logger},
		ErrorHandling:       promhttp.ContinueOnError,
		Registry:            s.registry,
		MaxRequestsInFlight: 10,
		Timeout:             s.config.WriteTimeout,
		EnableOpenMetrics:   true,
	}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.Debug("failed to write health response", observability.Error(err))
		}
	})

	return mux
}

// Start listens and serves until ctx is cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.config.Address, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("starting metrics server",
		observability.String("address", ln.Addr().String()),
		observability.String("path", s.config.Path),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.logger.Info("stopping metrics server")
		stopErr = s.server.Shutdown(ctx)
	})
	return stopErr
}

// errorLogger adapts observability.Logger to promhttp.Logger.
type errorLogger struct {
	logger observability.Logger
}

// Println implements promhttp.Logger.
func (l *errorLogger) Println(v ...interface{}) {
	l.logger.Error(fmt.Sprint(v...))
}
