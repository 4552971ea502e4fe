package main

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avatls/internal/config"
	"github.com/vyrodovalexey/avatls/internal/observability"
	"github.com/vyrodovalexey/avatls/internal/observability/metrics"
	avatls "github.com/vyrodovalexey/avatls/internal/tls"
	"github.com/vyrodovalexey/avatls/internal/tlsnet"
)

// drainTimeout bounds how long shutdown waits for open streams.
const drainTimeout = 10 * time.Second

// echoServer echoes every stream back to its peer.
type echoServer struct {
	listener    *tlsnet.Listener
	logger      observability.Logger
	limiter     *rate.Limiter
	sem         *semaphore.Weighted
	readTimeout time.Duration

	wg      sync.WaitGroup
	mu      sync.Mutex
	streams map[string]*tlsnet.Stream
}

func newEchoServer(listener *tlsnet.Listener, cfg config.ListenerConfig, logger observability.Logger) *echoServer {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.AcceptRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = config.DefaultMaxConnections
	}

	return &echoServer{
		listener:    listener,
		logger:      logger,
		limiter:     limiter,
		sem:         semaphore.NewWeighted(int64(maxConns)),
		readTimeout: cfg.ReadTimeout.Duration(),
		streams:     make(map[string]*tlsnet.Stream),
	}
}

// serve ranges over incoming streams until the listener is closed or ctx is
// done. Every accept, including a failed handshake, takes a limiter token
// before the next one starts.
func (s *echoServer) serve(ctx context.Context) error {
	for stream, err := range s.listener.Incoming() {
		if err != nil && (tlsnet.IsClosed(err) || ctx.Err() != nil) {
			return nil
		}

		if werr := s.limiter.Wait(ctx); werr != nil {
			if stream != nil {
				_ = stream.Close()
			}
			return nil
		}

		if err != nil {
			s.logAcceptError(err)
			continue
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			_ = stream.Close()
			return nil
		}

		s.track(stream)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer s.untrack(stream)
			s.handle(ctx, stream)
		}()
	}
	return nil
}

func (s *echoServer) logAcceptError(err error) {
	if avatls.IsTLS(err) {
		s.logger.Warn("TLS handshake rejected",
			observability.String("reason", avatls.HandshakeErrorReason(err)),
			observability.Error(err),
		)
		return
	}
	s.logger.Error("accept failed", observability.Error(err))
}

func (s *echoServer) handle(ctx context.Context, stream *tlsnet.Stream) {
	logger := s.logger.WithContext(observability.ContextWithConnectionID(ctx, stream.ID()))
	logger.Info("stream opened",
		observability.String("peer", stream.PeerAddr().String()),
		observability.String("cipher", avatls.CipherSuiteName(stream.ConnectionState().CipherSuite)),
	)

	if err := stream.SetReadTimeout(s.readTimeout); err != nil {
		logger.Error("failed to set read timeout", observability.Error(err))
	}

	_, err := io.Copy(stream, stream)
	if err != nil && !tlsnet.IsClosed(err) {
		logger.Debug("echo ended with error", observability.Error(err))
	} else if err := stream.Shutdown(tlsnet.ShutdownWrite); err != nil {
		logger.Debug("shutdown failed", observability.Error(err))
	}

	if err := stream.Close(); err != nil {
		logger.Debug("close failed", observability.Error(err))
	}

	logger.Info("stream closed",
		observability.Int64("bytes_read", int64(stream.BytesRead())),
		observability.Int64("bytes_written", int64(stream.BytesWritten())),
	)
}

func (s *echoServer) track(stream *tlsnet.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[stream.ID()] = stream
}

func (s *echoServer) untrack(stream *tlsnet.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, stream.ID())
}

// activeStreams returns the number of streams being served.
func (s *echoServer) activeStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// drain waits for open streams, closing any still open after timeout.
func (s *echoServer) drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
	}

	s.mu.Lock()
	s.logger.Warn("closing streams still open after drain timeout",
		observability.Int("streams", len(s.streams)),
	)
	for _, stream := range s.streams {
		_ = stream.Close()
	}
	s.mu.Unlock()

	<-done
}

// run binds the listener and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, configPath string, logger observability.Logger) error {
	tlsMetrics := avatls.NewMetrics("avatls")

	listener, err := tlsnet.Bind(cfg.Listener.Address, cfg.TLS.KeyFile, cfg.TLS.CertFile,
		tlsnet.WithTLSConfig(&cfg.TLS),
		tlsnet.WithHandshakeTimeout(cfg.Listener.HandshakeTimeout.Duration()),
		tlsnet.WithLogger(logger),
		tlsnet.WithMetrics(tlsMetrics),
	)
	if err != nil {
		return err
	}

	server := newEchoServer(listener, cfg.Listener, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.serve(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		return listener.Close()
	})

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(&metrics.ServerConfig{
			Address:              cfg.Metrics.Address,
			Path:                 cfg.Metrics.Path,
			ReadTimeout:          5 * time.Second,
			WriteTimeout:         10 * time.Second,
			EnableRuntimeMetrics: true,
		}, tlsMetrics.Registry(), logger)

		g.Go(func() error {
			return metricsServer.Start(gctx)
		})
	}

	if configPath != "" {
		watcher, err := startConfigWatcher(gctx, configPath, logger)
		if err != nil {
			logger.Warn("config watcher disabled", observability.Error(err))
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	err = g.Wait()
	server.drain(drainTimeout)
	return err
}

// startConfigWatcher applies logging changes from the config file at runtime.
// Listener and TLS settings are fixed for the process lifetime.
func startConfigWatcher(ctx context.Context, configPath string, logger observability.Logger) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(configPath, func(cfg *config.Config) {
		if err := logger.SetLevel(cfg.Logging.Level); err != nil {
			logger.Error("failed to apply log level", observability.Error(err))
			return
		}
		logger.Info("log level applied", observability.String("level", cfg.Logging.Level))
	}, config.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if err := watcher.Start(ctx); err != nil {
		_ = watcher.Stop()
		return nil, err
	}
	return watcher, nil
}
