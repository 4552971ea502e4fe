package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avatls/internal/observability"
)

func TestDefaultServerConfig(t *testing.T) {
	t.Parallel()

	config := DefaultServerConfig()

	assert.Equal(t, ":9091", config.Address)
	assert.Equal(t, "/metrics", config.Path)
	assert.Equal(t, 5*time.Second, config.ReadTimeout)
	assert.Equal(t, 10*time.Second, config.WriteTimeout)
	assert.True(t, config.EnableRuntimeMetrics)
}

func TestNewServer_Defaults(t *testing.T) {
	t.Parallel()

	s := NewServer(&ServerConfig{Address: "127.0.0.1:0"}, nil, nil)

	require.NotNil(t, s.registry)
	assert.Equal(t, "/metrics", s.config.Path)
	assert.Nil(t, s.Addr())
}

func TestServer_Handler(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "test",
		Name:      "handshakes_total",
		Help:      "Handshakes.",
	})
	registry.MustRegister(counter)
	counter.Add(3)

	s := NewServer(&ServerConfig{Path: "/metrics", EnableRuntimeMetrics: true}, registry, observability.NopLogger())

	tests := []struct {
		name     string
		path     string
		wantCode int
		contains []string
	}{
		{
			name:     "metrics",
			path:     "/metrics",
			wantCode: http.StatusOK,
			contains: []string{"test_handshakes_total 3", "go_goroutines"},
		},
		{
			name:     "health",
			path:     "/health",
			wantCode: http.StatusOK,
			contains: []string{"OK"},
		},
		{
			name:     "unknown",
			path:     "/nope",
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			for _, want := range tt.contains {
				assert.Contains(t, rec.Body.String(), want)
			}
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	s := NewServer(&ServerConfig{Address: "127.0.0.1:0", Path: "/metrics"}, nil, observability.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("metrics server did not stop")
	}

	assert.NoError(t, s.Stop(context.Background()))
}

func TestServer_StartListenError(t *testing.T) {
	t.Parallel()

	s := NewServer(&ServerConfig{Address: "127.0.0.1:bad"}, nil, nil)
	assert.Error(t, s.Start(context.Background()))
}
