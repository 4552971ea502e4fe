package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchedConfig = `
listener:
  address: "127.0.0.1:8443"
tls:
  certFile: server.crt
  keyFile: server.key
logging:
  level: %s
`

func writeWatchedConfig(t *testing.T, path, level string) {
	t.Helper()
	content := []byte(fmt.Sprintf(watchedConfig, level))
	require.NoError(t, os.WriteFile(path, content, 0o600))
}

type recorder struct {
	mu      sync.Mutex
	configs []*Config
	errs    []error
}

func (r *recorder) onConfig(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) counts() (configs, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.configs), len(r.errs)
}

func (r *recorder) last() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configs[len(r.configs)-1]
}

func newTestWatcher(t *testing.T, level string) (*Watcher, *recorder, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "tlsecho.yaml")
	writeWatchedConfig(t, path, level)

	rec := &recorder{}
	w, err := NewWatcher(path, rec.onConfig,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(rec.onError),
	)
	require.NoError(t, err)
	return w, rec, path
}

func TestWatcher_StartLoadsConfig(t *testing.T) {
	t.Parallel()

	w, rec, path := newTestWatcher(t, "info")

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	require.NoError(t, w.Start(context.Background()))

	cfg := w.GetLastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "server.key"), cfg.TLS.KeyFile)

	configs, _ := rec.counts()
	assert.Zero(t, configs, "the initial load is not a reload")
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	w, rec, path := newTestWatcher(t, "info")
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	writeWatchedConfig(t, path, "debug")

	require.Eventually(t, func() bool {
		configs, _ := rec.counts()
		return configs > 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "debug", rec.last().Logging.Level)
	assert.Equal(t, "debug", w.GetLastConfig().Logging.Level)
}

func TestWatcher_InvalidReloadKeepsLastConfig(t *testing.T) {
	t.Parallel()

	w, rec, path := newTestWatcher(t, "info")
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	writeWatchedConfig(t, path, "chatty")

	require.Eventually(t, func() bool {
		_, errs := rec.counts()
		return errs > 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "info", w.GetLastConfig().Logging.Level)
}

func TestWatcher_KeyFileChangeDoesNotReload(t *testing.T) {
	t.Parallel()

	w, rec, path := newTestWatcher(t, "info")
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	keyPath := filepath.Join(filepath.Dir(path), "server.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("rotated"), 0o600))

	time.Sleep(200 * time.Millisecond)
	configs, errs := rec.counts()
	assert.Zero(t, configs)
	assert.Zero(t, errs)
}

func TestWatcher_ForceReload(t *testing.T) {
	t.Parallel()

	w, rec, path := newTestWatcher(t, "info")

	writeWatchedConfig(t, path, "warn")
	require.NoError(t, w.ForceReload())
	assert.Equal(t, "warn", w.GetLastConfig().Logging.Level)
	configs, _ := rec.counts()
	assert.Equal(t, 1, configs)

	writeWatchedConfig(t, path, "chatty")
	assert.Error(t, w.ForceReload())
	assert.Equal(t, "warn", w.GetLastConfig().Logging.Level)

	require.NoError(t, w.Stop())
}

func TestWatcher_StartFailsOnInvalidConfig(t *testing.T) {
	t.Parallel()

	w, _, _ := newTestWatcher(t, "chatty")
	assert.Error(t, w.Start(context.Background()))
	assert.Nil(t, w.GetLastConfig())
	assert.NoError(t, w.Stop())
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	w, _, _ := newTestWatcher(t, "info")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })
	cancel()

	select {
	case <-w.stoppedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("watch loop did not exit")
	}
}
