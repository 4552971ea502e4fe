package tlsnet

import (
	"crypto/tls"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	avatls "github.com/vyrodovalexey/avatls/internal/tls"
	"github.com/vyrodovalexey/avatls/test/helpers"
)

type acceptResult struct {
	stream *Stream
	addr   net.Addr
	err    error
}

func bindTestListener(t *testing.T, opts ...Option) (*Listener, *helpers.TestCertificates) {
	t.Helper()

	certs := helpers.WriteTestCertificates(t)
	ln, err := Bind("127.0.0.1:0", certs.ServerKeyPath(), certs.ServerCertPath(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln, certs
}

func acceptAsync(ln *Listener) <-chan acceptResult {
	ch := make(chan acceptResult, 1)
	go func() {
		stream, addr, err := ln.Accept()
		ch <- acceptResult{stream: stream, addr: addr, err: err}
	}()
	return ch
}

func dialTLS(addr net.Addr, cfg *tls.Config) (*tls.Conn, error) {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return tls.DialWithDialer(dialer, "tcp", addr.String(), cfg)
}

// dialAndDrop runs a client handshake expected to fail and discards the result.
func dialAndDrop(addr net.Addr, cfg *tls.Config) {
	go func() {
		conn, err := dialTLS(addr, cfg)
		if err == nil {
			_ = conn.Close()
		}
	}()
}

func waitAccept(t *testing.T, ch <-chan acceptResult) acceptResult {
	t.Helper()

	select {
	case res := <-ch:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for Accept")
		return acceptResult{}
	}
}

func TestBind(t *testing.T) {
	t.Parallel()

	ln, _ := bindTestListener(t)

	addr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)
	assert.NotZero(t, addr.Port)
	assert.True(t, addr.IP.IsLoopback())
	require.NotNil(t, ln.Context())
	assert.Equal(t, uint16(tls.VersionTLS12), ln.Context().Policy().Version())
}

func TestBind_KeyMismatchClosesSocket(t *testing.T) {
	t.Parallel()

	certs := helpers.WriteTestCertificates(t)
	otherKey := helpers.WriteMismatchedKey(t, helpers.KeyTypeECDSA)

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := probe.Addr().String()
	require.NoError(t, probe.Close())

	ln, err := Bind(address, otherKey, certs.ServerCertPath())
	require.Error(t, err)
	assert.Nil(t, ln)
	assert.True(t, avatls.IsTLS(err))
	assert.ErrorIs(t, err, avatls.ErrCertificateKeyMismatch)

	// The socket bound before the context failed must have been released.
	again, err := net.Listen("tcp", address)
	require.NoError(t, err)
	_ = again.Close()
}

func TestBind_IOErrors(t *testing.T) {
	t.Parallel()

	certs := helpers.WriteTestCertificates(t)

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = occupied.Close() })

	tests := []struct {
		name    string
		address string
		wantErr error
	}{
		{name: "missing port", address: "127.0.0.1"},
		{name: "unknown port name", address: "127.0.0.1:not-a-port"},
		{name: "port out of range", address: "127.0.0.1:70000"},
		{name: "address in use", address: occupied.Addr().String(), wantErr: syscall.EADDRINUSE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ln, err := Bind(tt.address, certs.ServerKeyPath(), certs.ServerCertPath())
			require.Error(t, err)
			assert.Nil(t, ln)
			assert.True(t, avatls.IsIO(err), "want io kind, got %v", err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	addrs, err := resolve(net.DefaultResolver, ":8443")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Nil(t, addrs[0].IP)
	assert.Equal(t, 8443, addrs[0].Port)

	addrs, err = resolve(net.DefaultResolver, "[::1]:0")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.True(t, addrs[0].IP.Equal(net.IPv6loopback))

	addrs, err = resolve(net.DefaultResolver, "localhost:0")
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
	for _, a := range addrs {
		assert.True(t, a.IP.IsLoopback())
	}
}

func TestAccept_RejectsOldVersionThenServesCompliantClient(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	metrics := avatls.NewMetrics("test", avatls.WithRegistry(registry))
	ln, certs := bindTestListener(t, WithMetrics(metrics))

	old := certs.ClientTLSConfig()
	old.MinVersion = tls.VersionTLS10
	old.MaxVersion = tls.VersionTLS11

	ch := acceptAsync(ln)
	dialAndDrop(ln.Addr(), old)

	res := waitAccept(t, ch)
	require.Error(t, res.err)
	assert.Nil(t, res.stream)
	assert.True(t, avatls.IsTLS(res.err), "want tls kind, got %v", res.err)

	ch = acceptAsync(ln)
	client, err := dialTLS(ln.Addr(), certs.ClientTLSConfig())
	require.NoError(t, err)
	defer client.Close()

	res = waitAccept(t, ch)
	require.NoError(t, res.err)
	defer res.stream.Close()
	assert.Equal(t, uint16(tls.VersionTLS12), res.stream.ConnectionState().Version)

	count, err := testutil.GatherAndCount(registry, "test_tls_handshakes_total", "test_tls_handshake_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "success and failure results plus one error reason")
}

func TestAccept_CipherDisjointClient(t *testing.T) {
	t.Parallel()

	ln, certs := bindTestListener(t)

	cfg := certs.ClientTLSConfig()
	cfg.MaxVersion = tls.VersionTLS12
	cfg.CipherSuites = []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA}

	ch := acceptAsync(ln)
	dialAndDrop(ln.Addr(), cfg)

	res := waitAccept(t, ch)
	require.Error(t, res.err)
	assert.True(t, avatls.IsTLS(res.err))
	assert.Equal(t, avatls.ReasonNoCipherSuite, avatls.HandshakeErrorReason(res.err))
}

func TestAccept_CompatPolicyServesCBCClient(t *testing.T) {
	t.Parallel()

	ln, certs := bindTestListener(t, WithTLSConfig(&avatls.Config{CipherPolicy: avatls.CipherPolicyCompat}))

	cfg := certs.ClientTLSConfig()
	cfg.MaxVersion = tls.VersionTLS12
	cfg.CipherSuites = []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA}

	ch := acceptAsync(ln)
	client, err := dialTLS(ln.Addr(), cfg)
	require.NoError(t, err)
	defer client.Close()

	res := waitAccept(t, ch)
	require.NoError(t, res.err)
	defer res.stream.Close()
	assert.Equal(t, tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA, res.stream.ConnectionState().CipherSuite)
}

func TestAccept_TLS13Pin(t *testing.T) {
	t.Parallel()

	ln, certs := bindTestListener(t, WithTLSConfig(&avatls.Config{Version: avatls.TLSVersion13}))

	ch := acceptAsync(ln)
	client, err := dialTLS(ln.Addr(), certs.ClientTLSConfig())
	require.NoError(t, err)
	defer client.Close()

	res := waitAccept(t, ch)
	require.NoError(t, res.err)
	defer res.stream.Close()
	assert.Equal(t, uint16(tls.VersionTLS13), res.stream.ConnectionState().Version)

	// A TLS 1.2-only client is refused by a TLS 1.3 pin.
	old := certs.ClientTLSConfig()
	old.MaxVersion = tls.VersionTLS12
	ch = acceptAsync(ln)
	dialAndDrop(ln.Addr(), old)
	res = waitAccept(t, ch)
	assert.True(t, avatls.IsTLS(res.err))
}

func TestAccept_PeerAddress(t *testing.T) {
	t.Parallel()

	ln, certs := bindTestListener(t)

	ch := acceptAsync(ln)
	client, err := dialTLS(ln.Addr(), certs.ClientTLSConfig())
	require.NoError(t, err)
	defer client.Close()

	res := waitAccept(t, ch)
	require.NoError(t, res.err)
	defer res.stream.Close()

	assert.Equal(t, client.LocalAddr().String(), res.addr.String())
	assert.Equal(t, client.LocalAddr().String(), res.stream.PeerAddr().String())
	assert.Equal(t, client.RemoteAddr().String(), res.stream.LocalAddr().String())
}

func TestAccept_HandshakeTimeout(t *testing.T) {
	t.Parallel()

	ln, certs := bindTestListener(t, WithHandshakeTimeout(100*time.Millisecond))

	ch := acceptAsync(ln)
	silent, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer silent.Close()

	res := waitAccept(t, ch)
	require.Error(t, res.err)
	assert.True(t, avatls.IsTLS(res.err))
	assert.ErrorIs(t, res.err, os.ErrDeadlineExceeded)
	assert.Equal(t, avatls.ReasonTimeout, avatls.HandshakeErrorReason(res.err))

	// The listener is still usable and the deadline does not leak into the stream.
	ch = acceptAsync(ln)
	client, err := dialTLS(ln.Addr(), certs.ClientTLSConfig())
	require.NoError(t, err)
	defer client.Close()

	res = waitAccept(t, ch)
	require.NoError(t, res.err)
	defer res.stream.Close()

	time.Sleep(200 * time.Millisecond)
	_, err = client.Write([]byte("late"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = res.stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "late", string(buf))
}

func TestAccept_Concurrent(t *testing.T) {
	t.Parallel()

	ln, certs := bindTestListener(t)

	const n = 4
	results := make(chan acceptResult, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream, addr, err := ln.Accept()
			results <- acceptResult{stream: stream, addr: addr, err: err}
		}()
	}

	clients := make([]*tls.Conn, 0, n)
	for range n {
		client, err := dialTLS(ln.Addr(), certs.ClientTLSConfig())
		require.NoError(t, err)
		clients = append(clients, client)
	}

	wg.Wait()
	close(results)

	ids := make(map[string]struct{})
	for res := range results {
		require.NoError(t, res.err)
		ids[res.stream.ID()] = struct{}{}
		_ = res.stream.Close()
	}
	assert.Len(t, ids, n)

	for _, c := range clients {
		_ = c.Close()
	}
}

func TestListener_Close(t *testing.T) {
	t.Parallel()

	ln, _ := bindTestListener(t)

	ch := acceptAsync(ln)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ln.Close())
	require.NoError(t, ln.Close())

	res := waitAccept(t, ch)
	require.Error(t, res.err)
	assert.True(t, avatls.IsIO(res.err))
	assert.True(t, IsClosed(res.err))
}

func TestIncoming_ContinuesAfterError(t *testing.T) {
	t.Parallel()

	ln, certs := bindTestListener(t)

	old := certs.ClientTLSConfig()
	old.MinVersion = tls.VersionTLS10
	old.MaxVersion = tls.VersionTLS11

	go func() {
		conn, err := dialTLS(ln.Addr(), old)
		if err == nil {
			_ = conn.Close()
		}
		client, err := dialTLS(ln.Addr(), certs.ClientTLSConfig())
		if err == nil {
			_, _ = client.Write([]byte("ok"))
			_ = client.Close()
		}
	}()

	var (
		errs    []error
		streams []*Stream
	)
	for stream, err := range ln.Incoming() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		streams = append(streams, stream)
		break
	}

	require.Len(t, errs, 1)
	assert.True(t, avatls.IsTLS(errs[0]))
	require.Len(t, streams, 1)
	defer streams[0].Close()

	// The client closes right after writing, so the data may arrive together
	// with the end of stream.
	buf := make([]byte, 2)
	n, err := io.ReadFull(streams[0], buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ok", string(buf))

	_, err = streams[0].Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestIncoming_IsRestartable(t *testing.T) {
	t.Parallel()

	ln, certs := bindTestListener(t)
	incoming := ln.Incoming()

	for range 2 {
		go func() {
			client, err := dialTLS(ln.Addr(), certs.ClientTLSConfig())
			if err == nil {
				defer client.Close()
				_, _ = client.Read(make([]byte, 1))
			}
		}()

		for stream, err := range incoming {
			require.NoError(t, err)
			_ = stream.Close()
			break
		}
	}
}
