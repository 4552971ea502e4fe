package tlsnet

import (
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	avatls "github.com/vyrodovalexey/avatls/internal/tls"
)

// connectedPair returns an accepted server stream and the client side of it.
func connectedPair(t *testing.T, opts ...Option) (*Stream, *tls.Conn) {
	t.Helper()

	ln, certs := bindTestListener(t, opts...)

	ch := acceptAsync(ln)
	client, err := dialTLS(ln.Addr(), certs.ClientTLSConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	res := waitAccept(t, ch)
	require.NoError(t, res.err)
	t.Cleanup(func() { _ = res.stream.Close() })

	return res.stream, client
}

func TestShutdownDirection_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "read", ShutdownRead.String())
	assert.Equal(t, "write", ShutdownWrite.String())
	assert.Equal(t, "both", ShutdownBoth.String())
	assert.Equal(t, "unknown", ShutdownDirection(0).String())
}

func TestStream_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		size int
	}{
		{name: "empty", size: 0},
		{name: "one byte", size: 1},
		{name: "one record", size: 16384},
		{name: "several records", size: 3*16384 + 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stream, client := connectedPair(t)

			payload := make([]byte, tt.size)
			_, err := rand.Read(payload)
			require.NoError(t, err)

			echoed := make(chan error, 1)
			go func() {
				if _, err := io.Copy(stream, stream); err != nil {
					echoed <- err
					return
				}
				echoed <- stream.Shutdown(ShutdownWrite)
			}()

			received := make(chan []byte, 1)
			go func() {
				data, _ := io.ReadAll(client)
				received <- data
			}()

			_, err = client.Write(payload)
			require.NoError(t, err)
			require.NoError(t, client.CloseWrite())

			select {
			case err := <-echoed:
				require.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("echo did not finish")
			}

			got := <-received
			assert.True(t, bytes.Equal(payload, got), "echoed %d bytes, want %d", len(got), len(payload))
			assert.Equal(t, uint64(tt.size), stream.BytesRead())
			assert.Equal(t, uint64(tt.size), stream.BytesWritten())
		})
	}
}

func TestStream_Metadata(t *testing.T) {
	t.Parallel()

	stream, client := connectedPair(t)

	assert.NotEmpty(t, stream.ID())
	assert.Positive(t, stream.HandshakeDuration())
	assert.Equal(t, client.LocalAddr().String(), stream.PeerAddr().String())

	state := stream.ConnectionState()
	assert.True(t, state.HandshakeComplete)
	assert.Equal(t, client.ConnectionState().CipherSuite, state.CipherSuite)
}

func TestStream_WriteEmpty(t *testing.T) {
	t.Parallel()

	stream, _ := connectedPair(t)

	n, err := stream.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, stream.Flush())
}

func TestStream_ShutdownWrite(t *testing.T) {
	t.Parallel()

	stream, client := connectedPair(t)

	require.NoError(t, stream.Shutdown(ShutdownWrite))
	require.NoError(t, stream.Shutdown(ShutdownWrite))

	_, err := stream.Write([]byte("x"))
	require.Error(t, err)
	assert.True(t, avatls.IsIO(err))
	assert.ErrorIs(t, err, ErrStreamShutdown)

	err = stream.Flush()
	assert.True(t, avatls.IsIO(err))
	assert.ErrorIs(t, err, ErrStreamShutdown)

	// The peer sees a clean end of stream.
	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	// The read side keeps working.
	_, err = client.Write([]byte("still open"))
	require.NoError(t, err)
	buf := make([]byte, len("still open"))
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, "still open", string(buf))
}

func TestStream_ShutdownRead(t *testing.T) {
	t.Parallel()

	stream, client := connectedPair(t)

	require.NoError(t, stream.Shutdown(ShutdownRead))

	_, err := stream.Read(make([]byte, 1))
	require.Error(t, err)
	assert.True(t, avatls.IsIO(err))
	assert.ErrorIs(t, err, ErrStreamShutdown)
	assert.False(t, IsClosed(err))

	// The write side keeps working.
	_, err = stream.Write([]byte("hi"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf))
}

func TestStream_ShutdownBoth(t *testing.T) {
	t.Parallel()

	stream, _ := connectedPair(t)

	require.NoError(t, stream.Shutdown(ShutdownBoth))

	_, err := stream.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrStreamShutdown)
	_, err = stream.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrStreamShutdown)

	err = stream.Shutdown(ShutdownDirection(9))
	assert.True(t, avatls.IsIO(err))
}

func TestStream_ReadTimeout(t *testing.T) {
	t.Parallel()

	stream, client := connectedPair(t)

	assert.Zero(t, stream.ReadTimeout())
	require.NoError(t, stream.SetReadTimeout(50*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, stream.ReadTimeout())

	_, err := stream.Read(make([]byte, 1))
	require.Error(t, err)
	assert.True(t, avatls.IsIO(err))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.False(t, IsClosed(err))

	err = stream.SetReadTimeout(-time.Second)
	require.Error(t, err)
	assert.True(t, avatls.IsIO(err))
	assert.Equal(t, 50*time.Millisecond, stream.ReadTimeout())

	require.NoError(t, stream.SetReadTimeout(0))
	assert.Zero(t, stream.ReadTimeout())

	// With the bound cleared, data arriving well after the old 50ms deadline
	// is still delivered.
	go func() {
		time.Sleep(150 * time.Millisecond)
		_, _ = client.Write([]byte("late"))
	}()

	buf := make([]byte, 4)
	n, err := io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "late", string(buf))
}

func TestStream_Close(t *testing.T) {
	t.Parallel()

	stream, client := connectedPair(t)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	_, err := stream.Read(make([]byte, 1))
	assert.True(t, avatls.IsIO(err))
	assert.ErrorIs(t, err, ErrStreamShutdown)
	assert.True(t, IsClosed(err))

	_, err = stream.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrStreamShutdown)
	assert.True(t, IsClosed(err))

	err = stream.Flush()
	assert.True(t, IsClosed(err))

	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_PeerReset(t *testing.T) {
	t.Parallel()

	stream, client := connectedPair(t)

	// Closing the raw socket without close_notify truncates the stream.
	require.NoError(t, client.NetConn().Close())

	_, err := stream.Read(make([]byte, 1))
	require.Error(t, err)
	if err != io.EOF {
		assert.True(t, avatls.IsIO(err))
	}
}
