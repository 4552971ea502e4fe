package tlsnet

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	avatls "github.com/vyrodovalexey/avatls/internal/tls"
)

// ShutdownDirection selects which half of a stream Shutdown closes.
type ShutdownDirection int

// Shutdown directions.
const (
	ShutdownRead ShutdownDirection = iota + 1
	ShutdownWrite
	ShutdownBoth
)

// String returns the string representation of the direction.
func (d ShutdownDirection) String() string {
	switch d {
	case ShutdownRead:
		return "read"
	case ShutdownWrite:
		return "write"
	case ShutdownBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Stream is an established TLS connection. Reads and writes are each
// serialized by a per-stream lock; a stream is meant to be owned by one
// goroutine at a time.
type Stream struct {
	id    string
	conn  *tls.Conn
	raw   *net.TCPConn
	peer  net.Addr
	local net.Addr
	state tls.ConnectionState

	handshakeDuration time.Duration

	readMu  sync.Mutex
	writeMu sync.Mutex

	readTimeout  atomic.Int64
	closed       atomic.Bool
	readClosed   atomic.Bool
	writeClosed  atomic.Bool
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

var _ io.ReadWriteCloser = (*Stream)(nil)

func newStream(conn *tls.Conn, raw *net.TCPConn, handshakeDuration time.Duration) *Stream {
	return &Stream{
		id:                uuid.NewString(),
		conn:              conn,
		raw:               raw,
		peer:              raw.RemoteAddr(),
		local:             raw.LocalAddr(),
		state:             conn.ConnectionState(),
		handshakeDuration: handshakeDuration,
	}
}

// ID returns the unique stream identifier.
func (s *Stream) ID() string {
	return s.id
}

// PeerAddr returns the remote address.
func (s *Stream) PeerAddr() net.Addr {
	return s.peer
}

// LocalAddr returns the local address.
func (s *Stream) LocalAddr() net.Addr {
	return s.local
}

// ConnectionState returns the negotiated TLS parameters.
func (s *Stream) ConnectionState() tls.ConnectionState {
	return s.state
}

// HandshakeDuration returns how long the handshake took.
func (s *Stream) HandshakeDuration() time.Duration {
	return s.handshakeDuration
}

// BytesRead returns the number of decrypted bytes read.
func (s *Stream) BytesRead() uint64 {
	return s.bytesRead.Load()
}

// BytesWritten returns the number of plaintext bytes written.
func (s *Stream) BytesWritten() uint64 {
	return s.bytesWritten.Load()
}

// Read reads decrypted application data. A clean end of stream is io.EOF;
// every other failure is an I/O-kind error.
func (s *Stream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.readClosed.Load() {
		return 0, s.shutdownError("read", "read", nil)
	}

	if d := time.Duration(s.readTimeout.Load()); d > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
			return 0, avatls.NewIOError("read", "failed to set read deadline", err)
		}
	}

	n, err := s.conn.Read(p)
	s.bytesRead.Add(uint64(n))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		if s.readClosed.Load() {
			return n, s.shutdownError("read", "read", err)
		}
		return n, avatls.NewIOError("read", "failed to read", err)
	}
	return n, nil
}

// Write encrypts and sends p. The engine emits records as it goes, so data
// is on the wire when Write returns.
func (s *Stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeClosed.Load() {
		return 0, s.shutdownError("write", "write", nil)
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := s.conn.Write(p)
	s.bytesWritten.Add(uint64(n))
	if err != nil {
		return n, avatls.NewIOError("write", "failed to write", err)
	}
	return n, nil
}

// Flush reports whether buffered output could be flushed. Write never
// buffers, so only a shut down write side fails.
func (s *Stream) Flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeClosed.Load() {
		return s.shutdownError("flush", "write", nil)
	}
	return nil
}

// shutdownError reports I/O on a direction that was shut down. After Close
// the error also wraps net.ErrClosed.
func (s *Stream) shutdownError(op, side string, cause error) error {
	if s.closed.Load() {
		return avatls.NewIOError(op, "stream is closed", errors.Join(ErrStreamShutdown, net.ErrClosed, cause))
	}
	return avatls.NewIOError(op, side+" side is shut down", errors.Join(ErrStreamShutdown, cause))
}

// Shutdown closes one or both directions. Closing the write side sends a
// close_notify alert before half-closing the socket. Repeating a shutdown is
// a no-op.
func (s *Stream) Shutdown(how ShutdownDirection) error {
	switch how {
	case ShutdownRead:
		return s.shutdownRead()
	case ShutdownWrite:
		return s.shutdownWrite()
	case ShutdownBoth:
		werr := s.shutdownWrite()
		rerr := s.shutdownRead()
		if werr != nil {
			return werr
		}
		return rerr
	default:
		return avatls.NewIOError("shutdown", "unknown direction "+how.String(), nil)
	}
}

func (s *Stream) shutdownRead() error {
	if !s.readClosed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.raw.CloseRead(); err != nil {
		return avatls.NewIOError("shutdown", "failed to close read side", err)
	}
	return nil
}

func (s *Stream) shutdownWrite() error {
	if !s.writeClosed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.conn.CloseWrite(); err != nil {
		return avatls.NewIOError("shutdown", "failed to send close_notify", err)
	}
	if err := s.raw.CloseWrite(); err != nil {
		return avatls.NewIOError("shutdown", "failed to close write side", err)
	}
	return nil
}

// SetReadTimeout bounds each subsequent Read by d. Zero removes the bound.
func (s *Stream) SetReadTimeout(d time.Duration) error {
	if d < 0 {
		return avatls.NewIOError("set read timeout", "timeout must not be negative", nil)
	}

	s.readTimeout.Store(int64(d))
	if d == 0 {
		if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
			return avatls.NewIOError("set read timeout", "failed to clear read deadline", err)
		}
	}
	return nil
}

// ReadTimeout returns the current per-read bound, zero if none.
func (s *Stream) ReadTimeout() time.Duration {
	return time.Duration(s.readTimeout.Load())
}

// Close sends close_notify if the write side is still open and releases
// the connection.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.readClosed.Store(true)
		s.writeClosed.Store(true)
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = avatls.NewIOError("close", "failed to close stream", err)
		}
	})
	return s.closeErr
}
