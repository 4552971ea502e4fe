package tls

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want string
	}{
		{KindIO, "io"},
		{KindTLS, "tls"},
		{Kind(0), "unknown"},
		{Kind(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "io with op and cause",
			err:  NewIOError("accept", "failed to accept connection", io.ErrUnexpectedEOF),
			want: "io error during accept: failed to accept connection: unexpected EOF",
		},
		{
			name: "tls without cause",
			err:  NewTLSError("handshake", "peer rejected", nil),
			want: "tls error during handshake: peer rejected",
		},
		{
			name: "without op",
			err:  &Error{Kind: KindTLS, Message: "bad"},
			want: "tls error: bad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	t.Parallel()

	err := NewTLSError("load key", "failed", ErrPrivateKeyInvalid)
	wrapped := fmt.Errorf("bind: %w", err)

	assert.ErrorIs(t, wrapped, ErrPrivateKeyInvalid)
	assert.ErrorIs(t, wrapped, &Error{Kind: KindTLS})
	assert.ErrorIs(t, wrapped, &Error{})
	assert.NotErrorIs(t, wrapped, &Error{Kind: KindIO})
	assert.NotErrorIs(t, wrapped, ErrCertificateInvalid)
	assert.Equal(t, ErrPrivateKeyInvalid, errors.Unwrap(err))
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		want   Kind
		wantIO bool
	}{
		{"nil", nil, 0, false},
		{"plain", errors.New("x"), 0, false},
		{"io", NewIOError("read", "x", nil), KindIO, true},
		{"tls", NewTLSError("handshake", "x", nil), KindTLS, false},
		{"wrapped io", fmt.Errorf("outer: %w", NewIOError("write", "x", nil)), KindIO, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
			assert.Equal(t, tt.wantIO, IsIO(tt.err))
			assert.Equal(t, tt.want == KindTLS, IsTLS(tt.err))
		})
	}
}

func TestConfigError(t *testing.T) {
	t.Parallel()

	err := configError("version", "bad", nil)
	assert.True(t, IsTLS(err))
	assert.ErrorIs(t, err, ErrConfigInvalid)
	assert.Contains(t, err.Error(), "version: bad")

	err = configError("cipherSuites", "bad", ErrCipherListEmpty)
	assert.ErrorIs(t, err, ErrCipherListEmpty)
}
