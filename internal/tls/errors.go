package tls

import (
	"errors"
	"fmt"
)

// Common sentinel errors carried as causes of TLS-kind errors.
var (
	// ErrCertificateInvalid indicates that a certificate could not be read or parsed.
	ErrCertificateInvalid = errors.New("certificate invalid")

	// ErrPrivateKeyInvalid indicates that a private key could not be read or parsed.
	ErrPrivateKeyInvalid = errors.New("private key invalid")

	// ErrCertificateKeyMismatch indicates that the certificate and key do not match.
	ErrCertificateKeyMismatch = errors.New("certificate and key do not match")

	// ErrCipherSuiteInvalid indicates that a cipher suite name is unknown.
	ErrCipherSuiteInvalid = errors.New("invalid cipher suite")

	// ErrCipherSuiteUnsupported indicates a known suite the TLS engine cannot offer.
	ErrCipherSuiteUnsupported = errors.New("cipher suite not supported by TLS engine")

	// ErrCipherSuiteInsecure indicates a suite that is not forward-secret or is known-broken.
	ErrCipherSuiteInsecure = errors.New("cipher suite rejected by security policy")

	// ErrCipherListEmpty indicates that policy resolution produced no cipher suites.
	ErrCipherListEmpty = errors.New("cipher suite list is empty")

	// ErrTLSVersionInvalid indicates that a TLS version is invalid.
	ErrTLSVersionInvalid = errors.New("invalid TLS version")

	// ErrCurveInvalid indicates that an ECDH curve name is unknown.
	ErrCurveInvalid = errors.New("invalid curve")

	// ErrConfigInvalid indicates that the TLS configuration is invalid.
	ErrConfigInvalid = errors.New("invalid TLS configuration")
)

// Kind classifies an Error. There are exactly two kinds.
type Kind int

const (
	// KindIO covers socket bind, accept, read, write and timeout failures.
	KindIO Kind = iota + 1

	// KindTLS covers handshake failures, cipher or protocol mismatch and
	// certificate or key load failures.
	KindTLS
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by every fallible operation of the
// socket layer.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := e.Kind.String() + " error"
	if e.Op != "" {
		prefix += " during " + e.Op
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind (a zero Kind on the
// target matches any kind), or whether the cause matches target.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == 0 || t.Kind == e.Kind
	}
	return errors.Is(e.Cause, target)
}

// NewIOError creates a new I/O-kind error.
func NewIOError(op, message string, cause error) *Error {
	return &Error{Kind: KindIO, Op: op, Message: message, Cause: cause}
}

// NewTLSError creates a new TLS-kind error.
func NewTLSError(op, message string, cause error) *Error {
	return &Error{Kind: KindTLS, Op: op, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsIO reports whether err is an I/O-kind error.
func IsIO(err error) bool {
	return KindOf(err) == KindIO
}

// IsTLS reports whether err is a TLS-kind error.
func IsTLS(err error) bool {
	return KindOf(err) == KindTLS
}

// configError creates a TLS-kind error for an invalid configuration field.
func configError(field, message string, cause error) *Error {
	if cause == nil {
		cause = ErrConfigInvalid
	}
	return NewTLSError("config", field+": "+message, cause)
}
