// Package helpers provides common test utilities for the avatls tests.
package helpers

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// KeyType selects the server key algorithm.
type KeyType string

// Key types.
const (
	KeyTypeECDSA   KeyType = "ecdsa"
	KeyTypeRSA     KeyType = "rsa"
	KeyTypeEd25519 KeyType = "ed25519"
)

// KeyEncoding selects the PEM encoding of the server key.
type KeyEncoding string

// Key encodings.
const (
	KeyEncodingPKCS8 KeyEncoding = "pkcs8"
	KeyEncodingPKCS1 KeyEncoding = "pkcs1"
	KeyEncodingSEC1  KeyEncoding = "sec1"
)

// CertOptions controls server certificate generation.
type CertOptions struct {
	CommonName  string
	KeyType     KeyType
	KeyEncoding KeyEncoding
	NotBefore   time.Time
	NotAfter    time.Time
	// IncludeChain appends the CA certificate to the server certificate file.
	IncludeChain bool
}

// CertOption is a functional option for CertOptions.
type CertOption func(*CertOptions)

// WithKeyType sets the server key algorithm.
func WithKeyType(kt KeyType) CertOption {
	return func(o *CertOptions) { o.KeyType = kt }
}

// WithKeyEncoding sets the server key PEM encoding.
func WithKeyEncoding(enc KeyEncoding) CertOption {
	return func(o *CertOptions) { o.KeyEncoding = enc }
}

// WithValidity sets the server certificate validity window.
func WithValidity(notBefore, notAfter time.Time) CertOption {
	return func(o *CertOptions) {
		o.NotBefore = notBefore
		o.NotAfter = notAfter
	}
}

// WithChain writes the CA certificate after the leaf.
func WithChain() CertOption {
	return func(o *CertOptions) { o.IncludeChain = true }
}

// TestCertificates holds a CA and a server certificate signed by it.
type TestCertificates struct {
	CAKey     *ecdsa.PrivateKey
	CACert    *x509.Certificate
	CACertPEM []byte

	ServerKey     crypto.Signer
	ServerCert    *x509.Certificate
	ServerCertPEM []byte
	ServerKeyPEM  []byte

	TempDir string
}

// GenerateTestCertificates generates a CA and a localhost server certificate.
func GenerateTestCertificates(opts ...CertOption) (*TestCertificates, error) {
	o := &CertOptions{
		CommonName:  "localhost",
		KeyType:     KeyTypeECDSA,
		KeyEncoding: KeyEncodingPKCS8,
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
	}
	for _, opt := range opts {
		opt(o)
	}

	tc := &TestCertificates{}

	if err := tc.generateCA(); err != nil {
		return nil, fmt.Errorf("failed to generate CA: %w", err)
	}

	if err := tc.generateServerCert(o); err != nil {
		return nil, fmt.Errorf("failed to generate server certificate: %w", err)
	}

	return tc, nil
}

func serialNumber() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

func (tc *TestCertificates) generateCA() error {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate CA key: %w", err)
	}
	tc.CAKey = caKey

	serial, err := serialNumber()
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	caTemplate := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"avatls test CA"},
			CommonName:   "avatls test CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("failed to create CA certificate: %w", err)
	}

	tc.CACert, err = x509.ParseCertificate(caDER)
	if err != nil {
		return fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	tc.CACertPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER})

	return nil
}

func (tc *TestCertificates) generateServerCert(o *CertOptions) error {
	key, err := GenerateKey(o.KeyType)
	if err != nil {
		return err
	}
	tc.ServerKey = key

	serial, err := serialNumber()
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	serverTemplate := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"avatls test server"},
			CommonName:   o.CommonName,
		},
		NotBefore:   o.NotBefore,
		NotAfter:    o.NotAfter,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	serverDER, err := x509.CreateCertificate(rand.Reader, serverTemplate, tc.CACert, key.Public(), tc.CAKey)
	if err != nil {
		return fmt.Errorf("failed to create server certificate: %w", err)
	}

	tc.ServerCert, err = x509.ParseCertificate(serverDER)
	if err != nil {
		return fmt.Errorf("failed to parse server certificate: %w", err)
	}

	tc.ServerCertPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: serverDER})
	if o.IncludeChain {
		tc.ServerCertPEM = append(tc.ServerCertPEM, tc.CACertPEM...)
	}

	tc.ServerKeyPEM, err = EncodeKeyPEM(key, o.KeyEncoding)
	return err
}

// GenerateKey generates a private key of the given type.
func GenerateKey(kt KeyType) (crypto.Signer, error) {
	switch kt {
	case KeyTypeRSA:
		return rsa.GenerateKey(rand.Reader, 2048)
	case KeyTypeEd25519:
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	default:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
}

// EncodeKeyPEM encodes a private key as PEM in the requested encoding.
func EncodeKeyPEM(key crypto.Signer, enc KeyEncoding) ([]byte, error) {
	switch enc {
	case KeyEncodingPKCS1:
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS#1 requires an RSA key, got %T", key)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}), nil
	case KeyEncodingSEC1:
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("SEC1 requires an ECDSA key, got %T", key)
		}
		der, err := x509.MarshalECPrivateKey(ecKey)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
	default:
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
	}
}

// WriteToDir writes the CA certificate, server certificate and server key into dir.
func (tc *TestCertificates) WriteToDir(dir string) error {
	tc.TempDir = dir

	if err := os.WriteFile(tc.CACertPath(), tc.CACertPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write CA certificate: %w", err)
	}
	if err := os.WriteFile(tc.ServerCertPath(), tc.ServerCertPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write server certificate: %w", err)
	}
	if err := os.WriteFile(tc.ServerKeyPath(), tc.ServerKeyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write server key: %w", err)
	}
	return nil
}

// CACertPath returns the path to the CA certificate file.
func (tc *TestCertificates) CACertPath() string {
	return filepath.Join(tc.TempDir, "ca.crt")
}

// ServerCertPath returns the path to the server certificate file.
func (tc *TestCertificates) ServerCertPath() string {
	return filepath.Join(tc.TempDir, "server.crt")
}

// ServerKeyPath returns the path to the server key file.
func (tc *TestCertificates) ServerKeyPath() string {
	return filepath.Join(tc.TempDir, "server.key")
}

// ClientTLSConfig returns a client configuration trusting the test CA.
func (tc *TestCertificates) ClientTLSConfig() *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(tc.CACert)
	return &tls.Config{
		RootCAs:    pool,
		ServerName: "localhost",
		MinVersion: tls.VersionTLS12,
	}
}

// WriteTestCertificates generates certificates into t.TempDir().
func WriteTestCertificates(t testing.TB, opts ...CertOption) *TestCertificates {
	t.Helper()

	tc, err := GenerateTestCertificates(opts...)
	require.NoError(t, err)
	require.NoError(t, tc.WriteToDir(t.TempDir()))
	return tc
}

// WriteFile writes data into a new file under t.TempDir() and returns its path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// WriteMismatchedKey writes a fresh key unrelated to any certificate and returns its path.
func WriteMismatchedKey(t testing.TB, kt KeyType) string {
	t.Helper()

	key, err := GenerateKey(kt)
	require.NoError(t, err)
	keyPEM, err := EncodeKeyPEM(key, KeyEncodingPKCS8)
	require.NoError(t, err)
	return WriteFile(t, "other.key", keyPEM)
}
