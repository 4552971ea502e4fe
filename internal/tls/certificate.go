package tls

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultExpiryWarning is how close to NotAfter a leaf must be to log a warning.
const DefaultExpiryWarning = 7 * 24 * time.Hour

// CertificateInfo describes the loaded leaf certificate.
type CertificateInfo struct {
	Subject     string
	Issuer      string
	DNSNames    []string
	NotBefore   time.Time
	NotAfter    time.Time
	Fingerprint string
	SelfSigned  bool
	ChainLength int
}

// CertificateExpirationStatus contains the expiration status of a certificate.
type CertificateExpirationStatus struct {
	Expired         bool
	ExpiringSoon    bool
	TimeUntilExpiry time.Duration
}

// CheckCertificateExpirationStatus checks certificate expiration against a warning threshold.
func CheckCertificateExpirationStatus(
	cert *x509.Certificate,
	warningThreshold time.Duration,
) CertificateExpirationStatus {
	if cert == nil {
		return CertificateExpirationStatus{Expired: true}
	}

	now := time.Now()
	timeUntilExpiry := cert.NotAfter.Sub(now)

	if now.After(cert.NotAfter) {
		return CertificateExpirationStatus{
			Expired:         true,
			TimeUntilExpiry: timeUntilExpiry,
		}
	}

	if timeUntilExpiry <= warningThreshold {
		return CertificateExpirationStatus{
			ExpiringSoon:    true,
			TimeUntilExpiry: timeUntilExpiry,
		}
	}

	return CertificateExpirationStatus{TimeUntilExpiry: timeUntilExpiry}
}

// IsSelfSigned checks if a certificate is self-signed.
func IsSelfSigned(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	if cert.Issuer.String() != cert.Subject.String() {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}

// GetCertificateFingerprint returns the colon-separated SHA-256 fingerprint of a certificate.
func GetCertificateFingerprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}

	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

func subjectName(cert *x509.Certificate) string {
	if cert.Subject.CommonName != "" {
		return cert.Subject.CommonName
	}
	return cert.Subject.String()
}

func newCertificateInfo(chain []*x509.Certificate) CertificateInfo {
	leaf := chain[0]
	return CertificateInfo{
		Subject:     subjectName(leaf),
		Issuer:      leaf.Issuer.String(),
		DNSNames:    append([]string(nil), leaf.DNSNames...),
		NotBefore:   leaf.NotBefore,
		NotAfter:    leaf.NotAfter,
		Fingerprint: GetCertificateFingerprint(leaf),
		SelfSigned:  IsSelfSigned(leaf),
		ChainLength: len(chain),
	}
}

// loadKeyPair reads the private key and then the certificate chain, and
// verifies the key belongs to the leaf.
func loadKeyPair(keyPath, certPath string) (tls.Certificate, []*x509.Certificate, error) {
	key, err := loadPrivateKey(keyPath)
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	chain, err := loadCertificateChain(certPath)
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	if err := checkKeyMatch(key, chain[0]); err != nil {
		return tls.Certificate{}, nil, err
	}

	cert := tls.Certificate{
		PrivateKey: key,
		Leaf:       chain[0],
	}
	for _, c := range chain {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}

	return cert, chain, nil
}

func loadPrivateKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewTLSError("load key", "failed to read private key "+path,
			fmt.Errorf("%w: %w", ErrPrivateKeyInvalid, err))
	}

	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, NewTLSError("load key", "no PEM private key block in "+path, ErrPrivateKeyInvalid)
		}

		if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			continue
		}
		if _, encrypted := block.Headers["DEK-Info"]; encrypted || block.Type == "ENCRYPTED PRIVATE KEY" {
			return nil, NewTLSError("load key", "encrypted private keys are not supported", ErrPrivateKeyInvalid)
		}

		key, err := parsePrivateKey(block.Bytes)
		if err != nil {
			return nil, NewTLSError("load key", "failed to parse private key "+path,
				fmt.Errorf("%w: %w", ErrPrivateKeyInvalid, err))
		}
		return key, nil
	}
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		switch k := key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
			return k.(crypto.Signer), nil
		default:
			return nil, fmt.Errorf("unsupported PKCS#8 key type %T", key)
		}
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("not a PKCS#8, PKCS#1 or SEC1 key")
}

func loadCertificateChain(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewTLSError("load certificate", "failed to read certificate "+path,
			fmt.Errorf("%w: %w", ErrCertificateInvalid, err))
	}

	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, NewTLSError("load certificate", "failed to parse certificate "+path,
				fmt.Errorf("%w: %w", ErrCertificateInvalid, err))
		}
		chain = append(chain, cert)
	}

	if len(chain) == 0 {
		return nil, NewTLSError("load certificate", "no PEM certificate block in "+path, ErrCertificateInvalid)
	}

	return chain, nil
}

type equalKey interface {
	Equal(crypto.PublicKey) bool
}

func checkKeyMatch(key crypto.Signer, leaf *x509.Certificate) error {
	pub, ok := key.Public().(equalKey)
	if !ok || !pub.Equal(leaf.PublicKey) {
		return NewTLSError("check key", "private key does not match certificate "+subjectName(leaf),
			ErrCertificateKeyMismatch)
	}
	return nil
}
