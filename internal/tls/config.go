package tls

import (
	"crypto/tls"
	"fmt"
	"slices"
	"strings"
)

// TLSVersion represents the single TLS protocol version a context is pinned to.
type TLSVersion string

// TLS version constants.
const (
	// TLSVersion12 represents TLS 1.2 (default pin).
	TLSVersion12 TLSVersion = "TLS12"

	// TLSVersion13 represents TLS 1.3.
	TLSVersion13 TLSVersion = "TLS13"

	// DefaultTLSVersion is the version pinned when none is configured.
	DefaultTLSVersion = TLSVersion12
)

// String returns the string representation of the TLS version.
func (v TLSVersion) String() string {
	return string(v)
}

// IsValid returns true if the version can be pinned. Legacy versions cannot.
func (v TLSVersion) IsValid() bool {
	switch v {
	case TLSVersion12, TLSVersion13:
		return true
	default:
		return false
	}
}

// ToTLSVersion converts to the crypto/tls version constant.
func (v TLSVersion) ToTLSVersion() uint16 {
	switch v {
	case TLSVersion13:
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// Config is the policy and key material configuration for a Context.
type Config struct {
	// Version is the protocol version to pin. Empty means TLS12.
	Version TLSVersion `yaml:"version,omitempty" json:"version,omitempty"`

	// CipherPolicy names a published cipher policy. Ignored when CipherSuites is set.
	CipherPolicy string `yaml:"cipherPolicy,omitempty" json:"cipherPolicy,omitempty"`

	// CipherSuites is an explicit, ordered list of suite names (IANA or OpenSSL).
	CipherSuites []string `yaml:"cipherSuites,omitempty" json:"cipherSuites,omitempty"`

	// CurvePreferences is the ordered list of ECDH curves.
	CurvePreferences []string `yaml:"curvePreferences,omitempty" json:"curvePreferences,omitempty"`

	// CertFile is the path to the PEM certificate (chain) file.
	CertFile string `yaml:"certFile,omitempty" json:"certFile,omitempty"`

	// KeyFile is the path to the PEM private key file.
	KeyFile string `yaml:"keyFile,omitempty" json:"keyFile,omitempty"`
}

// DefaultConfig returns a Config with the default version and cipher policy.
func DefaultConfig() *Config {
	return &Config{
		Version:      DefaultTLSVersion,
		CipherPolicy: DefaultCipherPolicy,
	}
}

// EffectiveVersion returns the configured version or the default.
func (c *Config) EffectiveVersion() TLSVersion {
	if c == nil || c.Version == "" {
		return DefaultTLSVersion
	}
	return c.Version
}

// EffectiveCipherPolicy returns the configured policy name or the default.
func (c *Config) EffectiveCipherPolicy() string {
	if c == nil || c.CipherPolicy == "" {
		return DefaultCipherPolicy
	}
	return c.CipherPolicy
}

// Validate checks the policy fields. Key material paths are checked only for
// presence; their contents are validated when a Context is built.
func (c *Config) Validate() error {
	if c == nil {
		return configError("config", "is nil", nil)
	}

	if !c.EffectiveVersion().IsValid() {
		return configError("version",
			fmt.Sprintf("%q cannot be pinned (allowed: %s, %s)", c.Version, TLSVersion12, TLSVersion13),
			ErrTLSVersionInvalid)
	}

	if c.EffectiveVersion() == TLSVersion13 && len(c.CipherSuites) > 0 {
		return configError("cipherSuites", "TLS 1.3 suites are fixed and cannot be listed",
			ErrCipherSuiteUnsupported)
	}

	if len(c.CipherSuites) > 0 {
		if _, err := ParseCipherSuites(c.CipherSuites); err != nil {
			return configError("cipherSuites", "invalid cipher suite list", err)
		}
	} else if _, ok := cipherPolicies[c.EffectiveCipherPolicy()]; !ok {
		return configError("cipherPolicy", fmt.Sprintf("unknown policy %q", c.CipherPolicy), ErrCipherSuiteInvalid)
	}

	if err := ValidateCurvePreferences(c.CurvePreferences); err != nil {
		return configError("curvePreferences", "invalid curve", err)
	}

	if strings.TrimSpace(c.CertFile) == "" {
		return configError("certFile", "is required", ErrCertificateInvalid)
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return configError("keyFile", "is required", ErrPrivateKeyInvalid)
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	clone := *c
	clone.CipherSuites = slices.Clone(c.CipherSuites)
	clone.CurvePreferences = slices.Clone(c.CurvePreferences)
	return &clone
}
