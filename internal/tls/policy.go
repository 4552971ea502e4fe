package tls

import (
	"crypto/tls"
	"slices"
)

// Policy is the immutable negotiation policy installed into a Context.
// Accessors return copies.
type Policy struct {
	version          uint16
	cipherSuites     []uint16
	curvePreferences []tls.CurveID
	cipherPolicy     CipherPolicy
	explicit         bool
}

// newPolicy resolves a validated Config into a Policy.
func newPolicy(cfg *Config) (*Policy, error) {
	version := cfg.EffectiveVersion()
	if !version.IsValid() {
		return nil, configError("version", "cannot be pinned", ErrTLSVersionInvalid)
	}

	p := &Policy{version: version.ToTLSVersion()}

	curves, err := ParseCurvePreferences(cfg.CurvePreferences)
	if err != nil {
		return nil, configError("curvePreferences", "invalid curve", err)
	}
	p.curvePreferences = curves

	switch {
	case version == TLSVersion13:
		if len(cfg.CipherSuites) > 0 {
			return nil, configError("cipherSuites", "TLS 1.3 suites are fixed and cannot be listed",
				ErrCipherSuiteUnsupported)
		}
		p.cipherSuites = TLS13CipherSuites()
		p.cipherPolicy = CipherPolicy{Name: "tls13", Version: 1}
	case len(cfg.CipherSuites) > 0:
		suites, err := ParseCipherSuites(cfg.CipherSuites)
		if err != nil {
			return nil, configError("cipherSuites", "invalid cipher suite list", err)
		}
		p.cipherSuites = suites
		p.cipherPolicy = CipherPolicy{Name: "explicit", Version: 1}
		p.explicit = true
	default:
		cp, ok := LookupCipherPolicy(cfg.EffectiveCipherPolicy())
		if !ok {
			return nil, configError("cipherPolicy", "unknown policy "+cfg.CipherPolicy, ErrCipherSuiteInvalid)
		}
		suites, err := ParseCipherSuites(cp.Suites)
		if err != nil {
			return nil, configError("cipherPolicy", "policy "+cp.String()+" does not resolve", err)
		}
		p.cipherSuites = suites
		p.cipherPolicy = cp
	}

	if len(p.cipherSuites) == 0 {
		return nil, configError("cipherSuites", "no cipher suite enabled", ErrCipherListEmpty)
	}

	return p, nil
}

// Version returns the single pinned protocol version.
func (p *Policy) Version() uint16 {
	return p.version
}

// MinVersion returns the lowest negotiable version. Always equal to MaxVersion.
func (p *Policy) MinVersion() uint16 {
	return p.version
}

// MaxVersion returns the highest negotiable version. Always equal to MinVersion.
func (p *Policy) MaxVersion() uint16 {
	return p.version
}

// CipherSuites returns the ordered suite IDs, most preferred first.
func (p *Policy) CipherSuites() []uint16 {
	return slices.Clone(p.cipherSuites)
}

// CipherSuiteNames returns the ordered suite names.
func (p *Policy) CipherSuiteNames() []string {
	names := make([]string, len(p.cipherSuites))
	for i, id := range p.cipherSuites {
		names[i] = CipherSuiteName(id)
	}
	return names
}

// CurvePreferences returns the ordered ECDH curves.
func (p *Policy) CurvePreferences() []tls.CurveID {
	return slices.Clone(p.curvePreferences)
}

// CipherPolicy returns the published policy the suite list was resolved from.
// Explicit lists report the name "explicit".
func (p *Policy) CipherPolicy() CipherPolicy {
	cp := p.cipherPolicy
	cp.Suites = slices.Clone(cp.Suites)
	return cp
}

// Explicit reports whether the suite list came from configuration rather than a policy.
func (p *Policy) Explicit() bool {
	return p.explicit
}

// CompressionEnabled is always false. crypto/tls never negotiates compression.
func (p *Policy) CompressionEnabled() bool {
	return false
}

// SessionTicketsEnabled is always false.
func (p *Policy) SessionTicketsEnabled() bool {
	return false
}

// ServerCipherPreference is always true. crypto/tls selects by server order.
func (p *Policy) ServerCipherPreference() bool {
	return true
}

// RequiresDHParams reports whether a finite-field DHE suite is enabled.
func (p *Policy) RequiresDHParams() bool {
	for _, id := range p.cipherSuites {
		if s, ok := GetCipherSuiteByID(id); ok && s.KeyExchange == KeyExchangeDHE {
			return true
		}
	}
	return false
}

// apply writes the policy into a crypto/tls server configuration.
func (p *Policy) apply(cfg *tls.Config) {
	cfg.MinVersion = p.version
	cfg.MaxVersion = p.version
	cfg.SessionTicketsDisabled = true
	cfg.Renegotiation = tls.RenegotiateNever
	cfg.CurvePreferences = p.CurvePreferences()
	if p.version != tls.VersionTLS13 {
		cfg.CipherSuites = p.CipherSuites()
	}
}
