package tls

import (
	"crypto/tls"
	"fmt"
	"slices"
	"strings"
)

// KeyExchange identifies the key-exchange family of a cipher suite.
type KeyExchange string

// Key exchange constants.
const (
	// KeyExchangeECDHE is ephemeral elliptic-curve Diffie-Hellman (forward-secret).
	KeyExchangeECDHE KeyExchange = "ECDHE"

	// KeyExchangeDHE is ephemeral finite-field Diffie-Hellman (forward-secret).
	KeyExchangeDHE KeyExchange = "DHE"

	// KeyExchangeRSA is static RSA key transport (not forward-secret).
	KeyExchangeRSA KeyExchange = "RSA"

	// KeyExchangeTLS13 marks TLS 1.3 suites, whose key exchange is always ephemeral.
	KeyExchangeTLS13 KeyExchange = "TLS13"
)

// CipherSuite represents a TLS cipher suite with metadata.
type CipherSuite struct {
	// ID is the IANA cipher suite ID.
	ID uint16

	// Name is the IANA cipher suite name.
	Name string

	// KeyExchange is the key-exchange family.
	KeyExchange KeyExchange

	// AEAD indicates an authenticated-encryption bulk cipher.
	AEAD bool

	// Broken indicates a bulk cipher with known practical attacks (RC4, 3DES).
	Broken bool

	// Supported indicates the TLS engine can negotiate this suite.
	Supported bool

	// TLS13 indicates if this is a TLS 1.3 cipher suite.
	TLS13 bool
}

// ForwardSecret reports whether the suite uses an ephemeral key exchange.
func (s CipherSuite) ForwardSecret() bool {
	return s.KeyExchange == KeyExchangeECDHE || s.KeyExchange == KeyExchangeDHE || s.TLS13
}

// cipherSuiteRegistry maps cipher suite names to their descriptions.
var cipherSuiteRegistry = map[string]CipherSuite{}

// openSSLAliases maps OpenSSL cipher names to IANA names.
var openSSLAliases = map[string]string{
	"ECDHE-ECDSA-CHACHA20-POLY1305": "TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256",
	"ECDHE-RSA-CHACHA20-POLY1305":   "TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256",
	"ECDHE-ECDSA-AES128-GCM-SHA256": "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	"ECDHE-RSA-AES128-GCM-SHA256":   "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	"ECDHE-ECDSA-AES256-GCM-SHA384": "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
	"ECDHE-RSA-AES256-GCM-SHA384":   "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
	"DHE-RSA-AES128-GCM-SHA256":     "TLS_DHE_RSA_WITH_AES_128_GCM_SHA256",
	"DHE-RSA-AES256-GCM-SHA384":     "TLS_DHE_RSA_WITH_AES_256_GCM_SHA384",
	"ECDHE-ECDSA-AES128-SHA256":     "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256",
	"ECDHE-RSA-AES128-SHA256":       "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256",
	"ECDHE-ECDSA-AES128-SHA":        "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA",
	"ECDHE-RSA-AES128-SHA":          "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA",
	"ECDHE-ECDSA-AES256-SHA":        "TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA",
	"ECDHE-RSA-AES256-SHA":          "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA",
	"DHE-RSA-AES128-SHA256":         "TLS_DHE_RSA_WITH_AES_128_CBC_SHA256",
	"DHE-RSA-AES128-SHA":            "TLS_DHE_RSA_WITH_AES_128_CBC_SHA",
	"DHE-RSA-AES256-SHA256":         "TLS_DHE_RSA_WITH_AES_256_CBC_SHA256",
	"DHE-RSA-AES256-SHA":            "TLS_DHE_RSA_WITH_AES_256_CBC_SHA",
	"ECDHE-ECDSA-DES-CBC3-SHA":      "TLS_ECDHE_ECDSA_WITH_3DES_EDE_CBC_SHA",
	"ECDHE-RSA-DES-CBC3-SHA":        "TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA",
	"EDH-RSA-DES-CBC3-SHA":          "TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA",
	"AES128-GCM-SHA256":             "TLS_RSA_WITH_AES_128_GCM_SHA256",
	"AES256-GCM-SHA384":             "TLS_RSA_WITH_AES_256_GCM_SHA384",
	"AES128-SHA256":                 "TLS_RSA_WITH_AES_128_CBC_SHA256",
	"AES128-SHA":                    "TLS_RSA_WITH_AES_128_CBC_SHA",
	"AES256-SHA":                    "TLS_RSA_WITH_AES_256_CBC_SHA",
	"DES-CBC3-SHA":                  "TLS_RSA_WITH_3DES_EDE_CBC_SHA",
}

func register(s CipherSuite) {
	cipherSuiteRegistry[s.Name] = s
}

func init() {
	// TLS 1.3 suites are fixed by the engine.
	for _, s := range tls.CipherSuites() {
		if slices.Contains(s.SupportedVersions, tls.VersionTLS13) {
			register(CipherSuite{
				ID: s.ID, Name: s.Name, KeyExchange: KeyExchangeTLS13,
				AEAD: true, Supported: true, TLS13: true,
			})
		}
	}

	aead := []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	}
	for _, id := range aead {
		register(CipherSuite{
			ID: id, Name: tls.CipherSuiteName(id), KeyExchange: KeyExchangeECDHE,
			AEAD: true, Supported: true,
		})
	}

	cbc := []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
		tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
		tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	}
	for _, id := range cbc {
		register(CipherSuite{
			ID: id, Name: tls.CipherSuiteName(id), KeyExchange: KeyExchangeECDHE,
			Supported: true,
		})
	}

	broken := map[uint16]KeyExchange{
		tls.TLS_ECDHE_ECDSA_WITH_RC4_128_SHA:    KeyExchangeECDHE,
		tls.TLS_ECDHE_RSA_WITH_RC4_128_SHA:      KeyExchangeECDHE,
		tls.TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA: KeyExchangeECDHE,
		tls.TLS_RSA_WITH_RC4_128_SHA:            KeyExchangeRSA,
		tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA:       KeyExchangeRSA,
	}
	for id, kx := range broken {
		register(CipherSuite{
			ID: id, Name: tls.CipherSuiteName(id), KeyExchange: kx,
			Broken: true, Supported: true,
		})
	}

	staticRSA := []uint16{
		tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_RSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_RSA_WITH_AES_128_CBC_SHA,
		tls.TLS_RSA_WITH_AES_256_CBC_SHA,
	}
	for _, id := range staticRSA {
		register(CipherSuite{
			ID: id, Name: tls.CipherSuiteName(id), KeyExchange: KeyExchangeRSA,
			AEAD: strings.HasSuffix(tls.CipherSuiteName(id), "GCM_SHA256") ||
				strings.HasSuffix(tls.CipherSuiteName(id), "GCM_SHA384"),
			Supported: true,
		})
	}

	// Finite-field DHE suites exist on the wire but crypto/tls never offers them.
	dhe := map[string]uint16{
		"TLS_DHE_RSA_WITH_AES_128_GCM_SHA256": 0x009E,
		"TLS_DHE_RSA_WITH_AES_256_GCM_SHA384": 0x009F,
		"TLS_DHE_RSA_WITH_AES_128_CBC_SHA256": 0x0067,
		"TLS_DHE_RSA_WITH_AES_256_CBC_SHA256": 0x006B,
		"TLS_DHE_RSA_WITH_AES_128_CBC_SHA":    0x0033,
		"TLS_DHE_RSA_WITH_AES_256_CBC_SHA":    0x0039,
		"TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA":   0x0016,
	}
	for name, id := range dhe {
		register(CipherSuite{
			ID: id, Name: name, KeyExchange: KeyExchangeDHE,
			AEAD:   strings.Contains(name, "_GCM_"),
			Broken: strings.Contains(name, "3DES"),
		})
	}
}

// curveRegistry maps curve names to their tls.CurveID values.
var curveRegistry = map[string]tls.CurveID{
	"X25519":    tls.X25519,
	"P256":      tls.CurveP256,
	"P384":      tls.CurveP384,
	"P521":      tls.CurveP521,
	"CurveP256": tls.CurveP256,
	"CurveP384": tls.CurveP384,
	"CurveP521": tls.CurveP521,
}

// CipherPolicy is a named, versioned, ordered cipher-suite list.
type CipherPolicy struct {
	// Name identifies the policy in configuration.
	Name string

	// Version is bumped whenever the suite list changes.
	Version int

	// Suites is the ordered list of IANA suite names, most preferred first.
	Suites []string
}

// String returns "name/vN".
func (p CipherPolicy) String() string {
	return fmt.Sprintf("%s/v%d", p.Name, p.Version)
}

// Built-in cipher policy names.
const (
	// CipherPolicyStrict offers only ECDHE suites with AEAD ciphers.
	CipherPolicyStrict = "strict"

	// CipherPolicyCompat adds ECDHE CBC suites for older clients.
	CipherPolicyCompat = "compat"

	// DefaultCipherPolicy is used when configuration names no policy or suites.
	DefaultCipherPolicy = CipherPolicyStrict
)

var strictSuites = []string{
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256",
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256",
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
}

var cipherPolicies = map[string]CipherPolicy{
	CipherPolicyStrict: {
		Name:    CipherPolicyStrict,
		Version: 1,
		Suites:  strictSuites,
	},
	CipherPolicyCompat: {
		Name:    CipherPolicyCompat,
		Version: 1,
		Suites: append(slices.Clone(strictSuites),
			"TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256",
			"TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256",
			"TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA",
			"TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA",
			"TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA",
			"TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA",
		),
	},
}

// LookupCipherPolicy returns a copy of the named built-in policy.
func LookupCipherPolicy(name string) (CipherPolicy, bool) {
	p, ok := cipherPolicies[name]
	if !ok {
		return CipherPolicy{}, false
	}
	p.Suites = slices.Clone(p.Suites)
	return p, true
}

// CipherPolicies returns all built-in policies sorted by name.
func CipherPolicies() []CipherPolicy {
	policies := make([]CipherPolicy, 0, len(cipherPolicies))
	for name := range cipherPolicies {
		p, _ := LookupCipherPolicy(name)
		policies = append(policies, p)
	}
	slices.SortFunc(policies, func(a, b CipherPolicy) int {
		return strings.Compare(a.Name, b.Name)
	})
	return policies
}

// DefaultCurvePreferences returns the default ECDH curve preferences.
func DefaultCurvePreferences() []tls.CurveID {
	return []tls.CurveID{
		tls.X25519,
		tls.CurveP256,
		tls.CurveP384,
	}
}

// canonicalSuiteName resolves OpenSSL aliases to IANA names.
func canonicalSuiteName(name string) string {
	name = strings.TrimSpace(name)
	if alias, ok := openSSLAliases[name]; ok {
		return alias
	}
	return name
}

// checkSuite applies the security policy to a single suite.
func checkSuite(name string) (CipherSuite, error) {
	suite, ok := cipherSuiteRegistry[canonicalSuiteName(name)]
	if !ok {
		return CipherSuite{}, fmt.Errorf("%w: %s", ErrCipherSuiteInvalid, name)
	}
	switch {
	case suite.TLS13:
		return CipherSuite{}, fmt.Errorf("%w: %s is a TLS 1.3 suite and is not configurable",
			ErrCipherSuiteUnsupported, suite.Name)
	case suite.Broken:
		return CipherSuite{}, fmt.Errorf("%w: %s uses a broken bulk cipher", ErrCipherSuiteInsecure, suite.Name)
	case !suite.ForwardSecret():
		return CipherSuite{}, fmt.Errorf("%w: %s is not forward-secret", ErrCipherSuiteInsecure, suite.Name)
	case !suite.Supported:
		return CipherSuite{}, fmt.Errorf("%w: %s", ErrCipherSuiteUnsupported, suite.Name)
	}
	return suite, nil
}

// ParseCipherSuites resolves suite names, in order, into IDs. Duplicates are
// dropped; unknown, unsupported or insecure suites are errors. An empty
// result is an error: the cipher list is never empty.
func ParseCipherSuites(names []string) ([]uint16, error) {
	suites := make([]uint16, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}

		suite, err := checkSuite(name)
		if err != nil {
			return nil, err
		}

		if !slices.Contains(suites, suite.ID) {
			suites = append(suites, suite.ID)
		}
	}

	if len(suites) == 0 {
		return nil, ErrCipherListEmpty
	}

	return suites, nil
}

// ValidateCipherSuites validates that all cipher suite names are acceptable.
func ValidateCipherSuites(names []string) error {
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if _, err := checkSuite(name); err != nil {
			return err
		}
	}
	return nil
}

// ParseCurvePreferences parses curve names and returns their IDs.
func ParseCurvePreferences(names []string) ([]tls.CurveID, error) {
	if len(names) == 0 {
		return DefaultCurvePreferences(), nil
	}

	curves := make([]tls.CurveID, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		curve, ok := curveRegistry[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCurveInvalid, name)
		}

		if !slices.Contains(curves, curve) {
			curves = append(curves, curve)
		}
	}

	if len(curves) == 0 {
		return DefaultCurvePreferences(), nil
	}

	return curves, nil
}

// ValidateCurvePreferences validates that all curve names are valid.
func ValidateCurvePreferences(names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		if _, ok := curveRegistry[name]; !ok {
			return fmt.Errorf("%w: %s", ErrCurveInvalid, name)
		}
	}
	return nil
}

// GetCipherSuiteInfo returns information about a cipher suite by IANA or OpenSSL name.
func GetCipherSuiteInfo(name string) (CipherSuite, bool) {
	suite, ok := cipherSuiteRegistry[canonicalSuiteName(name)]
	return suite, ok
}

// GetCipherSuiteByID returns information about a cipher suite by ID.
func GetCipherSuiteByID(id uint16) (CipherSuite, bool) {
	for _, suite := range cipherSuiteRegistry {
		if suite.ID == id {
			return suite, true
		}
	}
	return CipherSuite{}, false
}

// CipherSuiteName returns the name of a cipher suite by ID.
func CipherSuiteName(id uint16) string {
	if suite, ok := GetCipherSuiteByID(id); ok {
		return suite.Name
	}
	return fmt.Sprintf("0x%04X", id)
}

// TLS13CipherSuites returns the engine's fixed TLS 1.3 suites.
func TLS13CipherSuites() []uint16 {
	suites := make([]uint16, 0, 3)
	for _, s := range tls.CipherSuites() {
		if slices.Contains(s.SupportedVersions, tls.VersionTLS13) {
			suites = append(suites, s.ID)
		}
	}
	return suites
}

// TLSVersionName returns the human-readable name of a TLS version.
func TLSVersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("0x%04X", version)
	}
}

// CurveName returns the human-readable name of an ECDH curve.
func CurveName(curve tls.CurveID) string {
	switch curve {
	case tls.X25519:
		return "X25519"
	case tls.CurveP256:
		return "P-256"
	case tls.CurveP384:
		return "P-384"
	case tls.CurveP521:
		return "P-521"
	default:
		return fmt.Sprintf("0x%04X", uint16(curve))
	}
}
