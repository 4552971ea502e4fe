// Package tls builds the hardened server-side TLS context used by the
// tlsnet listener.
//
// A Context pins exactly one protocol version, disables session tickets,
// installs an ordered cipher list from a versioned cipher policy and holds
// one certificate with its matching private key:
//
//   - strict/v1 (default): ECDHE with CHACHA20-POLY1305 or AES-GCM
//   - compat/v1: strict followed by ECDHE AES-CBC suites
//
// Explicit suite lists may use IANA or OpenSSL names. Suites without forward
// secrecy or with broken bulk ciphers are refused, as are finite-field DHE
// suites, which crypto/tls cannot negotiate.
//
// # Errors
//
// Every failure is an *Error of kind KindIO or KindTLS. Sentinel causes can
// be matched with errors.Is:
//
//	ctx, err := tls.BuildContext("server.key", "server.crt")
//	if errors.Is(err, tls.ErrCertificateKeyMismatch) {
//	    // wrong key for this certificate
//	}
//
// # Metrics
//
// Metrics records handshakes, handshake errors by reason, established
// connections by version and cipher suite and the leaf certificate expiry.
package tls
