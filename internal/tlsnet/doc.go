// Package tlsnet is a drop-in TLS substitute for a TCP listener and stream
// pair.
//
// Bind binds a socket and builds one immutable TLS context from a key and
// certificate file. Every accepted connection gets a fresh server handshake
// from that context before it is handed out as a Stream:
//
//	ln, err := tlsnet.Bind("127.0.0.1:8443", "server.key", "server.crt")
//	if err != nil {
//	    return err
//	}
//	defer ln.Close()
//
//	for stream, err := range ln.Incoming() {
//	    if tlsnet.IsClosed(err) {
//	        break
//	    }
//	    if err != nil {
//	        continue
//	    }
//	    go handle(stream)
//	}
//
// Errors are *tls.Error values of kind io or tls from the internal/tls
// package. Handshake failures affect only the connection being accepted.
package tlsnet
