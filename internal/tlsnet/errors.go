package tlsnet

import (
	"errors"
	"net"
)

// ErrStreamShutdown is the cause of I/O errors on a direction that was shut down.
var ErrStreamShutdown = errors.New("stream direction shut down")

// IsClosed reports whether err came from using a closed listener or a closed
// stream. A stream with only one direction shut down is not closed.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
