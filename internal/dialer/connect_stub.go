//go:build !unix

package dialer

import (
	"errors"
	"net"

	"github.com/die-net/anystream/internal/sock"
)

var errUnsupported = errors.New("dialer: non-blocking connect is only supported on unix")

func connect(_ *net.TCPAddr) (*sock.Socket, bool, error) {
	return nil, false, errUnsupported
}
