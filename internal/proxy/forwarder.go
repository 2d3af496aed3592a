package proxy

import (
	"context"

	"github.com/die-net/anystream/internal/sock"
)

// Forwarder opens the upstream socket. *dialer.Dialer implements it.
type Forwarder interface {
	Dial(ctx context.Context, address string) (*sock.Socket, error)
}
