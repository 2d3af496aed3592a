package proxy

import (
	"crypto/tls"
	"crypto/x509"
	"time"
)

type Config struct {
	// Upstream is the "host:port" every accepted client is relayed to.
	Upstream string

	// ProxyProtocol accepts an optional PROXY v1/v2 header from clients.
	ProxyProtocol bool

	// TLS, if set, terminates TLS from clients.
	TLS *tls.Config

	// UpstreamTLS is the hostname to verify the upstream against. Empty
	// means plain TCP to the upstream.
	UpstreamTLS     string
	UpstreamRootCAs *x509.CertPool

	// UpstreamProxyHeader is the PROXY protocol version (1 or 2) written to
	// the upstream before any payload. Zero sends none.
	UpstreamProxyHeader byte

	// NegotiationTimeout bounds PROXY detection and the client TLS
	// handshake.
	NegotiationTimeout time.Duration

	// IdleTimeout closes a relayed connection after a read waits this long
	// in either direction. Zero disables it.
	IdleTimeout time.Duration

	Dialer Forwarder
}
