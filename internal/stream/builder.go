package stream

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"

	"github.com/die-net/anystream/internal/sniff"
	"github.com/die-net/anystream/internal/sock"
)

var (
	// ErrConflictingTLS is returned when a Builder asks for both a TLS
	// client and a TLS server.
	ErrConflictingTLS = errors.New("stream: TLS client and TLS server are mutually exclusive")

	// ErrInvalidHostname is returned when TLSClient is not a syntactically
	// valid hostname or IP address.
	ErrInvalidHostname = errors.New("stream: invalid TLS hostname")

	errNoSocket = errors.New("stream: builder has no socket")
)

var hostnameProfile = idna.New(
	idna.MapForLookup(),
	idna.VerifyDNSLength(true),
	idna.StrictDomainName(true),
	idna.BidiRule(),
)

// Builder describes how to wrap a socket. The zero value of every option
// means "off".
type Builder struct {
	// Socket is consumed by Build: it ends up owned by the returned Conn or
	// closed.
	Socket *sock.Socket

	// ProxyProtocol strips a leading PROXY v1 or v2 header, if the peer
	// sends one.
	ProxyProtocol bool

	// TLSClient is the hostname to verify the server against. Setting it
	// layers a TLS client.
	TLSClient string

	// TLSServer layers a TLS server using this configuration.
	TLSServer *tls.Config

	// RootCAs verifies a TLS server. Nil uses the system trust anchors.
	RootCAs *x509.CertPool
}

// Build assembles the layers, innermost first: the socket, the PROXY
// sniffer, then TLS. No I/O happens here; detection and the handshake run
// on first use or via Conn.Detect and Conn.Handshake.
func (b Builder) Build() (*Conn, error) {
	if b.Socket == nil {
		return nil, errNoSocket
	}

	c, err := b.build()
	if err != nil {
		_ = b.Socket.Close()
		return nil, err
	}
	return c, nil
}

func (b Builder) build() (*Conn, error) {
	if b.TLSClient != "" && b.TLSServer != nil {
		return nil, ErrConflictingTLS
	}

	c := &Conn{kind: KindPlain, top: b.Socket}
	if b.ProxyProtocol {
		c.sniffer = sniff.New(b.Socket)
		c.kind = KindSniffed
		c.top = c.sniffer
	}

	switch {
	case b.TLSClient != "":
		name, err := serverName(b.TLSClient)
		if err != nil {
			return nil, err
		}
		c.tls = newTLSClient(c.top, &tls.Config{
			ServerName: name,
			RootCAs:    b.RootCAs,
			MinVersion: tls.VersionTLS12,
		})
	case b.TLSServer != nil:
		c.tls = newTLSServer(c.top, b.TLSServer)
	default:
		return c, nil
	}

	c.top = c.tls
	if c.kind == KindSniffed {
		c.kind = KindTLSSniffed
	} else {
		c.kind = KindTLS
	}
	return c, nil
}

// serverName validates host and returns the name to send and verify: the
// ASCII form of a hostname, or an IP literal unchanged.
func serverName(host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}

	ascii, err := hostnameProfile.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidHostname, host, err)
	}
	if ascii == "" {
		return "", fmt.Errorf("%w %q", ErrInvalidHostname, host)
	}
	return ascii, nil
}
