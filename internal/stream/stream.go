package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/die-net/anystream/internal/sniff"
	"github.com/die-net/anystream/internal/sock"
)

// ErrWouldBlock is returned by Read and Write in non-blocking mode when no
// progress is possible yet.
var ErrWouldBlock = sock.ErrWouldBlock

// Stream is the capability shared by every layering of a connection.
type Stream interface {
	io.ReadWriteCloser

	// Flush pushes out anything buffered by the stream.
	Flush() error

	// SetNonblocking applies to the underlying socket.
	SetNonblocking(nonblocking bool) error

	// PeerAddr returns the real client address: the one forwarded in a
	// PROXY header when present, the socket peer otherwise.
	PeerAddr() (net.Addr, error)

	// Shutdown is always applied to the underlying socket.
	Shutdown(how sock.ShutdownHow) error

	// SetReadTimeout bounds each later read. Zero disables it.
	SetReadTimeout(d time.Duration) error
}

// layer is implemented by *sock.Socket, *sniff.Sniffer and *tlsLayer.
type layer interface {
	net.Conn

	Flush() error
	SetNonblocking(nonblocking bool) error
	PeerAddr() (net.Addr, error)
	Shutdown(how sock.ShutdownHow) error
	SetReadTimeout(d time.Duration) error

	ReadWait(b []byte) (int, error)
	WriteWait(b []byte) (int, error)
}

var (
	_ layer = (*sock.Socket)(nil)
	_ layer = (*sniff.Sniffer)(nil)
	_ layer = (*tlsLayer)(nil)

	_ Stream   = (*Conn)(nil)
	_ net.Conn = (*Conn)(nil)
)

// Kind names the layering chosen at build time.
type Kind int

const (
	KindPlain Kind = iota
	KindSniffed
	KindTLS
	KindTLSSniffed
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindSniffed:
		return "sniffed"
	case KindTLS:
		return "tls"
	case KindTLSSniffed:
		return "tls_sniffed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Conn is a connection with its layering fixed at build time. It implements
// both Stream and net.Conn.
//
// One goroutine may read while another writes. Other methods are safe to
// call concurrently with either.
type Conn struct {
	kind    Kind
	top     layer
	sniffer *sniff.Sniffer
	tls     *tlsLayer
}

func (c *Conn) Kind() Kind {
	return c.kind
}

// Read returns payload bytes. On a sniffed connection the first call
// detects and strips a PROXY header first.
func (c *Conn) Read(b []byte) (int, error) {
	return c.top.Read(b)
}

// Write writes b. TLS connections always wait until the whole record is
// written, even in non-blocking mode.
func (c *Conn) Write(b []byte) (int, error) {
	return c.top.Write(b)
}

func (c *Conn) Flush() error {
	return c.top.Flush()
}

func (c *Conn) SetNonblocking(nonblocking bool) error {
	return c.top.SetNonblocking(nonblocking)
}

func (c *Conn) PeerAddr() (net.Addr, error) {
	return c.top.PeerAddr()
}

func (c *Conn) Shutdown(how sock.ShutdownHow) error {
	return c.top.Shutdown(how)
}

func (c *Conn) SetReadTimeout(d time.Duration) error {
	return c.top.SetReadTimeout(d)
}

func (c *Conn) Close() error {
	return c.top.Close()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.top.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.top.RemoteAddr()
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.top.SetDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.top.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.top.SetWriteDeadline(t)
}

// Detect runs PROXY header detection without reading payload. It is a no-op
// on connections built without ProxyProtocol. In non-blocking mode it
// returns ErrWouldBlock until a pending header is complete.
func (c *Conn) Detect() error {
	if c.sniffer == nil {
		return nil
	}
	return c.sniffer.Detect()
}

// DetectionState reports the sniffer's state, or StateNormal on connections
// built without ProxyProtocol.
func (c *Conn) DetectionState() sniff.State {
	if c.sniffer == nil {
		return sniff.StateNormal
	}
	return c.sniffer.State()
}

// Handshake runs the TLS handshake now instead of on first Read or Write.
// It waits for the peer even in non-blocking mode. It is a no-op on
// connections without TLS.
func (c *Conn) Handshake(ctx context.Context) error {
	if c.tls == nil {
		return nil
	}
	return c.tls.handshake(ctx)
}

// ConnectionState returns the TLS state and true when TLS is layered.
func (c *Conn) ConnectionState() (tls.ConnectionState, bool) {
	if c.tls == nil {
		return tls.ConnectionState{}, false
	}
	return c.tls.conn.ConnectionState(), true
}
