package sniff

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pires/go-proxyproto"

	"github.com/die-net/anystream/internal/metrics"
	"github.com/die-net/anystream/internal/sock"
)

var (
	// ErrDetectionNotReady is returned by PeerAddr before detection has run.
	ErrDetectionNotReady = errors.New("sniff: proxy protocol detection has not run yet")

	// ErrInvalidAddressFamily is returned by PeerAddr when the header carries
	// no IPv4 or IPv6 source, as with UNKNOWN, LOCAL or AF_UNIX headers.
	ErrInvalidAddressFamily = errors.New("sniff: proxy header has no IPv4 or IPv6 source address")
)

// State is the outcome of detection. It starts at StateUnknown and moves
// exactly once to one of the other, terminal, states.
type State uint32

const (
	StateUnknown State = iota
	StateProxyV1
	StateProxyV2
	StateNormal
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateProxyV1:
		return "proxy_v1"
	case StateProxyV2:
		return "proxy_v2"
	case StateNormal:
		return "normal"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

type detection struct {
	state  State
	header *proxyproto.Header
}

// Sniffer wraps a socket that may start with a PROXY protocol header. It
// owns the socket; closing the Sniffer closes it.
//
// Detection is driven by the reading goroutine. Its result is published
// atomically, so PeerAddr and friends may be called from a writer goroutine.
type Sniffer struct {
	sock   *sock.Socket
	result atomic.Pointer[detection]
}

func New(s *sock.Socket) *Sniffer {
	return &Sniffer{sock: s}
}

// Socket returns the wrapped socket.
func (s *Sniffer) Socket() *sock.Socket {
	return s.sock
}

func (s *Sniffer) State() State {
	if d := s.result.Load(); d != nil {
		return d.state
	}
	return StateUnknown
}

// Header returns the decoded PROXY header, or nil unless the state is
// StateProxyV1 or StateProxyV2.
func (s *Sniffer) Header() *proxyproto.Header {
	if d := s.result.Load(); d != nil {
		return d.header
	}
	return nil
}

// Detect runs detection without reading payload. In non-blocking mode it
// returns sock.ErrWouldBlock while the header is still incomplete.
func (s *Sniffer) Detect() error {
	return s.detect(!s.sock.Nonblocking())
}

func (s *Sniffer) detect(wait bool) error {
	if s.result.Load() != nil {
		return nil
	}

	buf := make([]byte, peekSize)
	want := 1
	for {
		var (
			n   int
			err error
		)
		if wait {
			n, err = s.sock.PeekWait(buf, want)
		} else {
			n, err = s.sock.Peek(buf, want)
		}
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return err
		}

		v, hdrLen := frame(buf[:n])
		switch v {
		case verdictHeader:
			return s.consume(buf[:hdrLen])
		case verdictNormal:
			s.settle(StateNormal, nil)
			return nil
		}

		if eof {
			// The peer stopped before completing a header.
			s.settle(StateNormal, nil)
			return nil
		}
		if !wait {
			return sock.ErrWouldBlock
		}
		want = n + 1
	}
}

func (s *Sniffer) consume(hdr []byte) error {
	header, err := proxyproto.Read(bufio.NewReader(bytes.NewReader(hdr)))
	if err != nil {
		s.settle(StateNormal, nil)
		return nil
	}

	if err := s.sock.Discard(len(hdr)); err != nil {
		return err
	}

	state := StateProxyV1
	if header.Version == 2 {
		state = StateProxyV2
	}
	s.settle(state, header)
	return nil
}

func (s *Sniffer) settle(state State, header *proxyproto.Header) {
	if s.result.CompareAndSwap(nil, &detection{state: state, header: header}) {
		metrics.DetectionsTotal.WithLabelValues(state.String()).Inc()
	}
}

// Read runs detection on first use, then reads payload from the socket.
func (s *Sniffer) Read(b []byte) (int, error) {
	if err := s.detect(!s.sock.Nonblocking()); err != nil {
		return 0, err
	}
	return s.sock.Read(b)
}

// ReadWait is Read in blocking mode regardless of the non-blocking flag.
func (s *Sniffer) ReadWait(b []byte) (int, error) {
	if err := s.detect(true); err != nil {
		return 0, err
	}
	return s.sock.ReadWait(b)
}

func (s *Sniffer) Write(b []byte) (int, error) {
	return s.sock.Write(b)
}

func (s *Sniffer) WriteWait(b []byte) (int, error) {
	return s.sock.WriteWait(b)
}

func (s *Sniffer) Flush() error {
	return s.sock.Flush()
}

// PeerAddr returns the client address carried by the PROXY header, or the
// socket's peer when the connection was not PROXY-wrapped.
func (s *Sniffer) PeerAddr() (net.Addr, error) {
	d := s.result.Load()
	if d == nil {
		return nil, ErrDetectionNotReady
	}
	if d.state == StateNormal {
		return s.sock.PeerAddr()
	}

	addr, ok := ipAddr(d.header.SourceAddr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddressFamily, d.state)
	}
	return addr, nil
}

// RemoteAddr is PeerAddr without the error: before detection, or for headers
// without an IP source, it falls back to the socket's peer.
func (s *Sniffer) RemoteAddr() net.Addr {
	if addr, err := s.PeerAddr(); err == nil {
		return addr
	}
	return s.sock.RemoteAddr()
}

// LocalAddr returns the destination the client originally connected to when
// the PROXY header carries one, and the socket's local address otherwise.
func (s *Sniffer) LocalAddr() net.Addr {
	if d := s.result.Load(); d != nil && d.header != nil {
		if addr, ok := ipAddr(d.header.DestinationAddr); ok {
			return addr
		}
	}
	return s.sock.LocalAddr()
}

func ipAddr(a net.Addr) (*net.TCPAddr, bool) {
	var ta *net.TCPAddr
	switch a := a.(type) {
	case *net.TCPAddr:
		if a != nil {
			ta = a
		}
	case *net.UDPAddr:
		if a != nil {
			ta = &net.TCPAddr{IP: a.IP, Port: a.Port, Zone: a.Zone}
		}
	}
	if ta == nil || (ta.IP.To4() == nil && len(ta.IP) != net.IPv6len) {
		return nil, false
	}
	return ta, true
}

func (s *Sniffer) SetNonblocking(nonblocking bool) error {
	return s.sock.SetNonblocking(nonblocking)
}

func (s *Sniffer) SetReadTimeout(d time.Duration) error {
	return s.sock.SetReadTimeout(d)
}

func (s *Sniffer) Shutdown(how sock.ShutdownHow) error {
	return s.sock.Shutdown(how)
}

func (s *Sniffer) SetDeadline(t time.Time) error {
	return s.sock.SetDeadline(t)
}

func (s *Sniffer) SetReadDeadline(t time.Time) error {
	return s.sock.SetReadDeadline(t)
}

func (s *Sniffer) SetWriteDeadline(t time.Time) error {
	return s.sock.SetWriteDeadline(t)
}

func (s *Sniffer) Close() error {
	return s.sock.Close()
}
