package sock

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"
)

// ShutdownHow selects which half of a connection Shutdown closes.
type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

func (h ShutdownHow) String() string {
	switch h {
	case ShutdownRead:
		return "read"
	case ShutdownWrite:
		return "write"
	case ShutdownBoth:
		return "both"
	default:
		return fmt.Sprintf("ShutdownHow(%d)", int(h))
	}
}

// Socket is the innermost layer of every stream: one TCP connection owned
// exclusively by the Socket. One goroutine may read while another writes.
type Socket struct {
	conn *net.TCPConn
	raw  syscall.RawConn
	peer net.Addr

	nonblocking atomic.Bool
	readTimeout atomic.Int64
}

// New wraps an established connection, typically one returned by Accept.
func New(tc *net.TCPConn) (*Socket, error) {
	return Dialed(tc, nil)
}

// Dialed wraps a connection whose connect(2) may still be in flight. peer is
// reported by RemoteAddr until the kernel knows the peer itself.
func Dialed(tc *net.TCPConn, peer *net.TCPAddr) (*Socket, error) {
	raw, err := tc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("sock: %w", err)
	}

	s := &Socket{conn: tc, raw: raw}
	if peer != nil {
		s.peer = peer
	}
	return s, nil
}

// TCPConn returns the underlying connection. Reading from it directly
// bypasses any detection state kept by outer layers.
func (s *Socket) TCPConn() *net.TCPConn {
	return s.conn
}

// Nonblocking reports whether Read, Write and Peek make a single attempt.
func (s *Socket) Nonblocking() bool {
	return s.nonblocking.Load()
}

// SetNonblocking switches between single-attempt and waiting I/O. Entering
// non-blocking mode clears any read deadline armed by an earlier waiting read.
func (s *Socket) SetNonblocking(nonblocking bool) error {
	s.nonblocking.Store(nonblocking)
	if nonblocking {
		return s.conn.SetReadDeadline(time.Time{})
	}
	return nil
}

// SetReadTimeout bounds every later waiting read or peek to d. Zero disables
// the timeout. An expired timeout surfaces as os.ErrDeadlineExceeded.
func (s *Socket) SetReadTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("sock: negative read timeout %s", d)
	}
	s.readTimeout.Store(int64(d))
	if d == 0 {
		return s.conn.SetReadDeadline(time.Time{})
	}
	return nil
}

func (s *Socket) armReadDeadline() {
	if d := time.Duration(s.readTimeout.Load()); d > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// disarmIfNonblocking clears a deadline armed for a waiting call made while
// the socket is in non-blocking mode, so later single attempts never see it.
func (s *Socket) disarmIfNonblocking() {
	if s.nonblocking.Load() && s.readTimeout.Load() > 0 {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
}

func (s *Socket) Read(b []byte) (int, error) {
	if s.nonblocking.Load() {
		return s.readOnce(b)
	}
	return s.ReadWait(b)
}

// ReadWait reads like net.Conn.Read, waiting for data even in non-blocking
// mode.
func (s *Socket) ReadWait(b []byte) (int, error) {
	defer s.disarmIfNonblocking()
	s.armReadDeadline()
	return s.conn.Read(b)
}

func (s *Socket) Write(b []byte) (int, error) {
	if s.nonblocking.Load() {
		return s.writeOnce(b)
	}
	return s.WriteWait(b)
}

// WriteWait writes all of b, waiting for buffer space even in non-blocking
// mode.
func (s *Socket) WriteWait(b []byte) (int, error) {
	return s.conn.Write(b)
}

// Flush is a no-op: writes go straight to the kernel.
func (s *Socket) Flush() error {
	return nil
}

// Peek copies up to len(b) queued bytes into b without consuming them.
//
// In blocking mode it waits until at least want bytes are queued, the peer
// stops sending, or the read timeout expires. In non-blocking mode it makes a
// single attempt and returns ErrWouldBlock when nothing is queued. Fewer than
// want bytes with io.EOF means the peer has closed its side and nothing beyond
// those bytes will arrive.
func (s *Socket) Peek(b []byte, want int) (int, error) {
	wait := !s.nonblocking.Load()
	if wait {
		s.armReadDeadline()
	}
	return s.peek(b, want, wait)
}

// PeekWait is Peek in blocking mode regardless of the non-blocking flag.
func (s *Socket) PeekWait(b []byte, want int) (int, error) {
	defer s.disarmIfNonblocking()
	s.armReadDeadline()
	return s.peek(b, want, true)
}

// Discard consumes exactly n bytes that a previous Peek saw queued.
func (s *Socket) Discard(n int) error {
	if n <= 0 {
		return nil
	}
	defer s.disarmIfNonblocking()
	s.armReadDeadline()
	if _, err := io.ReadFull(s.conn, make([]byte, n)); err != nil {
		return fmt.Errorf("sock: discard %d bytes: %w", n, err)
	}
	return nil
}

// Shutdown shuts down one or both halves of the connection with shutdown(2).
func (s *Socket) Shutdown(how ShutdownHow) error {
	if err := s.shutdown(how); err != nil {
		return fmt.Errorf("sock: shutdown %s: %w", how, err)
	}
	return nil
}

// PeerAddr returns the address of the connected peer.
func (s *Socket) PeerAddr() (net.Addr, error) {
	if a := s.RemoteAddr(); a != nil {
		return a, nil
	}
	return nil, errNoPeer
}

func (s *Socket) RemoteAddr() net.Addr {
	if a := s.conn.RemoteAddr(); a != nil {
		return a
	}
	return s.peer
}

func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Socket) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

func (s *Socket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *Socket) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

func (s *Socket) Close() error {
	err := s.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
