package stream

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
	"time"

	"github.com/die-net/anystream/internal/sock"
)

// tlsLayer runs crypto/tls over an inner layer.
//
// crypto/tls treats a failed write, and any error during the handshake, as
// permanent. So the handshake and every record write wait for readiness.
// Once the handshake is done, record reads follow the non-blocking flag: a
// would-block read is a temporary net.Error, which crypto/tls resumes from.
type tlsLayer struct {
	inner layer
	conn  *tls.Conn

	handshaken atomic.Bool
	waitRead   atomic.Bool
}

func newTLSClient(inner layer, cfg *tls.Config) *tlsLayer {
	l := &tlsLayer{inner: inner}
	l.conn = tls.Client(transport{l}, cfg)
	return l
}

func newTLSServer(inner layer, cfg *tls.Config) *tlsLayer {
	l := &tlsLayer{inner: inner}
	l.conn = tls.Server(transport{l}, cfg)
	return l
}

func (l *tlsLayer) handshake(ctx context.Context) error {
	if l.handshaken.Load() {
		return nil
	}
	if err := l.conn.HandshakeContext(ctx); err != nil {
		return err
	}
	l.handshaken.Store(true)
	return nil
}

func (l *tlsLayer) Read(b []byte) (int, error) {
	if err := l.handshake(context.Background()); err != nil {
		return 0, err
	}
	return l.conn.Read(b)
}

func (l *tlsLayer) ReadWait(b []byte) (int, error) {
	l.waitRead.Store(true)
	defer l.waitRead.Store(false)
	return l.Read(b)
}

func (l *tlsLayer) Write(b []byte) (int, error) {
	if err := l.handshake(context.Background()); err != nil {
		return 0, err
	}
	return l.conn.Write(b)
}

func (l *tlsLayer) WriteWait(b []byte) (int, error) {
	return l.Write(b)
}

// tls.Conn writes each record as it is produced, so there is nothing of its
// own to flush.
func (l *tlsLayer) Flush() error {
	return l.inner.Flush()
}

func (l *tlsLayer) SetNonblocking(nonblocking bool) error {
	return l.inner.SetNonblocking(nonblocking)
}

func (l *tlsLayer) PeerAddr() (net.Addr, error) {
	return l.inner.PeerAddr()
}

func (l *tlsLayer) Shutdown(how sock.ShutdownHow) error {
	return l.inner.Shutdown(how)
}

func (l *tlsLayer) SetReadTimeout(d time.Duration) error {
	return l.inner.SetReadTimeout(d)
}

// Close sends close_notify if the handshake completed, then closes the
// socket.
func (l *tlsLayer) Close() error {
	return l.conn.Close()
}

func (l *tlsLayer) LocalAddr() net.Addr {
	return l.inner.LocalAddr()
}

func (l *tlsLayer) RemoteAddr() net.Addr {
	return l.inner.RemoteAddr()
}

func (l *tlsLayer) SetDeadline(t time.Time) error {
	return l.conn.SetDeadline(t)
}

func (l *tlsLayer) SetReadDeadline(t time.Time) error {
	return l.conn.SetReadDeadline(t)
}

func (l *tlsLayer) SetWriteDeadline(t time.Time) error {
	return l.conn.SetWriteDeadline(t)
}

// transport is the net.Conn crypto/tls reads records from and writes
// records to.
type transport struct {
	l *tlsLayer
}

func (t transport) Read(b []byte) (int, error) {
	if !t.l.handshaken.Load() || t.l.waitRead.Load() {
		return t.l.inner.ReadWait(b)
	}
	return t.l.inner.Read(b)
}

func (t transport) Write(b []byte) (int, error) {
	return t.l.inner.WriteWait(b)
}

func (t transport) Close() error {
	return t.l.inner.Close()
}

func (t transport) LocalAddr() net.Addr {
	return t.l.inner.LocalAddr()
}

func (t transport) RemoteAddr() net.Addr {
	return t.l.inner.RemoteAddr()
}

func (t transport) SetDeadline(d time.Time) error {
	return t.l.inner.SetDeadline(d)
}

func (t transport) SetReadDeadline(d time.Time) error {
	return t.l.inner.SetReadDeadline(d)
}

func (t transport) SetWriteDeadline(d time.Time) error {
	return t.l.inner.SetWriteDeadline(d)
}
