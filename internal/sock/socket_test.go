package sock

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/die-net/anystream/internal/testutil"
)

func newPair(t *testing.T) (*Socket, *net.TCPConn) {
	t.Helper()

	server, client := testutil.TCPPair(t)
	s, err := New(server)
	require.NoError(t, err)
	return s, client
}

func TestPeekDoesNotConsume(t *testing.T) {
	t.Parallel()

	s, client := newPair(t)
	_, err := client.Write([]byte("hello world"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := s.Peek(buf, 11)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))

	n, err = s.Peek(buf, 11)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))

	got := make([]byte, 11)
	_, err = io.ReadFull(s, got)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestPeekWaitsForMinimum(t *testing.T) {
	t.Parallel()

	s, client := newPair(t)
	_, err := client.Write([]byte("abc"))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = client.Write([]byte("def"))
	}()

	buf := make([]byte, 64)
	n, err := s.Peek(buf, 6)
	require.NoError(t, err)
	require.Equal(t, "abcdef", string(buf[:n]))
}

func TestPeekReturnsShortWhenPeerCloses(t *testing.T) {
	t.Parallel()
	if runtime.GOOS != "linux" {
		t.Skip("half-close detection during peek is precise only on linux")
	}

	s, client := newPair(t)
	require.NoError(t, s.SetReadTimeout(5*time.Second))
	_, err := client.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, client.CloseWrite())

	buf := make([]byte, 64)
	n, err := s.Peek(buf, 10)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, "abc", string(buf[:n]))
}

func TestPeekEOFWithoutData(t *testing.T) {
	t.Parallel()

	s, client := newPair(t)
	require.NoError(t, s.SetReadTimeout(5*time.Second))
	require.NoError(t, client.Close())

	n, err := s.Peek(make([]byte, 8), 1)
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, n)
}

func TestNonblockingReadWouldBlock(t *testing.T) {
	t.Parallel()

	s, client := newPair(t)
	require.NoError(t, s.SetNonblocking(true))
	require.True(t, s.Nonblocking())

	buf := make([]byte, 16)
	_, err := s.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)

	_, err = s.Peek(buf, 1)
	require.ErrorIs(t, err, ErrWouldBlock)

	var ne net.Error
	require.True(t, errors.As(err, &ne))
	require.True(t, ne.Timeout())

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	testutil.WaitQueued(t, func(b []byte) (int, error) { return s.Peek(b, len(b)) }, 4)

	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestNonblockingReadEOF(t *testing.T) {
	t.Parallel()

	s, client := newPair(t)
	require.NoError(t, s.SetNonblocking(true))
	require.NoError(t, client.Close())

	buf := make([]byte, 16)
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := s.Read(buf)
		if errors.Is(err, ErrWouldBlock) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
			continue
		}
		require.ErrorIs(t, err, io.EOF)
		return
	}
}

func TestReadTimeout(t *testing.T) {
	t.Parallel()

	s, _ := newPair(t)
	require.NoError(t, s.SetReadTimeout(20*time.Millisecond))

	_, err := s.Read(make([]byte, 1))
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)

	_, err = s.Peek(make([]byte, 1), 1)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)

	require.Error(t, s.SetReadTimeout(-time.Second))
}

func TestShutdownWrite(t *testing.T) {
	t.Parallel()

	s, client := newPair(t)
	_, err := s.Write([]byte("bye"))
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(ShutdownWrite))

	got, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Equal(t, "bye", string(got))

	// The read half stays open.
	_, err = client.Write([]byte("still here"))
	require.NoError(t, err)
	buf := make([]byte, 10)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	require.Equal(t, "still here", string(buf))
}

func TestShutdownBoth(t *testing.T) {
	t.Parallel()

	s, client := newPair(t)
	require.NoError(t, s.Shutdown(ShutdownBoth))

	_, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Error(t, s.Shutdown(ShutdownHow(42)))
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	s, client := newPair(t)
	_, err := client.Write([]byte("headerpayload"))
	require.NoError(t, err)
	testutil.WaitQueued(t, func(b []byte) (int, error) { return s.Peek(b, len(b)) }, 13)

	require.NoError(t, s.Discard(6))
	buf := make([]byte, 7)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf))
}

func TestPeerAddr(t *testing.T) {
	t.Parallel()

	s, client := newPair(t)
	peer, err := s.PeerAddr()
	require.NoError(t, err)
	require.Equal(t, client.LocalAddr().String(), peer.String())
	require.Equal(t, client.RemoteAddr().String(), s.LocalAddr().String())
}

func TestWaitConnectedOnEstablished(t *testing.T) {
	t.Parallel()

	s, _ := newPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.WaitConnected(ctx))
}

func TestShutdownHowString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "read", ShutdownRead.String())
	require.Equal(t, "write", ShutdownWrite.String())
	require.Equal(t, "both", ShutdownBoth.String())
	require.Equal(t, "ShutdownHow(7)", ShutdownHow(7).String())
}
