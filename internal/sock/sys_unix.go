//go:build unix

package sock

import (
	"context"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func isAgain(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

func retryEINTR(fn func() (int, error)) (int, error) {
	for {
		n, err := fn()
		if err != unix.EINTR {
			return n, err
		}
	}
}

func (s *Socket) readOnce(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	var (
		n    int
		serr error
	)
	err := s.raw.Read(func(fd uintptr) bool {
		n, serr = retryEINTR(func() (int, error) { return unix.Read(int(fd), b) })
		return true
	})
	switch {
	case err != nil:
		return 0, err
	case isAgain(serr):
		return 0, ErrWouldBlock
	case serr != nil:
		return 0, os.NewSyscallError("read", serr)
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

func (s *Socket) writeOnce(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	var (
		n    int
		serr error
	)
	err := s.raw.Write(func(fd uintptr) bool {
		n, serr = retryEINTR(func() (int, error) { return unix.Write(int(fd), b) })
		return true
	})
	switch {
	case err != nil:
		return 0, err
	case isAgain(serr):
		return 0, ErrWouldBlock
	case serr != nil:
		return 0, os.NewSyscallError("write", serr)
	case n < len(b):
		return n, ErrWouldBlock
	}
	return n, nil
}

func (s *Socket) peek(b []byte, want int, wait bool) (int, error) {
	var (
		n     int
		serr  error
		again bool
		eof   bool
		prev  = -1
	)
	err := s.raw.Read(func(fd uintptr) bool {
		n, serr = retryEINTR(func() (int, error) {
			n, _, err := unix.Recvfrom(int(fd), b, unix.MSG_PEEK)
			return n, err
		})
		again = isAgain(serr)
		switch {
		case again:
			return !wait
		case serr != nil:
			return true
		case n == 0:
			eof = true
			return true
		case n >= want, n == len(b):
			return true
		case peerClosed(int(fd)):
			eof = true
			return true
		case !precisePeerClose && n == prev:
			// Woken without new bytes: the peer has stopped sending.
			eof = true
			return true
		}
		prev = n
		return !wait
	})
	switch {
	case err != nil:
		return 0, err
	case again:
		return 0, ErrWouldBlock
	case serr != nil:
		return 0, os.NewSyscallError("recvfrom", serr)
	case eof:
		return n, io.EOF
	}
	return n, nil
}

func (s *Socket) shutdown(how ShutdownHow) error {
	var sysHow int
	switch how {
	case ShutdownRead:
		sysHow = unix.SHUT_RD
	case ShutdownWrite:
		sysHow = unix.SHUT_WR
	case ShutdownBoth:
		sysHow = unix.SHUT_RDWR
	default:
		return unix.EINVAL
	}

	var serr error
	if err := s.raw.Control(func(fd uintptr) {
		serr = unix.Shutdown(int(fd), sysHow)
	}); err != nil {
		return err
	}
	if serr != nil {
		return os.NewSyscallError("shutdown", serr)
	}
	return nil
}

// WaitConnected blocks until an in-flight non-blocking connect completes,
// returning the connect error if it failed. It returns immediately on a
// socket that is already connected.
func (s *Socket) WaitConnected(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer func() {
		stop()
		_ = s.conn.SetWriteDeadline(time.Time{})
	}()

	var serr error
	err := s.raw.Write(func(fd uintptr) bool {
		errno, gerr := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		switch {
		case gerr != nil:
			serr = gerr
			return true
		case errno != 0:
			serr = unix.Errno(errno)
			return true
		}
		_, perr := unix.Getpeername(int(fd))
		return perr == nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if serr != nil {
		return os.NewSyscallError("connect", serr)
	}
	return nil
}
