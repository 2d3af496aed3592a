//go:build unix

package dialer

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/die-net/anystream/internal/sock"
)

var errNotIPv4 = errors.New("dialer: address is not IPv4")

// connect creates a non-blocking, close-on-exec IPv4 stream socket and starts
// connecting it to addr. inProgress reports whether the kernel is still
// completing the handshake.
func connect(addr *net.TCPAddr) (s *sock.Socket, inProgress bool, err error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, false, errNotIPv4
	}

	syscall.ForkLock.RLock()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, false, os.NewSyscallError("socket", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, false, os.NewSyscallError("setnonblock", err)
	}

	sa := &unix.SockaddrInet4{Port: addr.Port}
	copy(sa.Addr[:], ip4)

	switch err := unix.Connect(fd, sa); err {
	case nil:
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		inProgress = true
	default:
		_ = unix.Close(fd)
		return nil, false, os.NewSyscallError("connect", err)
	}

	// net.FileConn dups the descriptor, so the original is closed either way.
	f := os.NewFile(uintptr(fd), "tcp:"+addr.String())
	c, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		return nil, false, err
	}

	tc, ok := c.(*net.TCPConn)
	if !ok {
		_ = c.Close()
		return nil, false, fmt.Errorf("dialer: unexpected connection type %T", c)
	}

	s, err = sock.Dialed(tc, addr)
	if err != nil {
		_ = tc.Close()
		return nil, false, err
	}
	return s, inProgress, nil
}
