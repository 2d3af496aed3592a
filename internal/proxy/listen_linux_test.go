package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestKeepAliveListenerSetsSocketOptions(t *testing.T) {
	t.Parallel()

	ka := net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 30 * time.Second, Count: 3}
	ln, err := ListenTCP(context.Background(), "tcp", "127.0.0.1:0", ka)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			_ = c.Close()
		}
	}()

	c, err := ln.Accept()
	require.NoError(t, err)
	defer c.Close()

	rc, err := c.(*net.TCPConn).SyscallConn()
	require.NoError(t, err)
	got := map[int]int{}
	var serr error
	require.NoError(t, rc.Control(func(fd uintptr) {
		for _, opt := range []int{unix.TCP_KEEPIDLE, unix.TCP_KEEPINTVL, unix.TCP_KEEPCNT} {
			v, err := unix.GetsockoptInt(int(fd), unix.IPPROTO_TCP, opt)
			if err != nil {
				serr = err
				return
			}
			got[opt] = v
		}
		v, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE)
		if err != nil {
			serr = err
			return
		}
		got[unix.SO_KEEPALIVE] = v
	}))
	require.NoError(t, serr)

	require.Equal(t, 1, got[unix.SO_KEEPALIVE])
	require.Equal(t, 45, got[unix.TCP_KEEPIDLE])
	require.Equal(t, 30, got[unix.TCP_KEEPINTVL])
	require.Equal(t, 3, got[unix.TCP_KEEPCNT])
}
