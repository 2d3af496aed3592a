package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

func StartSingleAcceptServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	})

	wait := func() {
		_ = ln.Close()
		wg.Wait()
	}

	return ln, wait
}

// TCPPair returns both ends of a fresh loopback connection: the accepted
// server side and the dialing client side. Both are closed on test cleanup.
func TCPPair(t *testing.T) (server, client *net.TCPConn) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	d := net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	s, ok := <-accepted
	if !ok {
		_ = c.Close()
		t.Fatal("accept failed")
	}

	t.Cleanup(func() {
		_ = s.Close()
		_ = c.Close()
	})

	return s.(*net.TCPConn), c.(*net.TCPConn)
}

// WaitQueued polls until c's receive queue holds at least n bytes, as seen by
// a peek. Tests use it to make sure written bytes have crossed loopback.
func WaitQueued(t *testing.T, peek func([]byte) (int, error), n int) {
	t.Helper()

	buf := make([]byte, n)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := peek(buf)
		if err == nil && got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queued bytes", n)
}
