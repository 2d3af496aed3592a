package proxy

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/anystream/internal/metrics"
	"github.com/die-net/anystream/internal/sock"
	"github.com/die-net/anystream/internal/stream"
)

var copyBuffers = newBufferPool(copyBufferSize)

// CopyBidirectional copies client to upstream and upstream to client until
// both directions are done, then closes both.
//
// When one direction reaches EOF, the write half of its destination is shut
// down so the far side sees EOF too. An error in either direction, or ctx
// being done, closes both immediately. With a non-zero idleTimeout the
// connection is dropped once neither direction has moved a byte for that
// long.
func CopyBidirectional(ctx context.Context, client, upstream stream.Stream, idleTimeout time.Duration) error {
	var last atomic.Int64
	last.Store(time.Now().UnixNano())

	if idleTimeout > 0 {
		_ = client.SetReadTimeout(idleTimeout)
		_ = upstream.SetReadTimeout(idleTimeout)
	}

	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	done := make(chan struct{})
	defer close(done)

	h := halfCopier{last: &last, idle: idleTimeout}
	g.Go(func() error {
		return h.copy(upstream, client, "upstream")
	})

	g.Go(func() error {
		return h.copy(client, upstream, "downstream")
	})

	// Close both sides to unblock the copies on cancellation or on the first
	// error.
	go func() {
		select {
		case <-gctx.Done():
			closeBoth()
		case <-done:
		}
	}()

	return g.Wait()
}

type halfCopier struct {
	last *atomic.Int64
	idle time.Duration
}

func (h halfCopier) copy(dst, src stream.Stream, direction string) error {
	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)

	counter := metrics.RelayBytesTotal.WithLabelValues(direction)
	for {
		nr, rerr := src.Read(*buf)
		if nr > 0 {
			h.last.Store(time.Now().UnixNano())
			nw, werr := dst.Write((*buf)[:nr])
			counter.Add(float64(nw))
			if werr != nil {
				return werr
			}
			if nw != nr {
				return io.ErrShortWrite
			}
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF):
			if err := dst.Flush(); err != nil {
				return err
			}
			_ = dst.Shutdown(sock.ShutdownWrite)
			return nil
		case errors.Is(rerr, os.ErrDeadlineExceeded) && h.active():
			// Only this direction is quiet.
		default:
			return rerr
		}
	}
}

func (h halfCopier) active() bool {
	return h.idle > 0 && time.Since(time.Unix(0, h.last.Load())) < h.idle
}
