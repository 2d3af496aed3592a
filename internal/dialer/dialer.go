package dialer

import (
	"context"
	"fmt"

	"github.com/die-net/anystream/internal/dnscache"
	"github.com/die-net/anystream/internal/metrics"
	"github.com/die-net/anystream/internal/sock"
)

type Dialer struct {
	cfg   Config
	cache *dnscache.Cache
}

// New returns a Dialer resolving through cache. A nil cache gets a private
// one with default settings.
func New(cfg Config, cache *dnscache.Cache) *Dialer {
	if cache == nil {
		cache = dnscache.New(dnscache.Config{})
	}
	return &Dialer{cfg: cfg, cache: cache}
}

// Connect resolves address ("host:port") and starts a non-blocking connect
// to it. The returned socket is in non-blocking mode and may still be
// connecting. On error no descriptor is left open.
func (d *Dialer) Connect(ctx context.Context, address string) (*sock.Socket, error) {
	addr, err := d.cache.Resolve(ctx, address)
	if err != nil {
		metrics.ConnectsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dialer: %w", err)
	}

	s, inProgress, err := connect(addr)
	if err != nil {
		metrics.ConnectsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dialer: connect %s: %w", addr, err)
	}

	if err := s.SetNonblocking(true); err != nil {
		_ = s.Close()
		metrics.ConnectsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dialer: %w", err)
	}
	if err := s.TCPConn().SetKeepAliveConfig(d.cfg.KeepAlive); err != nil {
		_ = s.Close()
		metrics.ConnectsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dialer: keepalive: %w", err)
	}

	if inProgress {
		metrics.ConnectsTotal.WithLabelValues("in_progress").Inc()
	} else {
		metrics.ConnectsTotal.WithLabelValues("connected").Inc()
	}
	return s, nil
}

// Dial is Connect followed by waiting for the connection to be established,
// bounded by DialTimeout. The returned socket is in blocking mode.
func (d *Dialer) Dial(ctx context.Context, address string) (*sock.Socket, error) {
	if d.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DialTimeout)
		defer cancel()
	}

	s, err := d.Connect(ctx, address)
	if err != nil {
		return nil, err
	}

	if err := s.WaitConnected(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("dialer: connect %s: %w", address, err)
	}
	if err := s.SetNonblocking(false); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("dialer: %w", err)
	}
	return s, nil
}
