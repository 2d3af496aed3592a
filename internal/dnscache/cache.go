package dnscache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/die-net/anystream/internal/metrics"
)

// DefaultTTL is how long a resolved address is served from the cache.
const DefaultTTL = 100 * time.Second

// DefaultLookupTimeout bounds one upstream resolution.
const DefaultLookupTimeout = 30 * time.Second

// ErrNoAddress is returned when resolution yields no IPv4 address.
var ErrNoAddress = errors.New("dnscache: no IPv4 address found")

// Resolver is the subset of *net.Resolver the cache needs.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	LookupPort(ctx context.Context, network, service string) (int, error)
}

type Config struct {
	// TTL defaults to DefaultTTL.
	TTL time.Duration

	// LookupTimeout defaults to DefaultLookupTimeout. It bounds the shared
	// resolution, which is not cancelled when a waiting caller gives up.
	LookupTimeout time.Duration

	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver

	// Now defaults to time.Now.
	Now func() time.Time

	// Logger, if set, receives one line per upstream resolution.
	Logger *log.Logger
}

type entry struct {
	addr     *net.TCPAddr
	resolved time.Time
}

type Cache struct {
	ttl           time.Duration
	lookupTimeout time.Duration
	resolver      Resolver
	now           func() time.Time
	logger        *log.Logger

	mu      sync.RWMutex
	entries map[string]entry

	sf singleflight.Group
}

func New(cfg Config) *Cache {
	c := &Cache{
		ttl:           cfg.TTL,
		lookupTimeout: cfg.LookupTimeout,
		resolver:      cfg.Resolver,
		now:           cfg.Now,
		logger:        cfg.Logger,
		entries:       make(map[string]entry),
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.lookupTimeout <= 0 {
		c.lookupTimeout = DefaultLookupTimeout
	}
	if c.resolver == nil {
		c.resolver = net.DefaultResolver
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Resolve returns the IPv4 address for address ("host:port" or
// "ip:port"). Fresh answers come from the cache; misses and stale entries
// are resolved again and the first IPv4 candidate is stored. IPv6
// candidates are ignored.
func (c *Cache) Resolve(ctx context.Context, address string) (*net.TCPAddr, error) {
	if addr, ok := c.lookup(address); ok {
		metrics.DNSLookupsTotal.WithLabelValues("hit").Inc()
		return addr, nil
	}

	// The shared lookup outlives any one caller's cancellation; each caller
	// stops waiting when its own ctx is done.
	lookupCtx := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(address, func() (any, error) {
		// A concurrent caller may have stored it while we waited.
		if addr, ok := c.lookup(address); ok {
			return addr, nil
		}
		lctx, cancel := context.WithTimeout(lookupCtx, c.lookupTimeout)
		defer cancel()
		return c.resolve(lctx, address)
	})

	select {
	case <-ctx.Done():
		metrics.DNSLookupsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dnscache: resolve %s: %w", address, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			metrics.DNSLookupsTotal.WithLabelValues("error").Inc()
			return nil, res.Err
		}
		return clone(res.Val.(*net.TCPAddr)), nil
	}
}

func (c *Cache) lookup(key string) (*net.TCPAddr, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.resolved) >= c.ttl {
		return nil, false
	}
	return clone(e.addr), true
}

func (c *Cache) resolve(ctx context.Context, address string) (*net.TCPAddr, error) {
	metrics.DNSLookupsTotal.WithLabelValues("miss").Inc()
	start := c.now()

	host, service, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("dnscache: %w", err)
	}
	port, err := c.resolver.LookupPort(ctx, "tcp", service)
	if err != nil {
		return nil, fmt.Errorf("dnscache: port %q: %w", service, err)
	}
	ips, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dnscache: lookup %s: %w", host, err)
	}

	i := slices.IndexFunc(ips, func(ip net.IPAddr) bool { return ip.IP.To4() != nil })
	if i < 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoAddress, address)
	}
	addr := &net.TCPAddr{IP: ips[i].IP.To4(), Port: port}

	now := c.now()
	c.mu.Lock()
	c.entries[address] = entry{addr: addr, resolved: now}
	n := len(c.entries)
	c.mu.Unlock()
	metrics.DNSCacheEntries.Set(float64(n))

	if c.logger != nil {
		c.logger.Printf("dnscache: resolved %s to %s in %s", address, addr, now.Sub(start))
	}
	return clone(addr), nil
}

// Prune drops every stale entry and returns how many were removed.
func (c *Cache) Prune() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.resolved) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	metrics.DNSCacheEntries.Set(float64(n))
	return removed
}

// PruneEvery calls Prune every interval until ctx is done.
func (c *Cache) PruneEvery(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := c.Prune(); n > 0 && c.logger != nil {
				c.logger.Printf("dnscache: pruned %d stale entries", n)
			}
		}
	}
}

// Len returns the number of entries held, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func clone(a *net.TCPAddr) *net.TCPAddr {
	return &net.TCPAddr{IP: slices.Clone(a.IP), Port: a.Port, Zone: a.Zone}
}
