package dnscache

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu    sync.Mutex
	addrs map[string][]net.IPAddr
	err   error
	delay time.Duration
	calls atomic.Int32

	// started, if set, is signalled as each lookup begins; gate, if set,
	// holds lookups until closed.
	started chan struct{}
	gate    chan struct{}
}

func (r *fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	r.calls.Add(1)
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	addrs, ok := r.addrs[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func (r *fakeResolver) LookupPort(ctx context.Context, network, service string) (int, error) {
	return net.DefaultResolver.LookupPort(ctx, network, service)
}

func (r *fakeResolver) set(host string, ips ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.addrs == nil {
		r.addrs = make(map[string][]net.IPAddr)
	}
	var addrs []net.IPAddr
	for _, ip := range ips {
		addrs = append(addrs, net.IPAddr{IP: net.ParseIP(ip)})
	}
	r.addrs[host] = addrs
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(r *fakeResolver) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(Config{Resolver: r, Now: clock.Now}), clock
}

func TestResolveCachesFirstIPv4(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{}
	r.set("origin.example", "2001:db8::1", "192.0.2.10", "192.0.2.11")
	c, _ := newTestCache(r)

	addr, err := c.Resolve(context.Background(), "origin.example:443")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.10:443", addr.String())

	addr, err = c.Resolve(context.Background(), "origin.example:443")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.10:443", addr.String())
	require.Equal(t, int32(1), r.calls.Load())
	require.Equal(t, 1, c.Len())
}

func TestResolveReturnsCopies(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{}
	r.set("origin.example", "192.0.2.10")
	c, _ := newTestCache(r)

	addr, err := c.Resolve(context.Background(), "origin.example:80")
	require.NoError(t, err)
	addr.Port = 1
	addr.IP[0] = 10

	addr, err = c.Resolve(context.Background(), "origin.example:80")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.10:80", addr.String())
}

func TestResolveIPv6OnlyFails(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{}
	r.set("v6.example", "2001:db8::1", "2001:db8::2")
	c, _ := newTestCache(r)

	_, err := c.Resolve(context.Background(), "v6.example:443")
	require.ErrorIs(t, err, ErrNoAddress)
	require.Equal(t, 0, c.Len())
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{}
	c, _ := newTestCache(r)

	_, err := c.Resolve(context.Background(), "missing.example:443")
	var dnsErr *net.DNSError
	require.ErrorAs(t, err, &dnsErr)
	require.True(t, dnsErr.IsNotFound)

	_, err = c.Resolve(context.Background(), "no-port.example")
	require.Error(t, err)

	_, err = c.Resolve(context.Background(), "origin.example:not-a-service")
	require.Error(t, err)
}

func TestResolveIPLiteral(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	addr, err := c.Resolve(context.Background(), "127.0.0.1:8080")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8080", addr.String())
}

func TestStaleEntryIsRefreshed(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{}
	r.set("origin.example", "192.0.2.10")
	c, clock := newTestCache(r)

	_, err := c.Resolve(context.Background(), "origin.example:443")
	require.NoError(t, err)

	r.set("origin.example", "192.0.2.20")
	clock.Advance(DefaultTTL - time.Second)
	addr, err := c.Resolve(context.Background(), "origin.example:443")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.10:443", addr.String())
	require.Equal(t, int32(1), r.calls.Load())

	clock.Advance(time.Second)
	addr, err = c.Resolve(context.Background(), "origin.example:443")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.20:443", addr.String())
	require.Equal(t, int32(2), r.calls.Load())
}

func TestFailedRefreshKeepsNothingNew(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{}
	r.set("origin.example", "192.0.2.10")
	c, clock := newTestCache(r)

	_, err := c.Resolve(context.Background(), "origin.example:443")
	require.NoError(t, err)

	clock.Advance(DefaultTTL)
	r.mu.Lock()
	r.err = errors.New("resolver down")
	r.mu.Unlock()

	_, err = c.Resolve(context.Background(), "origin.example:443")
	require.ErrorContains(t, err, "resolver down")
}

func TestPrune(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{}
	r.set("a.example", "192.0.2.1")
	r.set("b.example", "192.0.2.2")
	c, clock := newTestCache(r)

	_, err := c.Resolve(context.Background(), "a.example:80")
	require.NoError(t, err)
	clock.Advance(DefaultTTL / 2)
	_, err = c.Resolve(context.Background(), "b.example:80")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	require.Equal(t, 0, c.Prune())

	clock.Advance(DefaultTTL / 2)
	require.Equal(t, 1, c.Prune())
	require.Equal(t, 1, c.Len())

	clock.Advance(DefaultTTL)
	require.Equal(t, 1, c.Prune())
	require.Equal(t, 0, c.Len())
}

func TestPruneEveryStopsOnCancel(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.PruneEvery(ctx, time.Millisecond) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("PruneEvery did not return")
	}
}

func TestConcurrentMissesShareOneLookup(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{delay: 50 * time.Millisecond}
	r.set("origin.example", "192.0.2.10")
	c, _ := newTestCache(r)

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			addr, err := c.Resolve(context.Background(), "origin.example:443")
			if err != nil {
				t.Error(err)
				return
			}
			if addr.String() != "192.0.2.10:443" {
				t.Errorf("got %s", addr)
			}
		})
	}
	wg.Wait()

	require.Equal(t, int32(1), r.calls.Load())
}

func TestCancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{started: make(chan struct{}, 1), gate: make(chan struct{})}
	r.set("origin.example", "192.0.2.10")
	c, _ := newTestCache(r)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := c.Resolve(ctxA, "origin.example:80")
		errA <- err
	}()
	<-r.started

	type result struct {
		addr *net.TCPAddr
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		addr, err := c.Resolve(context.Background(), "origin.example:80")
		resB <- result{addr, err}
	}()

	cancelA()
	select {
	case err := <-errA:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(r.gate)
	select {
	case res := <-resB:
		require.NoError(t, res.err)
		require.Equal(t, "192.0.2.10:80", res.addr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("second caller did not return")
	}
	require.Equal(t, int32(1), r.calls.Load())
	require.Equal(t, 1, c.Len())
}

func TestLookupTimeoutBoundsSharedLookup(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{gate: make(chan struct{})}
	r.set("origin.example", "192.0.2.10")
	c := New(Config{Resolver: r, LookupTimeout: 20 * time.Millisecond})

	_, err := c.Resolve(context.Background(), "origin.example:80")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, c.Len())
}

func TestDistinctDescriptorsAreDistinctKeys(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{}
	r.set("origin.example", "192.0.2.10")
	c, _ := newTestCache(r)

	a, err := c.Resolve(context.Background(), "origin.example:80")
	require.NoError(t, err)
	b, err := c.Resolve(context.Background(), "origin.example:443")
	require.NoError(t, err)

	require.Equal(t, 80, a.Port)
	require.Equal(t, 443, b.Port)
	require.Equal(t, 2, c.Len())
}
