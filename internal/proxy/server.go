package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/pires/go-proxyproto"

	"github.com/die-net/anystream/internal/metrics"
	"github.com/die-net/anystream/internal/sniff"
	"github.com/die-net/anystream/internal/sock"
	"github.com/die-net/anystream/internal/stream"
)

var errNotTCP = errors.New("accepted connection is not TCP")

// Server relays every accepted connection to Config.Upstream.
type Server struct {
	ctx     context.Context
	cfg     Config
	Verbose bool
}

func NewServer(ctx context.Context, cfg Config, verbose bool) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Server{ctx: ctx, cfg: cfg, Verbose: verbose}
}

// Serve accepts connections on ln until it fails, handling each on its own
// goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			if err := s.handle(c); err != nil {
				if s.Verbose {
					log.Printf("relay: connection error: %v", err)
				}
			}
		}()
	}
}

func (s *Server) handle(conn net.Conn) error {
	metrics.RelayConnectionsCurrent.Inc()
	defer metrics.RelayConnectionsCurrent.Dec()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	tc, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		metrics.RelayConnectionsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %T", errNotTCP, conn)
	}
	sk, err := sock.New(tc)
	if err != nil {
		_ = conn.Close()
		metrics.RelayConnectionsTotal.WithLabelValues("error").Inc()
		return err
	}

	client, err := stream.Builder{
		Socket:        sk,
		ProxyProtocol: s.cfg.ProxyProtocol,
		TLSServer:     s.cfg.TLS,
	}.Build()
	if err != nil {
		metrics.RelayConnectionsTotal.WithLabelValues("error").Inc()
		return err
	}
	defer client.Close()

	if err := s.negotiate(ctx, client); err != nil {
		metrics.RelayConnectionsTotal.WithLabelValues("negotiation_error").Inc()
		return fmt.Errorf("negotiate with %s: %w", conn.RemoteAddr(), err)
	}

	peer, err := client.PeerAddr()
	if errors.Is(err, sniff.ErrInvalidAddressFamily) {
		// LOCAL and UNKNOWN headers carry no client; use the socket peer.
		peer, err = client.RemoteAddr(), nil
	}
	if err != nil {
		metrics.RelayConnectionsTotal.WithLabelValues("negotiation_error").Inc()
		return err
	}

	up, err := s.dialUpstream(ctx, peer, client.LocalAddr())
	if err != nil {
		metrics.RelayConnectionsTotal.WithLabelValues("dial_error").Inc()
		return fmt.Errorf("upstream for %s: %w", peer, err)
	}
	defer up.Close()

	if s.Verbose {
		log.Printf("relay: %s (%s) -> %s (%s)", peer, client.Kind(), s.cfg.Upstream, up.Kind())
	}

	if err := CopyBidirectional(ctx, client, up, s.cfg.IdleTimeout); err != nil {
		metrics.RelayConnectionsTotal.WithLabelValues("copy_error").Inc()
		return fmt.Errorf("relay %s: %w", peer, err)
	}
	metrics.RelayConnectionsTotal.WithLabelValues("ok").Inc()
	return nil
}

// negotiate forces PROXY detection and the TLS handshake so both are done
// before the upstream is dialed.
func (s *Server) negotiate(ctx context.Context, client *stream.Conn) error {
	if d := s.cfg.NegotiationTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()

		if err := client.SetReadTimeout(d); err != nil {
			return err
		}
		defer func() { _ = client.SetReadTimeout(0) }()
	}

	if err := client.Detect(); err != nil {
		return err
	}
	return client.Handshake(ctx)
}

func (s *Server) dialUpstream(ctx context.Context, peer, local net.Addr) (*stream.Conn, error) {
	sk, err := s.cfg.Dialer.Dial(ctx, s.cfg.Upstream)
	if err != nil {
		return nil, err
	}

	if v := s.cfg.UpstreamProxyHeader; v != 0 {
		hdr, err := proxyproto.HeaderProxyFromAddrs(v, peer, local).Format()
		if err != nil {
			_ = sk.Close()
			return nil, fmt.Errorf("proxy header: %w", err)
		}
		if _, err := sk.WriteWait(hdr); err != nil {
			_ = sk.Close()
			return nil, fmt.Errorf("proxy header: %w", err)
		}
	}

	up, err := stream.Builder{
		Socket:    sk,
		TLSClient: s.cfg.UpstreamTLS,
		RootCAs:   s.cfg.UpstreamRootCAs,
	}.Build()
	if err != nil {
		return nil, err
	}

	if d := s.cfg.NegotiationTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if err := up.Handshake(ctx); err != nil {
		_ = up.Close()
		return nil, err
	}
	return up, nil
}
