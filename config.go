package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"

	"github.com/die-net/anystream/internal/dnscache"
	"github.com/die-net/anystream/internal/proxy"
)

type options struct {
	listen   string
	upstream string

	proxyProtocol bool
	tlsCert       string
	tlsKey        string

	upstreamTLS           string
	upstreamCA            string
	upstreamProxyProtocol string

	dialTimeout        time.Duration
	negotiationTimeout time.Duration
	idleTimeout        time.Duration
	dnsTTL             time.Duration
	tcpKeepAlive       string

	debugListen string
	verbose     bool
}

func parseOptions(args []string) (*options, error) {
	fs := pflag.NewFlagSet("anystream", pflag.ContinueOnError)
	fs.SortFlags = false

	o := &options{}
	configPath := fs.String("config", "", "TOML file of flag values (keys are flag names). Flags given on the command line take precedence. Empty disables.")
	fs.StringVar(&o.listen, "listen", "", "Relay listen address (e.g. 0.0.0.0:443)")
	fs.StringVar(&o.upstream, "upstream", "", "Upstream host:port every connection is relayed to")
	fs.BoolVar(&o.proxyProtocol, "proxy-protocol", false, "Accept an optional PROXY protocol v1/v2 header from clients")
	fs.StringVar(&o.tlsCert, "tls-cert", "", "PEM certificate for terminating client TLS. Empty disables.")
	fs.StringVar(&o.tlsKey, "tls-key", "", "PEM private key matching --tls-cert")
	fs.StringVar(&o.upstreamTLS, "upstream-tls", "", "Hostname to verify when speaking TLS to the upstream. Empty means plain TCP.")
	fs.StringVar(&o.upstreamCA, "upstream-ca", "", "PEM bundle of CAs trusted for the upstream. Empty uses the system roots.")
	fs.StringVar(&o.upstreamProxyProtocol, "upstream-proxy-protocol", "", "PROXY protocol header sent to the upstream: v1 | v2. Empty sends none.")
	fs.DurationVar(&o.dialTimeout, "dial-timeout", 10*time.Second, "Timeout for upstream DNS lookup and TCP connect")
	fs.DurationVar(&o.negotiationTimeout, "negotiation-timeout", 10*time.Second, "Timeout for PROXY header detection and TLS handshakes")
	fs.DurationVar(&o.idleTimeout, "idle-timeout", 5*time.Minute, "Close relayed connections idle in both directions for this long. 0 disables.")
	fs.DurationVar(&o.dnsTTL, "dns-ttl", dnscache.DefaultTTL, "How long resolved upstream addresses are reused")
	fs.StringVar(&o.tcpKeepAlive, "tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.StringVar(&o.debugListen, "debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
	fs.BoolVar(&o.verbose, "verbose", false, "Enable per-connection error logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *configPath != "" {
		if err := applyConfigFile(fs, *configPath); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// applyConfigFile sets each flag named in the TOML file at path, unless it
// was given on the command line.
func applyConfigFile(fs *pflag.FlagSet, path string) error {
	var values map[string]any
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	for _, name := range slices.Sorted(maps.Keys(values)) {
		f := fs.Lookup(name)
		if f == nil || name == "config" {
			return fmt.Errorf("config %s: unknown setting %q", path, name)
		}
		if f.Changed {
			continue
		}

		s, err := tomlString(values[name])
		if err != nil {
			return fmt.Errorf("config %s: %s: %w", path, name, err)
		}
		if err := fs.Set(name, s); err != nil {
			return fmt.Errorf("config %s: %s: %w", path, name, err)
		}
	}
	return nil
}

func tomlString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// relayConfig validates the options and turns them into a proxy.Config
// without Dialer.
func (o *options) relayConfig() (proxy.Config, error) {
	if o.listen == "" {
		return proxy.Config{}, errors.New("--listen is required")
	}
	if o.upstream == "" {
		return proxy.Config{}, errors.New("--upstream is required")
	}
	if o.dnsTTL <= 0 {
		return proxy.Config{}, errors.New("--dns-ttl must be > 0")
	}

	cfg := proxy.Config{
		Upstream:           o.upstream,
		ProxyProtocol:      o.proxyProtocol,
		UpstreamTLS:        o.upstreamTLS,
		NegotiationTimeout: o.negotiationTimeout,
		IdleTimeout:        o.idleTimeout,
	}

	switch {
	case o.tlsCert != "" && o.tlsKey != "":
		cert, err := tls.LoadX509KeyPair(o.tlsCert, o.tlsKey)
		if err != nil {
			return proxy.Config{}, fmt.Errorf("invalid --tls-cert/--tls-key: %w", err)
		}
		cfg.TLS = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	case o.tlsCert != "" || o.tlsKey != "":
		return proxy.Config{}, errors.New("--tls-cert and --tls-key must be set together")
	}

	if o.upstreamCA != "" {
		pem, err := os.ReadFile(o.upstreamCA)
		if err != nil {
			return proxy.Config{}, fmt.Errorf("invalid --upstream-ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return proxy.Config{}, fmt.Errorf("invalid --upstream-ca: no certificates in %s", o.upstreamCA)
		}
		cfg.UpstreamRootCAs = pool
	}

	switch o.upstreamProxyProtocol {
	case "":
	case "v1":
		cfg.UpstreamProxyHeader = 1
	case "v2":
		cfg.UpstreamProxyHeader = 2
	default:
		return proxy.Config{}, fmt.Errorf("invalid --upstream-proxy-protocol %q: expected v1 or v2", o.upstreamProxyProtocol)
	}

	return cfg, nil
}
