package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream metrics
var (
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anystream_detections_total",
			Help: "PROXY protocol detections by outcome",
		},
		[]string{"result"},
	)
)

// Resolver and dialer metrics
var (
	DNSLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anystream_dns_lookups_total",
			Help: "DNS cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	DNSCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anystream_dns_cache_entries",
			Help: "Entries currently held by the DNS cache, fresh or stale",
		},
	)

	ConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anystream_connects_total",
			Help: "Outbound non-blocking connect attempts by result (connected, in_progress, error)",
		},
		[]string{"result"},
	)
)

// Relay metrics
var (
	RelayConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anystream_relay_connections_total",
			Help: "Relayed connections by result",
		},
		[]string{"result"},
	)

	RelayConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anystream_relay_connections_current",
			Help: "Connections currently being relayed",
		},
	)

	RelayBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anystream_relay_bytes_total",
			Help: "Bytes relayed by direction (upstream, downstream)",
		},
		[]string{"direction"},
	)
)
