package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRegistered(t *testing.T) {
	collectors := map[string]prometheus.Collector{
		"anystream_detections_total":          DetectionsTotal,
		"anystream_dns_lookups_total":         DNSLookupsTotal,
		"anystream_connects_total":            ConnectsTotal,
		"anystream_relay_connections_total":   RelayConnectionsTotal,
		"anystream_relay_bytes_total":         RelayBytesTotal,
		"anystream_relay_connections_current": RelayConnectionsCurrent,
		"anystream_dns_cache_entries":         DNSCacheEntries,
	}

	for name, c := range collectors {
		t.Run(name, func(t *testing.T) {
			if err := prometheus.Register(c); err == nil {
				t.Fatalf("%s was not registered with the default registry", name)
			}
		})
	}
}

func TestDetectionsTotal(t *testing.T) {
	DetectionsTotal.Reset()

	DetectionsTotal.WithLabelValues("proxy_v1").Inc()
	DetectionsTotal.WithLabelValues("normal").Add(2)

	expected := `
# HELP anystream_detections_total PROXY protocol detections by outcome
# TYPE anystream_detections_total counter
anystream_detections_total{result="normal"} 2
anystream_detections_total{result="proxy_v1"} 1
`
	if err := testutil.CollectAndCompare(DetectionsTotal, strings.NewReader(expected)); err != nil {
		t.Fatal(err)
	}
}

func TestRelayGauge(t *testing.T) {
	RelayConnectionsCurrent.Set(0)
	RelayConnectionsCurrent.Inc()
	RelayConnectionsCurrent.Inc()
	RelayConnectionsCurrent.Dec()

	if got := testutil.ToFloat64(RelayConnectionsCurrent); got != 1 {
		t.Fatalf("got %v want 1", got)
	}
}
