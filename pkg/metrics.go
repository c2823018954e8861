package hnsw

// metrics.go defines a metricsSink interface hidden behind a noop/Prometheus
// pair, selected once at construction so the hot path never branches on "is
// metrics enabled". Counters/gauges cover the HNSW vocabulary (inserts,
// searches, deletes, tombstones, compactions, resident shards, shard bytes,
// search latency), labeled by shard key — a bare Index (no ShardManager)
// reports under the empty label.
//
// ┌──────────────────────────────────────┐
// │ Metric                   │ Type │ Labels │
// ├───────────────────────────┼──────┼────────┤
// │ hnsw_inserts_total        │ Ctr  │ shard  │
// │ hnsw_searches_total       │ Ctr  │ shard  │
// │ hnsw_deletes_total        │ Ctr  │ shard  │
// │ hnsw_tombstones           │ Gge  │ shard  │
// │ hnsw_compactions_total    │ Ctr  │ shard  │
// │ hnsw_resident_shards      │ Gge  │ (none) │
// │ hnsw_shard_bytes          │ Gge  │ shard  │
// │ hnsw_search_latency_seconds│ Hist │ shard  │
// └──────────────────────────────────────┘
//
// © 2025 hnsw-index authors. MIT License.

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsSink interface {
	incInsert(shard string)
	incSearch(shard string)
	incDelete(shard string)
	setTombstones(shard string, n int64)
	incCompaction(shard string)
	setResidentShards(n int64)
	setShardBytes(shard string, bytes int64)
	observeSearchLatency(shard string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) incInsert(string)                           {}
func (noopMetrics) incSearch(string)                           {}
func (noopMetrics) incDelete(string)                           {}
func (noopMetrics) setTombstones(string, int64)                {}
func (noopMetrics) incCompaction(string)                       {}
func (noopMetrics) setResidentShards(int64)                    {}
func (noopMetrics) setShardBytes(string, int64)                {}
func (noopMetrics) observeSearchLatency(string, time.Duration) {}

type promMetrics struct {
	inserts        *prometheus.CounterVec
	searches       *prometheus.CounterVec
	deletes        *prometheus.CounterVec
	tombstones     *prometheus.GaugeVec
	compactions    *prometheus.CounterVec
	residentShards prometheus.Gauge
	shardBytes     *prometheus.GaugeVec
	searchLatency  *prometheus.HistogramVec
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	label := []string{"shard"}

	pm := &promMetrics{
		inserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnsw", Name: "inserts_total", Help: "Number of successful inserts.",
		}, label),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnsw", Name: "searches_total", Help: "Number of search calls.",
		}, label),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnsw", Name: "deletes_total", Help: "Number of successful tombstoning deletes.",
		}, label),
		tombstones: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hnsw", Name: "tombstones", Help: "Current tombstoned vector count.",
		}, label),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnsw", Name: "compactions_total", Help: "Number of compactions performed.",
		}, label),
		residentShards: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hnsw", Name: "resident_shards", Help: "Shards currently loaded in memory.",
		}),
		shardBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hnsw", Name: "shard_bytes", Help: "Estimated in-memory bytes per shard.",
		}, label),
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hnsw", Name: "search_latency_seconds", Help: "Search call latency.",
			Buckets: prometheus.DefBuckets,
		}, label),
	}

	reg.MustRegister(pm.inserts, pm.searches, pm.deletes, pm.tombstones,
		pm.compactions, pm.residentShards, pm.shardBytes, pm.searchLatency)
	return pm
}

func (m *promMetrics) incInsert(shard string) { m.inserts.WithLabelValues(shard).Inc() }
func (m *promMetrics) incSearch(shard string) { m.searches.WithLabelValues(shard).Inc() }
func (m *promMetrics) incDelete(shard string) { m.deletes.WithLabelValues(shard).Inc() }
func (m *promMetrics) setTombstones(shard string, n int64) {
	m.tombstones.WithLabelValues(shard).Set(float64(n))
}
func (m *promMetrics) incCompaction(shard string) { m.compactions.WithLabelValues(shard).Inc() }
func (m *promMetrics) setResidentShards(n int64)  { m.residentShards.Set(float64(n)) }
func (m *promMetrics) setShardBytes(shard string, bytes int64) {
	m.shardBytes.WithLabelValues(shard).Set(float64(bytes))
}
func (m *promMetrics) observeSearchLatency(shard string, d time.Duration) {
	m.searchLatency.WithLabelValues(shard).Observe(d.Seconds())
}

// newMetricsSink picks noop or Prometheus depending on whether a registry was
// configured.
func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
