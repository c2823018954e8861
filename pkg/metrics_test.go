package hnsw

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetricsSinkIsSafeToCall(t *testing.T) {
	var m metricsSink = noopMetrics{}
	m.incInsert("s")
	m.incSearch("s")
	m.incDelete("s")
	m.setTombstones("s", 1)
	m.incCompaction("s")
	m.setResidentShards(2)
	m.setShardBytes("s", 3)
	m.observeSearchLatency("s", time.Millisecond)
}

func TestNewMetricsSinkPicksNoopWithoutRegistry(t *testing.T) {
	m := newMetricsSink(nil)
	_, ok := m.(noopMetrics)
	assert.True(t, ok)
}

func TestPromMetricsRegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsSink(reg)
	_, ok := m.(*promMetrics)
	require.True(t, ok)

	m.incInsert("shard-000000")
	m.incSearch("shard-000000")
	m.setResidentShards(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestIndexReportsMetricsThroughRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	idx, err := NewIndex(2, WithRegistry(reg))
	require.NoError(t, err)
	require.NoError(t, idx.Insert("a", []float32{0, 0}))
	_, err = idx.Search([]float32{0, 0}, 1)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
