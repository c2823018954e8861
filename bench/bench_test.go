// Package bench provides reproducible micro-benchmarks for the HNSW index.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks use a single vector shape so results are comparable across
// versions: 128-dimensional float32, Euclidean metric, default M/ef.
//
// We measure:
//  1. Insert         - write-only workload, growing graph
//  2. Search         - read-only workload against a pre-built graph
//  3. SearchParallel - concurrent Search against independent Index values
//  4. ShardedInsert  - ShardManager fan-out write path
//
// NOTE: Unit tests live alongside each package; this file is only for
// performance.
//
// © 2025 hnsw-index authors. MIT License.
package bench

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"testing"

	hnsw "github.com/Voskan/hnsw-index/pkg"
)

const (
	dim      = 128
	keys     = 1 << 14 // 16384 vectors for dataset
	searchK  = 10
)

func newTestIndex() *hnsw.Index {
	idx, err := hnsw.NewIndex(dim, hnsw.WithSeed(42))
	if err != nil {
		panic(err)
	}
	return idx
}

var ds = func() [][]float32 {
	r := rand.New(rand.NewSource(42))
	arr := make([][]float32, keys)
	for i := range arr {
		v := make([]float32, dim)
		for d := range v {
			v[d] = r.Float32()
		}
		arr[i] = v
	}
	return arr
}()

func BenchmarkInsert(b *testing.B) {
	idx := newTestIndex()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v := ds[i&(keys-1)]
		_ = idx.Insert(fmt.Sprintf("id-%d", i), v)
	}
}

func BenchmarkSearch(b *testing.B) {
	idx := newTestIndex()
	for i, v := range ds {
		_ = idx.Insert(fmt.Sprintf("id-%d", i), v)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q := ds[i&(keys-1)]
		_, _ = idx.Search(q, searchK)
	}
}

func BenchmarkSearchParallel(b *testing.B) {
	idx := newTestIndex()
	for i, v := range ds {
		_ = idx.Insert(fmt.Sprintf("id-%d", i), v)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		// Each goroutine needs its own Index; a single Index is not safe
		// for concurrent Search calls (pooled beam-search scratch), so this
		// benchmark measures N independent read-only graphs instead of
		// contention on one.
		local := newTestIndex()
		for i, v := range ds {
			_ = local.Insert(fmt.Sprintf("id-%d", i), v)
		}
		i := 0
		for pb.Next() {
			i = (i + 1) & (keys - 1)
			_, _ = local.Search(ds[i], searchK)
		}
	})
}

func BenchmarkShardedInsert(b *testing.B) {
	cfg := hnsw.DefaultShardManagerConfig(dim)
	cfg.MaxVectorsPerShard = 2000
	cfg.IndexTemplate.Seed = new(uint32)
	sm, err := hnsw.NewShardManager(cfg)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v := ds[i&(keys-1)]
		_ = sm.Insert(ctx, fmt.Sprintf("id-%d", i), v)
	}
}

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())
}
