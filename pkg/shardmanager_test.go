package hnsw

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShardManager(t *testing.T, maxPerShard, maxLoaded int) *ShardManager {
	t.Helper()
	cfg := DefaultShardManagerConfig(3)
	cfg.IndexTemplate.Seed = new(uint32)
	*cfg.IndexTemplate.Seed = 42
	cfg.MaxVectorsPerShard = maxPerShard
	cfg.MaxLoadedShards = maxLoaded
	cfg.Store = NewMemStore()
	sm, err := NewShardManager(cfg)
	require.NoError(t, err)
	return sm
}

func TestShardManagerOpensNewShardAtCapacity(t *testing.T) {
	sm := newTestShardManager(t, 10, 4)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		require.NoError(t, sm.Insert(ctx, randID(i), []float32{float32(i), 0, 0}))
	}
	require.Len(t, sm.shards, 3)
	assert.Equal(t, 10, sm.shards[0].idx.Size())
	assert.Equal(t, 10, sm.shards[1].idx.Size())
	assert.Equal(t, 5, sm.shards[2].idx.Size())
}

func TestShardManagerRejectsDuplicateAcrossShards(t *testing.T) {
	sm := newTestShardManager(t, 2, 4)
	ctx := context.Background()
	require.NoError(t, sm.Insert(ctx, "a", []float32{0, 0, 0}))
	require.NoError(t, sm.Insert(ctx, "b", []float32{1, 1, 1}))
	require.NoError(t, sm.Insert(ctx, "c", []float32{2, 2, 2})) // opens shard 2
	err := sm.Insert(ctx, "a", []float32{9, 9, 9})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestShardManagerSearchMergesAcrossShards(t *testing.T) {
	sm := newTestShardManager(t, 5, 4)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		require.NoError(t, sm.Insert(ctx, randID(i), []float32{float32(i), 0, 0}))
	}
	res, err := sm.Search(ctx, []float32{0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, randID(0), res[0].ExtID)
	assert.Equal(t, randID(1), res[1].ExtID)
	assert.Equal(t, randID(2), res[2].ExtID)
}

func TestShardManagerDeleteRoutesToOwningShard(t *testing.T) {
	sm := newTestShardManager(t, 5, 4)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		require.NoError(t, sm.Insert(ctx, randID(i), []float32{float32(i), 0, 0}))
	}
	ok, err := sm.Delete(ctx, randID(7))
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := sm.Search(ctx, []float32{7, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.NotEqual(t, randID(7), res[0].ExtID)

	ok, err = sm.Delete(ctx, "never-existed")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShardManagerEvictsLeastRecentlyUsedShard(t *testing.T) {
	sm := newTestShardManager(t, 2, 1) // at most one resident shard at a time
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, sm.Insert(ctx, randID(i), []float32{float32(i), 0, 0}))
	}
	// With MaxLoadedShards=1, only the active shard stays resident; all
	// earlier shards should have been flushed and evicted.
	assert.LessOrEqual(t, sm.residentCount(), 1)

	// Every shard is still reachable through the store, though.
	res, err := sm.Search(ctx, []float32{0, 0, 0}, 6)
	require.NoError(t, err)
	assert.Len(t, res, 6)
}

func TestShardManagerNeverEvictsActiveShard(t *testing.T) {
	sm := newTestShardManager(t, 2, 1) // at most one resident shard at a time
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, sm.Insert(ctx, randID(i), []float32{float32(i), 0, 0}))
	}
	active := sm.shards[len(sm.shards)-1]
	require.NotNil(t, active.idx, "active shard must stay resident right after Insert")

	// Deleting from an older, non-active shard loads and touches that shard,
	// which used to be able to bump the active shard out as the eviction
	// victim instead. It must not.
	ok, err := sm.Delete(ctx, randID(0))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, active.idx, "active shard must never be evicted")

	// Same for a Search fan-out, which touches every shard and historically
	// evicted with no exclusion at all.
	_, err = sm.Search(ctx, []float32{0, 0, 0}, 6)
	require.NoError(t, err)
	assert.NotNil(t, active.idx, "active shard must survive a Search-triggered eviction too")
}

func TestShardManagerFlushAndLoadFromStorage(t *testing.T) {
	store := NewMemStore()
	cfg := DefaultShardManagerConfig(3)
	cfg.IndexTemplate.Seed = new(uint32)
	*cfg.IndexTemplate.Seed = 7
	cfg.MaxVectorsPerShard = 4
	cfg.MaxLoadedShards = 8
	cfg.Store = store
	sm, err := NewShardManager(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, sm.Insert(ctx, randID(i), []float32{float32(i), 0, 0}))
	}
	require.NoError(t, sm.Flush(ctx))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, keys)

	fresh, err := NewShardManager(cfg)
	require.NoError(t, err)
	require.NoError(t, fresh.LoadFromStorage(ctx))

	for i := 0; i < 10; i++ {
		ok, err := fresh.Delete(ctx, randID(i))
		require.NoError(t, err)
		assert.True(t, ok, "expected %s to be routable after LoadFromStorage", randID(i))
	}
}

func TestOpenRejectsConfigWithNeitherStoreNorDimension(t *testing.T) {
	_, err := Open(context.Background(), ShardManagerConfig{})
	assert.ErrorIs(t, err, ErrNotOpenable)
}

func TestOpenResumesFromExistingStore(t *testing.T) {
	store := NewMemStore()
	cfg := DefaultShardManagerConfig(3)
	cfg.IndexTemplate.Seed = new(uint32)
	cfg.MaxVectorsPerShard = 4
	cfg.Store = store

	ctx := context.Background()
	seed, err := NewShardManager(cfg)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, seed.Insert(ctx, randID(i), []float32{float32(i), 0, 0}))
	}
	require.NoError(t, seed.Flush(ctx))

	resumed, err := Open(ctx, cfg)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		assert.True(t, resumed.extIndex[randID(i)] != "")
	}
}

func TestShardManagerCompactShrinksAfterDeletes(t *testing.T) {
	sm := newTestShardManager(t, 20, 4)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, sm.Insert(ctx, randID(i), []float32{float32(i), 0, 0}))
	}
	for i := 0; i < 5; i++ {
		_, err := sm.Delete(ctx, randID(i))
		require.NoError(t, err)
	}
	shardID := sm.shards[0].id
	require.NoError(t, sm.Compact(ctx, shardID))
	assert.Equal(t, 5, sm.shards[0].idx.Size())
	assert.Equal(t, 5, sm.shards[0].idx.Count())
}
