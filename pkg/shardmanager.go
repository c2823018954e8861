package hnsw

// shardmanager.go fans inserts, deletes and searches out across a dynamically
// growing set of Index shards. The active shard absorbs inserts until it
// reaches max_vectors_per_shard, then a new shard opens. Residency (which
// shards' *Index values are actually in memory) is bounded separately, by
// max_loaded_shards, and managed with a "one loader runs, the rest wait"
// singleflight discipline deduplicating concurrent loads of the same shard
// key.
//
// © 2025 hnsw-index authors. MIT License.

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Voskan/hnsw-index/internal/lru"
)

// shardRecord tracks one shard's identity and residency state. idx is nil
// when the shard is known (its id and external ids are in extIndex) but not
// currently loaded into memory.
type shardRecord struct {
	id    string
	idx   *Index
	dirty bool
}

// ShardManager fans inserts and searches out across a growing set of Index
// shards, persisting them through a Store and bounding how many are resident
// at once.
type ShardManager struct {
	cfg ShardManagerConfig

	shards    []*shardRecord
	byID      map[string]*shardRecord
	extIndex  map[string]string // external id -> owning shard id
	residency *lru.Tracker
	tick      uint64

	loadGroup singleflight.Group

	logger  zapLoggerFacade
	metrics metricsSink
}

// NewShardManager constructs an empty ShardManager. Call LoadFromStorage
// first to resume from an existing Store.
func NewShardManager(cfg ShardManagerConfig) (*ShardManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &ShardManager{
		cfg:       cfg,
		byID:      make(map[string]*shardRecord),
		extIndex:  make(map[string]string),
		residency: lru.New(),
		logger:    wrapLogger(cfg.Logger),
		metrics:   newMetricsSink(cfg.Registry),
	}, nil
}

// Open constructs a ShardManager and, if cfg.Store is configured, resumes it
// from every shard already present there via LoadFromStorage. Returns
// ErrNotOpenable if cfg has neither a Store to resume from nor a positive
// IndexTemplate.Dim to create shards with — there would be nothing for the
// returned manager to do.
func Open(ctx context.Context, cfg ShardManagerConfig) (*ShardManager, error) {
	if cfg.Store == nil && cfg.IndexTemplate.Dim <= 0 {
		return nil, ErrNotOpenable
	}
	m, err := NewShardManager(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Store != nil {
		if err := m.LoadFromStorage(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func shardKey(n int) string { return fmt.Sprintf("shard-%06d", n) }

func (m *ShardManager) newShardRecord() (*shardRecord, error) {
	idx, err := newIndexFromConfig(m.cfg.IndexTemplate, shardKey(len(m.shards)))
	if err != nil {
		return nil, err
	}
	rec := &shardRecord{id: shardKey(len(m.shards)), idx: idx, dirty: true}
	m.shards = append(m.shards, rec)
	m.byID[rec.id] = rec
	m.touch(rec.id)
	m.metrics.setResidentShards(int64(m.residentCount()))
	return rec, nil
}

func (m *ShardManager) activeShard() (*shardRecord, error) {
	if len(m.shards) == 0 {
		return m.newShardRecord()
	}
	return m.shards[len(m.shards)-1], nil
}

func (m *ShardManager) touch(id string) {
	m.tick++
	m.residency.Touch(id, m.tick)
}

func (m *ShardManager) residentCount() int {
	n := 0
	for _, r := range m.shards {
		if r.idx != nil {
			n++
		}
	}
	return n
}

// Insert routes extID/vec to the active shard, opening a new shard once the
// active one reaches MaxVectorsPerShard. Returns ErrDuplicateID if extID is
// already owned by any shard, known or not.
func (m *ShardManager) Insert(ctx context.Context, extID string, vec []float32) error {
	if _, exists := m.extIndex[extID]; exists {
		return ErrDuplicateID
	}

	active, err := m.activeShard()
	if err != nil {
		return err
	}
	if active.idx == nil {
		if active.idx, err = m.loadShard(ctx, active.id); err != nil {
			return err
		}
	}
	if active.idx.Size() >= m.cfg.MaxVectorsPerShard {
		active, err = m.newShardRecord()
		if err != nil {
			return err
		}
	}

	if err := active.idx.Insert(extID, vec); err != nil {
		return err
	}
	active.dirty = true
	m.extIndex[extID] = active.id
	m.touch(active.id)
	return m.maybeEvict(ctx, active.id)
}

// Delete tombstones extID in whichever shard owns it.
func (m *ShardManager) Delete(ctx context.Context, extID string) (bool, error) {
	shardID, ok := m.extIndex[extID]
	if !ok {
		return false, nil
	}
	rec, err := m.ensureLoaded(ctx, shardID)
	if err != nil {
		return false, err
	}
	ok, err = rec.idx.Delete(extID)
	if err != nil {
		return false, err
	}
	if ok {
		rec.dirty = true
		delete(m.extIndex, extID)
	}
	m.touch(shardID)
	return ok, m.maybeEvict(ctx, shardID)
}

// Search fans a query out to every known shard (loading non-resident ones as
// needed), merges each shard's top results, and returns the global top k
// nearest, nearest first.
func (m *ShardManager) Search(ctx context.Context, query []float32, k int, opts ...SearchOption) ([]SearchResult, error) {
	if len(m.shards) == 0 || k <= 0 {
		return nil, nil
	}

	corrID := uuid.NewString()
	g, gctx := errgroup.WithContext(ctx)
	perShard := make([][]SearchResult, len(m.shards))

	for i, rec := range m.shards {
		i, rec := i, rec
		g.Go(func() error {
			loaded, err := m.ensureLoaded(gctx, rec.id)
			if err != nil {
				return err
			}
			res, err := loaded.idx.Search(query, k, opts...)
			if err != nil {
				return err
			}
			perShard[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("shard search fan-out failed", "correlation_id", corrID, "error", err.Error())
		return nil, err
	}

	merged := make([]SearchResult, 0, k*len(m.shards))
	for _, res := range perShard {
		merged = append(merged, res...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Distance < merged[j].Distance })
	if len(merged) > k {
		merged = merged[:k]
	}
	for _, rec := range m.shards {
		m.touch(rec.id)
	}
	return merged, m.evictExcess(ctx)
}

// Flush persists every dirty resident shard through the configured Store.
func (m *ShardManager) Flush(ctx context.Context) error {
	if m.cfg.Store == nil {
		return nil
	}
	for _, rec := range m.shards {
		if rec.idx == nil || !rec.dirty {
			continue
		}
		buf, err := Encode(rec.idx)
		if err != nil {
			return err
		}
		if err := m.cfg.Store.Write(ctx, rec.id, buf); err != nil {
			return wrapStorageErr("write", rec.id, err)
		}
		rec.dirty = false
	}
	return nil
}

// Compact rebuilds shardID's graph in place, dropping tombstoned vectors.
func (m *ShardManager) Compact(ctx context.Context, shardID string) error {
	rec, err := m.ensureLoaded(ctx, shardID)
	if err != nil {
		return err
	}
	fresh, err := rec.idx.Compact()
	if err != nil {
		return err
	}
	rec.idx = fresh
	rec.dirty = true
	m.metrics.incCompaction(shardID)
	return nil
}

// Close flushes every dirty shard and releases in-memory state.
func (m *ShardManager) Close(ctx context.Context) error {
	if err := m.Flush(ctx); err != nil {
		return err
	}
	for _, rec := range m.shards {
		rec.idx = nil
	}
	return nil
}

// LoadFromStorage resumes manager state from every shard key present in the
// configured Store, rebuilding the external-id routing table. Shards beyond
// MaxLoadedShards are evicted back out of memory immediately after their
// routing information is captured.
func (m *ShardManager) LoadFromStorage(ctx context.Context) error {
	if m.cfg.Store == nil {
		return ErrShardNotLoaded
	}
	keys, err := m.cfg.Store.List(ctx)
	if err != nil {
		return wrapStorageErr("list", "", err)
	}
	sort.Strings(keys)

	for _, key := range keys {
		data, ok, err := m.cfg.Store.Read(ctx, key)
		if err != nil {
			return wrapStorageErr("read", key, err)
		}
		if !ok {
			return ErrShardMissing
		}
		idx, err := Decode(data)
		if err != nil {
			return err
		}
		idx.shardID = key
		idx.logger = m.logger
		idx.metrics = m.metrics
		rec := &shardRecord{id: key, idx: idx}
		m.shards = append(m.shards, rec)
		m.byID[key] = rec
		for extID := range idx.extToInt {
			m.extIndex[extID] = key
		}
		m.touch(key)
	}
	m.metrics.setResidentShards(int64(m.residentCount()))
	return m.evictExcess(ctx)
}

// ensureLoaded returns shardID's Index, loading it from the Store if it is
// known but not resident. Concurrent callers requesting the same shard id
// share one load via singleflight.
func (m *ShardManager) ensureLoaded(ctx context.Context, shardID string) (*shardRecord, error) {
	rec, ok := m.byID[shardID]
	if !ok {
		return nil, ErrShardMissing
	}
	if rec.idx != nil {
		m.touch(shardID)
		return rec, nil
	}

	v, err, _ := m.loadGroup.Do(shardID, func() (any, error) {
		return m.loadShard(ctx, shardID)
	})
	if err != nil {
		return nil, err
	}
	rec.idx = v.(*Index)
	m.touch(shardID)
	m.metrics.setResidentShards(int64(m.residentCount()))
	return rec, nil
}

func (m *ShardManager) loadShard(ctx context.Context, shardID string) (*Index, error) {
	if m.cfg.Store == nil {
		return nil, ErrShardNotLoaded
	}
	data, ok, err := m.cfg.Store.Read(ctx, shardID)
	if err != nil {
		return nil, wrapStorageErr("read", shardID, err)
	}
	if !ok {
		return nil, ErrShardMissing
	}
	idx, err := Decode(data)
	if err != nil {
		return nil, err
	}
	idx.shardID = shardID
	idx.logger = m.logger
	idx.metrics = m.metrics
	return idx, nil
}

// maybeEvict evicts the least-recently-touched resident shard (other than
// justTouched) if residency exceeds MaxLoadedShards.
func (m *ShardManager) maybeEvict(ctx context.Context, justTouched string) error {
	return m.evictExcessExcept(ctx, justTouched)
}

func (m *ShardManager) evictExcess(ctx context.Context) error {
	return m.evictExcessExcept(ctx, "")
}

// evictExcessExcept never evicts the active write shard (the last entry in
// m.shards), regardless of what keep the caller passes — the active shard
// must stay resident to absorb the next Insert.
func (m *ShardManager) evictExcessExcept(ctx context.Context, keep string) error {
	var activeID string
	if n := len(m.shards); n > 0 {
		activeID = m.shards[n-1].id
	}
	for m.residentCount() > m.cfg.MaxLoadedShards {
		victim, ok := m.residency.LeastRecent(keep, activeID)
		if !ok {
			return nil
		}
		rec, ok := m.byID[victim]
		if !ok || rec.idx == nil {
			m.residency.Remove(victim)
			continue
		}
		if rec.dirty && m.cfg.Store != nil {
			buf, err := Encode(rec.idx)
			if err != nil {
				return err
			}
			if err := m.cfg.Store.Write(ctx, rec.id, buf); err != nil {
				return wrapStorageErr("write", rec.id, err)
			}
			rec.dirty = false
		}
		rec.idx = nil
		m.logger.Info("shard evicted", "shard", victim)
	}
	m.metrics.setResidentShards(int64(m.residentCount()))
	return nil
}
