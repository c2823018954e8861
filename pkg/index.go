package hnsw

// index.go owns one HNSW graph over one flat id-space. Internal sharding
// lives one layer up, in shardmanager.go, which owns many Index values.
//
// Per-element metadata (vector, optional norm, level, adjacency row per
// layer) is packed into flat arrays rather than one heap object per element,
// grown via allocate-fresh/copy-old rather than per-insert allocation, and
// addressed by a dense integer id rather than by pointer.
//
// The Index type is intentionally not internally synchronized: a single
// Index is synchronous and non-reentrant — callers needing concurrent access
// serialize at the ShardManager layer instead.
//
// © 2025 hnsw-index authors. MIT License.

import (
	"container/heap"
	"sort"
	"time"

	"github.com/Voskan/hnsw-index/internal/arena"
	"github.com/Voskan/hnsw-index/internal/bitset"
)

// sentinel marks an empty adjacency slot; no valid internal id ever equals it.
const sentinel uint32 = 0xFFFFFFFF

// Index is a single HNSW graph over a fixed dimensionality and metric. It is
// not safe for concurrent use: a single Index must not be called from more
// than one goroutine at a time, and must not be read while a call is in
// flight on another goroutine. Within one ShardManager call each shard is
// used by a single goroutine; ShardManager holds no lock, so concurrent
// ShardManager calls are not serialized against each other.
type Index struct {
	dim            int
	m              int
	mmax0          int
	efConstruction int
	efSearch       int
	metric         Metric
	useHeuristic   bool
	keepPruned     bool
	seed           uint32

	logger  zapLoggerFacade
	metrics metricsSink
	shardID string

	count        uint32
	deletedCount uint32
	capacity     uint32

	vectors        *arena.Buffer[float32]
	norms          *arena.Buffer[float32] // populated only when metric == MetricCosine
	levels         *arena.Buffer[uint8]
	adjacency      []*arena.Buffer[uint32] // adjacency[l]: capacity * maxNForLayer(l)
	neighborCounts []*arena.Buffer[uint8]  // neighborCounts[l]: capacity

	deletedSet *bitset.Set

	extToInt map[string]uint32
	intToExt []string

	entryPoint int64 // -1 when empty
	maxLevel   int32 // -1 when empty

	sampler *levelSampler

	// Pooled beam-search scratch. Reused across calls to avoid a per-search
	// allocation; reset (not reallocated) at the start of every beam search.
	scratchVisited  *bitset.Set
	scratchFrontier *candidateHeap
	scratchResults  *resultHeap
}

// NewIndex constructs an empty Index for vectors of the given dimension.
func NewIndex(dim int, opts ...Option) (*Index, error) {
	cfg, err := resolveConfig(dim, opts)
	if err != nil {
		return nil, err
	}
	return newIndexFromConfig(cfg, "")
}

func newIndexFromConfig(cfg Config, shardID string) (*Index, error) {
	seed := resolveSeed(cfg.Seed)

	idx := &Index{
		dim:            cfg.Dim,
		m:              cfg.M,
		mmax0:          cfg.Mmax0,
		efConstruction: cfg.EfConstruction,
		efSearch:       cfg.EfSearch,
		metric:         cfg.Metric,
		useHeuristic:   cfg.UseHeuristic,
		keepPruned:     cfg.KeepPrunedConnections,
		seed:           seed,
		logger:         wrapLogger(cfg.Logger),
		metrics:        newMetricsSink(cfg.Registry),
		shardID:        shardID,

		vectors: arena.NewBuffer[float32](0),
		levels:  arena.NewBuffer[uint8](0),

		deletedSet: bitset.New(0),

		extToInt: make(map[string]uint32),
		intToExt: make([]string, 0),

		entryPoint: -1,
		maxLevel:   -1,

		sampler: &levelSampler{rng: newSeededRNG(seed), mL: cfg.ML},

		scratchVisited:  bitset.New(0),
		scratchFrontier: &candidateHeap{},
		scratchResults:  &resultHeap{},
	}
	if cfg.Metric == MetricCosine {
		idx.norms = arena.NewBuffer[float32](0)
	}
	return idx, nil
}

// Dim returns the vector dimensionality this Index was built for.
func (idx *Index) Dim() int { return idx.dim }

// Metric returns the distance metric this Index was built for.
func (idx *Index) Metric() Metric { return idx.metric }

// Size returns the number of live (non-tombstoned) vectors.
func (idx *Index) Size() int { return int(idx.count - idx.deletedCount) }

// Count returns the total number of internal ids ever allocated, including
// tombstoned ones.
func (idx *Index) Count() int { return int(idx.count) }

// Has reports whether extID names a live vector.
func (idx *Index) Has(extID string) bool {
	id, ok := idx.extToInt[extID]
	return ok && !idx.deletedSet.Test(int(id))
}

// GetVector returns a copy of the stored vector for extID, or false if it is
// absent or tombstoned.
func (idx *Index) GetVector(extID string) ([]float32, bool) {
	id, ok := idx.extToInt[extID]
	if !ok || idx.deletedSet.Test(int(id)) {
		return nil, false
	}
	out := make([]float32, idx.dim)
	copy(out, idx.vectorAt(id))
	return out, true
}

func (idx *Index) vectorAt(id uint32) []float32 {
	base := int(id) * idx.dim
	return idx.vectors.Slice()[base : base+idx.dim]
}

func (idx *Index) maxNForLayer(layer int) int {
	if layer == 0 {
		return idx.mmax0
	}
	return idx.m
}

// Insert adds extID/vec to the index. Returns ErrDimensionMismatch if
// len(vec) != Dim(), or ErrDuplicateID if extID names a live vector. Delete
// drops an id from the lookup table, so a deleted id can be inserted again;
// it then gets a new internal id and the tombstoned slot stays in place.
func (idx *Index) Insert(extID string, vec []float32) error {
	if len(vec) != idx.dim {
		return ErrDimensionMismatch
	}
	if _, exists := idx.extToInt[extID]; exists {
		return ErrDuplicateID
	}

	if idx.count == idx.capacity {
		idx.grow()
	}
	id := idx.count

	copy(idx.vectorAt(id), vec)
	if idx.metric == MetricCosine {
		idx.norms.Slice()[id] = computeNorm(vec)
	}

	level := idx.sampler.sample()
	idx.levels.Slice()[id] = uint8(level)
	idx.ensureLayers(level)

	idx.extToInt[extID] = id
	idx.intToExt = append(idx.intToExt, extID)
	idx.count++

	if idx.entryPoint < 0 {
		idx.entryPoint = int64(id)
		idx.maxLevel = int32(level)
		idx.metrics.incInsert(idx.shardID)
		return nil
	}

	oldEntry := uint32(idx.entryPoint)
	oldMaxLevel := int(idx.maxLevel)

	distTo := idx.makeDistToID(id)

	curr := oldEntry
	currDist := distTo(curr)
	for l := oldMaxLevel; l > level; l-- {
		curr, currDist = idx.greedyDescend(distTo, curr, currDist, l)
	}

	top := level
	if oldMaxLevel < top {
		top = oldMaxLevel
	}

	for l := top; l >= 0; l-- {
		candidates := idx.beamSearch(distTo, curr, l, idx.efConstruction)
		maxN := idx.maxNForLayer(l)
		selected := idx.selectNeighbors(candidates, maxN)
		idx.writeNeighbors(id, l, selected)
		for _, nb := range selected {
			idx.addBackEdge(nb, id, l)
		}
		if len(candidates) > 0 {
			curr = candidates[0].id
		}
	}

	if level > oldMaxLevel {
		idx.entryPoint = int64(id)
		idx.maxLevel = int32(level)
	}

	idx.metrics.incInsert(idx.shardID)
	idx.metrics.setTombstones(idx.shardID, int64(idx.deletedCount))
	return nil
}

// Delete tombstones extID. Returns (false, nil) if extID is unknown or
// already tombstoned — deleting a nonexistent or already-deleted id is not
// an error.
func (idx *Index) Delete(extID string) (bool, error) {
	id, ok := idx.extToInt[extID]
	if !ok {
		return false, nil
	}
	if idx.deletedSet.Test(int(id)) {
		return false, nil
	}
	idx.deletedSet.Set(int(id))
	idx.deletedCount++
	delete(idx.extToInt, extID)
	idx.metrics.incDelete(idx.shardID)
	idx.metrics.setTombstones(idx.shardID, int64(idx.deletedCount))
	return true, nil
}

// SearchResult is one ranked result from Search, nearest first. Vector is
// populated only when the call used WithIncludeVectors(true); it is nil
// otherwise.
type SearchResult struct {
	ExtID    string
	Distance float32
	Vector   []float32
}

// SearchOptions carry the per-call overrides Search accepts.
type SearchOptions struct {
	Ef             int
	Filter         func(extID string) bool
	IncludeVectors bool
}

// SearchOption mutates SearchOptions for a single Search call.
type SearchOption func(*SearchOptions)

// WithEf overrides the beam width for one Search call. A value below k is
// silently raised to k, since a beam narrower than the requested result count
// cannot possibly return k results.
func WithEf(ef int) SearchOption {
	return func(o *SearchOptions) { o.Ef = ef }
}

// WithFilter restricts results to external ids for which f returns true. The
// filter is applied after tombstones are excluded, so it never sees a
// tombstoned id.
func WithFilter(f func(extID string) bool) SearchOption {
	return func(o *SearchOptions) { o.Filter = f }
}

// WithIncludeVectors attaches each result's stored vector (a copy, safe for
// the caller to retain) instead of leaving SearchResult.Vector nil.
func WithIncludeVectors(include bool) SearchOption {
	return func(o *SearchOptions) { o.IncludeVectors = include }
}

// Search returns up to k nearest live vectors to query, nearest first. An
// empty index returns (nil, nil).
func (idx *Index) Search(query []float32, k int, opts ...SearchOption) ([]SearchResult, error) {
	if len(query) != idx.dim {
		return nil, ErrDimensionMismatch
	}
	if idx.entryPoint < 0 || k <= 0 {
		return nil, nil
	}

	so := SearchOptions{Ef: idx.efSearch}
	for _, o := range opts {
		if o != nil {
			o(&so)
		}
	}
	ef := so.Ef
	if ef < k {
		ef = k
	}

	idx.metrics.incSearch(idx.shardID)
	start := time.Now()
	defer func() { idx.metrics.observeSearchLatency(idx.shardID, time.Since(start)) }()

	distTo := idx.makeDistToQuery(query)
	curr := uint32(idx.entryPoint)
	currDist := distTo(curr)
	for l := int(idx.maxLevel); l > 0; l-- {
		curr, currDist = idx.greedyDescend(distTo, curr, currDist, l)
	}
	_ = currDist

	candidates := idx.beamSearch(distTo, curr, 0, ef)

	results := make([]SearchResult, 0, k)
	for _, c := range candidates {
		if idx.deletedSet.Test(int(c.id)) {
			continue
		}
		extID := idx.intToExt[c.id]
		if so.Filter != nil && !so.Filter(extID) {
			continue
		}
		res := SearchResult{ExtID: extID, Distance: c.dist}
		if so.IncludeVectors {
			res.Vector = append([]float32(nil), idx.vectorAt(c.id)...)
		}
		results = append(results, res)
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Compact rebuilds the index from scratch, reinserting every live
// (ext_id, vector) pair in ascending internal-id order under the same
// configuration and PRNG seed, so a repeated Compact of an unchanged live set
// is deterministic. Returns the new Index; the receiver is left untouched.
func (idx *Index) Compact() (*Index, error) {
	cfg := idx.configSnapshot()
	fresh, err := newIndexFromConfig(cfg, idx.shardID)
	if err != nil {
		return nil, err
	}
	for id := uint32(0); id < idx.count; id++ {
		if idx.deletedSet.Test(int(id)) {
			continue
		}
		extID := idx.intToExt[id]
		if err := fresh.Insert(extID, idx.vectorAt(id)); err != nil {
			return nil, err
		}
	}
	idx.logger.Info("index compacted", "shard", idx.shardID, "live", fresh.Size())
	idx.metrics.incCompaction(idx.shardID)
	return fresh, nil
}

func (idx *Index) configSnapshot() Config {
	return Config{
		Dim:                   idx.dim,
		M:                     idx.m,
		Mmax0:                 idx.mmax0,
		EfConstruction:        idx.efConstruction,
		EfSearch:              idx.efSearch,
		Metric:                idx.metric,
		ML:                    idx.sampler.mL,
		UseHeuristic:          idx.useHeuristic,
		KeepPrunedConnections: idx.keepPruned,
		Seed:                  &idx.seed,
		Logger:                idx.logger.raw(),
	}
}

// ShrinkToFit reallocates every backing buffer so capacity equals count (or
// 1, if count is 0), trading the 1.5x growth headroom for a minimal memory
// footprint. Both the tombstone bitset and the pooled "visited" scratch are
// resized along with the numeric arrays.
func (idx *Index) ShrinkToFit() {
	newCap := idx.count
	if newCap == 0 {
		newCap = 1
	}
	if newCap == idx.capacity {
		return
	}

	idx.vectors = arena.Shrink(idx.vectors, int(newCap)*idx.dim)
	if idx.metric == MetricCosine {
		idx.norms = arena.Shrink(idx.norms, int(newCap))
	}
	idx.levels = arena.Shrink(idx.levels, int(newCap))
	for l := range idx.adjacency {
		maxN := idx.maxNForLayer(l)
		idx.adjacency[l] = arena.Shrink(idx.adjacency[l], int(newCap)*maxN)
		idx.neighborCounts[l] = arena.Shrink(idx.neighborCounts[l], int(newCap))
	}

	newDeleted := bitset.New(int(newCap))
	for i := uint32(0); i < idx.count; i++ {
		if idx.deletedSet.Test(int(i)) {
			newDeleted.Set(int(i))
		}
	}
	idx.deletedSet = newDeleted
	idx.scratchVisited = bitset.New(int(newCap))
	idx.capacity = newCap
}

// MemoryUsage returns an estimate, in bytes, of the backing arrays' live
// footprint (capacity-based, not count-based — it reflects what ShrinkToFit
// would reclaim).
func (idx *Index) MemoryUsage() int64 {
	var total int64
	total += int64(idx.vectors.Len()) * 4
	if idx.metric == MetricCosine {
		total += int64(idx.norms.Len()) * 4
	}
	total += int64(idx.levels.Len())
	for l := range idx.adjacency {
		total += int64(idx.adjacency[l].Len()) * 4
		total += int64(idx.neighborCounts[l].Len())
	}
	idx.metrics.setShardBytes(idx.shardID, total)
	return total
}

// grow applies the capacity-growth policy: capacity becomes
// max(capacity+1, ceil(capacity*1.5)), and every backing buffer — including
// every already-allocated layer's adjacency/neighborCounts — is extended to
// match.
func (idx *Index) grow() {
	newCap := idx.capacity + 1
	if scaled := uint32((float64(idx.capacity) * 1.5) + 0.999999); scaled > newCap {
		newCap = scaled
	}

	idx.vectors.Grow(int(newCap)*idx.dim, 0)
	if idx.metric == MetricCosine {
		idx.norms.Grow(int(newCap), 0)
	}
	idx.levels.Grow(int(newCap), 0)
	idx.deletedSet.Grow(int(newCap))
	idx.scratchVisited.Grow(int(newCap))
	for l := range idx.adjacency {
		maxN := idx.maxNForLayer(l)
		idx.adjacency[l].Grow(int(newCap)*maxN, sentinel)
		idx.neighborCounts[l].Grow(int(newCap), 0)
	}
	idx.capacity = newCap
}

// ensureLayers allocates adjacency/neighborCounts buffers for every layer up
// to and including level that does not yet exist, sized at the index's
// current capacity.
func (idx *Index) ensureLayers(level int) {
	for l := len(idx.adjacency); l <= level; l++ {
		maxN := idx.maxNForLayer(l)
		idx.adjacency = append(idx.adjacency, arena.NewFilled(int(idx.capacity)*maxN, sentinel))
		idx.neighborCounts = append(idx.neighborCounts, arena.NewBuffer[uint8](int(idx.capacity)))
	}
}

func (idx *Index) neighborRow(id uint32, layer int) ([]uint32, int) {
	maxN := idx.maxNForLayer(layer)
	base := int(id) * maxN
	row := idx.adjacency[layer].Slice()[base : base+maxN]
	cnt := int(idx.neighborCounts[layer].Slice()[id])
	return row, cnt
}

func (idx *Index) writeNeighbors(id uint32, layer int, ids []uint32) {
	maxN := idx.maxNForLayer(layer)
	base := int(id) * maxN
	row := idx.adjacency[layer].Slice()[base : base+maxN]
	i := 0
	for ; i < len(ids) && i < maxN; i++ {
		row[i] = ids[i]
	}
	for ; i < maxN; i++ {
		row[i] = sentinel
	}
	idx.neighborCounts[layer].Slice()[id] = uint8(i)
}

// addBackEdge links neighborID -> newID at layer, re-running neighbor
// selection over neighborID's existing row plus newID if the row is already
// at capacity.
func (idx *Index) addBackEdge(neighborID, newID uint32, layer int) {
	row, cnt := idx.neighborRow(neighborID, layer)
	for i := 0; i < cnt; i++ {
		if row[i] == newID {
			return
		}
	}
	maxN := idx.maxNForLayer(layer)
	if cnt < maxN {
		row[cnt] = newID
		idx.neighborCounts[layer].Slice()[neighborID] = uint8(cnt + 1)
		return
	}

	candidates := make([]candidate, 0, cnt+1)
	for i := 0; i < cnt; i++ {
		nb := row[i]
		candidates = append(candidates, candidate{id: nb, dist: idx.distanceStoredToStored(neighborID, nb)})
	}
	candidates = append(candidates, candidate{id: newID, dist: idx.distanceStoredToStored(neighborID, newID)})
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	selected := idx.selectNeighbors(candidates, maxN)
	idx.writeNeighbors(neighborID, layer, selected)
}

func (idx *Index) distanceStoredToStored(a, b uint32) float32 {
	va, vb := idx.vectorAt(a), idx.vectorAt(b)
	if idx.metric == MetricCosine {
		return cosineDistanceWithNorms(va, vb, idx.norms.Slice()[a], idx.norms.Slice()[b])
	}
	return resolveDistFunc(idx.metric)(va, vb)
}

func (idx *Index) makeDistToID(id uint32) func(uint32) float32 {
	va := idx.vectorAt(id)
	if idx.metric == MetricCosine {
		na := idx.norms.Slice()[id]
		return func(other uint32) float32 {
			return cosineDistanceWithNorms(va, idx.vectorAt(other), na, idx.norms.Slice()[other])
		}
	}
	fn := resolveDistFunc(idx.metric)
	return func(other uint32) float32 { return fn(va, idx.vectorAt(other)) }
}

func (idx *Index) makeDistToQuery(query []float32) func(uint32) float32 {
	if idx.metric == MetricCosine {
		nq := computeNorm(query)
		return func(other uint32) float32 {
			return cosineDistanceWithNorms(query, idx.vectorAt(other), nq, idx.norms.Slice()[other])
		}
	}
	fn := resolveDistFunc(idx.metric)
	return func(other uint32) float32 { return fn(query, idx.vectorAt(other)) }
}

// greedyDescend hill-climbs from start at the given layer, moving to any
// neighbor strictly closer to the implicit query than the current node,
// until no neighbor improves on it.
func (idx *Index) greedyDescend(distTo func(uint32) float32, start uint32, startDist float32, layer int) (uint32, float32) {
	curr, currDist := start, startDist
	for {
		row, cnt := idx.neighborRow(curr, layer)
		improved := false
		for i := 0; i < cnt; i++ {
			nb := row[i]
			if nb == sentinel {
				break
			}
			d := distTo(nb)
			if d < currDist {
				curr, currDist = nb, d
				improved = true
			}
		}
		if !improved {
			return curr, currDist
		}
	}
}

type candidate struct {
	id   uint32
	dist float32
}

// candidateHeap is a min-heap on distance — the beam search frontier.
type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// resultHeap is a max-heap on distance — it always exposes the current
// worst-of-the-best result at index 0, so beam search can cheaply test
// whether a new candidate is worth keeping.
type resultHeap []candidate

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// beamSearch runs the candidate expansion at layer starting from entry,
// keeping at most ef results, and returns them sorted nearest-first. distTo
// measures distance from every visited node to the implicit query — either a
// stored vector (insert-time) or a caller-supplied one (search-time) —
// unifying the two call sites behind a single resolved closure rather than a
// runtime branch per comparison.
func (idx *Index) beamSearch(distTo func(uint32) float32, entry uint32, layer, ef int) []candidate {
	idx.scratchVisited.ClearAll()
	*idx.scratchFrontier = (*idx.scratchFrontier)[:0]
	*idx.scratchResults = (*idx.scratchResults)[:0]

	d0 := distTo(entry)
	heap.Push(idx.scratchFrontier, candidate{entry, d0})
	heap.Push(idx.scratchResults, candidate{entry, d0})
	idx.scratchVisited.Set(int(entry))

	for idx.scratchFrontier.Len() > 0 {
		n := heap.Pop(idx.scratchFrontier).(candidate)
		if idx.scratchResults.Len() > 0 && n.dist > (*idx.scratchResults)[0].dist {
			break
		}
		row, cnt := idx.neighborRow(n.id, layer)
		for i := 0; i < cnt; i++ {
			m := row[i]
			if m == sentinel {
				break
			}
			if idx.scratchVisited.Test(int(m)) {
				continue
			}
			idx.scratchVisited.Set(int(m))
			d := distTo(m)
			if idx.scratchResults.Len() < ef || d < (*idx.scratchResults)[0].dist {
				heap.Push(idx.scratchFrontier, candidate{m, d})
				heap.Push(idx.scratchResults, candidate{m, d})
				if idx.scratchResults.Len() > ef {
					heap.Pop(idx.scratchResults)
				}
			}
		}
	}

	out := make([]candidate, len(*idx.scratchResults))
	copy(out, *idx.scratchResults)
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

// selectNeighbors dispatches to the simple (nearest-maxN) or Algorithm-4
// diversity-aware heuristic selection, per idx.useHeuristic.
func (idx *Index) selectNeighbors(candidates []candidate, maxN int) []uint32 {
	if !idx.useHeuristic {
		n := len(candidates)
		if n > maxN {
			n = maxN
		}
		ids := make([]uint32, n)
		for i := 0; i < n; i++ {
			ids[i] = candidates[i].id
		}
		return ids
	}

	selected := make([]candidate, 0, maxN)
	discarded := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if len(selected) >= maxN {
			break
		}
		good := true
		for _, s := range selected {
			if idx.distanceStoredToStored(c.id, s.id) < c.dist {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, c)
		} else {
			discarded = append(discarded, c)
		}
	}
	if idx.keepPruned {
		for _, c := range discarded {
			if len(selected) >= maxN {
				break
			}
			selected = append(selected, c)
		}
	}
	ids := make([]uint32, len(selected))
	for i, s := range selected {
		ids[i] = s.id
	}
	return ids
}
