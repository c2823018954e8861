package hnsw

// codec.go implements the binary shard format: a fixed 64-byte header, then
// five variable-length regions (id table, vectors, optional norms, levels,
// adjacency), each little-endian and padded to an exact, documented offset.
// Encode/Decode never use encoding/gob or any reflective codec — every field
// is written and read at a fixed byte offset, the way hand-rolled HNSW binary
// formats typically do it.
//
// © 2025 hnsw-index authors. MIT License.

import (
	"encoding/binary"
	"math"

	"github.com/Voskan/hnsw-index/internal/arena"
	"github.com/Voskan/hnsw-index/internal/bitset"
	"github.com/Voskan/hnsw-index/internal/unsafehelpers"
)

const (
	magicNumber   uint32 = 0x574E5348
	formatVersion uint32 = 1
	headerSize           = 64

	flagCosineNorms           uint8 = 1 << 0
	flagUseHeuristic          uint8 = 1 << 1
	flagKeepPrunedConnections uint8 = 1 << 2
)

// Header is the decoded form of a shard file's fixed 64-byte header.
type Header struct {
	Magic          uint32
	Version        uint32
	Dim            uint32
	Count          uint32
	MaxLevel       int32
	EntryPoint     int32
	M              uint32
	Mmax0          uint32
	Metric         Metric
	Flags          uint8
	EfConstruction uint32
	EfSearch       uint32
}

func alignUp8(n int) int { return int(unsafehelpers.AlignUp(uintptr(n), 8)) }
func alignUp4(n int) int { return int(unsafehelpers.AlignUp(uintptr(n), 4)) }

// ReadHeader parses only the fixed 64-byte header, without touching the rest
// of buf. Returns ErrTruncated if buf is shorter than 64 bytes, ErrBadMagic
// or ErrUnsupportedVersion on a malformed header.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, ErrTruncated
	}
	le := binary.LittleEndian
	h := Header{
		Magic:          le.Uint32(buf[0:4]),
		Version:        le.Uint32(buf[4:8]),
		Dim:            le.Uint32(buf[8:12]),
		Count:          le.Uint32(buf[12:16]),
		MaxLevel:       int32(le.Uint32(buf[16:20])),
		EntryPoint:     int32(le.Uint32(buf[20:24])),
		M:              le.Uint32(buf[24:28]),
		Mmax0:          le.Uint32(buf[28:32]),
		Metric:         Metric(buf[32]),
		Flags:          buf[33],
		EfConstruction: le.Uint32(buf[34:38]),
		EfSearch:       le.Uint32(buf[38:42]),
	}
	if h.Magic != magicNumber {
		return Header{}, ErrBadMagic
	}
	if h.Version != formatVersion {
		return Header{}, ErrUnsupportedVersion
	}
	return h, nil
}

// Encode serializes idx into the binary shard format.
func Encode(idx *Index) ([]byte, error) {
	var flags uint8
	if idx.metric == MetricCosine {
		flags |= flagCosineNorms
	}
	if idx.useHeuristic {
		flags |= flagUseHeuristic
	}
	if idx.keepPruned {
		flags |= flagKeepPrunedConnections
	}

	idTableSize := 0
	for i := uint32(0); i < idx.count; i++ {
		idTableSize += 4 + len(idx.intToExt[i])
	}
	idTablePadded := alignUp8(idTableSize)

	vectorsSize := int(idx.count) * idx.dim * 4
	normsSize := 0
	if idx.metric == MetricCosine {
		normsSize = int(idx.count) * 4
	}
	levelsPadded := alignUp8(int(idx.count))

	numLayers := len(idx.adjacency)

	total := headerSize + idTablePadded + vectorsSize + normsSize + levelsPadded + 4
	for l := 0; l < numLayers; l++ {
		maxN := idx.maxNForLayer(l)
		total += 4 + 4 + 4 // layer_index, node_count, max_neighbors
		total += alignUp4(int(idx.count))
		total += int(idx.count) * maxN * 4
	}

	buf := make([]byte, total)
	le := binary.LittleEndian
	off := 0

	le.PutUint32(buf[0:4], magicNumber)
	le.PutUint32(buf[4:8], formatVersion)
	le.PutUint32(buf[8:12], uint32(idx.dim))
	le.PutUint32(buf[12:16], idx.count)
	le.PutUint32(buf[16:20], uint32(idx.maxLevel))
	le.PutUint32(buf[20:24], uint32(idx.entryPoint))
	le.PutUint32(buf[24:28], uint32(idx.m))
	le.PutUint32(buf[28:32], uint32(idx.mmax0))
	buf[32] = uint8(idx.metric)
	buf[33] = flags
	le.PutUint32(buf[34:38], uint32(idx.efConstruction))
	le.PutUint32(buf[38:42], uint32(idx.efSearch))
	// buf[42:64] stays zero (reserved pad).
	off = headerSize

	idStart := off
	for i := uint32(0); i < idx.count; i++ {
		s := idx.intToExt[i]
		le.PutUint32(buf[off:off+4], uint32(len(s)))
		off += 4
		copy(buf[off:off+len(s)], unsafehelpers.StringToBytes(s))
		off += len(s)
	}
	off = idStart + idTablePadded

	for i := uint32(0); i < idx.count; i++ {
		v := idx.vectorAt(i)
		for _, f := range v {
			le.PutUint32(buf[off:off+4], math.Float32bits(f))
			off += 4
		}
	}

	if idx.metric == MetricCosine {
		for i := uint32(0); i < idx.count; i++ {
			le.PutUint32(buf[off:off+4], math.Float32bits(idx.norms.Slice()[i]))
			off += 4
		}
	}

	levelsStart := off
	copy(buf[off:off+int(idx.count)], idx.levels.Slice()[:idx.count])
	off = levelsStart + levelsPadded

	le.PutUint32(buf[off:off+4], uint32(numLayers))
	off += 4
	for l := 0; l < numLayers; l++ {
		maxN := idx.maxNForLayer(l)
		le.PutUint32(buf[off:off+4], uint32(l))
		off += 4
		le.PutUint32(buf[off:off+4], idx.count)
		off += 4
		le.PutUint32(buf[off:off+4], uint32(maxN))
		off += 4

		countsStart := off
		copy(buf[off:off+int(idx.count)], idx.neighborCounts[l].Slice()[:idx.count])
		off = countsStart + alignUp4(int(idx.count))

		row := idx.adjacency[l].Slice()
		n := int(idx.count) * maxN
		for i := 0; i < n; i++ {
			le.PutUint32(buf[off:off+4], row[i])
			off += 4
		}
	}

	return buf, nil
}

// Decode parses buf into a fresh Index. The returned Index's capacity equals
// its count (it is already ShrinkToFit-tight). The returned Index's external
// ids are views into buf rather than copies, so buf must not be reused or
// mutated by the caller after Decode returns.
func Decode(buf []byte) (*Index, error) {
	h, err := ReadHeader(buf)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	off := headerSize

	metric, ok := metricFromEnum(h.Metric)
	if !ok {
		return nil, ErrInvalidMetric
	}

	cfg := DefaultConfig(int(h.Dim))
	cfg.M = int(h.M)
	cfg.Mmax0 = int(h.Mmax0)
	cfg.EfConstruction = int(h.EfConstruction)
	cfg.EfSearch = int(h.EfSearch)
	cfg.Metric = metric
	cfg.UseHeuristic = h.Flags&flagUseHeuristic != 0
	cfg.KeepPrunedConnections = h.Flags&flagKeepPrunedConnections != 0

	idx, err := newIndexFromConfig(cfg, "")
	if err != nil {
		return nil, err
	}

	count := h.Count
	ids := make([]string, count)
	idStart := off
	for i := uint32(0); i < count; i++ {
		if off+4 > len(buf) {
			return nil, ErrTruncated
		}
		l := int(le.Uint32(buf[off : off+4]))
		off += 4
		if off+l > len(buf) {
			return nil, ErrTruncated
		}
		ids[i] = unsafehelpers.BytesToString(buf[off : off+l])
		off += l
	}
	idTableSize := off - idStart
	off = idStart + alignUp8(idTableSize)

	dim := int(h.Dim)
	idx.vectors = arena.NewBuffer[float32](int(count) * dim)
	for i := uint32(0); i < count; i++ {
		base := int(i) * dim
		for d := 0; d < dim; d++ {
			if off+4 > len(buf) {
				return nil, ErrTruncated
			}
			idx.vectors.Slice()[base+d] = math.Float32frombits(le.Uint32(buf[off : off+4]))
			off += 4
		}
	}

	if h.Flags&flagCosineNorms != 0 {
		idx.norms = arena.NewBuffer[float32](int(count))
		for i := uint32(0); i < count; i++ {
			if off+4 > len(buf) {
				return nil, ErrTruncated
			}
			idx.norms.Slice()[i] = math.Float32frombits(le.Uint32(buf[off : off+4]))
			off += 4
		}
	}

	levelsStart := off
	if off+int(count) > len(buf) {
		return nil, ErrTruncated
	}
	idx.levels = arena.NewBuffer[uint8](int(count))
	copy(idx.levels.Slice(), buf[off:off+int(count)])
	off = levelsStart + alignUp8(int(count))

	if off+4 > len(buf) {
		return nil, ErrTruncated
	}
	numLayers := int(le.Uint32(buf[off : off+4]))
	off += 4

	idx.adjacency = make([]*arena.Buffer[uint32], 0, numLayers)
	idx.neighborCounts = make([]*arena.Buffer[uint8], 0, numLayers)
	for l := 0; l < numLayers; l++ {
		if off+12 > len(buf) {
			return nil, ErrTruncated
		}
		_ = le.Uint32(buf[off : off+4]) // layer_index
		off += 4
		nodeCount := le.Uint32(buf[off : off+4])
		off += 4
		maxNeighbors := le.Uint32(buf[off : off+4])
		off += 4

		countsStart := off
		if off+int(nodeCount) > len(buf) {
			return nil, ErrTruncated
		}
		ncBuf := arena.NewBuffer[uint8](int(nodeCount))
		copy(ncBuf.Slice(), buf[off:off+int(nodeCount)])
		off = countsStart + alignUp4(int(nodeCount))

		n := int(nodeCount) * int(maxNeighbors)
		if off+n*4 > len(buf) {
			return nil, ErrTruncated
		}
		adjBuf := arena.NewBuffer[uint32](n)
		for i := 0; i < n; i++ {
			adjBuf.Slice()[i] = le.Uint32(buf[off : off+4])
			off += 4
		}

		idx.neighborCounts = append(idx.neighborCounts, ncBuf)
		idx.adjacency = append(idx.adjacency, adjBuf)
	}

	idx.count = count
	idx.capacity = count
	idx.intToExt = ids
	idx.extToInt = make(map[string]uint32, count)
	for i, s := range ids {
		idx.extToInt[s] = uint32(i)
	}
	idx.maxLevel = h.MaxLevel
	idx.entryPoint = int64(h.EntryPoint)
	idx.deletedSet = bitset.New(int(count))
	idx.scratchVisited = bitset.New(int(count))

	return idx, nil
}

func metricFromEnum(m Metric) (Metric, bool) {
	switch m {
	case MetricEuclidean, MetricCosine, MetricInnerProduct:
		return m, true
	default:
		return 0, false
	}
}
