package hnsw

// levels.go wraps internal/prng with the insert-time level sampler:
// ℓ = floor(-ln(u) * mL), u drawn from the open interval (0,1).
//
// © 2025 hnsw-index authors. MIT License.

import (
	"math"
	"math/rand"
	"time"

	"github.com/Voskan/hnsw-index/internal/prng"
)

func lnFloat(x float64) float64 { return math.Log(x) }

// levelSampler draws the per-insert layer assignment from a seeded PRNG.
type levelSampler struct {
	rng *prng.Xoshiro128
	mL  float64
}

// resolveSeed returns *seed, or a non-deterministic seed drawn from the
// process-global math/rand source when seed is nil.
func resolveSeed(seed *uint32) uint32 {
	if seed != nil {
		return *seed
	}
	return uint32(time.Now().UnixNano()) ^ uint32(rand.Int63())
}

// newSeededRNG constructs the Xoshiro128 generator backing a levelSampler.
func newSeededRNG(seed uint32) *prng.Xoshiro128 {
	return prng.NewXoshiro128(seed)
}

// sample returns the next level. The distribution is geometric with
// P(level ≥ k) = exp(−k/mL); with mL = 1/ln(M) each layer up keeps about
// 1/M of the nodes of the layer below.
func (l *levelSampler) sample() int {
	u := l.rng.Float64()
	return int(math.Floor(-math.Log(u) * l.mL))
}
