package hnsw

// config.go defines Config, the functional Option type, and the validation/
// defaulting pass: a functional-options pattern (config + Option +
// applyOptions) over the HNSW knobs (dim, M, ef, metric, seed) plus the
// ambient knobs (logger, registry).
//
// © 2025 hnsw-index authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config bundles every knob that influences a single Index's behaviour.
// Construct it with DefaultConfig and adjust with Option functions.
type Config struct {
	Dim int

	M                     int
	Mmax0                 int
	EfConstruction        int
	EfSearch              int
	Metric                Metric
	ML                    float64
	UseHeuristic          bool
	KeepPrunedConnections bool

	// Seed, when non-nil, makes level assignment reproducible for a given
	// insert order. A nil Seed means a non-deterministic seed is drawn once
	// at construction.
	Seed *uint32

	Logger   *zap.Logger
	Registry *prometheus.Registry
}

// Option mutates a Config during NewIndex/NewShardManager construction.
type Option func(*Config)

// DefaultConfig returns a Config with every standard default applied, for
// the given required dimension.
func DefaultConfig(dim int) Config {
	m := 16
	return Config{
		Dim:                   dim,
		M:                     m,
		Mmax0:                 2 * m,
		EfConstruction:        200,
		EfSearch:              50,
		Metric:                MetricEuclidean,
		ML:                    defaultML(m),
		UseHeuristic:          true,
		KeepPrunedConnections: true,
		Logger:                zap.NewNop(),
	}
}

func defaultML(m int) float64 {
	// mL defaults to 1/ln(M); guarded because ln(1) == 0.
	if m <= 1 {
		return 1
	}
	return 1 / lnFloat(float64(m))
}

// WithM overrides the target layer>0 degree and re-derives Mmax0/mL from it.
// Callers needing a custom Mmax0/mL should apply WithMmax0/WithML after
// WithM.
func WithM(m int) Option {
	return func(c *Config) {
		c.M = m
		c.Mmax0 = 2 * m
		c.ML = defaultML(m)
	}
}

// WithMmax0 overrides the layer-0 neighbor cap.
func WithMmax0(mmax0 int) Option {
	return func(c *Config) { c.Mmax0 = mmax0 }
}

// WithEfConstruction overrides the build-time beam width.
func WithEfConstruction(ef int) Option {
	return func(c *Config) { c.EfConstruction = ef }
}

// WithEfSearch overrides the default query-time beam width.
func WithEfSearch(ef int) Option {
	return func(c *Config) { c.EfSearch = ef }
}

// WithMetric selects the distance metric.
func WithMetric(m Metric) Option {
	return func(c *Config) { c.Metric = m }
}

// WithML overrides the level-generation scale directly.
func WithML(ml float64) Option {
	return func(c *Config) { c.ML = ml }
}

// WithHeuristic toggles diversity-aware neighbor selection.
func WithHeuristic(enabled bool) Option {
	return func(c *Config) { c.UseHeuristic = enabled }
}

// WithKeepPrunedConnections toggles backfilling from discarded candidates
// once heuristic selection leaves room.
func WithKeepPrunedConnections(enabled bool) Option {
	return func(c *Config) { c.KeepPrunedConnections = enabled }
}

// WithSeed fixes the PRNG seed so level assignment is reproducible for a
// given insert order.
func WithSeed(seed uint32) Option {
	return func(c *Config) { c.Seed = &seed }
}

// WithLogger plugs an external zap.Logger. The Index never logs on its hot
// path (insert/search); Compact is the only Index operation that logs.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithRegistry enables Prometheus metrics collection for the Index.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *Config) { c.Registry = reg }
}

func applyOptions(cfg *Config, opts []Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
}

func (c *Config) validate() error {
	if c.Dim <= 0 {
		return ErrInvalidDimension
	}
	if c.M <= 0 || c.Mmax0 <= 0 {
		return ErrInvalidM
	}
	if c.EfConstruction <= 0 || c.EfSearch <= 0 {
		return ErrInvalidEf
	}
	switch c.Metric {
	case MetricEuclidean, MetricCosine, MetricInnerProduct:
	default:
		return ErrInvalidMetric
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// resolveConfig builds a Config in three steps: defaults, then caller
// options applied over them, then validation of the result.
func resolveConfig(dim int, opts []Option) (Config, error) {
	cfg := DefaultConfig(dim)
	applyOptions(&cfg, opts)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ShardManagerConfig bundles the knobs for a ShardManager.
type ShardManagerConfig struct {
	// IndexTemplate is copied into every shard's Index config (Dim/Metric/M/
	// etc.); its Seed, if set, is reused unmodified for every shard so a
	// fixed (seed, insert order) remains reproducible.
	IndexTemplate Config

	MaxVectorsPerShard int
	MaxLoadedShards    int

	Store Store

	Logger   *zap.Logger
	Registry *prometheus.Registry
}

// DefaultShardManagerConfig returns the standard shard defaults layered on
// top of DefaultConfig(dim).
func DefaultShardManagerConfig(dim int) ShardManagerConfig {
	return ShardManagerConfig{
		IndexTemplate:      DefaultConfig(dim),
		MaxVectorsPerShard: 100_000,
		MaxLoadedShards:    4,
		Logger:             zap.NewNop(),
	}
}

func (c *ShardManagerConfig) validate() error {
	if err := c.IndexTemplate.validate(); err != nil {
		return err
	}
	if c.MaxVectorsPerShard <= 0 || c.MaxLoadedShards <= 0 {
		return ErrInvalidShardConfig
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}
