// Package mirador provides an embedded similarity-search core.
//
// This file implements strategy-specific fluent builder APIs for creating
// and configuring collections. Builders are immutable - each method returns
// a new builder with the updated configuration.
package mirador

import (
	"github.com/miradorlabs/mirador/codec"
	"github.com/miradorlabs/mirador/distance"
	"github.com/miradorlabs/mirador/index"
	"github.com/miradorlabs/mirador/index/flat"
	"github.com/miradorlabs/mirador/index/ivf"
)

// defaultIVFPartitions is used when the builder does not set a partition
// count. Small on purpose; callers with large collections should size
// partitions to roughly sqrt(n).
const defaultIVFPartitions = 16

// =============================================================================
// Flat Builder (Immutable)
// =============================================================================

// Flat creates a new exact-index collection builder with the specified
// dimension. Flat scans every vector per query and doubles as the
// correctness oracle for the approximate strategy.
//
// The builder is immutable - each method returns a new builder with the
// updated configuration.
//
// Example:
//
//	col, err := mirador.Flat(128).
//	    Cosine().
//	    Build()
func Flat(dimension int) FlatBuilder {
	return FlatBuilder{
		dimension: dimension,
		metric:    distance.MetricL2,
	}
}

// FlatBuilder is an immutable fluent builder for exact-index collections.
// Each method returns a new builder with the updated configuration.
type FlatBuilder struct {
	dimension int
	metric    distance.Metric
	codec     codec.Codec
	logger    *Logger
	metrics   MetricsCollector
}

// SquaredL2 sets the distance metric to Squared Euclidean distance.
func (b FlatBuilder) SquaredL2() FlatBuilder {
	b.metric = distance.MetricL2
	return b
}

// Cosine sets the distance metric to Cosine distance (1 - cosine similarity).
func (b FlatBuilder) Cosine() FlatBuilder {
	b.metric = distance.MetricCosine
	return b
}

// DotProduct sets the distance metric to Dot Product (inner product).
func (b FlatBuilder) DotProduct() FlatBuilder {
	b.metric = distance.MetricDot
	return b
}

// Logger sets the structured logger for operation tracing.
func (b FlatBuilder) Logger(l *Logger) FlatBuilder {
	b.logger = l
	return b
}

// Metrics sets the metrics collector for monitoring.
func (b FlatBuilder) Metrics(mc MetricsCollector) FlatBuilder {
	b.metrics = mc
	return b
}

// Codec sets the metadata codec for saved snapshots.
func (b FlatBuilder) Codec(c codec.Codec) FlatBuilder {
	b.codec = c
	return b
}

// Build creates the exact-index collection.
func (b FlatBuilder) Build(optFns ...Option) (*Collection, error) {
	if b.dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: b.dimension}
	}

	cfg := index.BuildConfig{
		Metric:    b.metric,
		Dimension: b.dimension,
	}
	return newCollection(cfg, flat.Build, b.collectOptions(optFns))
}

// MustBuild creates the collection, panicking on error.
func (b FlatBuilder) MustBuild(optFns ...Option) *Collection {
	col, err := b.Build(optFns...)
	if err != nil {
		panic(err)
	}
	return col
}

func (b FlatBuilder) collectOptions(optFns []Option) []Option {
	var opts []Option
	if b.codec != nil {
		opts = append(opts, WithCodec(b.codec))
	}
	if b.logger != nil {
		opts = append(opts, WithLogger(b.logger))
	}
	if b.metrics != nil {
		opts = append(opts, WithMetricsCollector(b.metrics))
	}
	return append(opts, optFns...)
}

// =============================================================================
// IVF Builder (Immutable)
// =============================================================================

// IVF creates a new approximate-index collection builder with the specified
// dimension. IVF partitions vectors around k-means centroids and scans only
// the probed partitions per query: bounded recall, never false ids.
//
// The builder is immutable - each method returns a new builder with the
// updated configuration.
//
// Example:
//
//	col, err := mirador.IVF(128).
//	    SquaredL2().
//	    Partitions(64).
//	    Probes(8).
//	    Seed(42).
//	    Build()
func IVF(dimension int) IVFBuilder {
	return IVFBuilder{
		dimension:  dimension,
		metric:     distance.MetricL2,
		partitions: defaultIVFPartitions,
		probes:     1,
	}
}

// IVFBuilder is an immutable fluent builder for approximate-index
// collections. Each method returns a new builder with the updated
// configuration.
type IVFBuilder struct {
	dimension  int
	metric     distance.Metric
	partitions int
	probes     int
	seed       *int64
	codec      codec.Codec
	logger     *Logger
	metrics    MetricsCollector
}

// SquaredL2 sets the distance metric to Squared Euclidean distance.
func (b IVFBuilder) SquaredL2() IVFBuilder {
	b.metric = distance.MetricL2
	return b
}

// Cosine sets the distance metric to Cosine distance (1 - cosine similarity).
func (b IVFBuilder) Cosine() IVFBuilder {
	b.metric = distance.MetricCosine
	return b
}

// DotProduct sets the distance metric to Dot Product (inner product).
func (b IVFBuilder) DotProduct() IVFBuilder {
	b.metric = distance.MetricDot
	return b
}

// Partitions sets the k-means cluster count. Clamped to the record count at
// build time; 1 degenerates to an exact full scan.
// Default: 16. Recommended: roughly sqrt(n) for n records.
func (b IVFBuilder) Partitions(n int) IVFBuilder {
	b.partitions = n
	return b
}

// Probes sets the number of partitions scanned per query. Higher values
// improve recall but slow down queries. Clamped to the partition count.
// Default: 1.
func (b IVFBuilder) Probes(n int) IVFBuilder {
	b.probes = n
	return b
}

// Seed sets the seed for deterministic partition training.
// If not set, a time-based seed is used.
func (b IVFBuilder) Seed(seed int64) IVFBuilder {
	b.seed = &seed
	return b
}

// Logger sets the structured logger for operation tracing.
func (b IVFBuilder) Logger(l *Logger) IVFBuilder {
	b.logger = l
	return b
}

// Metrics sets the metrics collector for monitoring.
func (b IVFBuilder) Metrics(mc MetricsCollector) IVFBuilder {
	b.metrics = mc
	return b
}

// Codec sets the metadata codec for saved snapshots.
func (b IVFBuilder) Codec(c codec.Codec) IVFBuilder {
	b.codec = c
	return b
}

// Build creates the approximate-index collection.
func (b IVFBuilder) Build(optFns ...Option) (*Collection, error) {
	if b.dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: b.dimension}
	}

	cfg := index.BuildConfig{
		Metric:        b.metric,
		Dimension:     b.dimension,
		NumPartitions: b.partitions,
		ProbeCount:    b.probes,
	}
	if b.seed != nil {
		cfg.Seed = *b.seed
	} else {
		cfg.Seed = timeSeed()
	}
	return newCollection(cfg, ivf.Build, b.collectOptions(optFns))
}

// MustBuild creates the collection, panicking on error.
func (b IVFBuilder) MustBuild(optFns ...Option) *Collection {
	col, err := b.Build(optFns...)
	if err != nil {
		panic(err)
	}
	return col
}

func (b IVFBuilder) collectOptions(optFns []Option) []Option {
	var opts []Option
	if b.codec != nil {
		opts = append(opts, WithCodec(b.codec))
	}
	if b.logger != nil {
		opts = append(opts, WithLogger(b.logger))
	}
	if b.metrics != nil {
		opts = append(opts, WithMetricsCollector(b.metrics))
	}
	return append(opts, optFns...)
}
