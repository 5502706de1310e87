// Package index defines the contract between index strategies and the rest
// of the system: build configuration, the immutable Snapshot interface, and
// the errors builders and snapshots report.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/miradorlabs/mirador/distance"
	"github.com/miradorlabs/mirador/store"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyCollection is returned when building an index over zero records.
	ErrEmptyCollection = errors.New("empty collection")
)

// ErrDimensionMismatch is a named error type for query/index dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrMetricMismatch is a named error type reported when a snapshot built for
// one metric is attached to a collection configured for another. Detected at
// construction/load time, never per query.
type ErrMetricMismatch struct {
	Want distance.Metric
	Got  distance.Metric
}

func (e *ErrMetricMismatch) Error() string {
	return fmt.Sprintf("metric mismatch: collection uses %s, snapshot built for %s", e.Want, e.Got)
}

// Strategy selects the index structure built over a record set.
type Strategy int

const (
	// StrategyFlat stores all vectors and scans them exhaustively.
	// Exact results; O(n*d) per query. Doubles as the correctness oracle.
	StrategyFlat Strategy = iota

	// StrategyIVF partitions vectors around k-means centroids and scans only
	// the probed partitions per query. Bounded recall, never false ids.
	StrategyIVF
)

func (s Strategy) String() string {
	switch s {
	case StrategyFlat:
		return "flat"
	case StrategyIVF:
		return "ivf"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseStrategy parses a strategy name as produced by Strategy.String.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "flat":
		return StrategyFlat, nil
	case "ivf":
		return StrategyIVF, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q", s)
	}
}

// BuildConfig parameterizes an index build. A build is a pure function of
// the record view and this configuration: identical inputs and seed yield
// an identical snapshot.
type BuildConfig struct {
	// Metric is the distance metric the snapshot is built for.
	Metric distance.Metric

	// Dimension is the collection's vector dimension.
	Dimension int

	// NumPartitions is the k-means cluster count (IVF only).
	// A value of 1 degenerates to an exact full scan.
	NumPartitions int

	// ProbeCount is the number of partitions scanned per query (IVF only).
	// Clamped to NumPartitions.
	ProbeCount int

	// Seed makes partition training deterministic.
	Seed int64
}

// SearchOptions tunes a single query.
type SearchOptions struct {
	// ProbeCount overrides the snapshot's configured probe count when > 0
	// (IVF only).
	ProbeCount int

	// Filter excludes ids for which it returns false. A nil filter accepts
	// everything. The query engine uses this to drop records tombstoned
	// after the serving snapshot was built.
	Filter func(id string) bool
}

// Result is a single ranked match.
type Result struct {
	ID       string
	Distance float32
}

// Snapshot is an immutable index over a point-in-time record set.
// Snapshots are safe for concurrent use; queries never mutate them.
type Snapshot interface {
	// Search returns up to k matches ordered by ascending distance,
	// ties broken by ascending id.
	Search(query []float32, k int, opts *SearchOptions) ([]Result, error)

	// Len returns the number of indexed records.
	Len() int

	// Dimension returns the vector dimension the snapshot was built with.
	Dimension() int

	// Metric returns the distance metric the snapshot was built with.
	Metric() distance.Metric

	// Strategy identifies the index structure.
	Strategy() Strategy

	// Version returns the store version the snapshot reflects.
	Version() uint64
}

// BuilderFunc constructs a snapshot from a record view.
// Implementations must return ErrEmptyCollection for empty views and must
// not retain the view after returning.
type BuilderFunc func(ctx context.Context, view *store.View, cfg BuildConfig) (Snapshot, error)

// ValidateQuery applies the argument checks shared by all snapshot
// implementations.
func ValidateQuery(query []float32, k, dimension int) error {
	if k <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if len(query) != dimension {
		return &ErrDimensionMismatch{Expected: dimension, Actual: len(query)}
	}
	return nil
}
