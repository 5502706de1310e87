package mirador

import (
	"errors"
	"fmt"

	"github.com/miradorlabs/mirador/distance"
	"github.com/miradorlabs/mirador/index"
	"github.com/miradorlabs/mirador/manager"
	"github.com/miradorlabs/mirador/store"
)

var (
	// ErrNotFound is returned when no live record has the requested id.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when inserting an id that already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyCollection is returned when querying or building over zero
	// records.
	ErrEmptyCollection = errors.New("empty collection")

	// ErrBuildTimeout is surfaced through Status when an index build exceeds
	// its deadline.
	ErrBuildTimeout = errors.New("index build timed out")

	// ErrClosed is returned from operations on a closed collection.
	ErrClosed = errors.New("collection is closed")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrMetricMismatch indicates that a snapshot was built for a different
// distance metric than the collection is configured with. Detected when the
// snapshot is attached or loaded, never per query.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrMetricMismatch struct {
	Want  distance.Metric
	Got   distance.Metric
	cause error
}

func (e *ErrMetricMismatch) Error() string {
	return fmt.Sprintf("metric mismatch: collection uses %s, snapshot built for %s", e.Want, e.Got)
}

func (e *ErrMetricMismatch) Unwrap() error { return e.cause }

// ErrInvalidDimension indicates an invalid configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found / duplicate unification.
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, store.ErrDuplicateID) {
		return fmt.Errorf("%w: %w", ErrDuplicateID, err)
	}

	// Dimension and argument normalization.
	var sdm *store.ErrDimensionMismatch
	if errors.As(err, &sdm) {
		return &ErrDimensionMismatch{Expected: sdm.Expected, Actual: sdm.Actual, cause: err}
	}
	var idm *index.ErrDimensionMismatch
	if errors.As(err, &idm) {
		return &ErrDimensionMismatch{Expected: idm.Expected, Actual: idm.Actual, cause: err}
	}
	var mm *index.ErrMetricMismatch
	if errors.As(err, &mm) {
		return &ErrMetricMismatch{Want: mm.Want, Got: mm.Got, cause: err}
	}
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	if errors.Is(err, index.ErrEmptyCollection) {
		return fmt.Errorf("%w: %w", ErrEmptyCollection, err)
	}
	if errors.Is(err, manager.ErrBuildTimeout) {
		return fmt.Errorf("%w: %w", ErrBuildTimeout, err)
	}
	if errors.Is(err, manager.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
