// Package mirador provides an embedded similarity-search core.
//
// This file implements the query engine and a fluent search API.
package mirador

import (
	"context"
	"time"

	"github.com/miradorlabs/mirador/index"
)

// QueryOptions tunes a single query.
type QueryOptions struct {
	// ProbeCount overrides the collection's configured IVF probe count when
	// > 0. Ignored by the exact strategy.
	ProbeCount int
}

// Query returns the k nearest neighbors of the query vector, ordered by
// ascending distance with ties broken by ascending id. Results are served
// from the latest committed snapshot and filtered against current store
// liveness, so deleted ids never appear. Approximate collections may miss
// true neighbors but never return false ids.
//
// Fails with ErrInvalidK when k <= 0, *ErrDimensionMismatch when the query
// length differs from the collection dimension, and ErrEmptyCollection when
// there is nothing to search. The first query after inserts builds the
// initial snapshot synchronously.
func (c *Collection) Query(ctx context.Context, query []float32, k int, optFns ...func(*QueryOptions)) ([]Result, error) {
	start := time.Now()
	results, err := c.query(ctx, query, k, optFns)
	c.metrics.RecordQuery(k, time.Since(start), err)
	c.logger.LogQuery(ctx, k, len(results), err)
	return results, err
}

func (c *Collection) query(ctx context.Context, query []float32, k int, optFns []func(*QueryOptions)) ([]Result, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := index.ValidateQuery(query, k, c.cfg.Dimension); err != nil {
		return nil, translateError(err)
	}

	var qo QueryOptions
	for _, fn := range optFns {
		fn(&qo)
	}

	snap, ok := c.mgr.Snapshot()
	if !ok {
		// Nothing committed yet. Build the initial snapshot in-line.
		if err := c.mgr.Rebuild(ctx); err != nil {
			return nil, translateError(err)
		}
		if snap, ok = c.mgr.Snapshot(); !ok {
			return nil, ErrEmptyCollection
		}
	}

	results, err := snap.Search(query, k, &index.SearchOptions{
		ProbeCount: qo.ProbeCount,
		Filter:     c.store.Contains,
	})
	if err != nil {
		return nil, translateError(err)
	}
	return results, nil
}

// Search creates a new fluent search builder for the given query vector.
//
// Example:
//
//	results, err := col.Search(query).
//	    KNN(10).
//	    Probes(8).
//	    Execute(ctx)
func (c *Collection) Search(query []float32) *SearchBuilder {
	return &SearchBuilder{
		col:   c,
		query: query,
		k:     10, // Default k
	}
}

// SearchBuilder is a fluent builder for constructing queries.
type SearchBuilder struct {
	col    *Collection
	query  []float32
	k      int
	probes int
}

// KNN sets the number of nearest neighbors to return.
func (sb *SearchBuilder) KNN(k int) *SearchBuilder {
	sb.k = k
	return sb
}

// Probes sets the number of IVF partitions scanned for this query.
// Higher values improve recall but slow down the query. Ignored by the
// exact strategy.
func (sb *SearchBuilder) Probes(n int) *SearchBuilder {
	sb.probes = n
	return sb
}

// Execute runs the query and returns the results.
func (sb *SearchBuilder) Execute(ctx context.Context) ([]Result, error) {
	return sb.col.Query(ctx, sb.query, sb.k, func(o *QueryOptions) {
		if sb.probes > 0 {
			o.ProbeCount = sb.probes
		}
	})
}

// MustExecute runs the query, panicking on error.
// Use this only in tests or when you're certain the query is valid.
func (sb *SearchBuilder) MustExecute(ctx context.Context) []Result {
	results, err := sb.Execute(ctx)
	if err != nil {
		panic(err)
	}
	return results
}

// First returns only the nearest result, or ErrNotFound if none found.
func (sb *SearchBuilder) First(ctx context.Context) (Result, error) {
	sb.k = 1
	results, err := sb.Execute(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{}, ErrNotFound
	}
	return results[0], nil
}

// Count executes the query and returns the number of results.
func (sb *SearchBuilder) Count(ctx context.Context) (int, error) {
	results, err := sb.Execute(ctx)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// Exists checks if at least one result matches the query.
func (sb *SearchBuilder) Exists(ctx context.Context) (bool, error) {
	sb.k = 1
	results, err := sb.Execute(ctx)
	if err != nil {
		return false, err
	}
	return len(results) > 0, nil
}
