// Package flat implements the exact index strategy: vectors are stored in a
// single contiguous buffer and every query scans all of them. It is the
// correctness oracle for the approximate strategies.
package flat

import (
	"context"
	"fmt"

	"github.com/miradorlabs/mirador/distance"
	"github.com/miradorlabs/mirador/index"
	"github.com/miradorlabs/mirador/internal/topk"
	"github.com/miradorlabs/mirador/store"
)

// Snapshot is an immutable exact index over a point-in-time record set.
type Snapshot struct {
	ids      []string
	vectors  []float32 // len(ids) * dim, contiguous
	dim      int
	metric   distance.Metric
	distFunc distance.Func
	version  uint64
}

var _ index.Snapshot = (*Snapshot)(nil)

// Build constructs a flat snapshot from the view.
// Returns index.ErrEmptyCollection for empty views.
func Build(ctx context.Context, view *store.View, cfg index.BuildConfig) (index.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if view.Len() == 0 {
		return nil, index.ErrEmptyCollection
	}

	distFunc, err := distance.Provider(cfg.Metric)
	if err != nil {
		return nil, err
	}

	dim := view.Dimension
	ids := make([]string, view.Len())
	vectors := make([]float32, view.Len()*dim)
	for i, rec := range view.Records {
		ids[i] = rec.ID
		copy(vectors[i*dim:(i+1)*dim], rec.Vector)
	}

	return &Snapshot{
		ids:      ids,
		vectors:  vectors,
		dim:      dim,
		metric:   cfg.Metric,
		distFunc: distFunc,
		version:  view.Version,
	}, nil
}

// Restore reconstructs a snapshot from persisted sections.
// Used by the persist package; not part of the public build path.
func Restore(ids []string, vectors []float32, dim int, metric distance.Metric, version uint64) (*Snapshot, error) {
	if dim <= 0 || len(vectors) != len(ids)*dim {
		return nil, fmt.Errorf("flat: corrupt sections: %d ids, %d floats, dim %d", len(ids), len(vectors), dim)
	}
	distFunc, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ids:      ids,
		vectors:  vectors,
		dim:      dim,
		metric:   metric,
		distFunc: distFunc,
		version:  version,
	}, nil
}

// Search scans every stored vector and returns the k closest matches.
func (s *Snapshot) Search(query []float32, k int, opts *index.SearchOptions) ([]index.Result, error) {
	if err := index.ValidateQuery(query, k, s.dim); err != nil {
		return nil, err
	}

	var filter func(string) bool
	if opts != nil {
		filter = opts.Filter
	}

	c := topk.NewCollector(k)
	for i, id := range s.ids {
		if filter != nil && !filter(id) {
			continue
		}
		c.Push(id, s.distFunc(query, s.vectors[i*s.dim:(i+1)*s.dim]))
	}

	candidates := c.Results()
	results := make([]index.Result, len(candidates))
	for i, cand := range candidates {
		results[i] = index.Result{ID: cand.ID, Distance: cand.Distance}
	}
	return results, nil
}

// Len returns the number of indexed records.
func (s *Snapshot) Len() int { return len(s.ids) }

// Dimension returns the vector dimension.
func (s *Snapshot) Dimension() int { return s.dim }

// Metric returns the build metric.
func (s *Snapshot) Metric() distance.Metric { return s.metric }

// Strategy returns index.StrategyFlat.
func (s *Snapshot) Strategy() index.Strategy { return index.StrategyFlat }

// Version returns the store version the snapshot reflects.
func (s *Snapshot) Version() uint64 { return s.version }

// IDs exposes the indexed ids for serialization.
func (s *Snapshot) IDs() []string { return s.ids }

// Vectors exposes the contiguous vector buffer for serialization.
func (s *Snapshot) Vectors() []float32 { return s.vectors }
