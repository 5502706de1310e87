// Package ivf implements the approximate index strategy: an inverted-file
// index. Vectors are partitioned around k-means centroids at build time and
// queries scan only the closest partitions. Recall is bounded by the probe
// count, but every returned id truly exists in the snapshot.
package ivf

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/miradorlabs/mirador/distance"
	"github.com/miradorlabs/mirador/index"
	"github.com/miradorlabs/mirador/internal/kmeans"
	"github.com/miradorlabs/mirador/internal/topk"
	"github.com/miradorlabs/mirador/store"
)

// maxTrainIterations bounds Lloyd's algorithm during partition training.
const maxTrainIterations = 50

// Snapshot is an immutable IVF index over a point-in-time record set.
type Snapshot struct {
	ids     []string
	vectors []float32 // len(ids) * dim, contiguous

	centroids  []float32  // numPartitions * dim
	partitions [][]uint32 // record indices per partition

	dim        int
	metric     distance.Metric
	distFunc   distance.Func
	version    uint64
	probeCount int
	seed       int64
}

var _ index.Snapshot = (*Snapshot)(nil)

// Build constructs an IVF snapshot from the view.
//
// NumPartitions is clamped to [1, view.Len()]; a single partition degenerates
// to an exact full scan. Training is deterministic for a fixed cfg.Seed.
func Build(ctx context.Context, view *store.View, cfg index.BuildConfig) (index.Snapshot, error) {
	if view.Len() == 0 {
		return nil, index.ErrEmptyCollection
	}

	distFunc, err := distance.Provider(cfg.Metric)
	if err != nil {
		return nil, err
	}

	dim := view.Dimension
	n := view.Len()

	numPartitions := cfg.NumPartitions
	if numPartitions < 1 {
		numPartitions = 1
	}
	if numPartitions > n {
		numPartitions = n
	}

	probeCount := cfg.ProbeCount
	if probeCount < 1 {
		probeCount = 1
	}
	if probeCount > numPartitions {
		probeCount = numPartitions
	}

	ids := make([]string, n)
	vectors := make([]float32, n*dim)
	for i, rec := range view.Records {
		ids[i] = rec.ID
		copy(vectors[i*dim:(i+1)*dim], rec.Vector)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	centroids, err := kmeans.Train(ctx, vectors, dim, numPartitions, cfg.Metric, maxTrainIterations, rng)
	if err != nil {
		return nil, fmt.Errorf("partition training: %w", err)
	}

	partitions := make([][]uint32, len(centroids)/dim)
	for i := 0; i < n; i++ {
		p, err := kmeans.Assign(vectors[i*dim:(i+1)*dim], centroids, dim, cfg.Metric)
		if err != nil {
			return nil, err
		}
		partitions[p] = append(partitions[p], uint32(i))
	}

	return &Snapshot{
		ids:        ids,
		vectors:    vectors,
		centroids:  centroids,
		partitions: partitions,
		dim:        dim,
		metric:     cfg.Metric,
		distFunc:   distFunc,
		version:    view.Version,
		probeCount: probeCount,
		seed:       cfg.Seed,
	}, nil
}

// Restore reconstructs a snapshot from persisted sections. assignments maps
// each record index to its partition. Used by the persist package.
func Restore(ids []string, vectors, centroids []float32, assignments []uint32, dim int, metric distance.Metric, probeCount int, seed int64, version uint64) (*Snapshot, error) {
	if dim <= 0 || len(vectors) != len(ids)*dim || len(assignments) != len(ids) {
		return nil, fmt.Errorf("ivf: corrupt sections: %d ids, %d floats, %d assignments, dim %d",
			len(ids), len(vectors), len(assignments), dim)
	}
	if len(centroids) == 0 || len(centroids)%dim != 0 {
		return nil, fmt.Errorf("ivf: corrupt centroid section: %d floats, dim %d", len(centroids), dim)
	}
	distFunc, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	numPartitions := len(centroids) / dim
	partitions := make([][]uint32, numPartitions)
	for i, p := range assignments {
		if int(p) >= numPartitions {
			return nil, fmt.Errorf("ivf: assignment %d out of range (%d partitions)", p, numPartitions)
		}
		partitions[p] = append(partitions[p], uint32(i))
	}

	if probeCount < 1 {
		probeCount = 1
	}
	if probeCount > numPartitions {
		probeCount = numPartitions
	}

	return &Snapshot{
		ids:        ids,
		vectors:    vectors,
		centroids:  centroids,
		partitions: partitions,
		dim:        dim,
		metric:     metric,
		distFunc:   distFunc,
		version:    version,
		probeCount: probeCount,
		seed:       seed,
	}, nil
}

// Search probes the closest partitions and returns the k best matches found.
func (s *Snapshot) Search(query []float32, k int, opts *index.SearchOptions) ([]index.Result, error) {
	if err := index.ValidateQuery(query, k, s.dim); err != nil {
		return nil, err
	}

	probes := s.probeCount
	var filter func(string) bool
	if opts != nil {
		if opts.ProbeCount > 0 {
			probes = opts.ProbeCount
		}
		filter = opts.Filter
	}
	if probes > len(s.partitions) {
		probes = len(s.partitions)
	}

	probed, err := kmeans.Closest(query, s.centroids, s.dim, probes, s.metric)
	if err != nil {
		return nil, err
	}

	// Scan probed partitions in parallel, one collector each, then merge.
	collectors := make([]*topk.Collector, len(probed))
	var g errgroup.Group
	for i, p := range probed {
		c := topk.NewCollector(k)
		collectors[i] = c
		rows := s.partitions[p]
		g.Go(func() error {
			for _, row := range rows {
				id := s.ids[row]
				if filter != nil && !filter(id) {
					continue
				}
				c.Push(id, s.distFunc(query, s.vectors[int(row)*s.dim:(int(row)+1)*s.dim]))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := topk.NewCollector(k)
	for _, c := range collectors {
		for _, cand := range c.Results() {
			merged.Push(cand.ID, cand.Distance)
		}
	}

	candidates := merged.Results()
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

// Strategy returns index.StrategyIVF.
func (s *Snapshot) Strategy() index.Strategy { return index.StrategyIVF }

// Version returns the store version the snapshot reflects.
func (s *Snapshot) Version() uint64 { return s.version }

// NumPartitions returns the trained partition count.
func (s *Snapshot) NumPartitions() int { return len(s.partitions) }

// ProbeCount returns the default partitions scanned per query.
func (s *Snapshot) ProbeCount() int { return s.probeCount }

// Seed returns the training seed, preserved for serialization.
func (s *Snapshot) Seed() int64 { return s.seed }

// IDs exposes the indexed ids for serialization.
func (s *Snapshot) IDs() []string { return s.ids }

// Vectors exposes the contiguous vector buffer for serialization.
func (s *Snapshot) Vectors() []float32 { return s.vectors }

// Centroids exposes the trained centroids for serialization.
func (s *Snapshot) Centroids() []float32 { return s.centroids }

// Assignments returns the partition of each record, indexed by record
// position. Used for serialization.
func (s *Snapshot) Assignments() []uint32 {
	out := make([]uint32, len(s.ids))
	for p, rows := range s.partitions {
		for _, row := range rows {
			out[row] = uint32(p)
		}
	}
	return out
}
