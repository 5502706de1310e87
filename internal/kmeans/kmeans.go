// Package kmeans implements Lloyd's algorithm for training the partition
// centroids of the IVF index strategy.
package kmeans

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/miradorlabs/mirador/distance"
)

// Train trains k centroids from the given flattened vectors (n * dim) using
// Lloyd's algorithm and returns the flattened centroids (k * dim).
// The rng makes training deterministic for a fixed seed.
// If fewer than k vectors are provided, k is reduced to the vector count.
func Train(ctx context.Context, vectors []float32, dim, k int, metric distance.Metric, maxIter int, rng *rand.Rand) ([]float32, error) {
	n := len(vectors) / dim
	if k > n {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	distFunc, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	centroids := make([]float32, k*dim)

	// Initialize centroids from distinct random data points.
	perm := rng.Perm(n)
	for i := 0; i < k; i++ {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false

		// Assignment step.
		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			best := -1
			minDist := float32(math.MaxFloat32)

			for j := 0; j < k; j++ {
				d := distFunc(vec, centroids[j*dim:(j+1)*dim])
				if d < minDist {
					minDist = d
					best = j
				}
			}

			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed && iter > 0 {
			break
		}

		// Update step.
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}

		for i := 0; i < n; i++ {
			cluster := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[cluster*dim+d] += vec[d]
			}
			counts[cluster]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-seed an empty cluster with a random point.
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids, nil
}

// Assign finds the closest centroid for a vector.
func Assign(vec, centroids []float32, dim int, metric distance.Metric) (int, error) {
	distFunc, err := distance.Provider(metric)
	if err != nil {
		return -1, err
	}

	k := len(centroids) / dim
	best := -1
	minDist := float32(math.MaxFloat32)

	for j := 0; j < k; j++ {
		d := distFunc(vec, centroids[j*dim:(j+1)*dim])
		if d < minDist {
			minDist = d
			best = j
		}
	}

	return best, nil
}

type centroidDist struct {
	id   int
	dist float32
}

// Closest returns the indices of the n closest centroids to the query vector,
// ordered by ascending distance.
func Closest(query, centroids []float32, dim, n int, metric distance.Metric) ([]int, error) {
	distFunc, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	k := len(centroids) / dim
	if n > k {
		n = k
	}

	dists := make([]centroidDist, k)
	for i := 0; i < k; i++ {
		dists[i] = centroidDist{id: i, dist: distFunc(query, centroids[i*dim:(i+1)*dim])}
	}

	sort.Slice(dists, func(i, j int) bool {
		if dists[i].dist != dists[j].dist {
			return dists[i].dist < dists[j].dist
		}
		return dists[i].id < dists[j].id
	})

	result := make([]int, n)
	for i := 0; i < n; i++ {
		result[i] = dists[i].id
	}

	return result, nil
}
