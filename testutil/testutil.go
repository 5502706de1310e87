// Package testutil provides deterministic helpers for tests and benchmarks:
// a seeded thread-safe RNG, vector generators, and retrieval-quality
// measurement against an exact oracle.
package testutil

import (
	"math/rand"
	"sync"

	"github.com/miradorlabs/mirador/index"
)

// RNG encapsulates a seeded random number generator.
// It is thread-safe.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 { return r.seed }

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	backing := make([]float32, num*dimensions)
	for i := range backing {
		backing[i] = r.rand.Float32()
	}

	vectors := make([][]float32, num)
	for i := range vectors {
		vectors[i] = backing[i*dimensions : (i+1)*dimensions]
	}
	return vectors
}

// Recall measures the fraction of the exact result set recovered by an
// approximate result set. 1.0 means every true neighbor was found.
// Returns 1.0 for an empty exact set.
func Recall(exact, approx []index.Result) float64 {
	if len(exact) == 0 {
		return 1.0
	}

	found := make(map[string]bool, len(approx))
	for _, r := range approx {
		found[r.ID] = true
	}

	hits := 0
	for _, r := range exact {
		if found[r.ID] {
			hits++
		}
	}
	return float64(hits) / float64(len(exact))
}
