// Package distance provides vector distance calculations and the metric
// registry used to build and query index snapshots.
//
// All functions return a distance where smaller means closer, regardless of
// the underlying metric. Cosine similarity and dot product are mapped to
// distances so that result ordering is uniform across metrics.
package distance

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	// MetricL2 is the squared Euclidean distance.
	MetricL2 Metric = iota
	// MetricCosine is the cosine distance (1 - cosine similarity).
	MetricCosine
	// MetricDot is the negated dot product (inner product).
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "euclidean"
	case MetricCosine:
		return "cosine"
	case MetricDot:
		return "dotProduct"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMetric parses a metric name as produced by Metric.String.
// Matching is case-insensitive.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(s) {
	case "euclidean", "l2":
		return MetricL2, nil
	case "cosine":
		return MetricCosine, nil
	case "dotproduct", "dot":
		return MetricDot, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", s)
	}
}

// Func is a function type for distance calculation.
// Both vectors must have the same length (caller's responsibility).
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricL2:
		return SquaredL2, nil
	case MetricCosine:
		return CosineDistance, nil
	case MetricDot:
		return NegDot, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// Dot calculates the dot product of two vectors.
func Dot(a, b []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * b[i]
	}
	return ret
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
func SquaredL2(a, b []float32) float32 {
	var d float32
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}

// CosineDistance calculates 1 - cosine similarity.
// Vectors with zero norm are treated as maximally distant (distance 1).
func CosineDistance(a, b []float32) float32 {
	dot := Dot(a, b)
	na := Dot(a, a)
	nb := Dot(b, b)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/float32(math.Sqrt(float64(na)*float64(nb)))
}

// NegDot calculates the negated dot product so that larger inner products
// sort as smaller distances.
func NegDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// Magnitude calculates the L2 norm of v.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm := Magnitude(v)
	if norm == 0 {
		return false
	}
	inv := 1 / norm
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}
