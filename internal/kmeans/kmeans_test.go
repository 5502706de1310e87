package kmeans

import (
	"context"
	"math/rand"
	"testing"

	"github.com/miradorlabs/mirador/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrain(t *testing.T) {
	// 2 clusters: (0,0) and (10,10)
	vecs := []float32{
		0, 0, 0, 1, 1, 0, // near 0,0
		10, 10, 10, 11, 11, 10, // near 10,10
	}
	k := 2
	dim := 2

	centroids, err := Train(context.Background(), vecs, dim, k, distance.MetricL2, 100, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Len(t, centroids, k*dim)

	// Points from different clusters land in different partitions.
	p1, err := Assign([]float32{0.5, 0.5}, centroids, dim, distance.MetricL2)
	require.NoError(t, err)

	p2, err := Assign([]float32{10.5, 10.5}, centroids, dim, distance.MetricL2)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
}

func TestTrainDeterministic(t *testing.T) {
	vecs := make([]float32, 100*4)
	rng := rand.New(rand.NewSource(7))
	for i := range vecs {
		vecs[i] = rng.Float32()
	}

	c1, err := Train(context.Background(), vecs, 4, 8, distance.MetricL2, 50, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	c2, err := Train(context.Background(), vecs, 4, 8, distance.MetricL2, 50, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	assert.Equal(t, c1, c2)
}

func TestTrainFewerVectorsThanK(t *testing.T) {
	// k is clamped to the vector count instead of failing.
	vecs := []float32{0, 0, 10, 10}
	centroids, err := Train(context.Background(), vecs, 2, 5, distance.MetricL2, 10, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Len(t, centroids, 2*2)
}

func TestTrainEmpty(t *testing.T) {
	centroids, err := Train(context.Background(), nil, 2, 2, distance.MetricL2, 10, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Nil(t, centroids)
}

func TestTrainUnknownMetric(t *testing.T) {
	_, err := Train(context.Background(), []float32{0, 0}, 2, 1, distance.Metric(999), 10, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestClosest(t *testing.T) {
	centroids := []float32{
		0, 0,
		10, 10,
		20, 20,
	}

	got, err := Closest([]float32{9, 9}, centroids, 2, 2, distance.MetricL2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, got)

	// n larger than centroid count is clamped.
	got, err = Closest([]float32{0, 0}, centroids, 2, 10, distance.MetricL2)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
