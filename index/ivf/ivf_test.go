package ivf

import (
	"context"
	"fmt"
	"testing"

	"github.com/miradorlabs/mirador/distance"
	"github.com/miradorlabs/mirador/index"
	"github.com/miradorlabs/mirador/index/flat"
	"github.com/miradorlabs/mirador/store"
	"github.com/miradorlabs/mirador/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populatedView(t *testing.T, dim, n int, seed int64) *store.View {
	t.Helper()

	s, err := store.New(dim)
	require.NoError(t, err)

	rng := testutil.NewRNG(seed)
	for i, vec := range rng.UniformVectors(n, dim) {
		require.NoError(t, s.Insert(fmt.Sprintf("img-%04d", i), vec, nil))
	}
	return s.View()
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyCollection", func(t *testing.T) {
		s, err := store.New(4)
		require.NoError(t, err)

		_, err = Build(ctx, s.View(), index.BuildConfig{Metric: distance.MetricL2, Dimension: 4})
		assert.ErrorIs(t, err, index.ErrEmptyCollection)
	})

	t.Run("PartitionsClampedToSize", func(t *testing.T) {
		view := populatedView(t, 4, 3, 1)
		snap, err := Build(ctx, view, index.BuildConfig{
			Metric:        distance.MetricL2,
			Dimension:     4,
			NumPartitions: 16,
			ProbeCount:    8,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, snap.(*Snapshot).NumPartitions())
		assert.Equal(t, 3, snap.(*Snapshot).ProbeCount())
	})

	t.Run("Deterministic", func(t *testing.T) {
		view := populatedView(t, 8, 64, 2)
		cfg := index.BuildConfig{
			Metric:        distance.MetricL2,
			Dimension:     8,
			NumPartitions: 4,
			ProbeCount:    2,
			Seed:          99,
		}

		s1, err := Build(ctx, view, cfg)
		require.NoError(t, err)
		s2, err := Build(ctx, view, cfg)
		require.NoError(t, err)

		assert.Equal(t, s1.(*Snapshot).Centroids(), s2.(*Snapshot).Centroids())
		assert.Equal(t, s1.(*Snapshot).Assignments(), s2.(*Snapshot).Assignments())
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	view := populatedView(t, 8, 200, 3)

	snap, err := Build(ctx, view, index.BuildConfig{
		Metric:        distance.MetricL2,
		Dimension:     8,
		NumPartitions: 8,
		ProbeCount:    3,
		Seed:          7,
	})
	require.NoError(t, err)

	t.Run("ValidatesArguments", func(t *testing.T) {
		_, err := snap.Search(make([]float32, 8), 0, nil)
		assert.ErrorIs(t, err, index.ErrInvalidK)

		_, err = snap.Search(make([]float32, 5), 3, nil)
		var dm *index.ErrDimensionMismatch
		assert.ErrorAs(t, err, &dm)
	})

	t.Run("NoFalseResults", func(t *testing.T) {
		query := view.Records[42].Vector
		results, err := snap.Search(query, 10, nil)
		require.NoError(t, err)
		require.NotEmpty(t, results)

		known := make(map[string]bool, view.Len())
		for _, rec := range view.Records {
			known[rec.ID] = true
		}
		for _, r := range results {
			assert.True(t, known[r.ID])
		}
		for i := 1; i < len(results); i++ {
			assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
		}
	})

	t.Run("ReasonableRecall", func(t *testing.T) {
		exact, err := flat.Build(ctx, view, index.BuildConfig{Metric: distance.MetricL2, Dimension: 8})
		require.NoError(t, err)

		query := make([]float32, 8)
		for i := range query {
			query[i] = 0.5
		}

		want, err := exact.Search(query, 10, nil)
		require.NoError(t, err)
		got, err := snap.Search(query, 10, nil)
		require.NoError(t, err)

		// Probing 3 of 8 partitions should still find most true neighbors.
		assert.GreaterOrEqual(t, testutil.Recall(want, got), 0.5)
	})

	t.Run("ProbeAllMatchesExact", func(t *testing.T) {
		exact, err := flat.Build(ctx, view, index.BuildConfig{Metric: distance.MetricL2, Dimension: 8})
		require.NoError(t, err)

		query := view.Records[0].Vector
		want, err := exact.Search(query, 10, nil)
		require.NoError(t, err)
		got, err := snap.Search(query, 10, &index.SearchOptions{ProbeCount: 8})
		require.NoError(t, err)

		assert.Equal(t, want, got)
	})

	t.Run("Filter", func(t *testing.T) {
		query := view.Records[0].Vector
		results, err := snap.Search(query, 10, &index.SearchOptions{
			ProbeCount: 8,
			Filter:     func(id string) bool { return id != "img-0000" },
		})
		require.NoError(t, err)
		for _, r := range results {
			assert.NotEqual(t, "img-0000", r.ID)
		}
	})
}

// A single partition is a degenerate configuration that must reduce to the
// exact full scan.
func TestSinglePartitionEqualsFlat(t *testing.T) {
	ctx := context.Background()
	view := populatedView(t, 4, 50, 11)

	approx, err := Build(ctx, view, index.BuildConfig{
		Metric:        distance.MetricL2,
		Dimension:     4,
		NumPartitions: 1,
		ProbeCount:    1,
		Seed:          5,
	})
	require.NoError(t, err)

	exact, err := flat.Build(ctx, view, index.BuildConfig{Metric: distance.MetricL2, Dimension: 4})
	require.NoError(t, err)

	rng := testutil.NewRNG(21)
	for i := 0; i < 10; i++ {
		query := make([]float32, 4)
		rng.FillUniform(query)

		want, err := exact.Search(query, 5, nil)
		require.NoError(t, err)
		got, err := approx.Search(query, 5, nil)
		require.NoError(t, err)

		assert.Equal(t, want, got)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	view := populatedView(t, 4, 30, 13)

	built, err := Build(ctx, view, index.BuildConfig{
		Metric:        distance.MetricCosine,
		Dimension:     4,
		NumPartitions: 4,
		ProbeCount:    2,
		Seed:          3,
	})
	require.NoError(t, err)
	snap := built.(*Snapshot)

	restored, err := Restore(snap.IDs(), snap.Vectors(), snap.Centroids(), snap.Assignments(),
		4, distance.MetricCosine, 2, 3, snap.Version())
	require.NoError(t, err)

	query := view.Records[7].Vector
	want, err := snap.Search(query, 5, nil)
	require.NoError(t, err)
	got, err := restored.Search(query, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Restore([]string{"a"}, []float32{1, 2}, []float32{1, 2}, []uint32{3}, 2, distance.MetricL2, 1, 0, 0)
	assert.Error(t, err)
}
