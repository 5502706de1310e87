package flat

import (
	"context"
	"testing"

	"github.com/miradorlabs/mirador/distance"
	"github.com/miradorlabs/mirador/index"
	"github.com/miradorlabs/mirador/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildView(t *testing.T, dim int, vectors map[string][]float32) *store.View {
	t.Helper()

	s, err := store.New(dim)
	require.NoError(t, err)
	for id, v := range vectors {
		require.NoError(t, s.Insert(id, v, nil))
	}
	return s.View()
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyCollection", func(t *testing.T) {
		s, err := store.New(3)
		require.NoError(t, err)

		_, err = Build(ctx, s.View(), index.BuildConfig{Metric: distance.MetricL2, Dimension: 3})
		assert.ErrorIs(t, err, index.ErrEmptyCollection)
	})

	t.Run("UnknownMetric", func(t *testing.T) {
		view := buildView(t, 1, map[string][]float32{"a": {1}})
		_, err := Build(ctx, view, index.BuildConfig{Metric: distance.Metric(99), Dimension: 1})
		assert.Error(t, err)
	})

	t.Run("Basic", func(t *testing.T) {
		view := buildView(t, 2, map[string][]float32{
			"a": {0, 0},
			"b": {1, 1},
		})

		snap, err := Build(ctx, view, index.BuildConfig{Metric: distance.MetricL2, Dimension: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, snap.Len())
		assert.Equal(t, 2, snap.Dimension())
		assert.Equal(t, distance.MetricL2, snap.Metric())
		assert.Equal(t, index.StrategyFlat, snap.Strategy())
		assert.Equal(t, view.Version, snap.Version())
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	view := buildView(t, 3, map[string][]float32{
		"img-1": {1, 0, 0},
		"img-2": {0, 1, 0},
		"img-3": {0, 0, 1},
		"img-4": {1, 1, 0},
		"img-5": {2, 0, 0},
	})

	snap, err := Build(ctx, view, index.BuildConfig{Metric: distance.MetricL2, Dimension: 3})
	require.NoError(t, err)

	t.Run("ExactMatchFirst", func(t *testing.T) {
		results, err := snap.Search([]float32{1, 0, 0}, 3, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "img-1", results[0].ID)
		assert.Equal(t, float32(0), results[0].Distance)
	})

	t.Run("SortedAscending", func(t *testing.T) {
		results, err := snap.Search([]float32{0.1, 0.1, 0.1}, 5, nil)
		require.NoError(t, err)
		require.Len(t, results, 5)
		for i := 1; i < len(results); i++ {
			assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
		}
	})

	t.Run("TieBreakAscendingID", func(t *testing.T) {
		tied := buildView(t, 1, map[string][]float32{
			"z": {1},
			"a": {1},
			"m": {1},
		})
		ts, err := Build(ctx, tied, index.BuildConfig{Metric: distance.MetricL2, Dimension: 1})
		require.NoError(t, err)

		results, err := ts.Search([]float32{1}, 3, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "a", results[0].ID)
		assert.Equal(t, "m", results[1].ID)
		assert.Equal(t, "z", results[2].ID)
	})

	t.Run("KBeyondSize", func(t *testing.T) {
		results, err := snap.Search([]float32{0, 0, 0}, 50, nil)
		require.NoError(t, err)
		assert.Len(t, results, 5)
	})

	t.Run("InvalidK", func(t *testing.T) {
		_, err := snap.Search([]float32{0, 0, 0}, 0, nil)
		assert.ErrorIs(t, err, index.ErrInvalidK)

		_, err = snap.Search([]float32{0, 0, 0}, -1, nil)
		assert.ErrorIs(t, err, index.ErrInvalidK)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := snap.Search([]float32{0, 0}, 1, nil)
		var dm *index.ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 3, dm.Expected)
		assert.Equal(t, 2, dm.Actual)
	})

	t.Run("Filter", func(t *testing.T) {
		results, err := snap.Search([]float32{1, 0, 0}, 5, &index.SearchOptions{
			Filter: func(id string) bool { return id != "img-1" },
		})
		require.NoError(t, err)
		require.Len(t, results, 4)
		for _, r := range results {
			assert.NotEqual(t, "img-1", r.ID)
		}
	})
}

func TestRestore(t *testing.T) {
	snap, err := Restore([]string{"a", "b"}, []float32{1, 2, 3, 4}, 2, distance.MetricL2, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, uint64(7), snap.Version())

	results, err := snap.Search([]float32{1, 2}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)

	_, err = Restore([]string{"a"}, []float32{1, 2, 3}, 2, distance.MetricL2, 0)
	assert.Error(t, err)
}
