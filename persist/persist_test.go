package persist

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorlabs/mirador/blobstore"
	"github.com/miradorlabs/mirador/distance"
	"github.com/miradorlabs/mirador/index"
	"github.com/miradorlabs/mirador/index/flat"
	"github.com/miradorlabs/mirador/index/ivf"
	"github.com/miradorlabs/mirador/store"
	"github.com/miradorlabs/mirador/testutil"
)

func buildStore(t *testing.T, dim, n int) *store.Store {
	t.Helper()

	st, err := store.New(dim)
	require.NoError(t, err)

	rng := testutil.NewRNG(42)
	for i, vec := range rng.UniformVectors(n, dim) {
		require.NoError(t, st.Insert(fmt.Sprintf("vec-%d", i), vec, nil))
	}
	return st
}

func TestEncodeDecodeFlat(t *testing.T) {
	st := buildStore(t, 4, 25)

	snap, err := flat.Build(context.Background(), st.View(), index.BuildConfig{
		Metric:    distance.MetricL2,
		Dimension: 4,
	})
	require.NoError(t, err)

	for _, comp := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(comp.String(), func(t *testing.T) {
			var buf bytes.Buffer
			err := Encode(&buf, snap, nil, func(o *Options) { o.Compression = comp })
			require.NoError(t, err)

			got, meta, err := Decode(&buf)
			require.NoError(t, err)
			assert.Nil(t, meta)
			assert.Equal(t, index.StrategyFlat, got.Strategy())
			assert.Equal(t, snap.Len(), got.Len())
			assert.Equal(t, snap.Metric(), got.Metric())
			assert.Equal(t, snap.Version(), got.Version())

			query := []float32{0.1, 0.2, 0.3, 0.4}
			want, err := snap.Search(query, 5, nil)
			require.NoError(t, err)
			have, err := got.Search(query, 5, nil)
			require.NoError(t, err)
			assert.Equal(t, want, have)
		})
	}
}

func TestEncodeDecodeIVF(t *testing.T) {
	st := buildStore(t, 8, 120)

	snap, err := ivf.Build(context.Background(), st.View(), index.BuildConfig{
		Metric:        distance.MetricCosine,
		Dimension:     8,
		NumPartitions: 6,
		ProbeCount:    3,
		Seed:          7,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, snap, nil))

	got, _, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, index.StrategyIVF, got.Strategy())

	built, ok := snap.(*ivf.Snapshot)
	require.True(t, ok)
	restored, ok := got.(*ivf.Snapshot)
	require.True(t, ok)
	assert.Equal(t, built.NumPartitions(), restored.NumPartitions())
	assert.Equal(t, built.ProbeCount(), restored.ProbeCount())
	assert.Equal(t, built.Seed(), restored.Seed())

	rng := testutil.NewRNG(99)
	query := make([]float32, 8)
	rng.FillUniform(query)

	want, err := snap.Search(query, 10, nil)
	require.NoError(t, err)
	have, err := got.Search(query, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, want, have)
}

func TestEncodeDecodeMetadata(t *testing.T) {
	st := buildStore(t, 2, 3)

	snap, err := flat.Build(context.Background(), st.View(), index.BuildConfig{
		Metric:    distance.MetricL2,
		Dimension: 2,
	})
	require.NoError(t, err)

	meta := map[string]store.Metadata{
		"vec-0": {"label": "cat", "score": 0.9},
		"vec-2": {"label": "dog"},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, snap, meta))

	_, got, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cat", got["vec-0"]["label"])
	assert.Equal(t, "dog", got["vec-2"]["label"])
}

func TestDecodeRejectsCorruption(t *testing.T) {
	st := buildStore(t, 3, 10)

	snap, err := flat.Build(context.Background(), st.View(), index.BuildConfig{
		Metric:    distance.MetricL2,
		Dimension: 3,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, snap, nil))
	data := buf.Bytes()

	t.Run("flipped byte", func(t *testing.T) {
		corrupted := bytes.Clone(data)
		corrupted[len(corrupted)/2] ^= 0xff
		_, _, err := Decode(bytes.NewReader(corrupted))
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("truncated", func(t *testing.T) {
		_, _, err := Decode(bytes.NewReader(data[:len(data)-8]))
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("bad magic", func(t *testing.T) {
		_, _, err := Decode(bytes.NewReader([]byte{0xde, 0xad, 0xbe, 0xef}))
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})
}

func TestDecodeRejectsWrongMagic(t *testing.T) {
	// Valid checksum over garbage payload still fails on the magic number.
	payload := []byte{0, 0, 0, 0, 1, 0, 0, 0}
	var buf bytes.Buffer
	buf.Write(payload)

	sum := crc32Sum(payload)
	buf.Write([]byte{byte(sum), byte(sum >> 8), byte(sum >> 16), byte(sum >> 24)})

	_, _, err := Decode(&buf)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestSaveLoad(t *testing.T) {
	st := buildStore(t, 4, 30)

	snap, err := flat.Build(context.Background(), st.View(), index.BuildConfig{
		Metric:    distance.MetricDot,
		Dimension: 4,
	})
	require.NoError(t, err)

	bs := blobstore.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, Save(ctx, bs, "snapshots/000001.mir", snap, nil))

	got, _, err := Load(ctx, bs, "snapshots/000001.mir")
	require.NoError(t, err)
	assert.Equal(t, snap.Len(), got.Len())
	assert.Equal(t, distance.MetricDot, got.Metric())

	_, _, err = Load(ctx, bs, "snapshots/missing.mir")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
