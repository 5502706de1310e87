package integration_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorlabs/mirador"
	"github.com/miradorlabs/mirador/blobstore"
	"github.com/miradorlabs/mirador/codec"
	"github.com/miradorlabs/mirador/manifest"
	"github.com/miradorlabs/mirador/persist"
	"github.com/miradorlabs/mirador/testutil"
)

// Save/load through a local blob store must hand back a collection that
// answers every query identically.
func TestPersistenceRoundTripLocalStore(t *testing.T) {
	ctx := context.Background()

	bs, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ms := manifest.NewBlobStore(bs, codec.Default)

	const (
		dim = 8
		n   = 200
	)

	src, err := mirador.IVF(dim).
		Cosine().
		Partitions(10).
		Probes(10).
		Seed(7).
		Build(mirador.WithCompression(persist.CompressionLZ4))
	require.NoError(t, err)
	defer src.Close()

	rng := testutil.NewRNG(1)
	vectors := rng.UniformVectors(n, dim)
	for i, vec := range vectors {
		require.NoError(t, src.Insert(ctx, fmt.Sprintf("img-%04d", i), vec, mirador.Metadata{"index": i}))
	}
	require.NoError(t, src.Rebuild(ctx))
	require.NoError(t, src.Save(ctx, bs, ms))

	dst, err := mirador.IVF(dim).
		Cosine().
		Partitions(10).
		Probes(10).
		Seed(7).
		Build()
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, dst.Load(ctx, bs, ms))
	require.Equal(t, n, dst.Len())

	for i := 0; i < 10; i++ {
		query := make([]float32, dim)
		rng.FillUniform(query)

		want, err := src.Query(ctx, query, 5)
		require.NoError(t, err)
		got, err := dst.Query(ctx, query, 5)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Mutations keep working after a load.
	require.NoError(t, dst.Delete(ctx, "img-0000"))
	require.NoError(t, dst.Insert(ctx, "img-new", vectors[0], nil))
}

func TestManifestTracksLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	ms := manifest.NewBlobStore(bs, codec.Default)

	col, err := mirador.Flat(2).Build()
	require.NoError(t, err)
	defer col.Close()

	require.NoError(t, col.Insert(ctx, "a", []float32{1, 0}, nil))
	require.NoError(t, col.Rebuild(ctx))
	require.NoError(t, col.Save(ctx, bs, ms))

	first, err := ms.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count)

	require.NoError(t, col.Insert(ctx, "b", []float32{0, 1}, nil))
	require.NoError(t, col.Rebuild(ctx))
	require.NoError(t, col.Save(ctx, bs, ms))

	second, err := ms.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Count)
	assert.Greater(t, second.Version, first.Version)
	assert.NotEqual(t, first.Snapshot, second.Snapshot)

	blobs, err := bs.List(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Len(t, blobs, 2)
}
