package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlobStore(t *testing.T, bs BlobStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutOpen", func(t *testing.T) {
		require.NoError(t, bs.Put(ctx, "snapshots/a.snap", []byte("hello")))

		rc, err := bs.Open(ctx, "snapshots/a.snap")
		require.NoError(t, err)
		defer rc.Close()

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, bs.Put(ctx, "snapshots/a.snap", []byte("world")))

		rc, err := bs.Open(ctx, "snapshots/a.snap")
		require.NoError(t, err)
		defer rc.Close()

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, []byte("world"), data)
	})

	t.Run("OpenMissing", func(t *testing.T) {
		_, err := bs.Open(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, bs.Put(ctx, "snapshots/b.snap", []byte("b")))
		require.NoError(t, bs.Put(ctx, "manifest.json", []byte("{}")))

		names, err := bs.List(ctx, "snapshots/")
		require.NoError(t, err)
		assert.Equal(t, []string{"snapshots/a.snap", "snapshots/b.snap"}, names)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, bs.Delete(ctx, "snapshots/a.snap"))
		_, err := bs.Open(ctx, "snapshots/a.snap")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting an absent blob is not an error.
		assert.NoError(t, bs.Delete(ctx, "snapshots/a.snap"))
	})
}

func TestMemoryStore(t *testing.T) {
	testBlobStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	bs, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	testBlobStore(t, bs)
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	bs := NewMemoryStore()

	data := []byte("original")
	require.NoError(t, bs.Put(ctx, "x", data))
	data[0] = 'X'

	rc, err := bs.Open(ctx, "x")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}
