package minio

import (
	"context"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorlabs/mirador/blobstore"
)

// TestStoreIntegration requires a running MinIO instance.
// Skip if not available.
func TestStoreIntegration(t *testing.T) {
	endpoint := "localhost:9000"
	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucket := "test-mirador"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	if _, err = client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix")

	t.Run("OpenMissing", func(t *testing.T) {
		_, err := store.Open(ctx, "missing.snap")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("PutOpen", func(t *testing.T) {
		payload := []byte("hello minio world")
		require.NoError(t, store.Put(ctx, "snapshots/a.snap", payload))

		rc, err := store.Open(ctx, "snapshots/a.snap")
		require.NoError(t, err)
		defer rc.Close()

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "snapshots/b.snap", []byte("b")))
		require.NoError(t, store.Put(ctx, "other", []byte("o")))

		names, err := store.List(ctx, "snapshots/")
		require.NoError(t, err)
		assert.Equal(t, []string{"snapshots/a.snap", "snapshots/b.snap"}, names)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "snapshots/a.snap"))
		_, err := store.Open(ctx, "snapshots/a.snap")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)

		// Deleting an absent blob is not an error.
		assert.NoError(t, store.Delete(ctx, "snapshots/a.snap"))
	})

	// Cleanup
	_ = store.Delete(ctx, "snapshots/b.snap")
	_ = store.Delete(ctx, "other")
}
