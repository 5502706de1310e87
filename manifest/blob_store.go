package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/miradorlabs/mirador/blobstore"
	"github.com/miradorlabs/mirador/codec"
)

// currentName is the blob holding the latest committed entry.
const currentName = "CURRENT"

// BlobStore keeps the manifest in a blob store, next to the snapshots it
// points at. Writes go through the blob store's atomic Put, which protects
// against torn writes but not against concurrent writers; use the DynamoDB
// store when multiple processes commit to the same collection.
type BlobStore struct {
	mu    sync.Mutex
	bs    blobstore.BlobStore
	codec codec.Codec
}

var _ Store = (*BlobStore)(nil)

// NewBlobStore creates a manifest store on top of bs.
// If c is nil, codec.Default is used.
func NewBlobStore(bs blobstore.BlobStore, c codec.Codec) *BlobStore {
	if c == nil {
		c = codec.Default
	}
	return &BlobStore{bs: bs, codec: c}
}

// Latest returns the most recently committed entry.
func (s *BlobStore) Latest(ctx context.Context) (Entry, error) {
	rc, err := s.bs.Open(ctx, currentName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Entry{}, err
	}

	var e Entry
	if err := s.codec.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("manifest: decode CURRENT: %w", err)
	}
	return e, nil
}

// Commit assigns the next version and writes the entry.
func (s *BlobStore) Commit(ctx context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.Latest(ctx)
	switch {
	case err == nil:
		e.Version = latest.Version + 1
	case errors.Is(err, ErrNotFound):
		e.Version = 1
	default:
		return Entry{}, err
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	data, err := s.codec.Marshal(e)
	if err != nil {
		return Entry{}, err
	}
	if err := s.bs.Put(ctx, currentName, data); err != nil {
		return Entry{}, err
	}
	return e, nil
}
