// Package manifest records which persisted snapshot is the committed one for
// a collection. A manifest entry is written after each successful snapshot
// save; loading a collection reads the latest entry and opens the snapshot it
// points at.
//
// Two implementations: BlobStore-backed (single writer) and DynamoDB-backed
// (safe concurrent writers via conditional writes).
package manifest

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no entry has been committed yet.
	ErrNotFound = errors.New("manifest: no committed entry")

	// ErrConcurrentCommit is returned when another writer committed the same
	// version first.
	ErrConcurrentCommit = errors.New("manifest: concurrent commit detected")
)

// Entry describes one committed snapshot.
type Entry struct {
	// Version is the manifest version, assigned monotonically by Commit.
	Version uint64 `json:"version"`

	// Snapshot is the blob name of the persisted snapshot.
	Snapshot string `json:"snapshot"`

	// CreatedAt is the commit time.
	CreatedAt time.Time `json:"created_at"`

	// Build configuration of the committed snapshot, kept for inspection
	// and for validating reloads.
	Strategy  string `json:"strategy"`
	Metric    string `json:"metric"`
	Dimension int    `json:"dimension"`
	Count     int    `json:"count"`
}

// Store persists the committed-snapshot pointer.
type Store interface {
	// Latest returns the most recently committed entry.
	Latest(ctx context.Context) (Entry, error)

	// Commit appends a new entry. The store assigns Entry.Version; a write
	// race on the same version returns ErrConcurrentCommit.
	Commit(ctx context.Context, e Entry) (Entry, error)
}
