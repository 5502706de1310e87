// Package store implements the vector store: the durable in-memory container
// of embedding records. It owns record lifecycle (insert, tombstone on
// delete, compaction after rebuild) and exposes point-in-time views for
// index builds.
package store

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

var (
	// ErrDuplicateID is returned when inserting an id that is already live.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrNotFound is returned when the id does not reference a live record.
	ErrNotFound = errors.New("not found")
)

// ErrDimensionMismatch is a named error type for vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Metadata carries scalar attributes of a record (label, source path, ...).
type Metadata map[string]any

// Record is a stored embedding with its metadata.
// Vectors are immutable once stored; updates are delete + reinsert.
type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

type entry struct {
	rec Record
	row uint32
}

// Store is the in-memory vector store for a single collection.
//
// Mutations are serialized behind a single-writer lock; readers of committed
// index snapshots are never blocked by writers. Each record is assigned a
// dense internal row handle; handles of compacted tombstones are recycled.
type Store struct {
	mu        sync.RWMutex
	dimension int
	version   uint64
	nextRow   uint32

	entries map[string]entry

	live       *roaring.Bitmap // rows of live records
	tombstoned *roaring.Bitmap // rows deleted since the last compaction
	free       *roaring.Bitmap // recycled rows available for assignment
}

// New creates a store for vectors of the given dimension.
func New(dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	return &Store{
		dimension:  dimension,
		entries:    make(map[string]entry),
		live:       roaring.New(),
		tombstoned: roaring.New(),
		free:       roaring.New(),
	}, nil
}

// Dimension returns the declared vector dimension of the collection.
func (s *Store) Dimension() int { return s.dimension }

// Version returns the monotonic mutation counter. It increments on every
// successful insert or delete and is used to detect index staleness.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Insert adds a record. The vector is copied; callers may reuse the slice.
// Returns *ErrDimensionMismatch if the vector length differs from the
// collection dimension and ErrDuplicateID if the id is already live.
func (s *Store) Insert(id string, vector []float32, meta Metadata) error {
	if len(vector) != s.dimension {
		return &ErrDimensionMismatch{Expected: s.dimension, Actual: len(vector)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}

	row := s.allocRow()
	s.entries[id] = entry{
		rec: Record{
			ID:       id,
			Vector:   slices.Clone(vector),
			Metadata: maps.Clone(meta),
		},
		row: row,
	}
	s.live.Add(row)
	s.version++

	return nil
}

// Delete tombstones a live record. Returns ErrNotFound (without touching the
// version counter) if the id is absent or already deleted.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	delete(s.entries, id)
	s.live.Remove(e.row)
	s.tombstoned.Add(e.row)
	s.version++

	return nil
}

// Get returns a copy of the live record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Record{}, false
	}

	rec := e.rec
	rec.Vector = slices.Clone(rec.Vector)
	rec.Metadata = maps.Clone(rec.Metadata)
	return rec, true
}

// Contains reports whether the id references a live record.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// SnapshotIDs returns the live ids at call time, in ascending order.
func (s *Store) SnapshotIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// TombstoneCount returns the number of deletions not yet compacted.
func (s *Store) TombstoneCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.tombstoned.GetCardinality())
}

// View captures a point-in-time set of live records for an index build.
//
// Record vectors are shared with the store, which is safe because stored
// vectors are never mutated in place. The returned records are ordered by
// ascending id so builds are deterministic.
func (s *Store) View() *View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0, len(s.entries))
	for _, e := range s.entries {
		records = append(records, e.rec)
	}
	slices.SortFunc(records, func(a, b Record) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	return &View{
		Dimension:  s.dimension,
		Version:    s.version,
		Records:    records,
		tombstoned: s.tombstoned.Clone(),
	}
}

// Compact releases the tombstones captured by the given view, recycling
// their row handles. The consistency manager calls this after a snapshot
// built from the view has been committed: those deletions are now reflected
// by the serving index. Tombstones created after the view was taken survive.
func (s *Store) Compact(v *View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.free.Or(v.tombstoned)
	s.tombstoned.AndNot(v.tombstoned)
}

// allocRow hands out the lowest recycled row, or a fresh one.
// Caller must hold s.mu.
func (s *Store) allocRow() uint32 {
	if !s.free.IsEmpty() {
		row := s.free.Minimum()
		s.free.Remove(row)
		return row
	}
	row := s.nextRow
	s.nextRow++
	return row
}

// View is an immutable point-in-time record set.
type View struct {
	Dimension int
	Version   uint64
	Records   []Record

	tombstoned *roaring.Bitmap
}

// Len returns the number of records in the view.
func (v *View) Len() int { return len(v.Records) }
