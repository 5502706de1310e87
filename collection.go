package mirador

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/miradorlabs/mirador/blobstore"
	"github.com/miradorlabs/mirador/distance"
	"github.com/miradorlabs/mirador/index"
	"github.com/miradorlabs/mirador/manager"
	"github.com/miradorlabs/mirador/manifest"
	"github.com/miradorlabs/mirador/persist"
	"github.com/miradorlabs/mirador/store"
)

// Metadata is scalar key/value payload attached to a record.
type Metadata = store.Metadata

// Record is a stored embedding with its id and metadata.
type Record = store.Record

// Result is a single ranked query match.
type Result = index.Result

// Collection is an embedded similarity-search collection: a vector store,
// an index strategy, and a consistency manager reconciling the two.
//
// All methods are safe for concurrent use. Queries are lock-free against the
// committed snapshot; mutations serialize behind the store lock and never
// block queries.
type Collection struct {
	store   *store.Store
	mgr     *manager.Manager
	cfg     index.BuildConfig
	logger  *Logger
	metrics MetricsCollector
	opts    options
	closed  atomic.Bool
}

func newCollection(cfg index.BuildConfig, build index.BuilderFunc, optFns []Option) (*Collection, error) {
	o := applyOptions(optFns)

	st, err := store.New(cfg.Dimension)
	if err != nil {
		return nil, translateError(err)
	}

	mgrOpts := append([]func(*manager.Options){
		func(mo *manager.Options) {
			mo.Logger = o.logger.Logger
		},
	}, o.managerOptions...)

	return &Collection{
		store:   st,
		mgr:     manager.New(st, build, cfg, mgrOpts...),
		cfg:     cfg,
		logger:  o.logger,
		metrics: o.metricsCollector,
		opts:    o,
	}, nil
}

func timeSeed() int64 {
	return time.Now().UnixNano()
}

// Insert stores a vector under id. The vector and metadata are copied; the
// caller may reuse its buffers. Fails with ErrDuplicateID if a live record
// already has the id and *ErrDimensionMismatch if the vector length differs
// from the collection dimension.
//
// The record is readable via Get immediately; query visibility follows the
// next snapshot commit.
func (c *Collection) Insert(ctx context.Context, id string, vector []float32, metadata Metadata) error {
	start := time.Now()
	err := c.insert(id, vector, metadata)
	c.metrics.RecordInsert(time.Since(start), err)
	c.logger.LogInsert(ctx, id, len(vector), err)
	return err
}

func (c *Collection) insert(id string, vector []float32, metadata Metadata) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.store.Insert(id, vector, metadata); err != nil {
		return translateError(err)
	}
	c.mgr.Notify()
	return nil
}

// Delete tombstones the record with the given id. Fails with ErrNotFound if
// no live record has the id; a failed delete leaves the collection version
// unchanged. Deleted ids are excluded from query results immediately, even
// while the serving snapshot still contains them.
func (c *Collection) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := c.delete(id)
	c.metrics.RecordDelete(time.Since(start), err)
	c.logger.LogDelete(ctx, id, err)
	return err
}

func (c *Collection) delete(id string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.store.Delete(id); err != nil {
		return translateError(err)
	}
	c.mgr.Notify()
	return nil
}

// Update replaces the record under id with a new vector and metadata.
// It is delete followed by reinsert; the version advances twice.
func (c *Collection) Update(ctx context.Context, id string, vector []float32, metadata Metadata) error {
	if err := c.Delete(ctx, id); err != nil {
		return err
	}
	return c.Insert(ctx, id, vector, metadata)
}

// Get returns the live record with the given id. Reads go to the store, not
// the snapshot, so a successful Insert is immediately visible regardless of
// index staleness.
func (c *Collection) Get(id string) (Record, bool) {
	return c.store.Get(id)
}

// IDs returns the sorted ids of all live records at call time.
func (c *Collection) IDs() []string {
	return c.store.SnapshotIDs()
}

// Len returns the number of live records.
func (c *Collection) Len() int {
	return c.store.Len()
}

// Dimension returns the collection's vector dimension.
func (c *Collection) Dimension() int {
	return c.cfg.Dimension
}

// Metric returns the collection's distance metric.
func (c *Collection) Metric() distance.Metric {
	return c.cfg.Metric
}

// Version returns the store's monotonic mutation counter.
func (c *Collection) Version() uint64 {
	return c.store.Version()
}

// Status reports the consistency state machine: state, pending mutation
// count, versions, and the last build error if any.
func (c *Collection) Status() manager.Status {
	return c.mgr.Status()
}

// Rebuild builds a fresh snapshot synchronously and waits for it to commit.
// Build failures surface here and through Status; the previous snapshot
// keeps serving.
func (c *Collection) Rebuild(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	err := c.mgr.Rebuild(ctx)
	c.metrics.RecordRebuild(c.store.Len(), time.Since(start), err)
	c.logger.LogRebuild(ctx, c.store.Len(), err)
	return translateError(err)
}

// TryRebuild starts a background rebuild if none is running. It reports
// whether a build was started.
func (c *Collection) TryRebuild() bool {
	if c.closed.Load() {
		return false
	}
	return c.mgr.TryRebuild()
}

// Stats is point-in-time collection introspection.
type Stats struct {
	Records          int
	Indexed          int
	Dimension        int
	Metric           distance.Metric
	Strategy         index.Strategy
	State            manager.State
	PendingMutations int
	StoreVersion     uint64
	SnapshotVersion  uint64
}

// Stats returns a snapshot of collection state for monitoring.
func (c *Collection) Stats() Stats {
	status := c.mgr.Status()
	strategy := index.StrategyFlat
	if c.cfg.NumPartitions > 0 {
		strategy = index.StrategyIVF
	}
	if snap, ok := c.mgr.Snapshot(); ok {
		strategy = snap.Strategy()
	}

	return Stats{
		Records:          c.store.Len(),
		Indexed:          status.SnapshotLen,
		Dimension:        c.cfg.Dimension,
		Metric:           c.cfg.Metric,
		Strategy:         strategy,
		State:            status.State,
		PendingMutations: status.PendingMutations,
		StoreVersion:     status.StoreVersion,
		SnapshotVersion:  status.SnapshotVersion,
	}
}

// Close stops background rebuild triggers and waits for an in-progress
// build to finish. Close is idempotent; the collection rejects mutations
// and queries afterwards.
func (c *Collection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.mgr.Close()
}

// snapshotDump exposes the persisted sections shared by all snapshot
// implementations.
type snapshotDump interface {
	IDs() []string
	Vectors() []float32
}

// Save serializes the committed snapshot to the blob store and, when ms is
// non-nil, commits a manifest entry pointing at it. Returns
// ErrEmptyCollection when nothing has been committed yet.
func (c *Collection) Save(ctx context.Context, bs blobstore.BlobStore, ms manifest.Store) error {
	if c.closed.Load() {
		return ErrClosed
	}

	snap, ok := c.mgr.Snapshot()
	if !ok {
		return ErrEmptyCollection
	}

	name := fmt.Sprintf("snapshots/%016d.snap", snap.Version())
	err := persist.Save(ctx, bs, name, snap, c.metadataFor(snap), func(o *persist.Options) {
		o.Compression = c.opts.compression
		o.Codec = c.opts.codec
	})
	c.logger.LogSave(ctx, name, err)
	if err != nil {
		return err
	}

	if ms != nil {
		_, err = ms.Commit(ctx, manifest.Entry{
			Snapshot:  name,
			CreatedAt: time.Now().UTC(),
			Strategy:  snap.Strategy().String(),
			Metric:    snap.Metric().String(),
			Dimension: snap.Dimension(),
			Count:     snap.Len(),
		})
	}
	return err
}

// Load reads the manifest's latest snapshot from the blob store, repopulates
// the vector store from it, and installs it as the serving snapshot. The
// collection must be empty; a snapshot built for a different metric or
// dimension is rejected.
func (c *Collection) Load(ctx context.Context, bs blobstore.BlobStore, ms manifest.Store) error {
	entry, err := ms.Latest(ctx)
	if err != nil {
		return err
	}
	return c.LoadSnapshot(ctx, bs, entry.Snapshot)
}

// LoadSnapshot is Load for a known blob name, bypassing the manifest.
func (c *Collection) LoadSnapshot(ctx context.Context, bs blobstore.BlobStore, name string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if n := c.store.Len(); n > 0 {
		return fmt.Errorf("cannot load into a non-empty collection (%d records)", n)
	}

	snap, meta, err := persist.Load(ctx, bs, name)
	if err != nil {
		c.logger.LogLoad(ctx, name, 0, err)
		return translateError(err)
	}

	if snap.Metric() != c.cfg.Metric {
		err = &ErrMetricMismatch{Want: c.cfg.Metric, Got: snap.Metric()}
		c.logger.LogLoad(ctx, name, 0, err)
		return err
	}
	if snap.Dimension() != c.cfg.Dimension {
		err = &ErrDimensionMismatch{Expected: c.cfg.Dimension, Actual: snap.Dimension()}
		c.logger.LogLoad(ctx, name, 0, err)
		return err
	}

	dump, ok := snap.(snapshotDump)
	if !ok {
		return fmt.Errorf("unsupported snapshot type %T", snap)
	}

	ids, vectors := dump.IDs(), dump.Vectors()
	dim := c.cfg.Dimension
	for i, id := range ids {
		if err := c.store.Insert(id, vectors[i*dim:(i+1)*dim], meta[id]); err != nil {
			c.logger.LogLoad(ctx, name, 0, err)
			return translateError(err)
		}
	}

	err = translateError(c.mgr.Restore(snap))
	c.logger.LogLoad(ctx, name, snap.Len(), err)
	return err
}

// metadataFor collects the metadata of every record the snapshot indexes.
func (c *Collection) metadataFor(snap index.Snapshot) map[string]store.Metadata {
	dump, ok := snap.(snapshotDump)
	if !ok {
		return nil
	}

	out := make(map[string]store.Metadata)
	for _, id := range dump.IDs() {
		if rec, found := c.store.Get(id); found && len(rec.Metadata) > 0 {
			out[id] = rec.Metadata
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
