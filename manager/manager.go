// Package manager reconciles the vector store with the serving index
// snapshot. It owns a per-collection state machine (Clean, Dirty, Building,
// Degraded), triggers rebuilds on mutation-count and staleness thresholds,
// commits snapshots with an atomic pointer swap, and keeps the last good
// snapshot authoritative when a build fails.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/miradorlabs/mirador/index"
	"github.com/miradorlabs/mirador/store"
)

// ErrBuildTimeout is returned when a build exceeds Options.BuildTimeout.
var ErrBuildTimeout = errors.New("index build timed out")

// ErrClosed is returned from operations on a closed manager.
var ErrClosed = errors.New("manager is closed")

// errSuperseded marks a build cancelled because newer mutations arrived.
// It restarts the build with a fresh view instead of counting as a failure.
var errSuperseded = errors.New("build superseded by newer mutations")

// State is the consistency state of a collection.
type State int32

const (
	// StateClean means the serving snapshot reflects all committed mutations.
	StateClean State = iota

	// StateDirty means mutations are pending since the last build.
	StateDirty

	// StateBuilding means a rebuild is in progress.
	StateBuilding

	// StateDegraded means the last build failed; the previous snapshot is
	// still serving.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateBuilding:
		return "building"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Options configures rebuild triggering and the build retry policy.
type Options struct {
	// MaxPendingMutations triggers a rebuild once this many mutations have
	// accumulated since the serving snapshot. <= 0 disables the trigger.
	MaxPendingMutations int

	// MaxStaleness triggers a rebuild once the collection has been dirty for
	// this long. <= 0 disables the trigger.
	MaxStaleness time.Duration

	// BuildTimeout bounds a single build attempt. A timed-out build moves the
	// collection to Degraded; the previous snapshot keeps serving.
	BuildTimeout time.Duration

	// MaxRetries is the number of additional attempts after a failed build.
	MaxRetries int

	// RetryBackoff paces retry attempts.
	RetryBackoff time.Duration

	// CancelOnSupersede cancels an in-progress build when newer mutations
	// arrive, restarting it with a fresh view. When false the stale build is
	// committed and the collection is immediately re-marked Dirty.
	CancelOnSupersede bool

	// Logger receives build lifecycle events. Nil disables logging.
	Logger *slog.Logger
}

// DefaultOptions are the options used when none are given.
var DefaultOptions = Options{
	MaxPendingMutations: 64,
	BuildTimeout:        30 * time.Second,
	MaxRetries:          2,
	RetryBackoff:        250 * time.Millisecond,
}

// Status is a point-in-time view of the state machine, returned by Status.
type Status struct {
	State            State
	PendingMutations int
	StoreVersion     uint64
	SnapshotVersion  uint64
	SnapshotLen      int
	LastBuildTime    time.Time
	LastBuildError   error
}

// committed pairs a snapshot with the store version it reflects. Swapped as
// one unit so readers never see a torn commit.
type committed struct {
	snap index.Snapshot
	at   time.Time
}

// Manager drives index rebuilds for a single collection.
type Manager struct {
	store *store.Store
	build index.BuilderFunc
	cfg   index.BuildConfig
	opts  Options

	current atomic.Pointer[committed]

	// buildSem admits a single builder at a time. TryAcquire doubles as the
	// Dirty -> Building transition guard.
	buildSem *semaphore.Weighted
	limiter  *rate.Limiter

	mu           sync.Mutex
	state        State
	builtVersion uint64
	dirtyAt      time.Time
	buildCancel  context.CancelFunc
	lastBuildAt  time.Time
	lastBuildErr error

	baseCtx   context.Context
	baseStop  context.CancelFunc
	closeOnce sync.Once
	loopDone  chan struct{}
	logger    *slog.Logger
}

// New creates a manager over the store using build to produce snapshots.
// If Options.MaxStaleness is set, a background watcher triggers rebuilds for
// stale collections until Close is called.
func New(st *store.Store, build index.BuilderFunc, cfg index.BuildConfig, optFns ...func(*Options)) *Manager {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultOptions.RetryBackoff
	}

	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		store:    st,
		build:    build,
		cfg:      cfg,
		opts:     opts,
		buildSem: semaphore.NewWeighted(1),
		limiter:  rate.NewLimiter(rate.Every(backoff), 1),
		baseCtx:  ctx,
		baseStop: stop,
		loopDone: make(chan struct{}),
		logger:   logger,
	}

	go m.stalenessLoop()
	return m
}

// Snapshot returns the committed snapshot, or false when none has been
// committed yet. Lock-free; callers keep the reference they acquired across
// later commits.
func (m *Manager) Snapshot() (index.Snapshot, bool) {
	c := m.current.Load()
	if c == nil || c.snap == nil {
		return nil, false
	}
	return c.snap, true
}

// Notify records that a mutation was committed to the store. It marks the
// collection Dirty, cancels a superseded in-progress build when configured
// to, and triggers a rebuild once the pending-mutation threshold is hit.
func (m *Manager) Notify() {
	m.mu.Lock()
	if m.state == StateClean {
		m.state = StateDirty
		m.dirtyAt = time.Now()
	}
	var cancel context.CancelFunc
	if m.opts.CancelOnSupersede && m.state == StateBuilding {
		cancel = m.buildCancel
	}
	pending := m.pendingLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if m.opts.MaxPendingMutations > 0 && pending >= m.opts.MaxPendingMutations {
		m.TryRebuild()
	}
}

// TryRebuild starts a background rebuild if none is running. It reports
// whether a build was started.
func (m *Manager) TryRebuild() bool {
	if m.baseCtx.Err() != nil {
		return false
	}
	if !m.buildSem.TryAcquire(1) {
		return false
	}
	go func() {
		defer m.buildSem.Release(1)
		if err := m.buildLoop(m.baseCtx, false); err != nil {
			m.logger.Warn("background rebuild failed", "error", err)
		}
	}()
	return true
}

// Rebuild runs a build synchronously, waiting for any in-progress build to
// finish first. It returns the final build error after retries.
func (m *Manager) Rebuild(ctx context.Context) error {
	return m.rebuild(ctx, false)
}

// ForceRebuild is Rebuild, but additionally allows an empty record set to
// replace a non-empty serving snapshot.
func (m *Manager) ForceRebuild(ctx context.Context) error {
	return m.rebuild(ctx, true)
}

func (m *Manager) rebuild(ctx context.Context, force bool) error {
	if m.baseCtx.Err() != nil {
		return ErrClosed
	}
	if err := m.buildSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.buildSem.Release(1)
	return m.buildLoop(ctx, force)
}

// Restore installs an externally produced snapshot (e.g. loaded from a blob
// store) as the serving snapshot. The snapshot must match the manager's
// configured metric and dimension. The caller asserts the snapshot reflects
// the store's current contents; the collection is marked Clean.
func (m *Manager) Restore(snap index.Snapshot) error {
	if snap.Metric() != m.cfg.Metric {
		return &index.ErrMetricMismatch{Want: m.cfg.Metric, Got: snap.Metric()}
	}
	if snap.Dimension() != m.cfg.Dimension {
		return &index.ErrDimensionMismatch{Expected: m.cfg.Dimension, Actual: snap.Dimension()}
	}

	m.current.Store(&committed{snap: snap, at: time.Now()})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.builtVersion = m.store.Version()
	m.state = StateClean
	return nil
}

// Status reports the current state machine view.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:            m.state,
		PendingMutations: m.pendingLocked(),
		StoreVersion:     m.store.Version(),
		SnapshotVersion:  m.builtVersion,
		LastBuildTime:    m.lastBuildAt,
		LastBuildError:   m.lastBuildErr,
	}
	if c := m.current.Load(); c != nil && c.snap != nil {
		st.SnapshotLen = c.snap.Len()
	}
	return st
}

// Close stops the staleness watcher and waits for an in-progress build to
// finish. The committed snapshot remains readable after Close.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.baseStop()
		<-m.loopDone
		// Drain the build gate so no builder outlives Close.
		_ = m.buildSem.Acquire(context.Background(), 1)
		m.buildSem.Release(1)
	})
	return nil
}

// pendingLocked counts mutations not reflected by the serving snapshot.
func (m *Manager) pendingLocked() int {
	v := m.store.Version()
	if v <= m.builtVersion {
		return 0
	}
	return int(v - m.builtVersion)
}

// buildLoop runs build attempts until one commits or the retry budget is
// exhausted. Supersede cancellations restart with a fresh view and do not
// count against the budget.
func (m *Manager) buildLoop(ctx context.Context, force bool) error {
	var lastErr error
	for attempt := 0; attempt <= m.opts.MaxRetries; {
		if lastErr != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return lastErr
			}
		}

		err := m.buildOnce(ctx, force)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errSuperseded):
			// Fresh mutations invalidated the view. Go again immediately.
			continue
		case errors.Is(err, index.ErrEmptyCollection):
			// Deterministic; retrying cannot help.
			m.degrade(err)
			return err
		case ctx.Err() != nil:
			m.degrade(err)
			return err
		default:
			lastErr = err
			attempt++
			m.degrade(err)
			m.logger.Warn("index build failed",
				"attempt", attempt,
				"maxRetries", m.opts.MaxRetries,
				"error", err,
			)
		}
	}

	return lastErr
}

// buildOnce captures a view, runs one build attempt, and commits the result.
func (m *Manager) buildOnce(ctx context.Context, force bool) error {
	m.mu.Lock()
	m.state = StateBuilding
	m.mu.Unlock()

	view := m.store.View()

	bctx := ctx
	var timeoutCancel context.CancelFunc
	if m.opts.BuildTimeout > 0 {
		bctx, timeoutCancel = context.WithTimeout(ctx, m.opts.BuildTimeout)
		defer timeoutCancel()
	}
	bctx, cancel := context.WithCancel(bctx)
	defer cancel()

	m.mu.Lock()
	m.buildCancel = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.buildCancel = nil
		m.mu.Unlock()
	}()

	start := time.Now()
	snap, err := m.build(bctx, view, m.cfg)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return fmt.Errorf("%w after %s", ErrBuildTimeout, m.opts.BuildTimeout)
		case errors.Is(err, context.Canceled) && ctx.Err() == nil:
			return errSuperseded
		case errors.Is(err, index.ErrEmptyCollection):
			return m.commitEmpty(view, force, err)
		default:
			return err
		}
	}

	m.commit(snap, view)
	m.logger.Debug("index build committed",
		"strategy", snap.Strategy().String(),
		"records", snap.Len(),
		"storeVersion", view.Version,
		"duration", time.Since(start),
	)
	return nil
}

// commit swaps in the new snapshot and settles the state machine. If newer
// mutations landed during the build, the collection goes straight back to
// Dirty so the next trigger picks them up.
func (m *Manager) commit(snap index.Snapshot, view *store.View) {
	m.current.Store(&committed{snap: snap, at: time.Now()})
	m.store.Compact(view)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.builtVersion = view.Version
	m.lastBuildAt = time.Now()
	m.lastBuildErr = nil
	if m.pendingLocked() > 0 {
		m.state = StateDirty
		m.dirtyAt = time.Now()
	} else {
		m.state = StateClean
	}
}

// commitEmpty handles a build over zero records. An empty set never replaces
// a non-empty serving snapshot unless forced; with nothing committed yet the
// empty result simply marks the collection clean.
func (m *Manager) commitEmpty(view *store.View, force bool, buildErr error) error {
	cur := m.current.Load()
	hasSnapshot := cur != nil && cur.snap != nil

	if hasSnapshot && !force {
		return buildErr
	}

	if force {
		m.current.Store(&committed{at: time.Now()})
	}
	m.store.Compact(view)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.builtVersion = view.Version
	m.lastBuildAt = time.Now()
	m.lastBuildErr = nil
	if m.pendingLocked() > 0 {
		m.state = StateDirty
		m.dirtyAt = time.Now()
	} else {
		m.state = StateClean
	}
	return nil
}

func (m *Manager) degrade(err error) {
	m.mu.Lock()
	m.state = StateDegraded
	m.lastBuildErr = err
	m.mu.Unlock()
}

// stalenessLoop triggers rebuilds for collections that stay dirty longer
// than MaxStaleness.
func (m *Manager) stalenessLoop() {
	defer close(m.loopDone)

	if m.opts.MaxStaleness <= 0 {
		<-m.baseCtx.Done()
		return
	}

	interval := m.opts.MaxStaleness / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			overdue := time.Since(m.dirtyAt) >= m.opts.MaxStaleness
			// Degraded counts as stale only while mutations are pending.
			due := overdue && (m.state == StateDirty ||
				(m.state == StateDegraded && m.pendingLocked() > 0))
			m.mu.Unlock()
			if due {
				m.TryRebuild()
			}
		}
	}
}
