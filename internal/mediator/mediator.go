package mediator

import (
	"context"
	"io"
	"time"

	"syncdash/internal/logger"
	"syncdash/internal/model"
	"syncdash/internal/state"
	"syncdash/internal/stream"

	"go.uber.org/zap"
)

// Fetcher is the snapshot read against the backend.
type Fetcher interface {
	GetSourceConnection(ctx context.Context, id string) (model.SourceConnectionState, error)
}

// Backend is everything the mediator needs from the REST client.
type Backend interface {
	Fetcher
	OpenJobStream(ctx context.Context, jobID string) (io.ReadCloser, error)
}

type Options struct {
	ReconcileDelay  time.Duration
	RetryMaxElapsed time.Duration

	// OnTerminal is forwarded to the subscriber; the daemon uses it to
	// record job history.
	OnTerminal func(st model.SourceConnectionState)
}

// Mediator presents a single eventually-consistent view of one connection's
// sync state by merging the cache, backend snapshots and the live stream.
// One instance per connection; all collaborators are injected.
type Mediator struct {
	connectionID string
	cache        *state.Cache
	backend      Backend
	sub          *stream.Subscriber

	lifecycle context.Context
	cancel    context.CancelFunc
}

func New(connectionID string, cache *state.Cache, backend Backend, opts Options) *Mediator {
	lifecycle, cancel := context.WithCancel(context.Background())

	m := &Mediator{
		connectionID: connectionID,
		cache:        cache,
		backend:      backend,
		lifecycle:    lifecycle,
		cancel:       cancel,
	}

	m.sub = stream.NewSubscriber(lifecycle, connectionID, cache, backend, stream.Options{
		ReconcileDelay:  opts.ReconcileDelay,
		RetryMaxElapsed: opts.RetryMaxElapsed,
		Reconcile:       m.reconcileFetch,
		OnTerminal:      opts.OnTerminal,
	})

	return m
}

// Initialize returns the current reconciled state, or nil when nothing is
// known yet. A cached record is returned immediately while a snapshot fetch
// refreshes it in the background; with an empty cache the call waits for the
// fetch so the caller never sees a state the backend has not confirmed at
// least once. Fetch failures are absorbed: the caller gets the cached state
// or nil, never an error.
func (m *Mediator) Initialize(ctx context.Context) *model.SourceConnectionState {
	if cached, ok := m.cache.Get(m.connectionID); ok {
		go m.refresh(m.lifecycle)
		return &cached
	}

	m.refresh(ctx)

	if st, ok := m.cache.Get(m.connectionID); ok {
		return &st
	}

	return nil
}

// SubscribeToJobUpdates is called when the UI has triggered a new run. The
// cache immediately reflects the run as pending so the UI shows action
// before any round-trip completes, then the live subscription takes over.
func (m *Mediator) SubscribeToJobUpdates(jobID string) {
	now := time.Now()

	m.cache.Update(m.connectionID, func(st *model.SourceConnectionState) bool {
		if st.ID == "" {
			st.ID = m.connectionID
		}

		st.Status = model.ConnectionInProgress
		st.LastSyncJob = &model.SyncJob{
			ID:        jobID,
			Status:    model.JobStatusPending,
			StartedAt: &now,
		}
		return true
	})

	m.sub.Subscribe(jobID)
}

// Cleanup aborts the live subscription and any pending reconcile timer.
// Idempotent; called whenever the owning session is torn down.
func (m *Mediator) Cleanup() {
	m.cancel()
	m.sub.Close()
}

// DerivedStatus overlays the freshest stream signal on the cached job.
func (m *Mediator) DerivedStatus() model.JobStatus {
	var job *model.SyncJob
	if st, ok := m.cache.Get(m.connectionID); ok {
		job = st.LastSyncJob
	}

	return state.DeriveStatus(job, m.sub.LatestMessage())
}

func (m *Mediator) Reconnecting() bool {
	return m.sub.Reconnecting()
}

// refresh fetches a snapshot and folds it into the cache, then opens the
// live subscription when the snapshot reports an active run.
func (m *Mediator) refresh(ctx context.Context) {
	st, err := m.backend.GetSourceConnection(ctx, m.connectionID)
	if err != nil {
		logger.Log.Warn("snapshot fetch failed, keeping cached state",
			zap.String("connection", m.connectionID),
			zap.Error(err))
		return
	}

	m.fold(st)

	// subscribe off the reconciled record, not the raw snapshot: a stale
	// snapshot rejected by the fold must not reopen a finished job's stream
	if cached, ok := m.cache.Get(m.connectionID); ok {
		if job := cached.LastSyncJob; job != nil && !job.Status.Terminal() {
			m.sub.Subscribe(job.ID)
		}
	}
}

// fold writes a snapshot into the cache unless it would move the same job's
// status backward; the stream may have outrun the backend's persisted
// record, and a stale snapshot must not regress it.
func (m *Mediator) fold(st model.SourceConnectionState) {
	applied := m.cache.Update(m.connectionID, func(cached *model.SourceConnectionState) bool {
		if stale(cached.LastSyncJob, st.LastSyncJob) {
			return false
		}

		*cached = st
		return true
	})

	if !applied {
		logger.Log.Debug("ignored stale snapshot",
			zap.String("connection", m.connectionID))
	}
}

// reconcileFetch is the single delayed post-completion fetch. It is the one
// writer trusted to overwrite the record after a job finishes, so it skips
// the staleness guard.
func (m *Mediator) reconcileFetch(ctx context.Context) {
	st, err := m.backend.GetSourceConnection(ctx, m.connectionID)
	if err != nil {
		logger.Log.Warn("reconcile fetch failed, keeping stream-derived state",
			zap.String("connection", m.connectionID),
			zap.Error(err))
		return
	}

	if ctx.Err() != nil {
		return
	}

	m.cache.Set(m.connectionID, st)
}

func stale(cached, incoming *model.SyncJob) bool {
	if cached == nil || incoming == nil || cached.ID != incoming.ID {
		return false
	}

	return !cached.Status.CanTransition(incoming.Status)
}
