package mediator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"syncdash/internal/model"
	"syncdash/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend scripts snapshot fetches and serves SSE frames from a buffered
// channel, honoring the request context like a real response body.
type fakeBackend struct {
	mu      sync.Mutex
	fetches []func(ctx context.Context) (model.SourceConnectionState, error)
	calls   atomic.Int32
	frames  chan []byte
	opens   atomic.Int32
}

func newFakeBackend(fetches ...func(ctx context.Context) (model.SourceConnectionState, error)) *fakeBackend {
	return &fakeBackend{
		fetches: fetches,
		frames:  make(chan []byte, 16),
	}
}

func (b *fakeBackend) GetSourceConnection(ctx context.Context, id string) (model.SourceConnectionState, error) {
	n := int(b.calls.Add(1)) - 1

	b.mu.Lock()
	var fetch func(ctx context.Context) (model.SourceConnectionState, error)
	if n < len(b.fetches) {
		fetch = b.fetches[n]
	} else if len(b.fetches) > 0 {
		fetch = b.fetches[len(b.fetches)-1]
	}
	b.mu.Unlock()

	if fetch == nil {
		return model.SourceConnectionState{}, fmt.Errorf("no scripted fetch")
	}

	return fetch(ctx)
}

func (b *fakeBackend) OpenJobStream(ctx context.Context, jobID string) (io.ReadCloser, error) {
	b.opens.Add(1)
	return &fakeBody{ctx: ctx, frames: b.frames}, nil
}

func (b *fakeBackend) send(msg string) {
	b.frames <- []byte("data: " + msg + "\n\n")
}

type fakeBody struct {
	ctx    context.Context
	frames chan []byte
	buf    []byte
}

func (f *fakeBody) Read(p []byte) (int, error) {
	if len(f.buf) == 0 {
		select {
		case b, ok := <-f.frames:
			if !ok {
				return 0, io.EOF
			}
			f.buf = b
		case <-f.ctx.Done():
			return 0, f.ctx.Err()
		}
	}

	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

func (f *fakeBody) Close() error { return nil }

func fetchOf(st model.SourceConnectionState) func(ctx context.Context) (model.SourceConnectionState, error) {
	return func(ctx context.Context) (model.SourceConnectionState, error) {
		return st, nil
	}
}

func fetchErr(err error) func(ctx context.Context) (model.SourceConnectionState, error) {
	return func(ctx context.Context) (model.SourceConnectionState, error) {
		return model.SourceConnectionState{}, err
	}
}

func testOptions() Options {
	return Options{
		ReconcileDelay:  10 * time.Millisecond,
		RetryMaxElapsed: 500 * time.Millisecond,
	}
}

func TestInitializeReturnsCachedImmediately(t *testing.T) {
	cached := model.SourceConnectionState{
		ID:     "conn-1",
		Name:   "Shared Drive",
		Status: model.ConnectionActive,
	}

	cache := state.NewCache()
	cache.Set("conn-1", cached)

	release := make(chan struct{})
	backend := newFakeBackend(func(ctx context.Context) (model.SourceConnectionState, error) {
		<-release
		return model.SourceConnectionState{ID: "conn-1", Name: "Renamed", Status: model.ConnectionActive}, nil
	})

	m := New("conn-1", cache, backend, testOptions())
	defer m.Cleanup()

	start := time.Now()
	st := m.Initialize(context.Background())
	elapsed := time.Since(start)

	require.NotNil(t, st)
	assert.Equal(t, "Shared Drive", st.Name)
	assert.Less(t, elapsed, 100*time.Millisecond)

	// the fetch runs in the background and lands later
	close(release)
	require.Eventually(t, func() bool {
		st, ok := cache.Get("conn-1")
		return ok && st.Name == "Renamed"
	}, time.Second, 5*time.Millisecond)
}

func TestInitializeBlocksOnEmptyCache(t *testing.T) {
	fetched := model.SourceConnectionState{
		ID:     "conn-1",
		Status: model.ConnectionActive,
	}

	cache := state.NewCache()
	backend := newFakeBackend(fetchOf(fetched))

	m := New("conn-1", cache, backend, testOptions())
	defer m.Cleanup()

	st := m.Initialize(context.Background())
	require.NotNil(t, st)
	assert.Equal(t, "conn-1", st.ID)
	assert.Equal(t, model.ConnectionActive, st.Status)

	_, ok := cache.Get("conn-1")
	assert.True(t, ok)
}

func TestInitializeFetchFailureEmptyCache(t *testing.T) {
	cache := state.NewCache()
	backend := newFakeBackend(fetchErr(fmt.Errorf("backend down")))

	m := New("conn-1", cache, backend, testOptions())
	defer m.Cleanup()

	st := m.Initialize(context.Background())
	assert.Nil(t, st)
}

func TestInitializeFetchFailureFallsBackToCache(t *testing.T) {
	cached := model.SourceConnectionState{ID: "conn-1", Status: model.ConnectionActive}
	cache := state.NewCache()
	cache.Set("conn-1", cached)

	backend := newFakeBackend(fetchErr(fmt.Errorf("backend down")))

	m := New("conn-1", cache, backend, testOptions())
	defer m.Cleanup()

	st := m.Initialize(context.Background())
	require.NotNil(t, st)
	assert.Equal(t, model.ConnectionActive, st.Status)
}

func TestInitializeSubscribesToActiveJob(t *testing.T) {
	fetched := model.SourceConnectionState{
		ID:          "conn-1",
		Status:      model.ConnectionInProgress,
		LastSyncJob: &model.SyncJob{ID: "job-1", Status: model.JobStatusInProgress},
	}

	cache := state.NewCache()
	backend := newFakeBackend(fetchOf(fetched))

	m := New("conn-1", cache, backend, testOptions())
	defer m.Cleanup()

	require.NotNil(t, m.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		return backend.opens.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeToJobUpdatesWritesOptimistically(t *testing.T) {
	cache := state.NewCache()
	cache.Set("conn-1", model.SourceConnectionState{ID: "conn-1", Status: model.ConnectionActive})

	backend := newFakeBackend()
	m := New("conn-1", cache, backend, testOptions())
	defer m.Cleanup()

	m.SubscribeToJobUpdates("job-9")

	// optimistic write is synchronous: the UI sees the run before any
	// network round-trip completes
	st, ok := cache.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, model.ConnectionInProgress, st.Status)
	require.NotNil(t, st.LastSyncJob)
	assert.Equal(t, "job-9", st.LastSyncJob.ID)
	assert.Equal(t, model.JobStatusPending, st.LastSyncJob.Status)
	assert.Zero(t, st.LastSyncJob.EntitiesInserted)
	require.NotNil(t, st.LastSyncJob.StartedAt)
}

func TestStaleSnapshotCannotRegressJob(t *testing.T) {
	cache := state.NewCache()
	cache.Set("conn-1", model.SourceConnectionState{
		ID:          "conn-1",
		Status:      model.ConnectionActive,
		LastSyncJob: &model.SyncJob{ID: "job-1", Status: model.JobStatusCompleted},
	})

	// the backend's persisted record lags behind the stream's terminal
	// message
	backend := newFakeBackend(fetchOf(model.SourceConnectionState{
		ID:          "conn-1",
		Status:      model.ConnectionInProgress,
		LastSyncJob: &model.SyncJob{ID: "job-1", Status: model.JobStatusPending},
	}))

	m := New("conn-1", cache, backend, testOptions())
	defer m.Cleanup()

	require.NotNil(t, m.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		return backend.calls.Load() >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	st, _ := cache.Get("conn-1")
	assert.Equal(t, model.JobStatusCompleted, st.LastSyncJob.Status)
}

func TestDerivedStatusOverlaysStream(t *testing.T) {
	fetched := model.SourceConnectionState{
		ID:          "conn-1",
		Status:      model.ConnectionInProgress,
		LastSyncJob: &model.SyncJob{ID: "job-1", Status: model.JobStatusPending},
	}

	cache := state.NewCache()
	backend := newFakeBackend(fetchOf(fetched))

	m := New("conn-1", cache, backend, testOptions())
	defer m.Cleanup()

	require.NotNil(t, m.Initialize(context.Background()))
	assert.Equal(t, model.JobStatusPending, m.DerivedStatus())

	backend.send(`{"type":"entity_state","entity_counts":{"FileEntity":42}}`)

	require.Eventually(t, func() bool {
		return m.DerivedStatus() == model.JobStatusInProgress
	}, time.Second, 5*time.Millisecond)
}

func TestReconcileFetchOverwritesAfterTerminal(t *testing.T) {
	running := model.SourceConnectionState{
		ID:          "conn-1",
		Status:      model.ConnectionInProgress,
		LastSyncJob: &model.SyncJob{ID: "job-1", Status: model.JobStatusInProgress},
	}
	persisted := model.SourceConnectionState{
		ID:     "conn-1",
		Status: model.ConnectionActive,
		LastSyncJob: &model.SyncJob{
			ID:               "job-1",
			Status:           model.JobStatusCompleted,
			EntitiesInserted: 50,
		},
		EntityStates: []model.EntityTypeState{
			{EntityType: "FileEntity", TotalCount: 50, SyncStatus: model.EntitySynced},
		},
	}

	cache := state.NewCache()
	backend := newFakeBackend(fetchOf(running), fetchOf(persisted))

	m := New("conn-1", cache, backend, testOptions())
	defer m.Cleanup()

	require.NotNil(t, m.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		return backend.opens.Load() == 1
	}, time.Second, 5*time.Millisecond)

	backend.send(`{"type":"sync_complete","final_counts":{"FileEntity":50},"final_status":"completed","is_failed":false}`)

	require.Eventually(t, func() bool {
		return backend.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		st, ok := cache.Get("conn-1")
		return ok && st.LastSyncJob.EntitiesInserted == 50
	}, time.Second, 5*time.Millisecond)

	st, _ := cache.Get("conn-1")
	assert.Equal(t, model.ConnectionActive, st.Status)
	assert.Equal(t, model.JobStatusCompleted, st.LastSyncJob.Status)
}

func TestCleanupSilencesEverything(t *testing.T) {
	fetched := model.SourceConnectionState{
		ID:          "conn-1",
		Status:      model.ConnectionInProgress,
		LastSyncJob: &model.SyncJob{ID: "job-1", Status: model.JobStatusInProgress},
	}

	cache := state.NewCache()
	backend := newFakeBackend(fetchOf(fetched))

	m := New("conn-1", cache, backend, testOptions())
	require.NotNil(t, m.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		return backend.opens.Load() == 1
	}, time.Second, 5*time.Millisecond)

	m.Cleanup()
	m.Cleanup()

	before, _ := cache.Get("conn-1")
	backend.send(`{"type":"entity_state","entity_counts":{"FileEntity":999}}`)
	time.Sleep(50 * time.Millisecond)

	after, _ := cache.Get("conn-1")
	assert.Equal(t, before.LastSyncJob, after.LastSyncJob)
	assert.Empty(t, after.EntityStates)
}

func TestCleanupCancelsPendingReconcile(t *testing.T) {
	running := model.SourceConnectionState{
		ID:          "conn-1",
		Status:      model.ConnectionInProgress,
		LastSyncJob: &model.SyncJob{ID: "job-1", Status: model.JobStatusInProgress},
	}

	cache := state.NewCache()
	backend := newFakeBackend(fetchOf(running))

	opts := testOptions()
	opts.ReconcileDelay = 100 * time.Millisecond

	m := New("conn-1", cache, backend, opts)
	require.NotNil(t, m.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		return backend.opens.Load() == 1
	}, time.Second, 5*time.Millisecond)

	backend.send(`{"type":"sync_complete","final_status":"completed","is_failed":false}`)

	require.Eventually(t, func() bool {
		st, ok := cache.Get("conn-1")
		return ok && st.LastSyncJob.Status == model.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)

	// tear down before the reconcile timer fires
	m.Cleanup()
	fetchesAtCleanup := backend.calls.Load()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, fetchesAtCleanup, backend.calls.Load())
}
