package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"syncdash/internal/backend"
	"syncdash/internal/config"
	"syncdash/internal/logger"
	"syncdash/internal/mediator"
	"syncdash/internal/model"
	"syncdash/internal/repository"
	"syncdash/internal/state"

	"go.uber.org/zap"
)

// ConnectionView is what the daemon's API serves for one watched connection:
// the reconciled record plus read-time derived fields.
type ConnectionView struct {
	model.SourceConnectionState
	DerivedStatus model.JobStatus `json:"derived_status"`
	Reconnecting  bool            `json:"reconnecting"`
}

// SessionManager owns one mediator per watched connection and tears each
// down when the connection leaves the watchlist or the daemon stops.
type SessionManager struct {
	mu       sync.Mutex
	cfg      *config.Config
	cache    *state.Cache
	client   *backend.Client
	histRepo *repository.HistoryRepository
	sessions map[string]*mediator.Mediator
}

func NewSessionManager(cfg *config.Config) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		cache:    state.NewCache(),
		client:   backend.NewClient(cfg.BackendURL, cfg.APIToken),
		histRepo: repository.NewHistoryRepository(),
		sessions: make(map[string]*mediator.Mediator),
	}
}

// SetWatched reconciles the session set against the watchlist: new ids get a
// mediator and an initial load, removed ids are cleaned up.
func (m *SessionManager) SetWatched(ids []string) {
	watched := make(map[string]bool, len(ids))
	for _, id := range ids {
		watched[id] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, med := range m.sessions {
		if watched[id] {
			continue
		}

		med.Cleanup()
		delete(m.sessions, id)
		logger.Log.Info("connection unwatched",
			zap.String("connection", id))
	}

	for id := range watched {
		if _, exists := m.sessions[id]; exists {
			continue
		}

		med := m.newMediator(id)
		m.sessions[id] = med

		go func(id string) {
			if st := med.Initialize(context.Background()); st == nil {
				logger.Log.Warn("no state available yet for connection",
					zap.String("connection", id))
			}
		}(id)

		logger.Log.Info("connection watched",
			zap.String("connection", id))
	}
}

func (m *SessionManager) newMediator(id string) *mediator.Mediator {
	return mediator.New(id, m.cache, m.client, mediator.Options{
		ReconcileDelay:  m.cfg.ReconcileDelay(),
		RetryMaxElapsed: m.cfg.StreamRetryMaxElapsed(),
		OnTerminal: func(st model.SourceConnectionState) {
			if err := m.histRepo.Save(st); err != nil {
				logger.Log.Warn("failed to save job history",
					zap.String("connection", st.ID),
					zap.Error(err))
			}
		},
	})
}

// Run triggers a new sync job for the connection and subscribes to its
// progress. Connections not on the watchlist get a session on demand.
func (m *SessionManager) Run(ctx context.Context, connectionID string) (string, error) {
	m.mu.Lock()
	med, exists := m.sessions[connectionID]
	if !exists {
		med = m.newMediator(connectionID)
		m.sessions[connectionID] = med
	}
	m.mu.Unlock()

	if !exists {
		med.Initialize(ctx)
	}

	jobID, err := m.client.TriggerRun(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("failed to trigger run for %s: %w", connectionID, err)
	}

	med.SubscribeToJobUpdates(jobID)

	logger.Log.Info("sync run triggered",
		zap.String("connection", connectionID),
		zap.String("job", jobID))

	return jobID, nil
}

// Views returns the reconciled view of every watched connection, sorted by
// connection id.
func (m *SessionManager) Views() []ConnectionView {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]ConnectionView, 0, len(m.sessions))
	for id, med := range m.sessions {
		view := ConnectionView{
			DerivedStatus: med.DerivedStatus(),
			Reconnecting:  med.Reconnecting(),
		}

		if st, ok := m.cache.Get(id); ok {
			view.SourceConnectionState = st
		} else {
			view.SourceConnectionState = model.SourceConnectionState{ID: id}
		}

		views = append(views, view)
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].ID < views[j].ID
	})

	return views
}

// View returns one connection's reconciled view.
func (m *SessionManager) View(connectionID string) (ConnectionView, bool) {
	m.mu.Lock()
	med, exists := m.sessions[connectionID]
	m.mu.Unlock()

	if !exists {
		return ConnectionView{}, false
	}

	view := ConnectionView{
		DerivedStatus: med.DerivedStatus(),
		Reconnecting:  med.Reconnecting(),
	}

	if st, ok := m.cache.Get(connectionID); ok {
		view.SourceConnectionState = st
	} else {
		view.SourceConnectionState = model.SourceConnectionState{ID: connectionID}
	}

	return view, true
}

func (m *SessionManager) WatchedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// StopAll cleans up every session. Called on daemon shutdown.
func (m *SessionManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, med := range m.sessions {
		med.Cleanup()
		delete(m.sessions, id)
	}
}
