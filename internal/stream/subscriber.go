package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"syncdash/internal/logger"
	"syncdash/internal/model"
	"syncdash/internal/state"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Opener opens the server-sent event stream for one job.
type Opener interface {
	OpenJobStream(ctx context.Context, jobID string) (io.ReadCloser, error)
}

type Options struct {
	// ReconcileDelay is how long after a terminal message the single
	// follow-up snapshot fetch waits for the backend's persisted record to
	// catch up with the stream.
	ReconcileDelay time.Duration

	// RetryMaxElapsed bounds the time spent reconnecting after a stream
	// drop before the stream is abandoned. The budget restarts on every
	// successful connection.
	RetryMaxElapsed time.Duration

	// Reconcile re-runs the snapshot fetch and overwrites the cache. Called
	// at most once per terminal message, never after the lifecycle context
	// is cancelled.
	Reconcile func(ctx context.Context)

	// OnTerminal receives the reconciled record right after a terminal
	// message has been applied.
	OnTerminal func(st model.SourceConnectionState)
}

// Subscriber owns at most one live stream subscription for a connection,
// keyed by job id, and folds incoming messages into the cache. Messages
// arriving after the subscription is closed are never applied.
type Subscriber struct {
	lifecycle    context.Context
	connectionID string
	cache        *state.Cache
	opener       Opener
	opts         Options

	mu           sync.Mutex
	jobID        string
	cancel       context.CancelFunc
	active       bool
	reconnecting bool
	lastMsg      *model.StreamMessage
	dropped      int
}

// NewSubscriber binds a subscriber to one connection. The lifecycle context
// scopes every subscription and timer; cancelling it silences the subscriber
// for good.
func NewSubscriber(lifecycle context.Context, connectionID string, cache *state.Cache, opener Opener, opts Options) *Subscriber {
	if opts.ReconcileDelay <= 0 {
		opts.ReconcileDelay = time.Second
	}
	if opts.RetryMaxElapsed <= 0 {
		opts.RetryMaxElapsed = time.Minute
	}

	return &Subscriber{
		lifecycle:    lifecycle,
		connectionID: connectionID,
		cache:        cache,
		opener:       opener,
		opts:         opts,
	}
}

// Subscribe opens the stream for jobID. Calling it again with the same job
// id while the subscription is open is a no-op; a different job id closes
// the old subscription before opening the new one.
func (s *Subscriber) Subscribe(jobID string) {
	s.mu.Lock()

	if s.active && s.jobID == jobID {
		s.mu.Unlock()
		return
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithCancel(s.lifecycle)
	s.jobID = jobID
	s.cancel = cancel
	s.active = true
	s.lastMsg = nil
	s.mu.Unlock()

	go s.run(ctx, jobID)
}

// Close aborts the current subscription, if any. Safe to call repeatedly.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.active = false
	s.reconnecting = false
}

// LatestMessage returns the most recent message observed for the current
// job, for status derivation.
func (s *Subscriber) LatestMessage() *model.StreamMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMsg
}

func (s *Subscriber) Reconnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnecting
}

// DroppedMessages counts messages discarded for attempting an invalid job
// status transition.
func (s *Subscriber) DroppedMessages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscriber) run(ctx context.Context, jobID string) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.opts.RetryMaxElapsed

	operation := func() error {
		connected := false
		err := s.consume(ctx, jobID, func() {
			connected = true
			s.setReconnecting(false)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		// the elapsed clock starts at Subscribe; without a reset a stream
		// that ran healthily past RetryMaxElapsed would get no reconnect
		// attempts at all on its first drop
		if connected {
			bo.Reset()
		}

		s.setReconnecting(true)
		return err
	}

	notify := func(err error, next time.Duration) {
		logger.Log.Warn("job stream disconnected, retrying",
			zap.String("connection", s.connectionID),
			zap.String("job", jobID),
			zap.Duration("next_attempt", next),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify)
	s.setReconnecting(false)

	if err != nil && ctx.Err() == nil {
		logger.Log.Error("job stream abandoned",
			zap.String("connection", s.connectionID),
			zap.String("job", jobID),
			zap.Error(err))
	}
}

// consume reads one stream connection until a terminal message, the context
// is cancelled, or the transport fails. A transport failure returns an error
// so the caller can reconnect.
func (s *Subscriber) consume(ctx context.Context, jobID string, connected func()) error {
	body, err := s.opener.OpenJobStream(ctx, jobID)
	if err != nil {
		return err
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(body)

	connected()

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var msg model.StreamMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Log.Warn("unparsable stream message",
				zap.String("job", jobID),
				zap.Error(err))
			continue
		}

		if s.apply(ctx, jobID, msg) {
			return nil
		}
	}

	if ctx.Err() != nil {
		return nil
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	return fmt.Errorf("job stream ended before completion")
}

// apply folds one message into the cached record and reports whether it was
// terminal. The subscription's own context is checked under the lock, so a
// message already in flight when Close runs can never land.
func (s *Subscriber) apply(ctx context.Context, jobID string, msg model.StreamMessage) bool {
	s.mu.Lock()

	if ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}

	applied := s.cache.Update(s.connectionID, func(st *model.SourceConnectionState) bool {
		return foldMessage(st, s.connectionID, jobID, msg)
	})

	if !applied {
		s.dropped++
		s.mu.Unlock()

		logger.Log.Warn("dropped stream message with invalid status transition",
			zap.String("connection", s.connectionID),
			zap.String("job", jobID),
			zap.String("type", string(msg.Type)))
		return false
	}

	s.lastMsg = &msg

	terminal := msg.Type == model.MessageSyncComplete
	if terminal {
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.active = false
	}
	s.mu.Unlock()

	if terminal {
		if s.opts.OnTerminal != nil {
			if final, ok := s.cache.Get(s.connectionID); ok {
				s.opts.OnTerminal(final)
			}
		}
		s.scheduleReconcile(jobID)
	}

	return terminal
}

// scheduleReconcile arms the single delayed follow-up fetch. The timer hangs
// off the lifecycle context, not the subscription's: the subscription is
// already closed by the time a terminal message schedules it, but Cleanup
// must still be able to cancel it.
func (s *Subscriber) scheduleReconcile(jobID string) {
	if s.opts.Reconcile == nil {
		return
	}

	go func() {
		timer := time.NewTimer(s.opts.ReconcileDelay)
		defer timer.Stop()

		select {
		case <-timer.C:
			logger.Log.Debug("running post-completion reconcile fetch",
				zap.String("connection", s.connectionID),
				zap.String("job", jobID))
			s.opts.Reconcile(s.lifecycle)
		case <-s.lifecycle.Done():
		}
	}()
}

func (s *Subscriber) setReconnecting(v bool) {
	s.mu.Lock()
	s.reconnecting = v
	s.mu.Unlock()
}

// foldMessage rewrites the record for one message. Returning false leaves
// the cache untouched (invalid transition for the subscribed job).
func foldMessage(st *model.SourceConnectionState, connectionID, jobID string, msg model.StreamMessage) bool {
	if st.ID == "" {
		st.ID = connectionID
	}

	now := messageTime(msg)

	job := st.LastSyncJob
	if job == nil || job.ID != jobID {
		// a record can lag behind the run the stream is reporting on
		job = &model.SyncJob{ID: jobID, Status: model.JobStatusPending, StartedAt: &now}
	}

	implied := msg.ImpliedJobStatus()
	if !job.Status.CanTransition(implied) {
		return false
	}

	switch msg.Type {
	case model.MessageEntityState:
		for _, entityType := range sortedKeys(msg.EntityCounts) {
			st.MergeEntityState(model.EntityTypeState{
				EntityType:    entityType,
				TotalCount:    msg.EntityCounts[entityType],
				LastUpdatedAt: now,
				SyncStatus:    model.EntitySyncing,
			})
		}
		job.Status = model.JobStatusInProgress
		st.Status = model.ConnectionInProgress

	case model.MessageSyncProgress:
		job.Status = model.JobStatusInProgress
		st.Status = model.ConnectionInProgress
		foldCounters(job, msg)

	case model.MessageSyncComplete:
		states := make([]model.EntityTypeState, 0, len(msg.FinalCounts))
		for _, entityType := range sortedKeys(msg.FinalCounts) {
			states = append(states, model.EntityTypeState{
				EntityType:    entityType,
				TotalCount:    msg.FinalCounts[entityType],
				LastUpdatedAt: now,
				SyncStatus:    model.EntitySynced,
			})
		}
		st.EntityStates = states

		job.Status = implied
		job.CompletedAt = &now
		job.Error = msg.Error

		if msg.IsFailed || implied == model.JobStatusFailed {
			st.Status = model.ConnectionFailing
		} else {
			st.Status = model.ConnectionActive
		}

	default:
		return false
	}

	st.LastSyncJob = job
	return true
}

func foldCounters(job *model.SyncJob, msg model.StreamMessage) {
	if msg.EntitiesInserted > 0 {
		job.EntitiesInserted += msg.EntitiesInserted
	}
	if msg.EntitiesUpdated > 0 {
		job.EntitiesUpdated += msg.EntitiesUpdated
	}
	if msg.EntitiesDeleted > 0 {
		job.EntitiesDeleted += msg.EntitiesDeleted
	}
	if msg.EntitiesFailed > 0 {
		job.EntitiesFailed += msg.EntitiesFailed
	}
}

func messageTime(msg model.StreamMessage) time.Time {
	if msg.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			return ts
		}
	}

	return time.Now()
}

func sortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
