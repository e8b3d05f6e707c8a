package backend

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"syncdash/internal/model"
)

// The backend's response contract has evolved; depending on deployment skew
// a snapshot may carry the current flat shape or the legacy nested one. The
// payload below accepts both generations, and normalizeConnection resolves
// each field group current-first with a legacy fallback. An unrecognizable
// shape is an error, never a raw record in the cache.

type jobPayload struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	EntitiesInserted int        `json:"entities_inserted"`
	EntitiesUpdated  int        `json:"entities_updated"`
	EntitiesDeleted  int        `json:"entities_deleted"`
	EntitiesFailed   int        `json:"entities_failed"`
	StartedAt        *time.Time `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	Error            string     `json:"error"`
}

type entityStatePayload struct {
	EntityType    string     `json:"entity_type"`
	TotalCount    int        `json:"total_count"`
	LastUpdatedAt *time.Time `json:"last_updated_at"`
	SyncStatus    string     `json:"sync_status"`
}

type connectionPayload struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	ShortName       string          `json:"short_name"`
	CollectionRef   string          `json:"collection_ref"`
	Status          string          `json:"status"`
	IsAuthenticated *bool           `json:"is_authenticated"`
	Schedule        json.RawMessage `json:"schedule"`

	// current shape
	LastSyncJob  *jobPayload          `json:"last_sync_job"`
	EntityStates []entityStatePayload `json:"entity_states"`

	// legacy shape
	Sync *struct {
		LastJob *jobPayload `json:"last_job"`
	} `json:"sync"`
	Entities *struct {
		ByType map[string]entityStatePayload `json:"by_type"`
	} `json:"entities"`
}

func normalizeConnection(raw connectionPayload) (model.SourceConnectionState, error) {
	if raw.ID == "" {
		return model.SourceConnectionState{}, fmt.Errorf("connection payload has no id")
	}

	status := model.ConnectionStatus(raw.Status)
	if !status.Valid() {
		return model.SourceConnectionState{}, fmt.Errorf("unknown connection status %q", raw.Status)
	}

	st := model.SourceConnectionState{
		ID:            raw.ID,
		Name:          raw.Name,
		ShortName:     raw.ShortName,
		CollectionRef: raw.CollectionRef,
		Status:        status,
		// unknown means authenticated; the backend only reports the flag
		// once a credential check has failed
		IsAuthenticated: raw.IsAuthenticated == nil || *raw.IsAuthenticated,
		Schedule:        raw.Schedule,
	}

	job, err := normalizeJob(raw)
	if err != nil {
		return model.SourceConnectionState{}, err
	}
	st.LastSyncJob = job

	st.EntityStates = normalizeEntityStates(raw)

	return st, nil
}

func normalizeJob(raw connectionPayload) (*model.SyncJob, error) {
	payload := raw.LastSyncJob
	if payload == nil && raw.Sync != nil {
		payload = raw.Sync.LastJob
	}

	if payload == nil {
		return nil, nil
	}

	status := model.JobStatus(payload.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("unknown job status %q", payload.Status)
	}

	return &model.SyncJob{
		ID:               payload.ID,
		Status:           status,
		EntitiesInserted: payload.EntitiesInserted,
		EntitiesUpdated:  payload.EntitiesUpdated,
		EntitiesDeleted:  payload.EntitiesDeleted,
		EntitiesFailed:   payload.EntitiesFailed,
		StartedAt:        payload.StartedAt,
		CompletedAt:      payload.CompletedAt,
		Error:            payload.Error,
	}, nil
}

func normalizeEntityStates(raw connectionPayload) []model.EntityTypeState {
	if raw.EntityStates != nil {
		out := make([]model.EntityTypeState, 0, len(raw.EntityStates))
		for _, es := range raw.EntityStates {
			out = append(out, normalizeEntityState(es.EntityType, es))
		}
		return out
	}

	if raw.Entities == nil || raw.Entities.ByType == nil {
		return nil
	}

	// legacy map shape carries no order; sort by type for a stable list
	types := make([]string, 0, len(raw.Entities.ByType))
	for t := range raw.Entities.ByType {
		types = append(types, t)
	}
	sort.Strings(types)

	out := make([]model.EntityTypeState, 0, len(types))
	for _, t := range types {
		out = append(out, normalizeEntityState(t, raw.Entities.ByType[t]))
	}

	return out
}

func normalizeEntityState(entityType string, es entityStatePayload) model.EntityTypeState {
	status := model.EntitySyncStatus(es.SyncStatus)
	if status != model.EntitySyncing && status != model.EntitySynced {
		status = model.EntitySynced
	}

	out := model.EntityTypeState{
		EntityType: entityType,
		TotalCount: es.TotalCount,
		SyncStatus: status,
	}

	if es.LastUpdatedAt != nil {
		out.LastUpdatedAt = *es.LastUpdatedAt
	}

	return out
}
