package model

import (
	"encoding/json"
	"time"
)

type ConnectionStatus string

const (
	ConnectionActive     ConnectionStatus = "active"
	ConnectionInProgress ConnectionStatus = "in_progress"
	ConnectionFailing    ConnectionStatus = "failing"
)

func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionActive, ConnectionInProgress, ConnectionFailing:
		return true
	default:
		return false
	}
}

type EntitySyncStatus string

const (
	EntitySyncing EntitySyncStatus = "syncing"
	EntitySynced  EntitySyncStatus = "synced"
)

// EntityTypeState tracks the running count for one entity type of a
// connection. Entries are keyed by EntityType; a later update for the same
// type replaces the prior entry.
type EntityTypeState struct {
	EntityType    string           `json:"entity_type"`
	TotalCount    int              `json:"total_count"`
	LastUpdatedAt time.Time        `json:"last_updated_at"`
	SyncStatus    EntitySyncStatus `json:"sync_status"`
}

// SourceConnectionState is the reconciled view of one source connection.
// Records are treated as immutable once stored: every update builds a fresh
// record and replaces the whole entry, so readers never observe a partial
// write.
type SourceConnectionState struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	ShortName       string            `json:"short_name"`
	CollectionRef   string            `json:"collection_ref"`
	Status          ConnectionStatus  `json:"status"`
	IsAuthenticated bool              `json:"is_authenticated"`
	LastSyncJob     *SyncJob          `json:"last_sync_job,omitempty"`
	Schedule        json.RawMessage   `json:"schedule,omitempty"`
	EntityStates    []EntityTypeState `json:"entity_states"`
	LastUpdated     time.Time         `json:"last_updated"`
}

// Clone returns a deep copy safe to modify without disturbing readers of the
// original record.
func (s SourceConnectionState) Clone() SourceConnectionState {
	out := s

	if s.LastSyncJob != nil {
		job := *s.LastSyncJob
		out.LastSyncJob = &job
	}

	if s.EntityStates != nil {
		out.EntityStates = make([]EntityTypeState, len(s.EntityStates))
		copy(out.EntityStates, s.EntityStates)
	}

	if s.Schedule != nil {
		out.Schedule = make(json.RawMessage, len(s.Schedule))
		copy(out.Schedule, s.Schedule)
	}

	return out
}

// MergeEntityState upserts the entry for one entity type, keeping the list
// ordered by first observation.
func (s *SourceConnectionState) MergeEntityState(es EntityTypeState) {
	for i, existing := range s.EntityStates {
		if existing.EntityType == es.EntityType {
			s.EntityStates[i] = es
			return
		}
	}

	s.EntityStates = append(s.EntityStates, es)
}
