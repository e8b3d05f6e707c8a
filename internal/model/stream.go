package model

type StreamMessageType string

const (
	MessageEntityState  StreamMessageType = "entity_state"
	MessageSyncProgress StreamMessageType = "sync_progress"
	MessageSyncComplete StreamMessageType = "sync_complete"
)

// StreamMessage is one frame of the per-job progress stream, discriminated
// by Type. Only the fields for the given type are populated.
type StreamMessage struct {
	Type StreamMessageType `json:"type"`

	// entity_state
	EntityCounts map[string]int `json:"entity_counts,omitempty"`

	// sync_progress: incremental deltas, folded into the job counters.
	EntitiesInserted int `json:"entities_inserted,omitempty"`
	EntitiesUpdated  int `json:"entities_updated,omitempty"`
	EntitiesDeleted  int `json:"entities_deleted,omitempty"`
	EntitiesFailed   int `json:"entities_failed,omitempty"`

	// sync_complete
	FinalCounts map[string]int `json:"final_counts,omitempty"`
	FinalStatus JobStatus      `json:"final_status,omitempty"`
	IsFailed    bool           `json:"is_failed,omitempty"`
	Error       string         `json:"error,omitempty"`

	Timestamp string `json:"timestamp,omitempty"`
}

// ImpliedJobStatus is the job status this message asserts, used for the
// monotonicity check before the message is applied.
func (m StreamMessage) ImpliedJobStatus() JobStatus {
	switch m.Type {
	case MessageSyncComplete:
		if m.IsFailed || m.FinalStatus == JobStatusFailed {
			return JobStatusFailed
		}
		return JobStatusCompleted
	default:
		return JobStatusInProgress
	}
}
