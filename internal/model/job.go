package model

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusInProgress:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is a valid forward
// transition for a single job id. Status is monotonic: a job never leaves a
// terminal state and never moves backward. Re-asserting the current status
// is allowed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s == next {
		return true
	}

	if s.Terminal() {
		return false
	}

	return next.rank() > s.rank()
}

// SyncJob is a snapshot of one synchronization run. Counters are
// non-decreasing while the job is non-terminal.
type SyncJob struct {
	ID               string     `json:"id"`
	Status           JobStatus  `json:"status"`
	EntitiesInserted int        `json:"entities_inserted"`
	EntitiesUpdated  int        `json:"entities_updated"`
	EntitiesDeleted  int        `json:"entities_deleted"`
	EntitiesFailed   int        `json:"entities_failed"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Error            string     `json:"error,omitempty"`
}
