package state

import "syncdash/internal/model"

// DeriveStatus overlays the freshest streaming signal on the persisted job
// status. Evaluated at read time, never stored. Priority: a completion
// message wins, then a failure message, then any stream activity at all
// implies in_progress, then the persisted status. A connection that has
// never run a job derives as pending.
func DeriveStatus(persisted *model.SyncJob, latest *model.StreamMessage) model.JobStatus {
	if latest != nil {
		if latest.Type == model.MessageSyncComplete {
			if latest.IsFailed || latest.FinalStatus == model.JobStatusFailed {
				return model.JobStatusFailed
			}
			return model.JobStatusCompleted
		}

		return model.JobStatusInProgress
	}

	if persisted == nil {
		return model.JobStatusPending
	}

	return persisted.Status
}
