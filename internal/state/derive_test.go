package state

import (
	"testing"

	"syncdash/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name      string
		persisted *model.SyncJob
		latest    *model.StreamMessage
		want      model.JobStatus
	}{
		{
			name: "nothing known",
			want: model.JobStatusPending,
		},
		{
			name:      "persisted only",
			persisted: &model.SyncJob{Status: model.JobStatusCompleted},
			want:      model.JobStatusCompleted,
		},
		{
			// stale pending must not survive observed stream activity
			name:      "entity state overlays pending",
			persisted: &model.SyncJob{Status: model.JobStatusPending},
			latest:    &model.StreamMessage{Type: model.MessageEntityState},
			want:      model.JobStatusInProgress,
		},
		{
			name:      "progress overlays pending",
			persisted: &model.SyncJob{Status: model.JobStatusPending},
			latest:    &model.StreamMessage{Type: model.MessageSyncProgress},
			want:      model.JobStatusInProgress,
		},
		{
			name:      "completion wins",
			persisted: &model.SyncJob{Status: model.JobStatusInProgress},
			latest: &model.StreamMessage{
				Type:        model.MessageSyncComplete,
				FinalStatus: model.JobStatusCompleted,
			},
			want: model.JobStatusCompleted,
		},
		{
			name:      "failure wins",
			persisted: &model.SyncJob{Status: model.JobStatusInProgress},
			latest: &model.StreamMessage{
				Type:     model.MessageSyncComplete,
				IsFailed: true,
			},
			want: model.JobStatusFailed,
		},
		{
			name:   "stream only, no persisted job",
			latest: &model.StreamMessage{Type: model.MessageEntityState},
			want:   model.JobStatusInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.persisted, tt.latest))
		})
	}
}
