package model

import (
	"time"

	"gorm.io/gorm"
)

// History records one observed job termination, for the history command.
type History struct {
	gorm.Model
	ConnectionID     string    `gorm:"not null" json:"connection_id"`
	JobID            string    `gorm:"not null" json:"job_id"`
	Status           JobStatus `gorm:"not null" json:"status"`
	EntitiesInserted int       `json:"entities_inserted"`
	EntitiesUpdated  int       `json:"entities_updated"`
	EntitiesDeleted  int       `json:"entities_deleted"`
	EntitiesFailed   int       `json:"entities_failed"`
	ErrMsg           string    `json:"err_msg,omitempty"`
	CompletedAt      time.Time `gorm:"not null" json:"completed_at"`
}
