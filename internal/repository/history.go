package repository

import (
	"time"

	"syncdash/internal/db"
	"syncdash/internal/model"
)

type HistoryRepository struct{}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{}
}

// Save records one observed job termination.
func (r *HistoryRepository) Save(st model.SourceConnectionState) error {
	job := st.LastSyncJob
	if job == nil {
		return nil
	}

	completedAt := time.Now()
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}

	history := model.History{
		ConnectionID:     st.ID,
		JobID:            job.ID,
		Status:           job.Status,
		EntitiesInserted: job.EntitiesInserted,
		EntitiesUpdated:  job.EntitiesUpdated,
		EntitiesDeleted:  job.EntitiesDeleted,
		EntitiesFailed:   job.EntitiesFailed,
		ErrMsg:           job.Error,
		CompletedAt:      completedAt,
	}

	return db.DB.Create(&history).Error
}

func (r *HistoryRepository) GetRecent(limit int) ([]model.History, error) {
	var histories []model.History
	result := db.DB.
		Order("completed_at desc").
		Limit(limit).
		Find(&histories)

	return histories, result.Error
}

func (r *HistoryRepository) GetFailed() ([]model.History, error) {
	var histories []model.History
	result := db.DB.
		Where("status = ?", model.JobStatusFailed).
		Order("completed_at desc").
		Find(&histories)

	return histories, result.Error
}

type Stats struct {
	Total     int64
	Completed int64
	Failed    int64
}

func (r *HistoryRepository) GetStats() (Stats, error) {
	var stats Stats
	if err := db.DB.Model(&model.History{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}

	if err := db.DB.Model(&model.History{}).
		Where("status = ?", model.JobStatusCompleted).
		Count(&stats.Completed).Error; err != nil {
		return stats, err
	}

	stats.Failed = stats.Total - stats.Completed
	return stats, nil
}
