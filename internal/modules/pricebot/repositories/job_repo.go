package repositories

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

type JobRepo interface {
	Create(job *models.IngestionJob) error
	GetByID(id string) (*models.IngestionJob, error)
	LatestForDocument(documentID uuid.UUID) (*models.IngestionJob, error)
	MarkRunning(id uuid.UUID, startedAt time.Time) error
	MarkFinished(id uuid.UUID, status string, finishedAt time.Time, summary models.JobSummary, logLines []string) error
	StaleRunning(olderThan time.Time) ([]models.IngestionJob, error)
	ListByStatus(status string, limit int) ([]models.IngestionJob, error)
}

type jobRepo struct {
	db *gorm.DB
}

func NewJobRepo(db *gorm.DB) JobRepo {
	return &jobRepo{db: db}
}

func (r *jobRepo) Create(job *models.IngestionJob) error {
	return r.db.Create(job).Error
}

func (r *jobRepo) GetByID(id string) (*models.IngestionJob, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid job ID: %w", err)
	}

	var job models.IngestionJob
	err = r.db.First(&job, "id = ?", uid).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) LatestForDocument(documentID uuid.UUID) (*models.IngestionJob, error) {
	var job models.IngestionJob
	err := r.db.
		Where("source_document_id = ?", documentID).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) MarkRunning(id uuid.UUID, startedAt time.Time) error {
	return r.db.Model(&models.IngestionJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"started_at": startedAt,
		}).Error
}

// MarkFinished stores the terminal status together with the run summary and
// the accumulated log lines.
func (r *jobRepo) MarkFinished(id uuid.UUID, status string, finishedAt time.Time, summary models.JobSummary, logLines []string) error {
	logs, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal job summary: %w", err)
	}

	return r.db.Model(&models.IngestionJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": finishedAt,
			"logs":        logs,
			"log_lines":   pq.StringArray(logLines),
		}).Error
}

// StaleRunning lists jobs stuck in running since before olderThan, e.g. after
// a crash mid-run.
func (r *jobRepo) StaleRunning(olderThan time.Time) ([]models.IngestionJob, error) {
	var jobs []models.IngestionJob
	err := r.db.
		Where("status = ? AND started_at < ?", models.JobStatusRunning, olderThan).
		Find(&jobs).Error
	return jobs, err
}

func (r *jobRepo) ListByStatus(status string, limit int) ([]models.IngestionJob, error) {
	if limit < 1 {
		limit = 100
	}

	var jobs []models.IngestionJob
	err := r.db.
		Where("status = ?", status).
		Order("created_at").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}
