package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job statuses. Failed jobs are not retried automatically; stale running
// jobs are reconciled to failed at startup.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// IngestionJob is the bookkeeping row for one background processing run.
type IngestionJob struct {
	ID               uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	SourceDocumentID uuid.UUID      `gorm:"type:uuid;not null;index" json:"source_document_id"`
	Processor        string         `gorm:"type:varchar(50);not null" json:"processor"`
	Status           string         `gorm:"type:varchar(50);not null;default:'queued'" json:"status"`
	Logs             datatypes.JSON `gorm:"type:jsonb" json:"logs,omitempty"`
	LogLines         pq.StringArray `gorm:"type:text[]" json:"log_lines,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (IngestionJob) TableName() string {
	return "ingestion_jobs"
}

// BeforeCreate sets UUID before creating
func (j *IngestionJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// JobSummary aggregates the run outcome for the status endpoint.
type JobSummary struct {
	Offers   int      `json:"offers"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// JobStatusResponse is returned by GET /documents/jobs/{id}.
type JobStatusResponse struct {
	ID        uuid.UUID  `json:"id"`
	Status    string     `json:"status"`
	Processor string     `json:"processor"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Summary   JobSummary `json:"summary"`
}
