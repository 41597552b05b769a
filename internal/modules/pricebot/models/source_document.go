package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Document lifecycle statuses. A document is immutable once terminal.
const (
	DocumentStatusPending               = "pending"
	DocumentStatusProcessing            = "processing"
	DocumentStatusProcessed             = "processed"
	DocumentStatusProcessedWithWarnings = "processed_with_warnings"
	DocumentStatusFailed                = "failed"
)

// SourceDocument tracks every ingested artefact, including the synthetic
// documents created for live WhatsApp extraction runs.
type SourceDocument struct {
	ID                uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	VendorID          *uuid.UUID     `gorm:"type:uuid" json:"vendor_id,omitempty"`
	FileName          string         `gorm:"type:varchar(300);not null" json:"file_name"`
	FileType          string         `gorm:"type:varchar(50);not null" json:"file_type"`
	StoragePath       string         `gorm:"type:text;not null" json:"storage_path"`
	Status            string         `gorm:"type:varchar(50);not null;default:'pending'" json:"status"`
	IngestStartedAt   *time.Time     `json:"ingest_started_at,omitempty"`
	IngestCompletedAt *time.Time     `json:"ingest_completed_at,omitempty"`
	Warnings          pq.StringArray `gorm:"type:text[]" json:"warnings,omitempty"`
	Extra             datatypes.JSON `gorm:"type:jsonb" json:"extra,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (SourceDocument) TableName() string {
	return "source_documents"
}

// BeforeCreate sets UUID before creating
func (d *SourceDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// IsTerminal reports whether the document reached a final status.
func (d *SourceDocument) IsTerminal() bool {
	switch d.Status {
	case DocumentStatusProcessed, DocumentStatusProcessedWithWarnings, DocumentStatusFailed:
		return true
	}
	return false
}

// UploadDocumentResponse is returned by the upload endpoint with 202.
type UploadDocumentResponse struct {
	DocumentID uuid.UUID `json:"document_id"`
	JobID      uuid.UUID `json:"job_id"`
	Status     string    `json:"status"`
}

// DocumentSummary is the list representation.
type DocumentSummary struct {
	ID         uuid.UUID  `json:"id"`
	VendorID   *uuid.UUID `json:"vendor_id,omitempty"`
	VendorName string     `json:"vendor_name,omitempty"`
	FileName   string     `json:"file_name"`
	FileType   string     `json:"file_type"`
	Status     string     `json:"status"`
	OfferCount int64      `json:"offer_count"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DocumentDetailResponse carries the document plus its offers and metadata.
type DocumentDetailResponse struct {
	Document SourceDocument `json:"document"`
	Offers   []OfferOut     `json:"offers"`
	Count    int64          `json:"offer_count"`
}

// DocumentFilter represents document listing options
type DocumentFilter struct {
	Status string
	Limit  int
	Offset int
}
