package repositories

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"gorm.io/gorm"
)

type DocumentRepo interface {
	Create(doc *models.SourceDocument) error
	GetByID(id string) (*models.SourceDocument, error)
	GetByStoragePath(path string) (*models.SourceDocument, error)
	Update(doc *models.SourceDocument) error
	ListSummaries(filter models.DocumentFilter) ([]models.DocumentSummary, error)
	RecentWithOfferCounts(limit int) ([]models.DiagnosticsDocument, error)
	Count() (int64, error)
	MarkProcessing(id uuid.UUID, startedAt time.Time) error
	MarkFinished(doc *models.SourceDocument, status string, finishedAt time.Time) error
}

type documentRepo struct {
	db *gorm.DB
}

func NewDocumentRepo(db *gorm.DB) DocumentRepo {
	return &documentRepo{db: db}
}

func (r *documentRepo) Create(doc *models.SourceDocument) error {
	return r.db.Create(doc).Error
}

func (r *documentRepo) GetByID(id string) (*models.SourceDocument, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid document ID: %w", err)
	}

	var doc models.SourceDocument
	err = r.db.First(&doc, "id = ?", uid).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetByStoragePath finds the document registered for a stored artefact.
// Content-addressed media reuses the row when the same blob arrives again.
func (r *documentRepo) GetByStoragePath(path string) (*models.SourceDocument, error) {
	var doc models.SourceDocument
	err := r.db.Where("storage_path = ?", path).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) Update(doc *models.SourceDocument) error {
	return r.db.Save(doc).Error
}

func (r *documentRepo) ListSummaries(filter models.DocumentFilter) ([]models.DocumentSummary, error) {
	var summaries []models.DocumentSummary

	if filter.Limit < 1 {
		filter.Limit = 50
	}

	query := r.db.Model(&models.SourceDocument{}).
		Select("source_documents.id, source_documents.vendor_id, COALESCE(vendors.name, '') AS vendor_name, source_documents.file_name, source_documents.file_type, source_documents.status, COUNT(offers.id) AS offer_count, source_documents.created_at").
		Joins("LEFT JOIN vendors ON vendors.id = source_documents.vendor_id").
		Joins("LEFT JOIN offers ON offers.source_document_id = source_documents.id").
		Group("source_documents.id, vendors.name")

	if filter.Status != "" {
		query = query.Where("source_documents.status = ?", filter.Status)
	}

	err := query.Order("source_documents.created_at DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Scan(&summaries).Error
	return summaries, err
}

// RecentWithOfferCounts returns the latest-finished documents with their
// offer yields, the diagnostics page of recent ingestion activity.
func (r *documentRepo) RecentWithOfferCounts(limit int) ([]models.DiagnosticsDocument, error) {
	if limit < 1 {
		limit = 10
	}

	var out []models.DiagnosticsDocument
	err := r.db.Model(&models.SourceDocument{}).
		Select("source_documents.id, source_documents.file_name, source_documents.status, COUNT(offers.id) AS offers_count, source_documents.ingest_started_at, source_documents.ingest_completed_at, source_documents.warnings").
		Joins("LEFT JOIN offers ON offers.source_document_id = source_documents.id").
		Group("source_documents.id").
		Order("COALESCE(source_documents.ingest_completed_at, source_documents.ingest_started_at) DESC NULLS LAST, source_documents.file_name").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

func (r *documentRepo) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.SourceDocument{}).Count(&count).Error
	return count, err
}

func (r *documentRepo) MarkProcessing(id uuid.UUID, startedAt time.Time) error {
	return r.db.Model(&models.SourceDocument{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            models.DocumentStatusProcessing,
			"ingest_started_at": startedAt,
		}).Error
}

// MarkFinished records the terminal status along with the warnings collected
// during processing.
func (r *documentRepo) MarkFinished(doc *models.SourceDocument, status string, finishedAt time.Time) error {
	doc.Status = status
	doc.IngestCompletedAt = &finishedAt
	return r.db.Model(&models.SourceDocument{}).
		Where("id = ?", doc.ID).
		Updates(map[string]interface{}{
			"status":              status,
			"ingest_completed_at": finishedAt,
			"warnings":            doc.Warnings,
			"extra":               doc.Extra,
		}).Error
}
