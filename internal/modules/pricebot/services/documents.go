package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/core/ingestion"
	"github.com/itsAR-VR/pricebot/internal/core/jobs"
	"github.com/itsAR-VR/pricebot/internal/core/storage"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/repositories"
	"github.com/itsAR-VR/pricebot/internal/shared/database"
	"github.com/itsAR-VR/pricebot/internal/shared/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TaskTypeDocument is the runner task type for document processing jobs.
const TaskTypeDocument = "document_processing"

// ErrDocumentNotTerminal rejects a reprocess of a document whose current run
// has not finished.
var ErrDocumentNotTerminal = errors.New("document is still being processed")

// TaskQueue is the slice of the job runner the document service needs.
type TaskQueue interface {
	Enqueue(task jobs.Task) error
}

// DocumentConfig tunes background processing.
type DocumentConfig struct {
	Currency   string
	PreferLLM  bool
	DisableLLM bool
	StaleAfter time.Duration
}

// DocumentService owns the upload, processing, and status lifecycle of
// source documents. It is also the jobs.Handler for queued document runs.
type DocumentService struct {
	docs     repositories.DocumentRepo
	jobs     repositories.JobRepo
	vendors  repositories.VendorRepo
	offers   repositories.OfferRepo
	store    *storage.ArtifactStore
	registry *ingestion.Registry
	ingest   *IngestionService
	queue    TaskQueue
	inTx     func(fn func(IngestRepos) error) error
	config   DocumentConfig
}

// NewDocumentService wires the service over one database handle.
func NewDocumentService(db *database.DB, store *storage.ArtifactStore, registry *ingestion.Registry, ingest *IngestionService, queue TaskQueue, config DocumentConfig) *DocumentService {
	g := db.GORM
	if config.StaleAfter <= 0 {
		config.StaleAfter = 30 * time.Minute
	}
	return &DocumentService{
		docs:     repositories.NewDocumentRepo(g),
		jobs:     repositories.NewJobRepo(g),
		vendors:  repositories.NewVendorRepo(g),
		offers:   repositories.NewOfferRepo(g),
		store:    store,
		registry: registry,
		ingest:   ingest,
		queue:    queue,
		config:   config,
		inTx: func(fn func(IngestRepos) error) error {
			return g.Transaction(func(tx *gorm.DB) error {
				return fn(NewIngestRepos(tx))
			})
		},
	}
}

// Upload stores the artefact, creates the document and job rows, and queues
// processing. The response carries both IDs so the caller can poll.
func (s *DocumentService) Upload(fileName, vendorName, processorName string, content io.Reader) (*models.UploadDocumentResponse, error) {
	storagePath, err := s.store.Save(fileName, content)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	var proc ingestion.Processor
	if processorName != "" {
		proc, err = s.registry.Get(processorName)
	} else {
		proc, err = s.registry.Match(storagePath)
	}
	if err != nil {
		if delErr := s.store.Delete(storagePath); delErr != nil {
			utils.LogWarn("Could not remove rejected upload", map[string]interface{}{
				"path":  storagePath,
				"error": delErr.Error(),
			})
		}
		return nil, err
	}

	var vendorID *uuid.UUID
	if name := strings.TrimSpace(vendorName); name != "" {
		vendor, _, err := s.vendors.GetOrCreateByName(name)
		if err != nil {
			return nil, fmt.Errorf("resolve vendor: %w", err)
		}
		vendorID = &vendor.ID
	}

	extra, _ := json.Marshal(map[string]string{"processor": proc.Name()})
	doc := &models.SourceDocument{
		VendorID:    vendorID,
		FileName:    storage.SanitizeFileName(fileName),
		FileType:    fileTypeFor(fileName),
		StoragePath: storagePath,
		Status:      models.DocumentStatusPending,
		Extra:       datatypes.JSON(extra),
	}
	if err := s.docs.Create(doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	job := &models.IngestionJob{
		SourceDocumentID: doc.ID,
		Processor:        proc.Name(),
		Status:           models.JobStatusQueued,
	}
	if err := s.jobs.Create(job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.queue.Enqueue(jobs.Task{ID: job.ID, Type: TaskTypeDocument}); err != nil {
		return nil, s.fail(job, doc, fmt.Errorf("enqueue: %w", err))
	}

	utils.LogInfo("Document queued", map[string]interface{}{
		"document_id": doc.ID.String(),
		"job_id":      job.ID.String(),
		"file_name":   doc.FileName,
		"processor":   proc.Name(),
	})
	return &models.UploadDocumentResponse{
		DocumentID: doc.ID,
		JobID:      job.ID,
		Status:     models.DocumentStatusPending,
	}, nil
}

// Type implements jobs.Handler.
func (s *DocumentService) Type() string { return TaskTypeDocument }

// Handle processes one queued document end to end. All job and document
// status bookkeeping happens here; the runner only logs the outcome.
func (s *DocumentService) Handle(ctx context.Context, taskID uuid.UUID) error {
	job, err := s.jobs.GetByID(taskID.String())
	if err != nil {
		return fmt.Errorf("load job %s: %w", taskID, err)
	}
	if job.Status != models.JobStatusQueued {
		utils.LogWarn("Skipping job outside queued state", map[string]interface{}{
			"job_id": job.ID.String(),
			"status": job.Status,
		})
		return nil
	}
	doc, err := s.docs.GetByID(job.SourceDocumentID.String())
	if err != nil {
		return fmt.Errorf("load document %s: %w", job.SourceDocumentID, err)
	}

	started := time.Now().UTC()
	if err := s.jobs.MarkRunning(job.ID, started); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	if err := s.docs.MarkProcessing(doc.ID, started); err != nil {
		return fmt.Errorf("mark document processing: %w", err)
	}

	declaredVendor := ""
	if doc.VendorID != nil {
		vendor, err := s.vendors.GetByID(doc.VendorID.String())
		if err == nil {
			declaredVendor = vendor.Name
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return s.fail(job, doc, fmt.Errorf("document vendor: %w", err))
		}
	}

	proc, err := s.registry.Get(job.Processor)
	if err != nil {
		return s.fail(job, doc, err)
	}

	result, err := proc.Process(ctx, doc.StoragePath, ingestion.Options{
		VendorName:   declaredVendor,
		Currency:     s.config.Currency,
		DocumentName: doc.FileName,
		PreferLLM:    s.config.PreferLLM,
		DisableLLM:   s.config.DisableLLM,
	})
	if err != nil {
		return s.fail(job, doc, fmt.Errorf("processor %s: %w", proc.Name(), err))
	}

	var stats *IngestStats
	err = s.inTx(func(repos IngestRepos) error {
		var txErr error
		stats, txErr = s.ingest.IngestRows(ctx, repos, result.Offers, doc, declaredVendor, started)
		return txErr
	})
	if err != nil {
		return s.fail(job, doc, fmt.Errorf("persist offers: %w", err))
	}

	warnings := append(append([]string{}, result.Warnings...), stats.Warnings...)
	status := models.DocumentStatusProcessed
	if len(warnings) > 0 {
		status = models.DocumentStatusProcessedWithWarnings
	}

	finished := time.Now().UTC()
	doc.Warnings = warnings
	doc.Extra = mergeExtra(doc.Extra, map[string]interface{}{
		"processor":        proc.Name(),
		"rows_extracted":   len(result.Offers),
		"offers_created":   stats.Offers,
		"offers_deduped":   stats.Deduped,
		"products_created": stats.ProductsCreated,
	})
	if err := s.docs.MarkFinished(doc, status, finished); err != nil {
		return fmt.Errorf("mark document finished: %w", err)
	}

	summary := models.JobSummary{Offers: stats.Offers, Warnings: warnings}
	lines := []string{
		fmt.Sprintf("processor %s extracted %d rows", proc.Name(), len(result.Offers)),
		fmt.Sprintf("persisted %d offers (%d deduped, %d new products, %d new vendors)",
			stats.Offers, stats.Deduped, stats.ProductsCreated, stats.VendorsCreated),
	}
	if err := s.jobs.MarkFinished(job.ID, models.JobStatusSucceeded, finished, summary, lines); err != nil {
		return fmt.Errorf("mark job finished: %w", err)
	}

	utils.LogInfo("Document processed", map[string]interface{}{
		"document_id": doc.ID.String(),
		"job_id":      job.ID.String(),
		"status":      status,
		"offers":      stats.Offers,
		"warnings":    len(warnings),
	})
	return nil
}

// JobStatus returns the job row with its parsed run summary.
func (s *DocumentService) JobStatus(id string) (*models.JobStatusResponse, error) {
	job, err := s.jobs.GetByID(id)
	if err != nil {
		return nil, err
	}

	var summary models.JobSummary
	if len(job.Logs) > 0 {
		_ = json.Unmarshal(job.Logs, &summary)
	}
	return &models.JobStatusResponse{
		ID:        job.ID,
		Status:    job.Status,
		Processor: job.Processor,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Summary:   summary,
	}, nil
}

// ListDocuments returns document summaries, newest first.
func (s *DocumentService) ListDocuments(filter models.DocumentFilter) ([]models.DocumentSummary, error) {
	return s.docs.ListSummaries(filter)
}

// DocumentDetail returns one document with its extracted offers.
func (s *DocumentService) DocumentDetail(id string) (*models.DocumentDetailResponse, error) {
	doc, err := s.docs.GetByID(id)
	if err != nil {
		return nil, err
	}
	count, err := s.offers.CountByDocument(doc.ID)
	if err != nil {
		return nil, err
	}
	out, err := s.offers.ListOut(models.OfferFilter{SourceDocumentID: &doc.ID, Limit: 200})
	if err != nil {
		return nil, err
	}
	return &models.DocumentDetailResponse{Document: *doc, Offers: out, Count: count}, nil
}

// Reprocess queues a fresh run for a terminal document. With clearExisting
// the document's offers are removed first and the touched price series are
// rebuilt from the offers that remain.
func (s *DocumentService) Reprocess(id string, clearExisting bool) (*models.UploadDocumentResponse, error) {
	doc, err := s.docs.GetByID(id)
	if err != nil {
		return nil, err
	}
	if !doc.IsTerminal() {
		return nil, ErrDocumentNotTerminal
	}

	if clearExisting {
		if err := s.clearDocumentOffers(doc.ID); err != nil {
			return nil, err
		}
	}

	processor := processorFromExtra(doc.Extra)
	if processor == "" {
		if latest, err := s.jobs.LatestForDocument(doc.ID); err == nil {
			processor = latest.Processor
		}
	}
	if processor == "" {
		proc, err := s.registry.Match(doc.StoragePath)
		if err != nil {
			return nil, err
		}
		processor = proc.Name()
	}

	doc.Status = models.DocumentStatusPending
	doc.IngestCompletedAt = nil
	doc.Warnings = nil
	if err := s.docs.Update(doc); err != nil {
		return nil, fmt.Errorf("reset document: %w", err)
	}

	job := &models.IngestionJob{
		SourceDocumentID: doc.ID,
		Processor:        processor,
		Status:           models.JobStatusQueued,
	}
	if err := s.jobs.Create(job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Enqueue(jobs.Task{ID: job.ID, Type: TaskTypeDocument}); err != nil {
		return nil, s.fail(job, doc, fmt.Errorf("enqueue: %w", err))
	}

	utils.LogInfo("Document requeued", map[string]interface{}{
		"document_id":    doc.ID.String(),
		"job_id":         job.ID.String(),
		"clear_existing": clearExisting,
	})
	return &models.UploadDocumentResponse{
		DocumentID: doc.ID,
		JobID:      job.ID,
		Status:     models.DocumentStatusPending,
	}, nil
}

// ReconcileStaleJobs fails running jobs whose start is older than the stale
// cutoff, e.g. runs lost to a crash, and their documents with them.
func (s *DocumentService) ReconcileStaleJobs() (int, error) {
	cutoff := time.Now().UTC().Add(-s.config.StaleAfter)
	stale, err := s.jobs.StaleRunning(cutoff)
	if err != nil {
		return 0, err
	}

	for i := range stale {
		job := &stale[i]
		cause := fmt.Sprintf("job stalled: still running after %s", s.config.StaleAfter)
		now := time.Now().UTC()

		summary := models.JobSummary{Errors: []string{cause}}
		if err := s.jobs.MarkFinished(job.ID, models.JobStatusFailed, now, summary, []string{cause}); err != nil {
			utils.LogError("Could not fail stale job", err, map[string]interface{}{"job_id": job.ID.String()})
			continue
		}

		doc, err := s.docs.GetByID(job.SourceDocumentID.String())
		if err != nil {
			utils.LogError("Could not load document of stale job", err, map[string]interface{}{"job_id": job.ID.String()})
			continue
		}
		if !doc.IsTerminal() {
			doc.Extra = mergeExtra(doc.Extra, map[string]interface{}{"error": cause})
			if err := s.docs.MarkFinished(doc, models.DocumentStatusFailed, now); err != nil {
				utils.LogError("Could not fail document of stale job", err, map[string]interface{}{"document_id": doc.ID.String()})
			}
		}
	}

	if len(stale) > 0 {
		utils.LogWarn("Reconciled stale jobs", map[string]interface{}{"count": len(stale)})
	}
	return len(stale), nil
}

// fail records the terminal failure on both rows and hands the cause back to
// the runner.
func (s *DocumentService) fail(job *models.IngestionJob, doc *models.SourceDocument, cause error) error {
	now := time.Now().UTC()

	doc.Extra = mergeExtra(doc.Extra, map[string]interface{}{"error": cause.Error()})
	if err := s.docs.MarkFinished(doc, models.DocumentStatusFailed, now); err != nil {
		utils.LogError("Could not mark document failed", err, map[string]interface{}{"document_id": doc.ID.String()})
	}

	summary := models.JobSummary{Errors: []string{cause.Error()}}
	if err := s.jobs.MarkFinished(job.ID, models.JobStatusFailed, now, summary, []string{cause.Error()}); err != nil {
		utils.LogError("Could not mark job failed", err, map[string]interface{}{"job_id": job.ID.String()})
	}
	return cause
}

// clearDocumentOffers deletes the document's offers and replays the price
// history of every touched (product, vendor) series inside one transaction.
func (s *DocumentService) clearDocumentOffers(docID uuid.UUID) error {
	return s.inTx(func(repos IngestRepos) error {
		pairs, err := repos.Offers.PairsForDocument(docID)
		if err != nil {
			return fmt.Errorf("list pairs: %w", err)
		}
		if _, err := repos.Offers.DeleteByDocument(docID); err != nil {
			return fmt.Errorf("delete offers: %w", err)
		}
		for _, pair := range pairs {
			if err := repos.History.DeleteForPair(pair.ProductID, pair.VendorID); err != nil {
				return fmt.Errorf("clear history: %w", err)
			}
			remaining, err := repos.Offers.ListByPair(pair.ProductID, pair.VendorID)
			if err != nil {
				return fmt.Errorf("list remaining offers: %w", err)
			}
			for i := range remaining {
				if err := RecordOffer(repos.History, &remaining[i]); err != nil {
					return fmt.Errorf("rebuild history: %w", err)
				}
			}
		}
		return nil
	})
}

// mergeExtra overlays fields onto the document's metadata blob.
func mergeExtra(extra datatypes.JSON, fields map[string]interface{}) datatypes.JSON {
	merged := map[string]interface{}{}
	if len(extra) > 0 {
		_ = json.Unmarshal(extra, &merged)
	}
	for k, v := range fields {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return extra
	}
	return datatypes.JSON(out)
}

func processorFromExtra(extra datatypes.JSON) string {
	if len(extra) == 0 {
		return ""
	}
	var meta struct {
		Processor string `json:"processor"`
	}
	if err := json.Unmarshal(extra, &meta); err != nil {
		return ""
	}
	return meta.Processor
}

// fileTypeFor derives the declared file type from the upload's extension.
func fileTypeFor(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return "unknown"
	}
	return ext
}
