package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/core/ingestion"
	"github.com/itsAR-VR/pricebot/internal/core/jobs"
	"github.com/itsAR-VR/pricebot/internal/core/storage"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// fakeDocumentRepo mimics the documents table with copy-on-read semantics.
type fakeDocumentRepo struct {
	docs map[uuid.UUID]*models.SourceDocument
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{docs: make(map[uuid.UUID]*models.SourceDocument)}
}

func (f *fakeDocumentRepo) Create(doc *models.SourceDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.CreatedAt = time.Now().UTC()
	stored := *doc
	f.docs[doc.ID] = &stored
	return nil
}

func (f *fakeDocumentRepo) GetByID(id string) (*models.SourceDocument, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	doc, ok := f.docs[uid]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *doc
	return &clone, nil
}

func (f *fakeDocumentRepo) GetByStoragePath(path string) (*models.SourceDocument, error) {
	for _, d := range f.docs {
		if d.StoragePath == path {
			clone := *d
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeDocumentRepo) Update(doc *models.SourceDocument) error {
	stored := *doc
	f.docs[doc.ID] = &stored
	return nil
}

func (f *fakeDocumentRepo) ListSummaries(filter models.DocumentFilter) ([]models.DocumentSummary, error) {
	var out []models.DocumentSummary
	for _, d := range f.docs {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, models.DocumentSummary{ID: d.ID, FileName: d.FileName, Status: d.Status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (f *fakeDocumentRepo) RecentWithOfferCounts(limit int) ([]models.DiagnosticsDocument, error) {
	var out []models.DiagnosticsDocument
	for _, d := range f.docs {
		out = append(out, models.DiagnosticsDocument{
			ID:                d.ID,
			FileName:          d.FileName,
			Status:            d.Status,
			IngestStartedAt:   d.IngestStartedAt,
			IngestCompletedAt: d.IngestCompletedAt,
			Warnings:          append(pq.StringArray{}, d.Warnings...),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return docRecency(out[i]).After(docRecency(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func docRecency(doc models.DiagnosticsDocument) time.Time {
	if doc.IngestCompletedAt != nil {
		return *doc.IngestCompletedAt
	}
	if doc.IngestStartedAt != nil {
		return *doc.IngestStartedAt
	}
	return time.Time{}
}

func (f *fakeDocumentRepo) Count() (int64, error) { return int64(len(f.docs)), nil }

func (f *fakeDocumentRepo) MarkProcessing(id uuid.UUID, startedAt time.Time) error {
	doc := f.docs[id]
	doc.Status = models.DocumentStatusProcessing
	doc.IngestStartedAt = &startedAt
	return nil
}

func (f *fakeDocumentRepo) MarkFinished(doc *models.SourceDocument, status string, finishedAt time.Time) error {
	doc.Status = status
	doc.IngestCompletedAt = &finishedAt
	stored := f.docs[doc.ID]
	stored.Status = status
	stored.IngestCompletedAt = &finishedAt
	stored.Warnings = append(pq.StringArray{}, doc.Warnings...)
	stored.Extra = doc.Extra
	return nil
}

// fakeJobRepo mimics the ingestion_jobs table.
type fakeJobRepo struct {
	jobs map[uuid.UUID]*models.IngestionJob
	seq  int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*models.IngestionJob)}
}

func (f *fakeJobRepo) Create(job *models.IngestionJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	f.seq++
	job.CreatedAt = time.Now().UTC().Add(time.Duration(f.seq) * time.Millisecond)
	stored := *job
	f.jobs[job.ID] = &stored
	return nil
}

func (f *fakeJobRepo) GetByID(id string) (*models.IngestionJob, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	job, ok := f.jobs[uid]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *job
	return &clone, nil
}

func (f *fakeJobRepo) LatestForDocument(documentID uuid.UUID) (*models.IngestionJob, error) {
	var latest *models.IngestionJob
	for _, j := range f.jobs {
		if j.SourceDocumentID != documentID {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *latest
	return &clone, nil
}

func (f *fakeJobRepo) MarkRunning(id uuid.UUID, startedAt time.Time) error {
	job := f.jobs[id]
	job.Status = models.JobStatusRunning
	job.StartedAt = &startedAt
	return nil
}

func (f *fakeJobRepo) MarkFinished(id uuid.UUID, status string, finishedAt time.Time, summary models.JobSummary, logLines []string) error {
	job := f.jobs[id]
	job.Status = status
	job.FinishedAt = &finishedAt
	logs, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	job.Logs = logs
	job.LogLines = pq.StringArray(logLines)
	return nil
}

func (f *fakeJobRepo) StaleRunning(olderThan time.Time) ([]models.IngestionJob, error) {
	var out []models.IngestionJob
	for _, j := range f.jobs {
		if j.Status == models.JobStatusRunning && j.StartedAt != nil && j.StartedAt.Before(olderThan) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) ListByStatus(status string, limit int) ([]models.IngestionJob, error) {
	var out []models.IngestionJob
	for _, j := range f.jobs {
		if j.Status == status {
			out = append(out, *j)
		}
	}
	return out, nil
}

// fakeQueue records enqueued tasks.
type fakeQueue struct {
	tasks []jobs.Task
	err   error
}

func (q *fakeQueue) Enqueue(task jobs.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

// fakeProcessor returns a scripted extraction result for files matching ext.
type fakeProcessor struct {
	name     string
	ext      string
	result   *ingestion.Result
	err      error
	calls    int
	lastOpts ingestion.Options
}

func (p *fakeProcessor) Name() string { return p.name }

func (p *fakeProcessor) Accepts(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), p.ext)
}

func (p *fakeProcessor) Process(ctx context.Context, path string, opts ingestion.Options) (*ingestion.Result, error) {
	p.calls++
	p.lastOpts = opts
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

type documentFixture struct {
	*ingestFixture
	docs  *fakeDocumentRepo
	jobs  *fakeJobRepo
	queue *fakeQueue
	svc   *DocumentService
}

func newDocumentFixture(t *testing.T, procs ...ingestion.Processor) *documentFixture {
	t.Helper()

	store, err := storage.NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}
	registry := ingestion.NewRegistry()
	for _, p := range procs {
		registry.Register(p)
	}

	base := newIngestFixture()
	fx := &documentFixture{
		ingestFixture: base,
		docs:          newFakeDocumentRepo(),
		jobs:          newFakeJobRepo(),
		queue:         &fakeQueue{},
	}
	fx.svc = &DocumentService{
		docs:     fx.docs,
		jobs:     fx.jobs,
		vendors:  base.vendors,
		offers:   base.offers,
		store:    store,
		registry: registry,
		ingest:   base.service,
		queue:    fx.queue,
		config:   DocumentConfig{StaleAfter: 30 * time.Minute},
		inTx: func(fn func(IngestRepos) error) error {
			return fn(base.repos())
		},
	}
	return fx
}

func csvProcessor(rows []ingestion.RawOffer, warnings ...string) *fakeProcessor {
	return &fakeProcessor{
		name:   "spreadsheet",
		ext:    ".csv",
		result: &ingestion.Result{Offers: rows, Warnings: warnings},
	}
}

// TestUploadQueuesDocument checks the 202 flow: artefact stored, rows
// created, and exactly one task queued.
func TestUploadQueuesDocument(t *testing.T) {
	proc := csvProcessor(nil)
	fx := newDocumentFixture(t, proc)

	resp, err := fx.svc.Upload("Acme Price List.csv", "Acme", "", strings.NewReader("MODEL,PRICE\nA1,485\n"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if resp.Status != models.DocumentStatusPending {
		t.Fatalf("expected pending, got %q", resp.Status)
	}

	doc, err := fx.docs.GetByID(resp.DocumentID.String())
	if err != nil {
		t.Fatalf("document not stored: %v", err)
	}
	if doc.FileType != "csv" || doc.VendorID == nil {
		t.Fatalf("expected csv document with vendor, got %+v", doc)
	}
	if vendor, _ := fx.vendors.GetByNameCI("Acme"); vendor == nil || *doc.VendorID != vendor.ID {
		t.Fatalf("expected upload to create the declared vendor")
	}

	job, err := fx.jobs.GetByID(resp.JobID.String())
	if err != nil {
		t.Fatalf("job not stored: %v", err)
	}
	if job.Status != models.JobStatusQueued || job.Processor != "spreadsheet" {
		t.Fatalf("expected queued spreadsheet job, got %+v", job)
	}

	if len(fx.queue.tasks) != 1 || fx.queue.tasks[0].ID != job.ID || fx.queue.tasks[0].Type != TaskTypeDocument {
		t.Fatalf("expected one queued task for the job, got %+v", fx.queue.tasks)
	}
}

// TestUploadRejectsUnsupportedType verifies no rows are left behind when no
// processor accepts the file.
func TestUploadRejectsUnsupportedType(t *testing.T) {
	fx := newDocumentFixture(t, csvProcessor(nil))

	_, err := fx.svc.Upload("malware.exe", "", "", strings.NewReader("MZ"))
	if !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported file type error, got %v", err)
	}
	if len(fx.docs.docs) != 0 || len(fx.jobs.jobs) != 0 || len(fx.queue.tasks) != 0 {
		t.Fatalf("expected nothing persisted on rejection")
	}
}

// TestUploadFailsRowsWhenQueueFull marks both rows failed when the runner
// has no room.
func TestUploadFailsRowsWhenQueueFull(t *testing.T) {
	fx := newDocumentFixture(t, csvProcessor(nil))
	fx.queue.err = jobs.ErrQueueFull

	resp, err := fx.svc.Upload("list.csv", "Acme", "", strings.NewReader("A1,485\n"))
	if err == nil {
		t.Fatalf("expected an error, got %+v", resp)
	}
	for _, job := range fx.jobs.jobs {
		if job.Status != models.JobStatusFailed {
			t.Fatalf("expected job failed, got %q", job.Status)
		}
	}
	for _, doc := range fx.docs.docs {
		if doc.Status != models.DocumentStatusFailed {
			t.Fatalf("expected document failed, got %q", doc.Status)
		}
	}
}

// TestHandleProcessesDocument runs the full pipeline: processor, persist,
// terminal statuses, and the job summary.
func TestHandleProcessesDocument(t *testing.T) {
	proc := csvProcessor([]ingestion.RawOffer{
		{ProductName: "iPhone 11 64GB Black", Price: 485},
		{ProductName: "iPhone 12 128GB", Price: 600},
	})
	fx := newDocumentFixture(t, proc)

	resp, err := fx.svc.Upload("acme.csv", "Acme", "", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := fx.svc.Handle(context.Background(), resp.JobID); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if proc.calls != 1 || proc.lastOpts.VendorName != "Acme" {
		t.Fatalf("expected one processor call with the declared vendor, got %d calls, opts %+v", proc.calls, proc.lastOpts)
	}

	doc, _ := fx.docs.GetByID(resp.DocumentID.String())
	if doc.Status != models.DocumentStatusProcessed {
		t.Fatalf("expected processed, got %q", doc.Status)
	}
	if doc.IngestCompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}

	status, err := fx.svc.JobStatus(resp.JobID.String())
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if status.Status != models.JobStatusSucceeded || status.Summary.Offers != 2 {
		t.Fatalf("expected succeeded with 2 offers, got %+v", status)
	}

	if len(fx.offers.offers) != 2 {
		t.Fatalf("expected 2 persisted offers, got %d", len(fx.offers.offers))
	}
	for _, o := range fx.offers.offers {
		if o.SourceDocumentID == nil || *o.SourceDocumentID != resp.DocumentID {
			t.Fatalf("expected offers linked to the document")
		}
	}
}

// TestHandleMergesWarnings combines processor warnings with row-skip
// warnings and flips the terminal status.
func TestHandleMergesWarnings(t *testing.T) {
	proc := csvProcessor([]ingestion.RawOffer{
		{ProductName: "iPhone 11", Price: 485},
		{ProductName: "iPhone 12", Price: 0},
	}, "row 7 skipped: no price token")
	fx := newDocumentFixture(t, proc)

	resp, err := fx.svc.Upload("acme.csv", "Acme", "", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := fx.svc.Handle(context.Background(), resp.JobID); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	doc, _ := fx.docs.GetByID(resp.DocumentID.String())
	if doc.Status != models.DocumentStatusProcessedWithWarnings {
		t.Fatalf("expected processed_with_warnings, got %q", doc.Status)
	}
	if len(doc.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", doc.Warnings)
	}
	if doc.Warnings[0] != "row 7 skipped: no price token" || doc.Warnings[1] != "row 2 skipped: invalid_price" {
		t.Fatalf("unexpected warnings: %v", doc.Warnings)
	}
}

// TestHandleFailsOnProcessorError marks both rows failed and surfaces the
// cause.
func TestHandleFailsOnProcessorError(t *testing.T) {
	proc := csvProcessor(nil)
	proc.err = context.DeadlineExceeded
	fx := newDocumentFixture(t, proc)

	resp, err := fx.svc.Upload("acme.csv", "Acme", "", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := fx.svc.Handle(context.Background(), resp.JobID); err == nil {
		t.Fatalf("expected Handle to return the cause")
	}

	doc, _ := fx.docs.GetByID(resp.DocumentID.String())
	if doc.Status != models.DocumentStatusFailed {
		t.Fatalf("expected failed document, got %q", doc.Status)
	}
	status, _ := fx.svc.JobStatus(resp.JobID.String())
	if status.Status != models.JobStatusFailed || len(status.Summary.Errors) == 0 {
		t.Fatalf("expected failed job with errors, got %+v", status)
	}
}

// TestHandleSkipsFinishedJob is the replay guard for tasks delivered after a
// reconcile already settled the job.
func TestHandleSkipsFinishedJob(t *testing.T) {
	proc := csvProcessor(nil)
	fx := newDocumentFixture(t, proc)

	resp, err := fx.svc.Upload("acme.csv", "Acme", "", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := fx.jobs.MarkFinished(resp.JobID, models.JobStatusFailed, time.Now(), models.JobSummary{}, nil); err != nil {
		t.Fatalf("MarkFinished: %v", err)
	}

	if err := fx.svc.Handle(context.Background(), resp.JobID); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if proc.calls != 0 {
		t.Fatalf("expected the processor to stay untouched")
	}
}

// TestReprocessClearsOffersAndRebuildsHistory deletes the document's offers,
// replays the touched series, and queues a new run.
func TestReprocessClearsOffersAndRebuildsHistory(t *testing.T) {
	proc := csvProcessor([]ingestion.RawOffer{
		{ProductName: "iPhone 11", Price: 485, CapturedAt: ts(day(10))},
	})
	fx := newDocumentFixture(t, proc)

	resp, err := fx.svc.Upload("acme.csv", "Acme", "", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := fx.svc.Handle(context.Background(), resp.JobID); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	// A second observation from another source keeps the series alive after
	// the document's offers are cleared.
	docOffer := fx.offers.offers[0]
	other := &models.Offer{
		ProductID:  docOffer.ProductID,
		VendorID:   docOffer.VendorID,
		CapturedAt: day(20),
		Price:      520,
		Currency:   "USD",
	}
	if err := fx.offers.Create(other); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := RecordOffer(fx.history, other); err != nil {
		t.Fatalf("RecordOffer: %v", err)
	}

	again, err := fx.svc.Reprocess(resp.DocumentID.String(), true)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if again.JobID == resp.JobID {
		t.Fatalf("expected a fresh job row")
	}

	if n, _ := fx.offers.CountByDocument(resp.DocumentID); n != 0 {
		t.Fatalf("expected document offers cleared, got %d", n)
	}
	spans, _ := fx.history.SpansForPairLocked(docOffer.ProductID, docOffer.VendorID)
	if len(spans) != 1 || !spans[0].ValidFrom.Equal(day(20)) || spans[0].Price != 520 {
		t.Fatalf("expected history rebuilt from the surviving offer, got %+v", spans)
	}

	doc, _ := fx.docs.GetByID(resp.DocumentID.String())
	if doc.Status != models.DocumentStatusPending {
		t.Fatalf("expected pending after requeue, got %q", doc.Status)
	}
	if len(fx.queue.tasks) != 2 {
		t.Fatalf("expected a second queued task, got %d", len(fx.queue.tasks))
	}
}

// TestReprocessRejectsActiveDocument refuses to requeue mid-run.
func TestReprocessRejectsActiveDocument(t *testing.T) {
	fx := newDocumentFixture(t, csvProcessor(nil))

	resp, err := fx.svc.Upload("acme.csv", "Acme", "", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := fx.svc.Reprocess(resp.DocumentID.String(), false); err != ErrDocumentNotTerminal {
		t.Fatalf("expected ErrDocumentNotTerminal, got %v", err)
	}
}

// TestReconcileStaleJobs fails long-running jobs and their documents but
// leaves fresh runs alone.
func TestReconcileStaleJobs(t *testing.T) {
	fx := newDocumentFixture(t, csvProcessor(nil))

	stale, err := fx.svc.Upload("old.csv", "Acme", "", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	fresh, err := fx.svc.Upload("new.csv", "Acme", "", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	old := time.Now().UTC().Add(-2 * time.Hour)
	if err := fx.jobs.MarkRunning(stale.JobID, old); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := fx.jobs.MarkRunning(fresh.JobID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	n, err := fx.svc.ReconcileStaleJobs()
	if err != nil {
		t.Fatalf("ReconcileStaleJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reconciled job, got %d", n)
	}

	staleJob, _ := fx.jobs.GetByID(stale.JobID.String())
	if staleJob.Status != models.JobStatusFailed {
		t.Fatalf("expected stale job failed, got %q", staleJob.Status)
	}
	staleDoc, _ := fx.docs.GetByID(stale.DocumentID.String())
	if staleDoc.Status != models.DocumentStatusFailed {
		t.Fatalf("expected stale document failed, got %q", staleDoc.Status)
	}
	freshJob, _ := fx.jobs.GetByID(fresh.JobID.String())
	if freshJob.Status != models.JobStatusRunning {
		t.Fatalf("expected fresh job untouched, got %q", freshJob.Status)
	}
}
