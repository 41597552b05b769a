package services

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/core/ingestion"
	"github.com/itsAR-VR/pricebot/internal/core/jobs"
	"github.com/itsAR-VR/pricebot/internal/core/metrics"
	"github.com/itsAR-VR/pricebot/internal/core/storage"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/repositories"
	"github.com/itsAR-VR/pricebot/internal/shared/database"
	"github.com/itsAR-VR/pricebot/internal/shared/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// defaultDedupeWindow bounds content-hash dedupe for messages that arrive
// without a platform message id.
const defaultDedupeWindow = 24 * time.Hour

// filteredEvents are WhatsApp system lines that no human typed. Matched
// against the whole trimmed message, case-insensitively.
var filteredEvents = map[string]bool{
	"<media omitted>":          true,
	"image omitted":            true,
	"video omitted":            true,
	"audio omitted":            true,
	"sticker omitted":          true,
	"gif omitted":              true,
	"document omitted":         true,
	"contact card omitted":     true,
	"this message was deleted": true,
	"you deleted this message": true,
	"missed voice call":        true,
	"missed video call":        true,
}

// The encryption notice varies by locale and client version, so only its
// stem is matched.
const encryptionNoticePrefix = "messages and calls are end-to-end encrypted"

// WhatsAppRepos bundles the repositories one ingest batch works through,
// bound to the batch transaction.
type WhatsAppRepos struct {
	Chats     repositories.WhatsAppRepo
	Documents repositories.DocumentRepo
	Jobs      repositories.JobRepo
}

// NewWhatsAppRepos binds the batch repositories to tx.
func NewWhatsAppRepos(tx *gorm.DB) WhatsAppRepos {
	return WhatsAppRepos{
		Chats:     repositories.NewWhatsAppRepo(tx),
		Documents: repositories.NewDocumentRepo(tx),
		Jobs:      repositories.NewJobRepo(tx),
	}
}

// WhatsAppIngestConfig tunes batch intake.
type WhatsAppIngestConfig struct {
	DedupeWindow time.Duration
}

// WhatsAppIngestService persists raw WhatsApp traffic for later extraction.
// One batch runs in one transaction; the chat row lock serializes concurrent
// batches touching the same chat.
type WhatsAppIngestService struct {
	docs     repositories.DocumentRepo
	jobs     repositories.JobRepo
	media    *storage.MediaStore
	registry *ingestion.Registry
	queue    TaskQueue
	metrics  *metrics.Registry
	inTx     func(fn func(WhatsAppRepos) error) error
	schedule func(chatID uuid.UUID)
	window   time.Duration
	now      func() time.Time
}

// NewWhatsAppIngestService wires the service over one database handle.
// scheduleExtract, when non-nil, is called after commit for every chat that
// gained inbound messages, normally the extraction debouncer's trigger.
func NewWhatsAppIngestService(db *database.DB, media *storage.MediaStore, registry *ingestion.Registry, queue TaskQueue, reg *metrics.Registry, scheduleExtract func(chatID uuid.UUID), config WhatsAppIngestConfig) *WhatsAppIngestService {
	g := db.GORM
	if config.DedupeWindow <= 0 {
		config.DedupeWindow = defaultDedupeWindow
	}
	return &WhatsAppIngestService{
		docs:     repositories.NewDocumentRepo(g),
		jobs:     repositories.NewJobRepo(g),
		media:    media,
		registry: registry,
		queue:    queue,
		metrics:  reg,
		schedule: scheduleExtract,
		window:   config.DedupeWindow,
		now:      func() time.Time { return time.Now().UTC() },
		inTx: func(fn func(WhatsAppRepos) error) error {
			return g.Transaction(func(tx *gorm.DB) error {
				return fn(NewWhatsAppRepos(tx))
			})
		},
	}
}

// mediaOutcome is one per-attachment metrics event, recorded after commit.
type mediaOutcome struct {
	chatID    string
	chatTitle string
	status    string
	reason    string
}

// mediaJob pairs a queued task with its document for failure bookkeeping.
type mediaJob struct {
	task  jobs.Task
	docID uuid.UUID
}

// batchEffects collects side effects that must wait for the batch commit.
type batchEffects struct {
	outcomes []metrics.IngestOutcome
	media    []mediaOutcome
	jobs     []mediaJob
	extract  []uuid.UUID
}

// seenKey scopes batch-local dedupe to one chat.
type seenKey struct {
	chatID uuid.UUID
	value  string
}

// IngestBatch stores a batch of collector messages and reports a decision
// for each. Replaying a batch is safe: every message dedupes on
// (chat, message_id) when the platform id is present, else on its content
// hash within the rolling window.
func (s *WhatsAppIngestService) IngestBatch(req *models.WhatsAppIngestRequest) (*models.WhatsAppIngestResponse, error) {
	resp := &models.WhatsAppIngestResponse{
		RequestID: uuid.New(),
		Decisions: make([]models.MessageDecision, 0, len(req.Messages)),
	}
	eff := &batchEffects{}

	err := s.inTx(func(repos WhatsAppRepos) error {
		return s.ingestBatch(repos, req, resp, eff)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordIngest(req.ClientID, eff.outcomes)
		for _, m := range eff.media {
			s.metrics.RecordMedia(req.ClientID, m.chatID, m.chatTitle, m.status, m.reason)
		}
	}
	s.enqueueMediaJobs(eff.jobs)
	if s.schedule != nil {
		for _, chatID := range eff.extract {
			s.schedule(chatID)
		}
	}

	utils.LogInfo("WhatsApp batch ingested", map[string]interface{}{
		"client_id":     req.ClientID,
		"request_id":    resp.RequestID.String(),
		"accepted":      resp.Accepted,
		"created":       resp.Created,
		"deduped":       resp.Deduped,
		"created_chats": resp.CreatedChats,
	})
	return resp, nil
}

// ingestBatch runs the per-message pipeline inside the batch transaction.
// Messages are processed in the order provided.
func (s *WhatsAppIngestService) ingestBatch(repos WhatsAppRepos, req *models.WhatsAppIngestRequest, resp *models.WhatsAppIngestResponse, eff *batchEffects) error {
	chats := map[string]*models.WhatsAppChat{}
	seenIDs := map[seenKey]bool{}
	seenHashes := map[seenKey]bool{}
	scheduled := map[uuid.UUID]bool{}
	windowStart := s.now().Add(-s.window)

	for i := range req.Messages {
		in := &req.Messages[i]
		title := strings.TrimSpace(in.ChatTitle)
		if title == "" {
			title = "Unknown Chat"
		}

		chat, err := s.resolveChat(repos, chats, in, title, resp)
		if err != nil {
			return fmt.Errorf("message %d: resolve chat: %w", i+1, err)
		}
		resp.Accepted++

		messageID := strings.TrimSpace(in.MessageID)
		hash := contentHash(title, in.SenderName, in.Text)
		decision := models.MessageDecision{
			ChatTitle:   title,
			PlatformID:  in.PlatformID,
			MessageID:   messageID,
			ContentHash: hash,
		}

		// (chat, message_id) is the strict dedupe key when the platform
		// supplies one.
		if messageID != "" {
			key := seenKey{chatID: chat.ID, value: messageID}
			exists := seenIDs[key]
			if !exists {
				exists, err = repos.Chats.MessageExistsByMessageID(chat.ID, messageID)
				if err != nil {
					return fmt.Errorf("message %d: dedupe by id: %w", i+1, err)
				}
			}
			if exists {
				decision.Status = models.DecisionDeduped
				decision.Reason = models.ReasonDuplicateMessageID
				s.record(resp, eff, chat, title, decision)
				continue
			}
			seenIDs[key] = true
		}

		hashKey := seenKey{chatID: chat.ID, value: hash}
		exists := seenHashes[hashKey]
		if !exists {
			exists, err = repos.Chats.MessageExistsByContentHash(chat.ID, hash, windowStart)
			if err != nil {
				return fmt.Errorf("message %d: dedupe by hash: %w", i+1, err)
			}
		}
		if exists {
			decision.Status = models.DecisionDeduped
			decision.Reason = models.ReasonDuplicateContentHash
			s.record(resp, eff, chat, title, decision)
			continue
		}
		seenHashes[hashKey] = true

		var mediaDocID *uuid.UUID
		if in.Media != nil && in.Media.Data != "" {
			mediaDocID, err = s.persistMedia(repos, chat, title, in.Media, eff)
			if err != nil {
				return fmt.Errorf("message %d: persist media: %w", i+1, err)
			}
		}

		// Attached media keeps an otherwise empty or system message alive.
		text := strings.TrimSpace(in.Text)
		if text == "" && mediaDocID == nil {
			decision.Status = models.DecisionSkipped
			decision.Reason = models.ReasonEmptyText
			s.record(resp, eff, chat, title, decision)
			continue
		}
		if mediaDocID == nil && isFilteredEvent(text) {
			decision.Status = models.DecisionSkipped
			decision.Reason = models.ReasonFilteredEvent
			s.record(resp, eff, chat, title, decision)
			continue
		}

		observed := s.now()
		if in.ObservedAt != nil && !in.ObservedAt.IsZero() {
			observed = in.ObservedAt.UTC()
		}

		msg := &models.WhatsAppMessage{
			ChatID:          chat.ID,
			ClientID:        req.ClientID,
			MessageID:       trimPtr(&in.MessageID),
			ContentHash:     hash,
			SenderName:      trimPtr(&in.SenderName),
			SenderPhone:     trimPtr(&in.SenderPhone),
			IsOutgoing:      in.IsOutgoing,
			Text:            in.Text,
			ObservedAt:      observed,
			MediaDocumentID: mediaDocID,
		}
		if in.RawPayload != nil {
			if payload, err := json.Marshal(in.RawPayload); err == nil {
				msg.RawPayload = datatypes.JSON(payload)
			}
		}
		if err := repos.Chats.CreateMessage(msg); err != nil {
			return fmt.Errorf("message %d: store message: %w", i+1, err)
		}

		decision.Status = models.DecisionCreated
		decision.WhatsAppMessageID = &msg.ID
		s.record(resp, eff, chat, title, decision)

		if !in.IsOutgoing && !scheduled[chat.ID] {
			scheduled[chat.ID] = true
			eff.extract = append(eff.extract, chat.ID)
		}
	}
	return nil
}

// record finalizes one decision: response counters plus the metrics event.
func (s *WhatsAppIngestService) record(resp *models.WhatsAppIngestResponse, eff *batchEffects, chat *models.WhatsAppChat, title string, decision models.MessageDecision) {
	switch decision.Status {
	case models.DecisionCreated:
		resp.Created++
	case models.DecisionDeduped:
		resp.Deduped++
	}
	resp.Decisions = append(resp.Decisions, decision)
	eff.outcomes = append(eff.outcomes, metrics.IngestOutcome{
		ChatID:    chat.ID.String(),
		ChatTitle: title,
		Status:    decision.Status,
	})
}

// resolveChat finds or creates the message's chat, preferring the platform
// id over the case-insensitive title match, with a per-batch cache in front
// of the lookups. Existing chats are row-locked for the batch.
func (s *WhatsAppIngestService) resolveChat(repos WhatsAppRepos, cache map[string]*models.WhatsAppChat, in *models.WhatsAppMessageIn, title string, resp *models.WhatsAppIngestResponse) (*models.WhatsAppChat, error) {
	platformID := strings.TrimSpace(in.PlatformID)
	titleKey := "t:" + strings.ToLower(title)
	if platformID != "" {
		if chat, ok := cache["p:"+platformID]; ok {
			return chat, nil
		}
	} else if chat, ok := cache[titleKey]; ok {
		return chat, nil
	}

	chat, err := s.lookupChat(repos, platformID, title)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		chat = &models.WhatsAppChat{
			Title:    title,
			ChatType: normalizeChatType(in.ChatType),
		}
		if platformID != "" {
			chat.PlatformID = &platformID
		}
		if err := repos.Chats.CreateChat(chat); err != nil {
			return nil, err
		}
		resp.CreatedChats++
	} else if err := repos.Chats.LockChat(chat.ID); err != nil {
		return nil, err
	}

	cache[titleKey] = chat
	if platformID != "" {
		cache["p:"+platformID] = chat
	}
	return chat, nil
}

// lookupChat returns nil without error when no chat matches.
func (s *WhatsAppIngestService) lookupChat(repos WhatsAppRepos, platformID, title string) (*models.WhatsAppChat, error) {
	if platformID != "" {
		chat, err := repos.Chats.GetChatByPlatformID(platformID)
		if err == nil {
			return chat, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	chat, err := repos.Chats.GetChatByTitleCI(title)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	// A chat first seen before the collector reported platform ids learns
	// its id from the title match.
	if platformID != "" && chat.PlatformID == nil {
		chat.PlatformID = &platformID
		if err := repos.Chats.UpdateChat(chat); err != nil {
			return nil, err
		}
	}
	return chat, nil
}

// persistMedia stores one attachment content-addressed and queues it for
// document processing. Undecodable or unsupported attachments degrade to a
// metrics event; only database failures abort the batch.
func (s *WhatsAppIngestService) persistMedia(repos WhatsAppRepos, chat *models.WhatsAppChat, title string, media *models.WhatsAppMediaIn, eff *batchEffects) (*uuid.UUID, error) {
	content, err := base64.StdEncoding.DecodeString(media.Data)
	if err != nil || len(content) == 0 {
		eff.media = append(eff.media, mediaOutcome{chatID: chat.ID.String(), chatTitle: title, status: "failed", reason: "invalid_base64"})
		return nil, nil
	}

	sum := sha256.Sum256(content)
	res, err := s.media.Persist(content, hex.EncodeToString(sum[:]), media.MimeType, media.FileName)
	if err != nil {
		utils.LogError("Could not persist WhatsApp media", err, map[string]interface{}{"chat_id": chat.ID.String()})
		eff.media = append(eff.media, mediaOutcome{chatID: chat.ID.String(), chatTitle: title, status: "failed", reason: "storage_error"})
		return nil, nil
	}

	if res.Existed {
		existing, err := repos.Documents.GetByStoragePath(res.Path)
		if err == nil {
			eff.media = append(eff.media, mediaOutcome{chatID: chat.ID.String(), chatTitle: title, status: "deduped"})
			return &existing.ID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		// Blob without a row: register it now.
	}

	proc, err := s.registry.Match(res.Path)
	if err != nil {
		eff.media = append(eff.media, mediaOutcome{chatID: chat.ID.String(), chatTitle: title, status: "failed", reason: "unsupported_media_type"})
		return nil, nil
	}

	fileName := strings.TrimSpace(media.FileName)
	if fileName == "" {
		fileName = res.FileName
	}
	extra, _ := json.Marshal(map[string]interface{}{
		"processor": proc.Name(),
		"source":    "whatsapp_media",
		"chat_id":   chat.ID.String(),
		"mime_type": media.MimeType,
	})
	doc := &models.SourceDocument{
		VendorID:    chat.VendorID,
		FileName:    storage.SanitizeFileName(fileName),
		FileType:    fileTypeFor(res.FileName),
		StoragePath: res.Path,
		Status:      models.DocumentStatusPending,
		Extra:       datatypes.JSON(extra),
	}
	if err := repos.Documents.Create(doc); err != nil {
		return nil, fmt.Errorf("create media document: %w", err)
	}

	job := &models.IngestionJob{
		SourceDocumentID: doc.ID,
		Processor:        proc.Name(),
		Status:           models.JobStatusQueued,
	}
	if err := repos.Jobs.Create(job); err != nil {
		return nil, fmt.Errorf("create media job: %w", err)
	}

	eff.jobs = append(eff.jobs, mediaJob{task: jobs.Task{ID: job.ID, Type: TaskTypeDocument}, docID: doc.ID})
	eff.media = append(eff.media, mediaOutcome{chatID: chat.ID.String(), chatTitle: title, status: "stored"})
	return &doc.ID, nil
}

// enqueueMediaJobs hands committed media jobs to the runner. A full queue
// fails the job and its document instead of leaving them queued forever.
func (s *WhatsAppIngestService) enqueueMediaJobs(queued []mediaJob) {
	for _, mj := range queued {
		err := s.queue.Enqueue(mj.task)
		if err == nil {
			continue
		}
		utils.LogError("Could not queue media document", err, map[string]interface{}{
			"job_id":      mj.task.ID.String(),
			"document_id": mj.docID.String(),
		})

		now := s.now()
		summary := models.JobSummary{Errors: []string{err.Error()}}
		if mErr := s.jobs.MarkFinished(mj.task.ID, models.JobStatusFailed, now, summary, []string{err.Error()}); mErr != nil {
			utils.LogError("Could not mark media job failed", mErr, map[string]interface{}{"job_id": mj.task.ID.String()})
		}
		doc, dErr := s.docs.GetByID(mj.docID.String())
		if dErr != nil {
			continue
		}
		doc.Extra = mergeExtra(doc.Extra, map[string]interface{}{"error": err.Error()})
		if mErr := s.docs.MarkFinished(doc, models.DocumentStatusFailed, now); mErr != nil {
			utils.LogError("Could not mark media document failed", mErr, map[string]interface{}{"document_id": doc.ID.String()})
		}
	}
}

// contentHash fingerprints one message for window dedupe. The chat title is
// part of the digest so the hash is stable across export replays and live
// collector retries.
func contentHash(chatTitle, senderName, text string) string {
	sum := sha256.Sum256([]byte(chatTitle + "\n" + senderName + "\n" + strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// isFilteredEvent reports whether the text is a platform event rather than
// something a human typed.
func isFilteredEvent(text string) bool {
	line := strings.ToLower(strings.TrimSpace(text))
	if filteredEvents[line] {
		return true
	}
	return strings.HasPrefix(line, encryptionNoticePrefix)
}

func normalizeChatType(chatType string) string {
	switch strings.ToLower(strings.TrimSpace(chatType)) {
	case models.ChatTypeGroup:
		return models.ChatTypeGroup
	case models.ChatTypeDirect:
		return models.ChatTypeDirect
	}
	return models.ChatTypeUnknown
}
