package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/itsAR-VR/pricebot/internal/core/ingestion"
	"github.com/itsAR-VR/pricebot/internal/core/llm"
	"github.com/itsAR-VR/pricebot/internal/core/metrics"
	"github.com/itsAR-VR/pricebot/internal/core/storage"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/repositories"
	"github.com/itsAR-VR/pricebot/internal/shared/database"
	"github.com/itsAR-VR/pricebot/internal/shared/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WhatsAppExtractConfig tunes live-chat extraction.
type WhatsAppExtractConfig struct {
	MaxMessages int
	Currency    string
	PreferLLM   bool
	DisableLLM  bool
}

// WhatsAppExtractService turns stored chat messages into offers. Every run
// ingests under a synthetic source document so extracted offers carry the
// same provenance as uploaded files.
type WhatsAppExtractService struct {
	chats     repositories.WhatsAppRepo
	docs      repositories.DocumentRepo
	ingest    *IngestionService
	extractor *llm.OfferExtractor
	metrics   *metrics.Registry
	inTx      func(fn func(IngestRepos) error) error
	config    WhatsAppExtractConfig
	now       func() time.Time
}

// NewWhatsAppExtractService wires the service over one database handle. The
// extractor is optional; when present it backs up the heuristic parser on
// chats where no line parses.
func NewWhatsAppExtractService(db *database.DB, ingest *IngestionService, extractor *llm.OfferExtractor, reg *metrics.Registry, config WhatsAppExtractConfig) *WhatsAppExtractService {
	g := db.GORM
	if config.MaxMessages <= 0 {
		config.MaxMessages = 500
	}
	if config.Currency == "" {
		config.Currency = "USD"
	}
	return &WhatsAppExtractService{
		chats:     repositories.NewWhatsAppRepo(g),
		docs:      repositories.NewDocumentRepo(g),
		ingest:    ingest,
		extractor: extractor,
		metrics:   reg,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
		inTx: func(fn func(IngestRepos) error) error {
			return g.Transaction(func(tx *gorm.DB) error {
				return fn(NewIngestRepos(tx))
			})
		},
	}
}

// ExtractChat parses the chat's recent inbound messages into offers. With
// sinceLast only messages newer than the extraction cursor are read; without
// it the whole recent window replays, which is safe because snapshot dedupe
// drops offers that were already ingested.
func (s *WhatsAppExtractService) ExtractChat(ctx context.Context, chatID string, sinceLast bool) (*models.ExtractChatResponse, error) {
	chat, err := s.chats.GetChatByID(chatID)
	if err != nil {
		return nil, err
	}

	var since *time.Time
	if sinceLast {
		since = chat.LastExtractedAt
	}
	messages, err := s.chats.MessagesForExtraction(chat.ID, since, s.config.MaxMessages)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return &models.ExtractChatResponse{ChatID: chat.ID}, nil
	}

	started := s.now()
	rows, warnings := s.parseMessages(messages)

	useLLM := s.config.PreferLLM || len(rows) == 0
	if useLLM && !s.config.DisableLLM && s.extractor != nil {
		lines := make([]string, 0, len(messages))
		for i := range messages {
			if text := strings.TrimSpace(messages[i].Text); text != "" {
				lines = append(lines, text)
			}
		}
		llmOffers, llmWarnings, err := s.extractor.ExtractOffersFromLines(ctx, lines, llm.ExtractionContext{
			CurrencyHint: s.config.Currency,
			DocumentName: "whatsapp:" + chat.Title,
			DocumentKind: "whatsapp_live",
			ExtraInstructions: "Messages are from a live WhatsApp chat. Only return rows that clearly " +
				"describe a product AND a price. Ignore greetings, reactions, and status updates.",
		})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("llm fallback failed: %v", err))
		} else {
			if len(llmOffers) > 0 {
				converted := make([]ingestion.RawOffer, 0, len(llmOffers))
				for _, row := range llmOffers {
					converted = append(converted, ingestion.OfferRowToRaw(row))
				}
				rows = converted
			}
			warnings = append(warnings, llmWarnings...)
		}
	}

	// Rows with no sender attribution fall back to the chat's mapped vendor
	// through the document; in an unmapped chat they have nowhere to go.
	if chat.VendorID == nil {
		kept := rows[:0]
		for _, row := range rows {
			if strings.TrimSpace(row.VendorName) == "" {
				warnings = append(warnings, fmt.Sprintf("offer %q skipped: unmapped_vendor", row.ProductName))
				continue
			}
			kept = append(kept, row)
		}
		rows = kept
	}

	extra, _ := json.Marshal(map[string]interface{}{
		"source":     "whatsapp_live",
		"chat_id":    chat.ID.String(),
		"chat_title": chat.Title,
	})
	doc := &models.SourceDocument{
		VendorID:        chat.VendorID,
		FileName:        storage.SanitizeFileName(chat.Title + ".whatsapp"),
		FileType:        "whatsapp_live",
		StoragePath:     "whatsapp://chat/" + chat.ID.String(),
		Status:          models.DocumentStatusProcessing,
		IngestStartedAt: &started,
		Extra:           datatypes.JSON(extra),
	}
	if err := s.docs.Create(doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	var stats *IngestStats
	err = s.inTx(func(repos IngestRepos) error {
		var txErr error
		stats, txErr = s.ingest.IngestRows(ctx, repos, rows, doc, "", started)
		return txErr
	})
	if err != nil {
		doc.Extra = mergeExtra(doc.Extra, map[string]interface{}{"error": err.Error()})
		if mErr := s.docs.MarkFinished(doc, models.DocumentStatusFailed, s.now()); mErr != nil {
			utils.LogError("Could not mark extraction document failed", mErr, map[string]interface{}{"document_id": doc.ID.String()})
		}
		return nil, fmt.Errorf("persist offers: %w", err)
	}

	warnings = append(warnings, stats.Warnings...)
	status := models.DocumentStatusProcessed
	if len(warnings) > 0 {
		status = models.DocumentStatusProcessedWithWarnings
	}
	doc.Warnings = warnings
	doc.Extra = mergeExtra(doc.Extra, map[string]interface{}{
		"messages": len(messages),
		"offers":   stats.Offers,
		"deduped":  stats.Deduped,
	})
	if err := s.docs.MarkFinished(doc, status, s.now()); err != nil {
		return nil, fmt.Errorf("mark document finished: %w", err)
	}

	if err := s.chats.TouchChatExtracted(chat.ID, started); err != nil {
		utils.LogWarn("Could not advance extraction cursor", map[string]interface{}{
			"chat_id": chat.ID.String(),
			"error":   err.Error(),
		})
	}
	if s.metrics != nil {
		client := messages[len(messages)-1].ClientID
		s.metrics.RecordExtract(client, chat.ID.String(), chat.Title, stats.Offers, len(warnings))
	}

	utils.LogInfo("WhatsApp chat extracted", map[string]interface{}{
		"chat_id":     chat.ID.String(),
		"document_id": doc.ID.String(),
		"messages":    len(messages),
		"offers":      stats.Offers,
		"warnings":    len(warnings),
	})
	return &models.ExtractChatResponse{
		ChatID:     chat.ID,
		Offers:     stats.Offers,
		Warnings:   warnings,
		DocumentID: &doc.ID,
	}, nil
}

// parseMessages runs the line parser over each message, attributing rows to
// the sender and stamping them with the message's observation time.
func (s *WhatsAppExtractService) parseMessages(messages []models.WhatsAppMessage) ([]ingestion.RawOffer, []string) {
	var rows []ingestion.RawOffer
	var warnings []string

	for i := range messages {
		msg := &messages[i]
		capturedAt := msg.ObservedAt
		for _, line := range strings.Split(msg.Text, "\n") {
			parsed, warn := ingestion.ParseOfferLine(line, ingestion.LineContext{
				VendorName:      deref(msg.SenderName),
				DefaultCurrency: s.config.Currency,
				CapturedAt:      &capturedAt,
				RawPayload: map[string]interface{}{
					"whatsapp_message_id": msg.ID.String(),
					"observed_at":         msg.ObservedAt.Format(time.RFC3339),
				},
			})
			if len(parsed) > 0 {
				rows = append(rows, parsed...)
				continue
			}
			if warn != "" {
				warnings = append(warnings, warn)
			}
		}
	}
	return rows, warnings
}

// ListChats returns tracked chats with their message counts.
func (s *WhatsAppExtractService) ListChats(limit, offset int) ([]models.WhatsAppChatSummary, error) {
	return s.chats.ListChats(limit, offset)
}

// SweepChats extracts every chat with inbound traffic newer than lookback.
// The periodic scheduler uses it to catch chats whose debounce trigger was
// lost to a restart.
func (s *WhatsAppExtractService) SweepChats(ctx context.Context, lookback time.Duration) (int, error) {
	ids, err := s.chats.ChatIDsWithMessagesSince(s.now().Add(-lookback))
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, id := range ids {
		if _, err := s.ExtractChat(ctx, id.String(), true); err != nil {
			utils.LogError("Chat sweep extraction failed", err, map[string]interface{}{"chat_id": id.String()})
			continue
		}
		ran++
	}
	return ran, nil
}
