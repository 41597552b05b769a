package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/services"
	"gorm.io/gorm"
)

// WhatsAppStatusInfo is the collector-facing config snapshot served by
// GET /integrations/whatsapp/status. It never echoes secrets, only whether
// they are set.
type WhatsAppStatusInfo struct {
	Environment        string  `json:"environment"`
	TokenConfigured    bool    `json:"token_configured"`
	HMACConfigured     bool    `json:"hmac_configured"`
	RateLimitPerMinute float64 `json:"rate_limit_per_minute"`
	DedupeWindowHours  int     `json:"dedupe_window_hours"`
	DebounceSeconds    float64 `json:"debounce_seconds"`
	ExtractMaxMessages int     `json:"extract_max_messages"`
}

// Batch limits mirrored from the request model's validate tags.
const (
	maxIngestBatchSize       = 500
	maxIngestTextLength      = 5000
	maxIngestChatTitleLength = 200
)

type WhatsAppHandler struct {
	ingest  *services.WhatsAppIngestService
	extract *services.WhatsAppExtractService
	status  WhatsAppStatusInfo
}

func NewWhatsAppHandler(ingest *services.WhatsAppIngestService, extract *services.WhatsAppExtractService, status WhatsAppStatusInfo) *WhatsAppHandler {
	return &WhatsAppHandler{ingest: ingest, extract: extract, status: status}
}

// PostIngest godoc
// @Summary Ingest a batch of WhatsApp messages
// @Description Store collector messages idempotently and report a per-message decision
// @Tags WhatsApp
// @Accept json
// @Produce json
// @Param X-Ingest-Token header string false "Shared ingest token"
// @Param X-Signature header string false "HMAC-SHA256 body signature"
// @Param X-Signature-Timestamp header string false "Unix timestamp the signature covers"
// @Param request body models.WhatsAppIngestRequest true "Message batch"
// @Success 200 {object} models.WhatsAppIngestResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /integrations/whatsapp/ingest [post]
func (h *WhatsAppHandler) PostIngest(c *fiber.Ctx) error {
	var req models.WhatsAppIngestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	// Mirror the collector contract before touching the database.
	if len(strings.TrimSpace(req.ClientID)) < 3 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "client_id must be at least 3 characters",
		})
	}
	if len(req.Messages) == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "messages must not be empty",
		})
	}
	if len(req.Messages) > maxIngestBatchSize {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "messages must not exceed " + strconv.Itoa(maxIngestBatchSize) + " per batch",
		})
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		if msg.Text == "" || len(msg.Text) > maxIngestTextLength {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "messages[" + strconv.Itoa(i) + "].text must be 1-" + strconv.Itoa(maxIngestTextLength) + " characters",
			})
		}
		if msg.ChatTitle == "" || len(msg.ChatTitle) > maxIngestChatTitleLength {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "messages[" + strconv.Itoa(i) + "].chat_title must be 1-" + strconv.Itoa(maxIngestChatTitleLength) + " characters",
			})
		}
	}

	resp, err := h.ingest.IngestBatch(&req)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(resp)
}

// ListChats godoc
// @Summary List tracked WhatsApp chats
// @Description List chats with message counts and extraction cursors, most recent first
// @Tags WhatsApp
// @Produce json
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {array} models.WhatsAppChatSummary
// @Router /integrations/whatsapp/chats [get]
func (h *WhatsAppHandler) ListChats(c *fiber.Ctx) error {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	chats, err := h.extract.ListChats(limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(chats)
}

// ExtractChat godoc
// @Summary Extract offers from a chat's recent window
// @Description Replay the chat's recent inbound messages through the extraction pipeline
// @Tags WhatsApp
// @Produce json
// @Param id path string true "Chat ID"
// @Success 200 {object} models.ExtractChatResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /integrations/whatsapp/chats/{id}/extract [post]
func (h *WhatsAppHandler) ExtractChat(c *fiber.Ctx) error {
	return h.runExtract(c, false)
}

// ExtractLatest godoc
// @Summary Extract offers from messages since the last extraction
// @Description Like extract, but only reads messages newer than the chat's extraction cursor
// @Tags WhatsApp
// @Produce json
// @Param id path string true "Chat ID"
// @Success 200 {object} models.ExtractChatResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /integrations/whatsapp/chats/{id}/extract-latest [post]
func (h *WhatsAppHandler) ExtractLatest(c *fiber.Ctx) error {
	return h.runExtract(c, true)
}

func (h *WhatsAppHandler) runExtract(c *fiber.Ctx, sinceLast bool) error {
	chatID := c.Params("id")
	if _, err := uuid.Parse(chatID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid chat ID",
		})
	}

	resp, err := h.extract.ExtractChat(c.Context(), chatID, sinceLast)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "chat not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(resp)
}

// GetStatus godoc
// @Summary WhatsApp ingest configuration status
// @Description Report which ingest guards are configured, for collector setup checks
// @Tags WhatsApp
// @Produce json
// @Success 200 {object} handlers.WhatsAppStatusInfo
// @Router /integrations/whatsapp/status [get]
func (h *WhatsAppHandler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(h.status)
}
