package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/services"
)

// ChatToolsHandler serves the structured tool endpoints a conversational
// client calls instead of querying the catalog tables directly.
type ChatToolsHandler struct {
	query *services.QueryService
}

func NewChatToolsHandler(query *services.QueryService) *ChatToolsHandler {
	return &ChatToolsHandler{query: query}
}

// ResolveProducts godoc
// @Summary Resolve free-text to catalog products
// @Description Match a user phrase against product names, model numbers, UPCs, and aliases, with embedding fallback
// @Tags ChatTools
// @Accept json
// @Produce json
// @Param request body models.ResolveProductsRequest true "Resolution query"
// @Success 200 {object} models.ResolveProductsResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /chat/tools/products/resolve [post]
func (h *ChatToolsHandler) ResolveProducts(c *fiber.Ctx) error {
	var req models.ResolveProductsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	resp, err := h.query.ResolveProducts(c.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrEmptyQuery) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(resp)
}

// SearchBestPrice godoc
// @Summary Find the best current price for a product phrase
// @Description Resolve the phrase, then rank live offers cheapest first under the supplied filters
// @Tags ChatTools
// @Accept json
// @Produce json
// @Param request body models.BestPriceRequest true "Search query and filters"
// @Success 200 {object} models.BestPriceResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /chat/tools/offers/search-best-price [post]
func (h *ChatToolsHandler) SearchBestPrice(c *fiber.Ctx) error {
	var req models.BestPriceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	resp, err := h.query.SearchBestPrice(c.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyQuery), errors.Is(err, services.ErrPriceRangeInvalid):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, services.ErrVendorNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}
	return c.JSON(resp)
}

// GetDiagnostics godoc
// @Summary Ingestion diagnostics snapshot
// @Description Entity counts, recent documents, warnings, and feature flags for operator triage
// @Tags ChatTools
// @Produce json
// @Success 200 {object} models.DiagnosticsReport
// @Router /chat/tools/diagnostics [get]
func (h *ChatToolsHandler) GetDiagnostics(c *fiber.Ctx) error {
	report, err := h.query.Diagnostics()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(report)
}

// DownloadDiagnostics godoc
// @Summary Download the diagnostics snapshot
// @Description Same report as GET /chat/tools/diagnostics, served as a JSON attachment
// @Tags ChatTools
// @Produce json
// @Success 200 {object} models.DiagnosticsReport
// @Router /chat/tools/diagnostics/download [get]
func (h *ChatToolsHandler) DownloadDiagnostics(c *fiber.Ctx) error {
	report, err := h.query.Diagnostics()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="pricebot_diagnostics.json"`)
	return c.JSON(report)
}
