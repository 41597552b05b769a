package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/services"
)

type PriceHistoryHandler struct {
	query *services.QueryService
}

func NewPriceHistoryHandler(query *services.QueryService) *PriceHistoryHandler {
	return &PriceHistoryHandler{query: query}
}

// GetProductHistory godoc
// @Summary Get price history for a product
// @Description List price spans for a product newest first, optionally scoped to one vendor
// @Tags PriceHistory
// @Produce json
// @Param id path string true "Product ID"
// @Param vendor_id query string false "Scope to one vendor"
// @Param limit query int false "Max spans" default(200)
// @Success 200 {array} models.PriceHistorySpan
// @Failure 400 {object} map[string]interface{}
// @Router /price-history/product/{id} [get]
func (h *PriceHistoryHandler) GetProductHistory(c *fiber.Ctx) error {
	var vendorID *string
	if raw := strings.TrimSpace(c.Query("vendor_id")); raw != "" {
		vendorID = &raw
	}

	limit := 200
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	spans, err := h.query.HistoryForProduct(c.Params("id"), vendorID, limit)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(spans)
}

// GetVendorHistory godoc
// @Summary Get price history for a vendor
// @Description List price spans recorded for one vendor newest first
// @Tags PriceHistory
// @Produce json
// @Param id path string true "Vendor ID"
// @Param limit query int false "Max spans" default(200)
// @Success 200 {array} models.PriceHistorySpan
// @Failure 400 {object} map[string]interface{}
// @Router /price-history/vendor/{id} [get]
func (h *PriceHistoryHandler) GetVendorHistory(c *fiber.Ctx) error {
	limit := 200
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	spans, err := h.query.HistoryForVendor(c.Params("id"), limit)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(spans)
}
