package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/services"
)

type OfferHandler struct {
	query *services.QueryService
}

func NewOfferHandler(query *services.QueryService) *OfferHandler {
	return &OfferHandler{query: query}
}

// ListOffers godoc
// @Summary List offers
// @Description List captured offers newest first, filtered by product, vendor, or capture time
// @Tags Offers
// @Produce json
// @Param product_id query string false "Filter by product ID"
// @Param vendor_id query string false "Filter by vendor ID"
// @Param document_id query string false "Filter by source document ID"
// @Param since query string false "Only offers captured at or after this RFC3339 time"
// @Param limit query int false "Page size" default(100)
// @Success 200 {array} models.OfferOut
// @Failure 400 {object} map[string]interface{}
// @Router /offers [get]
func (h *OfferHandler) ListOffers(c *fiber.Ctx) error {
	var filter models.OfferFilter

	// Parse product_id
	if raw := c.Query("product_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid product_id",
			})
		}
		filter.ProductID = &id
	}

	// Parse vendor_id
	if raw := c.Query("vendor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid vendor_id",
			})
		}
		filter.VendorID = &id
	}

	// Parse document_id
	if raw := c.Query("document_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid document_id",
			})
		}
		filter.SourceDocumentID = &id
	}

	// Parse since
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "since must be an RFC3339 timestamp",
			})
		}
		filter.Since = &since
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	offers, err := h.query.ListOffers(filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(offers)
}
