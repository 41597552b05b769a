package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/services"
	"gorm.io/gorm"
)

type VendorHandler struct {
	query *services.QueryService
}

func NewVendorHandler(query *services.QueryService) *VendorHandler {
	return &VendorHandler{query: query}
}

// ListVendors godoc
// @Summary List vendors
// @Description List known vendors, optionally filtered by name
// @Tags Vendors
// @Produce json
// @Param q query string false "Search text"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {array} models.VendorListItem
// @Router /vendors [get]
func (h *VendorHandler) ListVendors(c *fiber.Ctx) error {
	filter := models.VendorFilter{
		Query: c.Query("q"),
		Limit: 50,
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	vendors, err := h.query.ListVendors(filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(vendors)
}

// GetVendor godoc
// @Summary Get vendor detail
// @Description Retrieve one vendor with its most recent offers
// @Tags Vendors
// @Produce json
// @Param id path string true "Vendor ID"
// @Param limit query int false "Recent offer count" default(20)
// @Success 200 {object} models.VendorDetailResponse
// @Failure 404 {object} map[string]interface{}
// @Router /vendors/{id} [get]
func (h *VendorHandler) GetVendor(c *fiber.Ctx) error {
	offerLimit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			offerLimit = limit
		}
	}

	detail, err := h.query.VendorDetail(c.Params("id"), offerLimit)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "vendor not found",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(detail)
}
