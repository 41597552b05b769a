package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/services"
	"gorm.io/gorm"
)

type ProductHandler struct {
	query *services.QueryService
}

func NewProductHandler(query *services.QueryService) *ProductHandler {
	return &ProductHandler{query: query}
}

// ListProducts godoc
// @Summary List catalog products
// @Description List products with offer counts, optionally filtered by name, model number, or UPC
// @Tags Products
// @Produce json
// @Param q query string false "Search text"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {array} models.ProductSummary
// @Router /products [get]
func (h *ProductHandler) ListProducts(c *fiber.Ctx) error {
	filter := models.ProductFilter{
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

	products, err := h.query.ListProducts(filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(products)
}

// GetProduct godoc
// @Summary Get product detail
// @Description Retrieve one product with its most recent offers
// @Tags Products
// @Produce json
// @Param id path string true "Product ID"
// @Param limit query int false "Recent offer count" default(20)
// @Success 200 {object} models.ProductDetailResponse
// @Failure 404 {object} map[string]interface{}
// @Router /products/{id} [get]
func (h *ProductHandler) GetProduct(c *fiber.Ctx) error {
	offerLimit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			offerLimit = limit
		}
	}

	detail, err := h.query.ProductDetail(c.Params("id"), offerLimit)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "product not found",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(detail)
}
