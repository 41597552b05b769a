package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/itsAR-VR/pricebot/internal/core/export"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/services"
	"gorm.io/gorm"
)

// AdminHandler serves the operator endpoints behind basic auth: document
// replays, job reconciliation, and bulk exports.
type AdminHandler struct {
	documents *services.DocumentService
	query     *services.QueryService
	exports   *export.Service
}

func NewAdminHandler(documents *services.DocumentService, query *services.QueryService, exports *export.Service) *AdminHandler {
	return &AdminHandler{documents: documents, query: query, exports: exports}
}

type reprocessRequest struct {
	ClearExisting bool `json:"clear_existing"`
}

// ReprocessDocument godoc
// @Summary Re-run extraction for a document
// @Description Queue a stored document for another extraction pass, optionally clearing its prior offers
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param request body handlers.reprocessRequest false "Reprocess options"
// @Success 202 {object} models.UploadDocumentResponse
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /admin/documents/{id}/reprocess [post]
func (h *AdminHandler) ReprocessDocument(c *fiber.Ctx) error {
	var req reprocessRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}
	if c.Query("clear_existing") == "true" {
		req.ClearExisting = true
	}

	resp, err := h.documents.Reprocess(c.Params("id"), req.ClearExisting)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "document not found",
			})
		case errors.Is(err, services.ErrDocumentNotTerminal):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

// ReconcileJobs godoc
// @Summary Reconcile stale ingestion jobs
// @Description Mark jobs stuck in processing beyond the stale window as failed
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /admin/jobs/reconcile [post]
func (h *AdminHandler) ReconcileJobs(c *fiber.Ctx) error {
	reconciled, err := h.documents.ReconcileStaleJobs()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"reconciled": reconciled,
	})
}

// ExportOffers godoc
// @Summary Export offers as a spreadsheet
// @Description Dump captured offers newest first, up to the requested limit, as an Excel workbook or CSV
// @Tags Admin
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Produce text/csv
// @Param limit query int false "Max rows" default(1000)
// @Param format query string false "Output format" Enums(xlsx, csv) default(xlsx)
// @Success 200 {file} binary
// @Failure 400 {object} map[string]interface{}
// @Router /admin/exports/offers.xlsx [get]
func (h *AdminHandler) ExportOffers(c *fiber.Ctx) error {
	format := export.FormatExcel
	switch strings.ToLower(c.Query("format")) {
	case "", "xlsx", "excel":
	case "csv":
		format = export.FormatCSV
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "format must be xlsx or csv",
		})
	}

	var filter models.OfferFilter
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	data, err := h.query.OffersExport(filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	payload, contentType, err := h.exports.Export(data, format)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition,
		`attachment; filename="pricebot_offers`+h.exports.GetFileExtension(format)+`"`)
	return c.Send(payload)
}

// ExportPriceList godoc
// @Summary Export the current price list as a PDF
// @Description One row per product with its best live offer
// @Tags Admin
// @Produce application/pdf
// @Param limit query int false "Max products" default(200)
// @Success 200 {file} binary
// @Router /admin/exports/price-list.pdf [get]
func (h *AdminHandler) ExportPriceList(c *fiber.Ctx) error {
	limit := 200
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	data, err := h.query.PriceListExport(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	payload, err := h.exports.ExportToPDF(data)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set(fiber.HeaderContentType, h.exports.GetContentType(export.FormatPDF))
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="pricebot_price_list.pdf"`)
	return c.Send(payload)
}
