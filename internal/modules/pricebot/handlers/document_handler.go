package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/itsAR-VR/pricebot/internal/core/export"
	"github.com/itsAR-VR/pricebot/internal/core/ingestion"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/services"
	"gorm.io/gorm"
)

type DocumentHandler struct {
	documents *services.DocumentService
	exports   *export.Service
}

func NewDocumentHandler(documents *services.DocumentService, exports *export.Service) *DocumentHandler {
	return &DocumentHandler{documents: documents, exports: exports}
}

// UploadDocument godoc
// @Summary Upload and process a price document
// @Description Store a price sheet (Excel, CSV, PDF, image, or text transcript) and queue it for extraction
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Price document"
// @Param vendor_name formData string false "Declared vendor name"
// @Param processor formData string false "Processor override (spreadsheet, document_text, whatsapp_text)"
// @Success 202 {object} models.UploadDocumentResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /documents/upload [post]
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file is required",
		})
	}

	// "auto" keeps the extension-based processor match.
	processor := c.FormValue("processor")
	if processor == "auto" {
		processor = ""
	}

	content, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer content.Close()

	resp, err := h.documents.Upload(file.Filename, c.FormValue("vendor_name"), processor, content)
	if err != nil {
		if errors.Is(err, ingestion.ErrUnsupportedFileType) || errors.Is(err, ingestion.ErrUnknownProcessor) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(resp)
}

// ListDocuments godoc
// @Summary List ingested source documents
// @Description List documents newest first with their offer yields
// @Tags Documents
// @Produce json
// @Param status query string false "Filter by status (pending, processing, processed, processed_with_warnings, failed)"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {array} models.DocumentSummary
// @Router /documents [get]
func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	filter := models.DocumentFilter{
		Status: c.Query("status"),
		Limit:  50,
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

	documents, err := h.documents.ListDocuments(filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(documents)
}

// GetDocument godoc
// @Summary Get document detail
// @Description Retrieve one document with its extracted offers
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} models.DocumentDetailResponse
// @Failure 404 {object} map[string]interface{}
// @Router /documents/{id} [get]
func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	detail, err := h.documents.DocumentDetail(c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "document not found",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(detail)
}

// GetJobStatus godoc
// @Summary Get ingestion job status
// @Description Poll the processing state of an uploaded document's job
// @Tags Documents
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.JobStatusResponse
// @Failure 404 {object} map[string]interface{}
// @Router /documents/jobs/{id} [get]
func (h *DocumentHandler) GetJobStatus(c *fiber.Ctx) error {
	status, err := h.documents.JobStatus(c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "job not found",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(status)
}

// GetVendorPriceTemplate godoc
// @Summary Download the vendor price-list template
// @Description Excel workbook with the header row the spreadsheet processor recognizes
// @Tags Documents
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} binary
// @Router /documents/templates/vendor-price [get]
func (h *DocumentHandler) GetVendorPriceTemplate(c *fiber.Ctx) error {
	payload, err := h.exports.ExportToExcel(services.VendorPriceTemplate())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set(fiber.HeaderContentType, h.exports.GetContentType(export.FormatExcel))
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="vendor_price_template.xlsx"`)
	return c.Send(payload)
}
