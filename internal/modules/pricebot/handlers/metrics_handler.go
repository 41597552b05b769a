package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/itsAR-VR/pricebot/internal/core/metrics"
)

type MetricsHandler struct {
	registry *metrics.Registry
}

func NewMetricsHandler(registry *metrics.Registry) *MetricsHandler {
	return &MetricsHandler{registry: registry}
}

// GetMetrics godoc
// @Summary Service metrics
// @Description All metric families; currently only the WhatsApp ingest counters
// @Tags Metrics
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /metrics [get]
func (h *MetricsHandler) GetMetrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"whatsapp": h.snapshot(),
	})
}

// GetWhatsAppMetrics godoc
// @Summary WhatsApp ingest metrics
// @Description Per client and chat ingest counters with recent failures
// @Tags Metrics
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /metrics/whatsapp [get]
func (h *MetricsHandler) GetWhatsAppMetrics(c *fiber.Ctx) error {
	return c.JSON(h.snapshot())
}

func (h *MetricsHandler) snapshot() fiber.Map {
	return fiber.Map{
		"totals":          h.registry.AggregateTotals(),
		"counters":        h.registry.Snapshot(),
		"recent_failures": h.registry.RecentFailures(10),
		"generated_at":    time.Now().UTC().Format(time.RFC3339),
	}
}
