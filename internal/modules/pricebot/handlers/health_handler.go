package handlers

import (
	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	serviceName string
	environment string
}

func NewHealthHandler(serviceName, environment string) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, environment: environment}
}

// GetHealth godoc
// @Summary Service health check
// @Description Check if the API is alive
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) GetHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"service":     h.serviceName,
		"environment": h.environment,
	})
}
