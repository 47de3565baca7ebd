package handlers

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/database"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/dto"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/plans"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db    *gorm.DB
	plans *plans.Registry
}

func NewHealthHandler(db *gorm.DB, registry *plans.Registry) *HealthHandler {
	return &HealthHandler{db: db, plans: registry}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status, dbStatus := "ok", "ok"
	if err := database.Ping(c.UserContext(), h.db); err != nil {
		status, dbStatus = "degraded", "unhealthy: "+err.Error()
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(dto.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
		Plans:     len(h.plans.All()),
	})
}
