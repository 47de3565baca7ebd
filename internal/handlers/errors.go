package handlers

import (
	"errors"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/dto"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/services"
	"github.com/gofiber/fiber/v2"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrInviteNotFound),
		errors.Is(err, services.ErrPlanNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrNotEntitled):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrConstraintViolation),
		errors.Is(err, services.ErrInvalidDuration):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrSweepInProgress),
		errors.Is(err, services.ErrInviteUsed),
		errors.Is(err, services.ErrInviteExpired):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrGateway):
		return fiber.StatusBadGateway
	case errors.Is(err, services.ErrConfiguration):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	message := err.Error()
	if code >= 500 && code != fiber.StatusBadGateway && code != fiber.StatusServiceUnavailable {
		slog.Error("request failed", "op", "http", "method", c.Method(), "path", c.Path(), "error", err)
		message = "Internal server error"
	}
	return c.Status(code).JSON(dto.ErrorResponse{Error: true, Message: message})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: true, Message: message})
}
