package middleware

import (
	"crypto/subtle"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/config"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/dto"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminRequired admits a request that carries either:
// 1. the static X-Admin-Token from config
// 2. a JWT issued by /api/admin/login with role=admin
func AdminRequired(cfg *config.Config) fiber.Handler {
	jwtCheck := JWTProtected(cfg, requireAdminRole)

	return func(c *fiber.Ctx) error {
		if cfg.AdminToken != "" {
			if subtle.ConstantTimeCompare([]byte(c.Get(AdminTokenHeader)), []byte(cfg.AdminToken)) == 1 {
				return c.Next()
			}
		}
		return jwtCheck(c)
	}
}

func requireAdminRole(c *fiber.Ctx) error {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok || token == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid claims",
		})
	}

	if role, _ := claims["role"].(string); role != services.RoleAdmin {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: "Admin access required",
		})
	}
	return c.Next()
}
