package routes

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/config"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Health  *handlers.HealthHandler
	Auth    *handlers.AuthHandler
	Admin   *handlers.AdminHandler
	Webhook *handlers.WebhookHandler
}

func Setup(app *fiber.App, cfg *config.Config, h Handlers) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// Health (no auth)
	api.Get("/health", h.Health.Check)

	// Login: 10 req/min per IP
	api.Post("/admin/login", limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}), h.Auth.Login)

	admin := api.Group("/admin", middleware.AdminRequired(cfg))
	admin.Get("/users", h.Admin.ListUsers)
	admin.Get("/stats", h.Admin.Stats)
	admin.Get("/users/:platform_id/subscription", h.Admin.GetSubscription)
	admin.Post("/users/:platform_id/subscription", h.Admin.GrantSubscription)
	admin.Delete("/users/:platform_id/subscription", h.Admin.RevokeSubscription)
	admin.Post("/broadcast", h.Admin.Broadcast)
	admin.Post("/sweeps", h.Admin.RunSweep)

	// Webhooks authenticate with a shared secret header
	webhooks := api.Group("/webhooks")
	webhooks.Post("/payments", h.Webhook.HandlePayment)
}
