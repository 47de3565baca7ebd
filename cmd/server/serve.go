package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"golang.org/x/sync/errgroup"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/bot"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/config"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/database"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/events"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/logging"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/plans"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/repository"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/routes"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/services"
)

const (
	shutdownTimeout = 10 * time.Second
	paymentsDurable = "subgate-payments"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServer(ctx context.Context) error {
	cfg := config.Load()

	// Structured logging (JSON to stdout)
	logging.Setup(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ChannelID == 0 {
		slog.Warn("CHANNEL_ID is not set; invites and evictions will fail")
	}

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
			Release:          Version,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Database
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("database close error", "error", err)
		}
	}()

	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(db, 5*time.Second)
	defer pgLogHandler.Stop()
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		logging.NewJSONHandler(os.Stdout, logging.ParseLevel(cfg.LogLevel)),
		pgLogHandler,
	)))

	// Plan catalog
	registry, err := plans.LoadFromFile(cfg.PlansPath)
	if err != nil {
		return fmt.Errorf("failed to load plans: %w", err)
	}
	slog.Info("plan catalog loaded", "plans", len(registry.All()))
	watcher := plans.NewWatcher(registry, cfg.PlansPath)
	watcher.OnReload(func(n int) { slog.Info("plan catalog reloaded", "plans", n) })

	// Messaging gateway
	tg, err := gateway.NewTelegram(gateway.TelegramConfig{
		Token:      cfg.BotToken,
		Timeout:    cfg.GatewayTimeout,
		RatePerSec: cfg.GatewayRatePerSec,
		Debug:      cfg.BotDebug,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	checkBotPermissions(ctx, tg, cfg.ChannelID)

	// Event bus
	var publisher events.Publisher = events.Noop{}
	var bus *events.Bus
	if cfg.NATSURL != "" {
		bus, err = events.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer bus.Close()
		publisher = bus
	}

	// Services
	clock := services.SystemClock{}
	repo := repository.New(db)
	userService := services.NewUserService(repo)
	subscriptionService := services.NewSubscriptionService(repo, tg, publisher, clock, cfg.ChannelID)
	inviteService := services.NewInviteService(repo, subscriptionService, tg, publisher, clock, inviteConfig(cfg))
	adminService := services.NewAdminService(repo, tg, clock, cfg.AdminIDs)
	paymentService := services.NewPaymentService(repo, subscriptionService, registry, tg)
	reconciler := services.NewReconciler(repo, tg, publisher, clock, reconcilerConfig(cfg))
	authService := services.NewAuthService(cfg, clock)

	channelBot := bot.New(bot.Deps{
		Users:     userService,
		Subs:      subscriptionService,
		Invites:   inviteService,
		Admin:     adminService,
		Plans:     registry,
		Gateway:   tg,
		Clock:     clock,
		ChannelID: cfg.ChannelID,
	})

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:             1 * 1024 * 1024,
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	routes.Setup(app, cfg, routes.Handlers{
		Health:  handlers.NewHealthHandler(db, registry),
		Auth:    handlers.NewAuthHandler(authService),
		Admin:   handlers.NewAdminHandler(userService, subscriptionService, adminService, reconciler),
		Webhook: handlers.NewWebhookHandler(paymentService, cfg.PaymentWebhookSecret),
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down server...")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error { return channelBot.Run(ctx, tg.Updates(ctx)) })
	g.Go(func() error { return reconciler.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error { return logging.RunCleanup(ctx, db, cfg.LogRetentionDays) })

	if bus != nil {
		// The subscription closes itself when ctx is done.
		if _, err := bus.Subscribe(ctx, cfg.NATSPaymentSubject, paymentsDurable, paymentService.HandleEvent); err != nil {
			slog.Error("payment subscription failed", "subject", cfg.NATSPaymentSubject, "error", err)
		}
	}

	err = g.Wait()
	slog.Info("server stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// checkBotPermissions warns at startup when the bot cannot manage the channel.
// Operations still run; each failure is reported where it happens.
func checkBotPermissions(ctx context.Context, gw gateway.Gateway, channelID int64) {
	if channelID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	perms, err := gw.GetBotPermissions(ctx, channelID)
	if err != nil {
		slog.Warn("could not read bot permissions", "channel_id", channelID, "error", err)
		return
	}
	if !perms.CanInviteUsers || !perms.CanRestrictMembers {
		slog.Warn("bot lacks channel admin rights",
			"channel_id", channelID,
			"can_invite", perms.CanInviteUsers,
			"can_restrict", perms.CanRestrictMembers,
		)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
