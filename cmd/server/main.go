package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/config"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/database"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/events"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/logging"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/repository"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/services"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "subgate",
	Short:   "Subscription-gated channel bot",
	Long:    `Runs the Telegram bot, the membership reconciler and the admin API for a paid channel.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, reconciler and HTTP API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logging.Setup(cfg.LogLevel)
		if cfg.DBPassword == "" {
			return errors.New("DB_PASSWORD is required")
		}

		db, err := database.Connect(cfg)
		if err != nil {
			return err
		}
		defer database.Close(db)

		return database.Migrate(cmd.Context(), db)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciler pass and print the reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.Load()
		logging.Setup(cfg.LogLevel)
		if err := cfg.Validate(); err != nil {
			return err
		}

		db, err := database.Connect(cfg)
		if err != nil {
			return err
		}
		defer database.Close(db)

		tg, err := gateway.NewTelegram(gateway.TelegramConfig{
			Token:      cfg.BotToken,
			Timeout:    cfg.GatewayTimeout,
			RatePerSec: cfg.GatewayRatePerSec,
			Debug:      cfg.BotDebug,
		})
		if err != nil {
			return err
		}

		reconciler := services.NewReconciler(repository.New(db), tg, events.Noop{}, services.SystemClock{}, reconcilerConfig(cfg))
		expired, expiring, err := reconciler.RunOnce(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"expired": expired, "expiring": expiring})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	ctx, stop := signalContext()
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func reconcilerConfig(cfg *config.Config) services.ReconcilerConfig {
	return services.ReconcilerConfig{
		ChannelID:           cfg.ChannelID,
		Interval:            cfg.SweepInterval,
		ReminderWindow:      cfg.ReminderWindow,
		MaxEvictionAttempts: cfg.MaxEvictionAttempts,
	}
}

func inviteConfig(cfg *config.Config) services.InviteConfig {
	return services.InviteConfig{
		ChannelID:      cfg.ChannelID,
		TTL:            cfg.InviteTTL,
		GatewayTimeout: cfg.GatewayTimeout,
		RedeemPolicy:   cfg.InviteRedeemPolicy,
	}
}
