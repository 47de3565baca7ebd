package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RedeemPolicyGrandfather   = "grandfather"
	RedeemPolicyRevokeOnLapse = "revoke_on_lapse"
)

type Config struct {
	// Database
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	AutoMigrate bool

	// Messaging gateway
	BotToken          string
	ChannelID         int64
	GatewayTimeout    time.Duration
	GatewayRatePerSec int
	BotDebug          bool

	// Subscription lifecycle
	SweepInterval       time.Duration
	ReminderWindow      time.Duration
	InviteTTL           time.Duration
	MaxEvictionAttempts int
	InviteRedeemPolicy  string
	PlansPath           string

	// Admin
	AdminIDs          []int64
	AdminToken        string
	AdminUsername     string
	AdminPasswordHash string
	JWTSecret         string
	JWTExpiry         time.Duration

	// Server
	Port                 string
	CORSOrigins          string
	PaymentWebhookSecret string

	// Events
	NATSURL            string
	NATSPaymentSubject string

	// Observability
	SentryDSN        string
	AppEnv           string
	LogLevel         string
	LogRetentionDays int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "subgate"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		AutoMigrate: getEnvBool("AUTO_MIGRATE", true),

		BotToken:          getEnv("BOT_TOKEN", ""),
		ChannelID:         getEnvInt64("CHANNEL_ID", 0),
		GatewayTimeout:    getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		GatewayRatePerSec: getEnvInt("GATEWAY_RATE_PER_SEC", 25),
		BotDebug:          getEnvBool("BOT_DEBUG", false),

		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", time.Hour),
		ReminderWindow:      getEnvDuration("REMINDER_WINDOW", 24*time.Hour),
		InviteTTL:           getEnvDuration("INVITE_TTL", 24*time.Hour),
		MaxEvictionAttempts: getEnvInt("MAX_EVICTION_ATTEMPTS", 3),
		InviteRedeemPolicy:  getEnv("INVITE_REDEEM_POLICY", RedeemPolicyGrandfather),
		PlansPath:           getEnv("PLANS_PATH", "plans.yaml"),

		AdminIDs:          getEnvInt64List("ADMIN_IDS"),
		AdminToken:        getEnv("ADMIN_TOKEN", ""),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 12*time.Hour),

		Port:                 getEnv("PORT", "8080"),
		CORSOrigins:          getEnv("CORS_ORIGINS", "*"),
		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),

		NATSURL:            getEnv("NATS_URL", ""),
		NATSPaymentSubject: getEnv("NATS_PAYMENT_SUBJECT", "payments.succeeded"),

		SentryDSN:        getEnv("SENTRY_DSN", ""),
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogRetentionDays: getEnvInt("LOG_RETENTION_DAYS", 30),
	}
}

// Validate reports the settings the long-running server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPassword == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required"))
	}
	if c.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.ReminderWindow < c.SweepInterval {
		errs = append(errs, errors.New("REMINDER_WINDOW must not be shorter than SWEEP_INTERVAL"))
	}
	switch c.InviteRedeemPolicy {
	case RedeemPolicyGrandfather, RedeemPolicyRevokeOnLapse:
	default:
		errs = append(errs, errors.New("INVITE_REDEEM_POLICY must be grandfather or revoke_on_lapse"))
	}
	return errors.Join(errs...)
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func (c *Config) IsAdmin(platformID int64) bool {
	for _, id := range c.AdminIDs {
		if id == platformID {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvInt64List parses a comma separated id list, skipping malformed entries.
func getEnvInt64List(key string) []int64 {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id == 0 {
			continue
		}
		result = append(result, id)
	}
	return result
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
