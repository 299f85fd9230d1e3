package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// DatabaseUrl is optional. When empty, alerts, snapshots and
	// subscriptions are kept in memory.
	DatabaseUrl string

	// Usage Store Configuration
	UsageStore     string // "memory", "postgres" or "redis"
	RedisURL       string
	RedisKeyPrefix string

	// Plans
	DefaultPlan     string
	AutoProvision   bool
	PlanCatalogPath string // Optional YAML catalog; built-in plans when empty

	// Timeouts for store calls on the request path
	QuotaTimeout time.Duration
	AlertTimeout time.Duration

	// Worker Configuration
	WorkerEnabled            bool
	WorkerJobTimeout         time.Duration
	WorkerMaxAttempts        int
	RolloverInterval         time.Duration
	AlertSweepInterval       time.Duration
	SnapshotFlushInterval    time.Duration
	SubscriptionSyncInterval time.Duration

	// Activity monitoring
	ActivityMinRPM      int64
	ActivitySpikeFactor float64
	LatencyThreshold    time.Duration
	ErrorRateThreshold  float64

	// SMTP Configuration
	// Alert emails are logged instead of sent when SMTPHost is empty.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Application base URL (for email links)
	BaseURL string

	// Snapshot Archive Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string

	// Stripe Billing Configuration
	// Subscription sync is disabled when StripeSecretKey is empty.
	StripeSecretKey string

	// Stripe Price IDs for subscription plans
	StripeStarterMonthlyPriceID      string
	StripeStarterYearlyPriceID       string
	StripeProfessionalMonthlyPriceID string
	StripeProfessionalYearlyPriceID  string
	StripeEnterpriseMonthlyPriceID   string
	StripeEnterpriseYearlyPriceID    string

	// Operator access
	// bcrypt hash of the operator bearer token. Operator routes answer 403
	// when empty.
	AdminTokenHash string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:         getEnv("ENV", "development"),
		Port:        getEnvInt("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "debug"),
		DatabaseUrl: getEnv("DATABASE_URL", ""),

		UsageStore:     getEnv("USAGE_STORE", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "wrenchly"),

		DefaultPlan:     getEnv("DEFAULT_PLAN", "starter"),
		AutoProvision:   getEnvBool("AUTO_PROVISION", true),
		PlanCatalogPath: getEnv("PLAN_CATALOG_PATH", ""),

		QuotaTimeout: getEnvDuration("QUOTA_TIMEOUT", 2*time.Second),
		AlertTimeout: getEnvDuration("ALERT_TIMEOUT", 2*time.Second),

		// Worker defaults
		WorkerEnabled:            getEnvBool("WORKER_ENABLED", true),
		WorkerJobTimeout:         getEnvDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),
		WorkerMaxAttempts:        getEnvInt("WORKER_MAX_ATTEMPTS", 3),
		RolloverInterval:         getEnvDuration("ROLLOVER_INTERVAL", time.Hour),
		AlertSweepInterval:       getEnvDuration("ALERT_SWEEP_INTERVAL", 15*time.Minute),
		SnapshotFlushInterval:    getEnvDuration("SNAPSHOT_FLUSH_INTERVAL", time.Minute),
		SubscriptionSyncInterval: getEnvDuration("SUBSCRIPTION_SYNC_INTERVAL", time.Hour),

		// Activity defaults
		ActivityMinRPM:      int64(getEnvInt("ACTIVITY_MIN_RPM", 300)),
		ActivitySpikeFactor: getEnvFloat("ACTIVITY_SPIKE_FACTOR", 3),
		LatencyThreshold:    getEnvDuration("LATENCY_THRESHOLD", 2*time.Second),
		ErrorRateThreshold:  getEnvFloat("ERROR_RATE_THRESHOLD", 10),

		// SMTP is disabled unless a host is configured
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@wrenchly.app"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Wrenchly"),

		// Base URL defaults to localhost for development
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		// Archive defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),

		// Stripe billing (optional)
		StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),

		StripeStarterMonthlyPriceID:      getEnv("STRIPE_STARTER_MONTHLY_PRICE_ID", ""),
		StripeStarterYearlyPriceID:       getEnv("STRIPE_STARTER_YEARLY_PRICE_ID", ""),
		StripeProfessionalMonthlyPriceID: getEnv("STRIPE_PROFESSIONAL_MONTHLY_PRICE_ID", ""),
		StripeProfessionalYearlyPriceID:  getEnv("STRIPE_PROFESSIONAL_YEARLY_PRICE_ID", ""),
		StripeEnterpriseMonthlyPriceID:   getEnv("STRIPE_ENTERPRISE_MONTHLY_PRICE_ID", ""),
		StripeEnterpriseYearlyPriceID:    getEnv("STRIPE_ENTERPRISE_YEARLY_PRICE_ID", ""),

		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// The usage store follows the database unless chosen explicitly.
	if cfg.UsageStore == "" {
		cfg.UsageStore = "memory"
		if cfg.DatabaseUrl != "" {
			cfg.UsageStore = "postgres"
		}
	}

	// Validate usage store configuration
	switch cfg.UsageStore {
	case "memory":
	case "postgres":
		if cfg.DatabaseUrl == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when USAGE_STORE is 'postgres'")
		}
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when USAGE_STORE is 'redis'")
		}
	default:
		return nil, fmt.Errorf("USAGE_STORE must be one of 'memory', 'postgres' or 'redis', got: %s", cfg.UsageStore)
	}

	// Validate storage configuration
	if cfg.StorageProvider == "r2" {
		if cfg.R2AccountID == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return nil, fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return nil, fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return nil, fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StorageProvider != "local" {
		return nil, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	if cfg.QuotaTimeout <= 0 {
		return nil, fmt.Errorf("QUOTA_TIMEOUT must be positive, got: %s", cfg.QuotaTimeout)
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
