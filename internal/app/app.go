// Package app assembles the usage service from configuration. The HTTP
// server and the operator CLI share it so both see the same stores.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/wrenchly/internal"
	"github.com/DukeRupert/wrenchly/internal/billing"
	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/email"
	"github.com/DukeRupert/wrenchly/internal/handler"
	"github.com/DukeRupert/wrenchly/internal/plans"
	"github.com/DukeRupert/wrenchly/internal/repository"
	"github.com/DukeRupert/wrenchly/internal/service"
	"github.com/DukeRupert/wrenchly/internal/storage"
	"github.com/DukeRupert/wrenchly/internal/usagestore"
)

// App holds the wired stores and services.
type App struct {
	Catalog       *plans.Catalog
	Store         usagestore.Store
	Alerts        repository.AlertRepository
	Snapshots     repository.SnapshotRepository
	Subscriptions repository.SubscriptionRepository
	Recorder      *service.SnapshotRecorder

	Quota    service.QuotaService
	Alerting service.AlertService
	Report   service.ReportService
	Rollover service.RolloverService

	// Billing is nil when Stripe is not configured.
	Billing billing.Service

	// Checks are the readiness checks for external dependencies.
	Checks map[string]handler.Pinger

	pool  *pgxpool.Pool
	redis *redis.Client
}

// New connects to the configured backends, applies migrations and builds
// the services.
func New(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*App, error) {
	a := &App{Checks: make(map[string]handler.Pinger)}

	catalog, err := LoadCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}
	a.Catalog = catalog

	if cfg.DatabaseUrl != "" {
		if err := a.openDatabase(ctx, cfg.DatabaseUrl, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	if err := a.openStore(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("Usage store ready", "provider", cfg.UsageStore)

	if a.pool != nil {
		a.Alerts = repository.NewAlertRepository(a.pool)
		a.Snapshots = repository.NewSnapshotRepository(a.pool)
		a.Subscriptions = repository.NewSubscriptionRepository(a.pool)
	} else {
		a.Alerts = repository.NewMemoryAlertRepository()
		a.Snapshots = repository.NewMemorySnapshotRepository()
		a.Subscriptions = repository.NewMemorySubscriptionRepository()
	}

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	archive, err := newArchive(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Recorder = service.NewSnapshotRecorder(a.Snapshots, logger)
	a.Alerting = service.NewAlertService(a.Store, catalog, a.Alerts, a.Subscriptions, mailer, service.AlertConfig{
		Timeout: cfg.AlertTimeout,
		Activity: service.ActivityConfig{
			MinRPM:             cfg.ActivityMinRPM,
			SpikeFactor:        cfg.ActivitySpikeFactor,
			LatencyThreshold:   cfg.LatencyThreshold,
			ErrorRateThreshold: cfg.ErrorRateThreshold,
		},
	}, logger)
	a.Quota = service.NewQuotaService(a.Store, catalog, service.QuotaConfig{
		Timeout:       cfg.QuotaTimeout,
		AutoProvision: cfg.AutoProvision,
		Recorder:      a.Recorder,
		Resolver:      a.Alerting,
	}, logger)
	a.Report = service.NewReportService(a.Quota, catalog, a.Snapshots, a.Subscriptions, a.Alerts, a.Recorder, archive, logger)
	a.Rollover = service.NewRolloverService(a.Store, a.Alerting, a.Report, logger, service.WithStoreTimeout(cfg.QuotaTimeout))

	if cfg.StripeSecretKey != "" {
		a.Billing = billing.NewStripeService(cfg.StripeSecretKey, billing.PriceConfig{
			StarterMonthlyPriceID:      cfg.StripeStarterMonthlyPriceID,
			StarterYearlyPriceID:       cfg.StripeStarterYearlyPriceID,
			ProfessionalMonthlyPriceID: cfg.StripeProfessionalMonthlyPriceID,
			ProfessionalYearlyPriceID:  cfg.StripeProfessionalYearlyPriceID,
			EnterpriseMonthlyPriceID:   cfg.StripeEnterpriseMonthlyPriceID,
			EnterpriseYearlyPriceID:    cfg.StripeEnterpriseYearlyPriceID,
		})
	}

	return a, nil
}

// Close releases backend connections.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) openDatabase(ctx context.Context, url string, logger *slog.Logger) error {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.pool = pool

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	version, err := internal.RunMigrations(ctx, db, logger)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready", "schema_version", version)

	a.Checks["postgres"] = handler.PingFunc(pool.Ping)
	return nil
}

func (a *App) openStore(ctx context.Context, cfg *internal.Config) error {
	switch cfg.UsageStore {
	case usagestore.ProviderPostgres:
		a.Store = usagestore.NewPostgresStore(a.pool)
	case usagestore.ProviderRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.redis = client
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		a.Store = usagestore.NewRedisStore(client, cfg.RedisKeyPrefix)
		a.Checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	default:
		a.Store = usagestore.NewMemoryStore()
	}
	return nil
}

// LoadCatalog returns the configured plan catalog, or the built-in plans
// when no catalog file is set.
func LoadCatalog(cfg *internal.Config) (*plans.Catalog, error) {
	defaultPlan := domain.PlanID(cfg.DefaultPlan)
	if cfg.PlanCatalogPath != "" {
		return plans.Load(cfg.PlanCatalogPath, defaultPlan)
	}
	return plans.NewDefault(defaultPlan)
}

// newMailer returns nil when SMTP is not configured in production, so
// alerts are stored without notification. Development logs instead.
func newMailer(cfg *internal.Config, logger *slog.Logger) (email.EmailService, error) {
	if cfg.SMTPHost == "" {
		if cfg.IsDevelopment() {
			return email.NewLogEmailService(logger), nil
		}
		return nil, nil
	}

	mailer, err := email.NewSMTPEmailService(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, cfg.BaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("email service initialization failed: %w", err)
	}
	return mailer, nil
}

func newArchive(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		s, err := storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("r2 storage initialization failed: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.LocalStoragePath}, logger)
		if err != nil {
			return nil, fmt.Errorf("local storage initialization failed: %w", err)
		}
		return s, nil
	}
}
