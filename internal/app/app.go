// Package app assembles the ledger's components from configuration. The
// HTTP server and the ops CLI share it.
package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"carbonledger/internal/config"
	"carbonledger/internal/db"
	"carbonledger/internal/fees"
	"carbonledger/internal/logger"
	"carbonledger/internal/notify"
	"carbonledger/internal/processor"
	"carbonledger/internal/project"
	"carbonledger/internal/ratelimit"
	"carbonledger/internal/server"
	"carbonledger/internal/settlement"
	"carbonledger/internal/store"
	"carbonledger/internal/webhook"
)

type App struct {
	Config     *config.Config
	DB         *sqlx.DB
	Redis      *redis.Client
	Store      store.Store
	Projects   project.Listings
	Processors *processor.Registry
	Settlement settlement.Service
	Reconciler *webhook.Reconciler
	Poller     *webhook.Poller
	Queue      *notify.Queue
	Limiter    ratelimit.Limiter
}

// Build connects to the configured backends and wires the services. With
// migrate set, pending schema migrations are applied first.
func Build(ctx context.Context, cfg *config.Config, migrate bool) (*App, error) {
	a := &App{Config: cfg}

	switch cfg.StoreDriver {
	case "postgres":
		logger.Info("Connecting to database...")
		database, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLife,
		})
		if err != nil {
			return nil, err
		}
		a.DB = database
		if migrate {
			if err := db.RunMigrations(database, cfg.MigrationsPath); err != nil {
				a.Close()
				return nil, err
			}
			logger.Info("Migrations completed")
		}
		a.Store = store.NewPostgres(database)
	default:
		logger.Warn("Using in-memory store; state is lost on restart")
		a.Store = store.NewMemory()
	}

	var catalog project.Catalog
	if a.DB != nil {
		cached, err := project.NewCachedCatalog(project.NewRepository(a.DB), cfg.ProjectCacheSize, cfg.ProjectCacheTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		catalog = cached
		a.Projects = cached
	}

	var procCfgs []config.ProcessorConfig
	if cfg.ProcessorsFile != "" {
		var err error
		if procCfgs, err = config.LoadProcessors(cfg.ProcessorsFile); err != nil {
			a.Close()
			return nil, err
		}
	}
	policy := processor.DefaultRetryPolicy()
	policy.MaxRetries = uint64(cfg.ProcessorMaxRetries)
	policy.CallTimeout = cfg.ProcessorTimeout
	registry, err := processor.FromConfig(procCfgs, policy)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Processors = registry
	logger.Info("Processors registered", "processors", registry.Names())

	var notifier notify.Dispatcher = notify.LogDispatcher{}
	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		var publisher notify.Publisher = notify.LogPublisher{}
		if len(cfg.KafkaBrokers) > 0 {
			publisher = notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		}
		a.Queue = notify.NewQueue(a.Redis, publisher)
		notifier = a.Queue
	}

	a.Limiter = newLimiter(cfg, a.Redis)

	a.Settlement = settlement.NewService(settlement.Options{
		Store:      a.Store,
		Processors: registry,
		Calculator: fees.NewCalculator(cfg.NetworkFee),
		Catalog:    catalog,
		Notifier:   notifier,
		Currency:   cfg.Currency,
	})
	a.Reconciler = webhook.NewReconciler(a.Store, a.Settlement)
	a.Poller = webhook.NewPoller(a.Store, a.Settlement, registry, webhook.PollerConfig{
		Interval:      cfg.ReconcileInterval,
		MinAge:        cfg.ReconcileMinAge,
		MaxAttempts:   cfg.ReconcileMaxAttempts,
		ActionTimeout: cfg.ActionTimeout,
	})

	return a, nil
}

// newLimiter picks the shared Redis window when Redis is available and asked
// for. The window allows a minute's worth of the configured rate.
func newLimiter(cfg *config.Config, rdb *redis.Client) ratelimit.Limiter {
	if cfg.RateLimitBackend == "redis" && rdb != nil {
		limit := int(math.Ceil(cfg.RateLimitRPS * 60))
		if limit < cfg.RateLimitBurst {
			limit = cfg.RateLimitBurst
		}
		return ratelimit.NewRedis(rdb, limit, time.Minute)
	}
	return ratelimit.NewMemory(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute)
}

// HealthChecks pings the external backends this instance depends on.
func (a *App) HealthChecks() map[string]server.HealthCheck {
	checks := map[string]server.HealthCheck{}
	if a.DB != nil {
		checks["postgres"] = a.DB.PingContext
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return checks
}

func (a *App) Close() {
	if a.Limiter != nil {
		_ = a.Limiter.Close()
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			logger.WithError(err).Warn("failed to close notification queue")
		}
	} else if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
