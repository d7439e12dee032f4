package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/storybook-backend/internal/data/db"
	"github.com/yungbote/storybook-backend/internal/data/repos"
	apphttp "github.com/yungbote/storybook-backend/internal/http"
	"github.com/yungbote/storybook-backend/internal/observability"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	Hub      *realtime.Hub
	Server   *apphttp.Server
	Workers  *Workers

	dbService    *db.Service
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With("app_mode", cfg.Mode)

	a, err := build(ctx, log, cfg)
	if err != nil {
		log.Error("Startup failed", "error", err)
		log.Sync()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	a := &App{Log: log, Cfg: cfg}

	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "storybook",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	observability.Init(log)

	dbs, err := db.Open(db.Config{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DatabaseURL,
		MaxOpenConns: cfg.DBMaxOpenConns,
		SlowQuery:    cfg.DBSlowQuery,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.dbService = dbs
	a.DB = dbs.DB()
	if err := db.AutoMigrateAll(a.DB); err != nil {
		a.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	a.Repos = wireRepos(a.DB, log)
	if err := seedCatalog(ctx, log, cfg, a.Repos.Catalog); err != nil {
		a.Close()
		return nil, err
	}

	a.Clients, err = wireClients(ctx, log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Hub = realtime.NewHub(log)
	a.Services, err = wireServices(a.DB, log, cfg, a.Repos, a.Clients, a.Hub)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.RunsWorker() {
		a.Workers, err = wireWorkers(a.DB, log, cfg, a.Repos, a.Services, a.Clients)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	if cfg.RunsAPI() {
		handlers := wireHandlers(a.DB, log, a.Repos, a.Services, a.Hub)
		a.Server = wireServer(log, cfg, handlers, a.Clients)
	}
	return a, nil
}

// seedCatalog upserts the embedded catalog, or CATALOG_SEED_FILE when set.
func seedCatalog(ctx context.Context, log *logger.Logger, cfg Config, catalog repos.CatalogRepo) error {
	var (
		seed repos.CatalogSeed
		err  error
	)
	if cfg.CatalogSeedFile != "" {
		seed, err = repos.LoadCatalogSeedFile(cfg.CatalogSeedFile)
	} else {
		seed, err = repos.DefaultCatalogSeed()
	}
	if err != nil {
		return fmt.Errorf("load catalog seed: %w", err)
	}
	if err := catalog.Upsert(dbctx.Context{Ctx: ctx}, seed); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	log.Info("Catalog seeded", "themes", len(seed.Themes), "languages", len(seed.Languages), "tones", len(seed.Tones), "file", cfg.CatalogSeedFile)
	return nil
}

// Start launches everything that runs in the background: the realtime
// forwarder, workers and collectors. It returns once they are running.
func (a *App) Start(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.Cfg.RunsAPI() {
		if err := a.Clients.Bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
			return fmt.Errorf("start realtime forwarder: %w", err)
		}
	}
	if a.Workers != nil {
		if err := a.Workers.Start(ctx); err != nil {
			return err
		}
	}

	metrics := observability.Current()
	metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	metrics.StartPostgresCollector(ctx, a.Log, a.DB)
	metrics.StartRedisCollector(ctx, a.Log, a.Cfg.RedisAddr)
	metrics.StartJobQueueCollector(ctx, a.Log, a.DB)
	return nil
}

// Run starts the app and blocks until ctx is done. The HTTP server is only
// served in api and all modes.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	if a.Server == nil {
		a.Log.Info("Worker running")
		<-ctx.Done()
		return nil
	}
	a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
	err := a.Server.Run(ctx, a.Cfg.HTTPAddr, a.Cfg.ShutdownGrace)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Workers.Wait()
	a.Clients.Close()
	if a.dbService != nil {
		if err := a.dbService.Close(); err != nil && a.Log != nil {
			a.Log.Warn("Database close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
