package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/categorization"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/codex"
	importhandler "github.com/FACorreiaa/ledger-ingest/internal/domain/import/handler"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/ledger-ingest/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-ingest/pkg/config"
	"github.com/FACorreiaa/ledger-ingest/pkg/cron"
	"github.com/FACorreiaa/ledger-ingest/pkg/db"
	"github.com/FACorreiaa/ledger-ingest/pkg/metrics"
	"github.com/FACorreiaa/ledger-ingest/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB // nil when running on the in-memory store
	Logger *slog.Logger

	// Repositories
	Store   repository.Store
	Catalog *catalog.Catalog

	// Services
	Keys                  *codex.KeyRing
	Codex                 *codex.Codex
	CategorizationService *categorization.Service
	ImportService         *importservice.ImportService
	FileStorage           storage.Storage
	Metrics               *metrics.Metrics
	Scheduler             *cron.Scheduler

	// Handlers
	ImportHandler *importhandler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize repositories
	if err := deps.initRepositories(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	// Initialize services
	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	// Initialize handlers
	if err := deps.initHandlers(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	if !d.Config.Database.Enabled() {
		d.Logger.Warn("no database configured, using the in-memory store")
		return nil
	}

	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	if d.DB != nil {
		d.Store = repository.NewPostgresStore(d.DB.Pool)
	} else {
		d.Store = repository.NewMemoryStore()
	}

	cat, err := catalog.Default()
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	d.Catalog = cat

	d.Logger.Info("repositories initialized", "postgres", d.DB != nil)
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	keys, err := d.keyRing()
	if err != nil {
		return err
	}
	d.Keys = keys
	d.Codex = codex.New(d.Store, keys, keys, d.Logger)

	d.CategorizationService, err = categorization.NewService(d.Store, d.Codex, d.Catalog, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to init categorization service: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.CategorizationService.RefreshPatterns(ctx); err != nil {
		d.Logger.Warn("initial global pattern load failed", slog.Any("error", err))
	}

	d.Metrics = metrics.New()

	ingest := d.Config.Ingest
	d.ImportService = importservice.NewImportService(d.Store, d.Catalog, importservice.Config{
		Timeout:     ingest.ImportTimeout,
		Workers:     ingest.Workers,
		PreviewRows: ingest.PreviewRows,
		TaxRate:     decimal.NewFromFloat(ingest.TaxRate),
	}, d.Logger).
		WithCategorizationService(d.CategorizationService).
		WithMetrics(d.Metrics)

	// File storage archives raw uploads when a path is configured
	if path := d.Config.Storage.LocalPath; path != "" {
		fileStorage, err := storage.NewLocalStorage(path)
		if err != nil {
			return fmt.Errorf("failed to init file storage: %w", err)
		}
		d.FileStorage = fileStorage
		d.ImportService.WithStorage(fileStorage)
	}

	d.Scheduler = cron.NewScheduler(d.CategorizationService, d.Config.Scheduler.RefreshSpec, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// keyRing derives the codex keys from the configured master key. The
// in-memory store may run with an ephemeral key since nothing outlives the
// process.
func (d *Dependencies) keyRing() (*codex.KeyRing, error) {
	var (
		master []byte
		err    error
	)
	if encoded := d.Config.Codex.MasterKey; encoded != "" {
		master, err = codex.ParseMasterKey(encoded)
	} else if d.DB == nil {
		d.Logger.Warn("no codex master key configured, generating an ephemeral key")
		master, err = codex.GenerateMasterKey()
	} else {
		err = errors.New("codex master key is required with a database")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load codex master key: %w", err)
	}
	return codex.NewKeyRing(master)
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, d.Logger).
		WithMaxUpload(d.Config.Server.MaxUploadBytes)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.Scheduler != nil {
		<-d.Scheduler.Stop().Done()
	}
	if d.CategorizationService != nil {
		if err := d.CategorizationService.Close(); err != nil {
			d.Logger.Warn("failed to close categorization service", slog.Any("error", err))
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
