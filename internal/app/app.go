// Package app wires configuration into the ledger's collaborators. Both the
// API server and the CLI build their dependencies through it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-ledger/internal/archive"
	"github.com/dvloznov/expense-ledger/internal/config"
	infraBQ "github.com/dvloznov/expense-ledger/internal/infra/bigquery"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/dvloznov/expense-ledger/internal/rates"
	"github.com/dvloznov/expense-ledger/internal/store"
	"github.com/dvloznov/expense-ledger/internal/store/sqlite"
	"github.com/dvloznov/expense-ledger/internal/upload"
)

// App holds the wired collaborators.
type App struct {
	Config   config.Config
	Store    store.Repository
	Rates    rates.Resolver
	Importer *pipeline.Importer
	Service  *ledger.Service
	Decoder  *upload.Decoder

	// Archiver is nil when no archive bucket is configured.
	Archiver *archive.GCSArchiver
	// BigQuery is set only for the bigquery backend.
	BigQuery *infraBQ.Repository

	closers []func() error
}

// Build opens the configured store and wires the service around it. The
// sqlite backend is migrated on open.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg}

	if err := a.openStore(ctx, cfg); err != nil {
		return nil, err
	}

	a.Rates = NewResolver(cfg.Rates, log)

	opts := pipeline.Options{DateLayout: cfg.Import.DateLayout}
	if cfg.Archive.Bucket != "" {
		archiver, err := archive.NewGCSArchiver(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("Build: archive: %w", err)
		}
		a.Archiver = archiver
		a.closers = append(a.closers, archiver.Close)
		opts.Archiver = archiver
	} else {
		log.Warn().Msg("No archive bucket configured - uploads will not be archived")
	}

	a.Importer = pipeline.NewImporter(a.Store, a.Rates, opts)
	a.Service = ledger.NewService(a.Store, a.Rates, a.Importer)
	a.Decoder = upload.NewDecoder(upload.Headers{
		Date:        cfg.Import.Headers.Date,
		Description: cfg.Import.Headers.Description,
		Amount:      cfg.Import.Headers.Amount,
		Currency:    cfg.Import.Headers.Currency,
	}).WithDateLayout(cfg.Import.DateLayout)

	log.Info().
		Str("backend", cfg.Storage.Backend).
		Str("reference_currency", a.Rates.Reference()).
		Bool("live_rates", cfg.Rates.Live.Enabled).
		Bool("archive", a.Archiver != nil).
		Msg("Ledger initialized")

	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) error {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		db, err := sqlite.OpenAndMigrate(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("Build: sqlite: %w", err)
		}
		a.Store = sqlite.NewRepository(db)
		a.closers = append(a.closers, db.Close)
	case config.BackendBigQuery:
		repo, err := infraBQ.NewRepository(ctx, cfg.Storage.BigQuery.Project, cfg.Storage.BigQuery.Dataset)
		if err != nil {
			return fmt.Errorf("Build: bigquery: %w", err)
		}
		a.Store = repo
		a.BigQuery = repo
		a.closers = append(a.closers, repo.Close)
	default:
		return fmt.Errorf("Build: unknown storage backend %q", cfg.Storage.Backend)
	}
	return nil
}

// NewResolver returns the static table for cfg, wrapped in a live provider
// when live rates are enabled.
func NewResolver(cfg config.RatesConfig, log zerolog.Logger) rates.Resolver {
	var table *rates.StaticTable
	if cfg.Reference == "" || rates.NormalizeCode(cfg.Reference) == rates.DefaultReference {
		table = rates.DefaultTable(cfg.Static)
	} else {
		table = rates.NewStaticTable(cfg.Reference, cfg.Static)
	}

	if !cfg.Live.Enabled {
		return table
	}
	return rates.NewLiveProvider(rates.LiveConfig{
		BaseURL:           cfg.Live.BaseURL,
		APIKey:            cfg.Live.APIKey,
		CacheTTL:          cfg.Live.CacheTTL,
		CacheSize:         cfg.Live.CacheSize,
		RequestsPerSecond: cfg.Live.RequestsPerSecond,
		Timeout:           cfg.Live.Timeout,
	}, table, nil, log)
}

// Close releases everything Build opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
