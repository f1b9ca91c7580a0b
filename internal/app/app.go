// Package app builds the stores and pipeline shared by the commands from
// a loaded config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-capture/internal/assetstore"
	assetmem "github.com/dvloznov/receipt-capture/internal/assetstore/inmemory"
	"github.com/dvloznov/receipt-capture/internal/config"
	"github.com/dvloznov/receipt-capture/internal/database"
	infraBQ "github.com/dvloznov/receipt-capture/internal/infra/bigquery"
	"github.com/dvloznov/receipt-capture/internal/imaging"
	"github.com/dvloznov/receipt-capture/internal/jobs"
	jobsfs "github.com/dvloznov/receipt-capture/internal/jobs/firestore"
	jobsmem "github.com/dvloznov/receipt-capture/internal/jobs/inmemory"
	"github.com/dvloznov/receipt-capture/internal/pipeline"
	receiptstore "github.com/dvloznov/receipt-capture/internal/receipt/store"
	"github.com/dvloznov/receipt-capture/internal/recognition"
	"github.com/dvloznov/receipt-capture/internal/reconcile"
	"github.com/dvloznov/receipt-capture/internal/retry"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
	taxonomystore "github.com/dvloznov/receipt-capture/internal/taxonomy/store"
)

const memoryBucket = "receipts"

type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *sql.DB
	Records  *receiptstore.Store
	Taxonomy *taxonomystore.Store
	Defaults taxonomy.Defaults
	Assets   assetstore.Store
	Jobs     jobs.JobStore

	closers []func() error
}

// New connects the database, the asset store and the job store. It does
// not touch the recognition service.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	defaults, err := taxonomy.LoadDefaults()
	if err != nil {
		return nil, err
	}
	a.Defaults = defaults

	db, err := database.New(ctx, cfg.DB.Driver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	a.Records = receiptstore.NewStore(db)
	a.Taxonomy = taxonomystore.NewStore(db)

	if err := a.openAssets(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openJobs(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openAssets(ctx context.Context) error {
	var store assetstore.Store
	switch a.Config.Storage.Backend {
	case "gcs":
		gcs, err := assetstore.NewGCS(ctx, a.Config.Storage.Bucket, a.Config.Storage.Endpoint)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, gcs.Close)
		store = gcs
	default:
		bucket := a.Config.Storage.Bucket
		if bucket == "" {
			bucket = memoryBucket
		}
		a.Log.Warn().Str("bucket", bucket).Msg("Using in-memory asset store; images are lost on exit")
		store = assetmem.NewStore(bucket)
	}

	a.Assets = assetstore.WithRetry(store, retry.Policy{
		Retries:    a.Config.Storage.Retries,
		Initial:    200 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
	})
	return nil
}

func (a *App) openJobs(ctx context.Context) error {
	switch a.Config.Jobs.Store {
	case "firestore":
		client, err := jobsfs.NewClient(ctx, a.Config.Jobs.Project)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.Jobs = jobsfs.NewStore(client, a.Config.Jobs.Collection)
	default:
		a.Jobs = jobsmem.NewStore()
	}
	return nil
}

// NewQueue returns the worker pool used by long-running processes.
func (a *App) NewQueue() *jobsmem.Queue {
	return jobsmem.NewQueue(a.Config.App.QueueSize, a.Jobs,
		jobsmem.WithWorkers(a.Config.App.Workers),
		jobsmem.WithLogger(a.Log),
	)
}

// Orchestrator builds the capture pipeline on top of publisher, connecting
// the recognition service and, when enabled, the model output audit.
func (a *App) Orchestrator(ctx context.Context, publisher jobs.Publisher) (*pipeline.Orchestrator, error) {
	cfg := a.Config

	recognizer, err := recognition.NewGeminiClient(ctx, recognition.GeminiConfig{
		Models:     cfg.Recognition.Models,
		APIKey:     cfg.Recognition.APIKey,
		APIVersion: cfg.Recognition.APIVersion,
		Vertex:     cfg.Recognition.Vertex,
		Project:    cfg.Recognition.Project,
		Location:   cfg.Recognition.Location,
		Timeout:    cfg.Recognition.Timeout,
	})
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Records:    a.Records,
		Taxonomy:   a.Taxonomy,
		Assets:     a.Assets,
		Normalizer: imaging.NewNormalizer(),
		Recognizer: recognizer,
		Reconciler: reconcile.NewEngine(a.Taxonomy),
		Publisher:  publisher,
	}

	if cfg.Audit.Enabled {
		client, err := infraBQ.NewClient(ctx, cfg.Audit.Project)
		if err != nil {
			return nil, err
		}
		sink := infraBQ.NewModelOutputSink(client, cfg.Audit.Project, cfg.Audit.Dataset, cfg.Audit.Table)
		a.closers = append(a.closers, sink.Close)
		deps.Audit = sink
	}

	return pipeline.New(deps,
		pipeline.WithNormalizeOptions(imaging.Options{
			AutoCrop:     cfg.Normalize.AutoCrop,
			Quality:      cfg.Normalize.Quality,
			MaxDimension: cfg.Normalize.MaxDimension,
			MaxBytes:     cfg.Normalize.MaxBytes,
		}),
		pipeline.WithRecognitionPolicy(retry.Policy{
			Retries:    cfg.Recognition.Retries,
			Initial:    cfg.Recognition.Backoff,
			Max:        10 * cfg.Recognition.Backoff,
			Multiplier: 2,
		}),
		pipeline.WithDefaultCurrency(cfg.App.DefaultCurrency),
		pipeline.WithMaxJobRetries(cfg.Pipeline.MaxJobRetries),
		pipeline.WithDefaults(a.Defaults),
	)
}

// NewSweeper returns a sweeper using the configured ceilings.
func (a *App) NewSweeper() *pipeline.Sweeper {
	return pipeline.NewSweeper(a.Records, a.Config.Pipeline.StaleAfter, a.Config.Pipeline.SweepInterval)
}

// Migrate applies pending embedded migrations.
func (a *App) Migrate(ctx context.Context, appliedBy string) ([]database.Migration, error) {
	migrations, err := database.Migrations()
	if err != nil {
		return nil, err
	}
	applied, err := database.Migrate(ctx, a.DB, migrations, appliedBy)
	if err != nil {
		return applied, fmt.Errorf("migrate: %w", err)
	}
	return applied, nil
}

// Close releases everything New and Orchestrator opened, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}
