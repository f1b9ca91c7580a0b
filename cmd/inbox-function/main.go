package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-capture/internal/app"
	"github.com/dvloznov/receipt-capture/internal/assetstore"
	"github.com/dvloznov/receipt-capture/internal/config"
	jobsmem "github.com/dvloznov/receipt-capture/internal/jobs/inmemory"
	"github.com/dvloznov/receipt-capture/internal/logger"
)

type inboxConfig struct {
	Bucket   string `envconfig:"INBOX_BUCKET" required:"true"`
	Prefix   string `envconfig:"INBOX_PREFIX" default:"inbox/"`
	Endpoint string `envconfig:"GCS_ENDPOINT"`
}

var (
	instance *inbox
	log      zerolog.Logger
	once     sync.Once
	initErr  error
)

func init() {
	functions.CloudEvent("CaptureReceipt", captureReceipt)
}

// main serves the function locally; on Cloud Functions the framework
// calls the registered entry point directly.
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := funcframework.Start(port); err != nil {
		fmt.Fprintf(os.Stderr, "funcframework.Start: %v\n", err)
		os.Exit(1)
	}
}

// setup runs once per instance. Jobs run inline so the capture is finished
// before the invocation returns.
func setup(ctx context.Context) (*inbox, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log = logger.NewWithOptions(logger.Options{Level: cfg.App.LogLevel, Format: "json"})

	var icfg inboxConfig
	if err := envconfig.Process("", &icfg); err != nil {
		return nil, fmt.Errorf("failed to process inbox config: %w", err)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	publisher := jobsmem.NewSyncPublisher(a.Jobs, log)
	orch, err := a.Orchestrator(ctx, publisher)
	if err != nil {
		return nil, err
	}
	publisher.SetHandler(orch.HandleJob)

	objects, err := assetstore.NewGCS(ctx, icfg.Bucket, icfg.Endpoint)
	if err != nil {
		return nil, err
	}

	return &inbox{
		capture:         orch,
		objects:         objects,
		scheme:          assetstore.SchemeGCS,
		bucket:          icfg.Bucket,
		prefix:          icfg.Prefix,
		defaultCurrency: cfg.App.DefaultCurrency,
	}, nil
}

func captureReceipt(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		instance, initErr = setup(context.Background())
	})
	if initErr != nil {
		fmt.Fprintf(os.Stderr, "inbox function initialization failed: %v\n", initErr)
		return initErr
	}

	var obj storageObject
	if err := json.Unmarshal(e.Data(), &obj); err != nil {
		log.Error().Err(err).Str("event_id", e.ID()).Msg("Failed to unmarshal event data")
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	ctx = logger.WithContext(ctx, log.With().Str("event_id", e.ID()).Logger())
	return instance.process(ctx, obj)
}
