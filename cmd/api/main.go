package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/receipt-capture/internal/api"
	"github.com/dvloznov/receipt-capture/internal/api/middleware"
	"github.com/dvloznov/receipt-capture/internal/app"
	"github.com/dvloznov/receipt-capture/internal/config"
	"github.com/dvloznov/receipt-capture/internal/logger"
)

func main() {
	var (
		port        = flag.Int("port", 0, "HTTP server port (overrides PORT)")
		migrate     = flag.Bool("migrate", false, "apply pending migrations before serving")
		allowHeader = flag.Bool("allow-tenant-header", false, "trust the X-Space-ID header when no token is sent (local use only)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.App.Port = *port
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.App.LogLevel, Format: cfg.App.LogFormat})

	if cfg.Auth.JWTSecret == "" && !*allowHeader {
		log.Fatal().Msg("JWT_SECRET is required unless -allow-tenant-header is set")
	}

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if *migrate {
		applied, err := a.Migrate(ctx, "api")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Int("applied", len(applied)).Msg("Migrations applied")
	}

	queue := a.NewQueue()
	orch, err := a.Orchestrator(ctx, queue)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build pipeline")
	}

	workerCtx, cancelWorker := context.WithCancel(logger.WithContext(ctx, log))
	defer cancelWorker()

	if err := queue.Start(workerCtx, orch.HandleJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}
	go a.NewSweeper().Run(workerCtx)

	router := api.NewRouter(api.RouterConfig{
		Log:      log,
		Pipeline: orch,
		Records:  a.Records,
		Taxonomy: a.Taxonomy,
		Defaults: a.Defaults,
		Assets:   a.Assets,
		Jobs:     a.Jobs,
		Tenant: middleware.TenantOptions{
			Secret:          []byte(cfg.Auth.JWTSecret),
			DefaultCurrency: cfg.App.DefaultCurrency,
			AllowHeader:     *allowHeader,
		},
		CORSOrigins: middleware.ParseOrigins(cfg.App.CORSOrigins),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.App.Port).Int("workers", cfg.App.Workers).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Records of jobs still queued stay processing; the sweeper fails them
	// once they go stale.
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
