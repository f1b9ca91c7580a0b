package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/receipt-capture/internal/app"
	"github.com/dvloznov/receipt-capture/internal/config"
	"github.com/dvloznov/receipt-capture/internal/logger"
)

// The worker fails records stuck in processing. It is meant for
// deployments where API replicas come and go and a lost job would
// otherwise leave its record processing forever.
func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.App.LogLevel, Format: cfg.App.LogFormat})

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	sweeper := a.NewSweeper()

	if *once {
		n, err := sweeper.SweepOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Sweep failed")
			a.Close()
			os.Exit(1)
		}
		log.Info().Int("failed", n).Msg("Sweep finished")
		return
	}

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	log.Info().Msg("Worker service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")
	cancel()
	<-done

	log.Info().Msg("Worker service exited")
}
