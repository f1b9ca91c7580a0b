package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dvloznov/receipt-capture/internal/config"
	"github.com/dvloznov/receipt-capture/internal/database"
	"github.com/dvloznov/receipt-capture/internal/logger"
)

var (
	appliedBy = flag.String("applied-by", "migrate-cli", "name recorded with each applied migration")
	status    = flag.Bool("status", false, "print applied and pending migrations without applying anything")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.App.LogLevel, Format: cfg.App.LogFormat})

	ctx := context.Background()
	db, err := database.New(ctx, cfg.DB.Driver, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("Failed to connect to database")
	}
	defer db.Close()

	log.Info().Str("driver", cfg.DB.Driver).Msg("Connected to database")

	if err := run(ctx, db, *status, *appliedBy, os.Stdout); err != nil {
		log.Error().Err(err).Msg("Migration failed")
		db.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, db *sql.DB, statusOnly bool, appliedBy string, out io.Writer) error {
	migrations, err := database.Migrations()
	if err != nil {
		return err
	}

	pending, err := database.Pending(ctx, db, migrations)
	if err != nil {
		return err
	}

	if statusOnly {
		applied, err := database.Applied(ctx, db)
		if err != nil {
			return err
		}
		for _, m := range applied {
			fmt.Fprintf(out, "  [DONE] %04d_%s (%s by %s)\n", m.Version, m.Name, m.AppliedAt.Format("2006-01-02 15:04:05"), m.AppliedBy)
		}
		for _, m := range pending {
			fmt.Fprintf(out, "  [TODO] %04d_%s\n", m.Version, m.Name)
		}
		return nil
	}

	if len(pending) == 0 {
		fmt.Fprintln(out, "No new migrations to apply. Database is up to date.")
		return nil
	}

	done, err := database.Migrate(ctx, db, migrations, appliedBy)
	for _, m := range done {
		fmt.Fprintf(out, "  [OK]   %04d_%s\n", m.Version, m.Name)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Successfully applied %d migration(s)\n", len(done))
	return nil
}
