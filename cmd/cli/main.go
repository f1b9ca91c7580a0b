package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/receipt-capture/internal/app"
	"github.com/dvloznov/receipt-capture/internal/config"
	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	Space    string
	Currency string
	Format   string
	Verbose  bool
}

func newRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Capture and manage receipt expense records",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Space, "space", os.Getenv("RECEIPTS_SPACE"), "space (tenant) id")
	cmd.PersistentFlags().StringVar(&opts.Currency, "currency", "", "home currency of the space (defaults to DEFAULT_CURRENCY)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newCaptureCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newRecordsCommand(opts))
	cmd.AddCommand(newTaxonomyCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}

func (o *RootOptions) logger(cfg *config.Config) zerolog.Logger {
	level := cfg.App.LogLevel
	if o.Verbose {
		level = "debug"
	}
	return logger.NewWithOptions(logger.Options{Level: level, Format: cfg.App.LogFormat, Output: os.Stderr})
}

// open loads the config and connects the stores. The caller closes the app.
func (o *RootOptions) open(ctx context.Context) (context.Context, *app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return ctx, nil, err
	}
	log := o.logger(cfg)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return ctx, nil, err
	}
	return logger.WithContext(ctx, log), a, nil
}

func (o *RootOptions) tenant(cfg *config.Config) (tenant.Context, error) {
	currency := o.Currency
	if currency == "" {
		currency = cfg.App.DefaultCurrency
	}
	tc := tenant.New(o.Space, currency)
	if err := tc.Validate(); err != nil {
		return tc, fmt.Errorf("--space is required: %w", err)
	}
	return tc, nil
}

// print writes v as indented JSON, or calls text for the text format.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
