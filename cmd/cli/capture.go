package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/receipt-capture/internal/app"
	jobsmem "github.com/dvloznov/receipt-capture/internal/jobs/inmemory"
	"github.com/dvloznov/receipt-capture/internal/pipeline"
	"github.com/dvloznov/receipt-capture/internal/receipt"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

type CaptureOptions struct {
	*RootOptions
	Concurrency int
}

func newCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture FILE...",
		Short: "Capture receipt images and recognize them",
		Long: `Capture one or more receipt images. Each image is normalized, uploaded,
recognized and reconciled before the command returns.

Examples:
  receipts capture --space space-1 lunch.jpg
  receipts capture --space space-1 -j 4 scans/*.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd.Context(), opts, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.Concurrency, "jobs", "j", 2, "images captured at once")
	return cmd
}

// syncPipeline builds an orchestrator whose jobs run inline.
func syncPipeline(ctx context.Context, a *app.App) (*pipeline.Orchestrator, error) {
	publisher := jobsmem.NewSyncPublisher(a.Jobs, a.Log)
	orch, err := a.Orchestrator(ctx, publisher)
	if err != nil {
		return nil, err
	}
	publisher.SetHandler(orch.HandleJob)
	return orch, nil
}

func runCapture(ctx context.Context, opts *CaptureOptions, files []string, out io.Writer) error {
	ctx, a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tc, err := opts.tenant(a.Config)
	if err != nil {
		return err
	}
	orch, err := syncPipeline(ctx, a)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		records = make([]*receipt.Record, len(files))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Concurrency, 1))

	for i, file := range files {
		g.Go(func() error {
			rec, err := captureFile(gctx, orch, a, tc, file)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			mu.Lock()
			records[i] = rec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return opts.print(out, records, func(w io.Writer) {
		for i, rec := range records {
			fmt.Fprintf(w, "%s\n", files[i])
			printRecordSummary(w, rec)
		}
	})
}

func captureFile(ctx context.Context, orch *pipeline.Orchestrator, a *app.App, tc tenant.Context, file string) (*receipt.Record, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	res, err := orch.Capture(ctx, tc, pipeline.CaptureRequest{Image: data, Source: receipt.SourceCLI})
	if err != nil {
		return nil, err
	}
	return a.Records.Get(ctx, tc.ID, res.RecordID)
}

func newRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry RECORD_ID",
		Short: "Recognize a failed record again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tc, err := rootOpts.tenant(a.Config)
			if err != nil {
				return err
			}
			orch, err := syncPipeline(ctx, a)
			if err != nil {
				return err
			}

			if _, err := orch.Retry(ctx, tc, args[0]); err != nil {
				return err
			}
			rec, err := a.Records.Get(ctx, tc.ID, args[0])
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), rec, func(w io.Writer) { printRecordSummary(w, rec) })
		},
	}
}
