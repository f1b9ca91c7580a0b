package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dvloznov/receipt-capture/internal/receipt"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
)

func newRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List expense records, newest first",
		Args:  cobra.NoArgs,
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
			filter := receipt.ListFilter{Status: receipt.Status(status), Limit: limit}
			if filter.Status != "" && !filter.Status.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}

			records, err := a.Records.List(ctx, tc.ID, filter)
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), records, func(w io.Writer) { printRecordTable(w, records) })
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only records in this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	return cmd
}

func newInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect RECORD_ID",
		Short: "Show a record with its line items",
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
			rec, err := a.Records.Get(ctx, tc.ID, args[0])
			if err != nil {
				return err
			}
			names := categoryNames(ctx, a.Taxonomy, tc.ID)
			return rootOpts.print(cmd.OutOrStdout(), rec, func(w io.Writer) { printRecordDetail(w, rec, names) })
		},
	}
}

// categoryNames maps category ids to names. Lookup failures only cost the
// names in the output.
func categoryNames(ctx context.Context, repo taxonomy.Repository, tenantID string) map[string]string {
	names := make(map[string]string)
	entities, err := repo.List(ctx, tenantID, taxonomy.KindCategory)
	if err != nil {
		return names
	}
	for _, e := range entities {
		names[e.ID] = e.Name
	}
	return names
}

func printRecordSummary(w io.Writer, rec *receipt.Record) {
	fmt.Fprintf(w, "  %s  %-10s  %s  %s %s  (%d items)\n",
		rec.ID, rec.Status, rec.MerchantName, rec.TotalAmount.StringFixed(2), rec.Currency, len(rec.Items))
	if rec.Status == receipt.StatusFailed {
		fmt.Fprintf(w, "  failed: %s: %s\n", rec.FailureReason, rec.FailureDetail)
	}
}

func printRecordTable(w io.Writer, records []*receipt.Record) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tDATE\tMERCHANT\tTOTAL")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s %s\n",
			rec.ID, rec.Status, rec.Date, rec.MerchantName, rec.TotalAmount.StringFixed(2), rec.Currency)
	}
	tw.Flush()
}

func printRecordDetail(w io.Writer, rec *receipt.Record, categories map[string]string) {
	fmt.Fprintln(w, "=== Expense Record ===")
	fmt.Fprintf(w, "ID:        %s\n", rec.ID)
	fmt.Fprintf(w, "Status:    %s\n", rec.Status)
	fmt.Fprintf(w, "Merchant:  %s\n", rec.MerchantName)
	fmt.Fprintf(w, "Date:      %s\n", rec.Date)
	fmt.Fprintf(w, "Total:     %s %s\n", rec.TotalAmount.StringFixed(2), rec.Currency)
	if rec.Tax.Valid {
		fmt.Fprintf(w, "Tax:       %s\n", rec.Tax.Decimal.StringFixed(2))
	}
	if rec.Confidence != nil {
		fmt.Fprintf(w, "Confidence: %.2f\n", *rec.Confidence)
	}
	fmt.Fprintf(w, "Image:     %s\n", rec.ImageRef)
	fmt.Fprintf(w, "Attempts:  %d\n", rec.Attempts)
	if rec.FailureReason != "" {
		fmt.Fprintf(w, "Failure:   %s: %s\n", rec.FailureReason, rec.FailureDetail)
	}

	fmt.Fprintf(w, "\n=== Items (%d) ===\n", len(rec.Items))
	for i, item := range rec.Items {
		category := categories[item.CategoryID]
		if category == "" {
			category = "-"
		}
		asset := ""
		if item.IsAsset {
			asset = " [asset]"
		}
		fmt.Fprintf(w, "%d. %s  %s  (%s, %s)%s\n", i+1, item.Name, item.Price.StringFixed(2), category, item.Purpose, asset)
	}
}
