package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dvloznov/receipt-capture/internal/taxonomy"
)

func newTaxonomyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Manage categories, purposes and payment accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list KIND",
		Short: "List entities of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := taxonomy.ParseKind(args[0])
			if err != nil {
				return err
			}
			ctx, a, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			tc, err := rootOpts.tenant(a.Config)
			if err != nil {
				return err
			}

			entities, err := a.Taxonomy.List(ctx, tc.ID, kind)
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), entities, func(w io.Writer) { printEntities(w, entities) })
		},
	})

	var color string
	add := &cobra.Command{
		Use:   "add KIND NAME",
		Short: "Create an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := taxonomy.ParseKind(args[0])
			if err != nil {
				return err
			}
			ctx, a, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			tc, err := rootOpts.tenant(a.Config)
			if err != nil {
				return err
			}

			e, err := a.Taxonomy.Create(ctx, tc.ID, kind, args[1], color)
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), e, func(w io.Writer) { fmt.Fprintf(w, "Created %s %q (%s)\n", e.Kind, e.Name, e.ID) })
		},
	}
	add.Flags().StringVar(&color, "color", "", "display color, e.g. #FF6B6B")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename an entity",
		Args:  cobra.ExactArgs(2),
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

			e, err := a.Taxonomy.Rename(ctx, tc.ID, args[0], args[1])
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), e, func(w io.Writer) { fmt.Fprintf(w, "Renamed %s to %q\n", e.ID, e.Name) })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a non-default entity and clear its references",
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

			if err := a.Taxonomy.Delete(ctx, tc.ID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	})

	var into string
	merge := &cobra.Command{
		Use:   "merge KIND SOURCE_ID...",
		Short: "Merge entities into a target, moving every reference",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := taxonomy.ParseKind(args[0])
			if err != nil {
				return err
			}
			sources := args[1:]
			if err := taxonomy.ValidateMerge(sources, into); err != nil {
				return err
			}
			ctx, a, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			tc, err := rootOpts.tenant(a.Config)
			if err != nil {
				return err
			}

			if err := a.Taxonomy.Merge(ctx, tc.ID, kind, sources, into); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d %s entities into %s\n", len(sources), kind, into)
			return nil
		},
	}
	merge.Flags().StringVar(&into, "into", "", "target entity id (required)")
	_ = merge.MarkFlagRequired("into")
	cmd.AddCommand(merge)

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Insert the default categories and purposes the space is missing",
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

			if err := a.Taxonomy.Seed(ctx, tc.ID, a.Defaults); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Defaults seeded")
			return nil
		},
	})

	return cmd
}

func printEntities(w io.Writer, entities []*taxonomy.Entity) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOLOR\tFLAGS")
	for _, e := range entities {
		flags := ""
		if e.IsDefault {
			flags += "default "
		}
		if e.IsAICreated {
			flags += "ai"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Color, flags)
	}
	tw.Flush()
}
