package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/dvloznov/receipt-capture/internal/api/middleware"
)

func newMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			applied, err := a.Migrate(ctx, "cli")
			for _, m := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "  [OK]   %04d_%s\n", m.Version, m.Name)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", len(applied))
			return nil
		},
	}
}

type TokenOptions struct {
	*RootOptions
	Secret string
	TTL    time.Duration
}

func newTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for a space (development only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, time.Now(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Secret, "secret", os.Getenv("JWT_SECRET"), "HS256 signing secret")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func runToken(opts *TokenOptions, now time.Time, out io.Writer) error {
	if opts.Secret == "" {
		return fmt.Errorf("--secret or JWT_SECRET is required")
	}
	if opts.Space == "" {
		return fmt.Errorf("--space is required")
	}

	token, err := middleware.SignToken([]byte(opts.Secret), opts.Space, opts.Currency, jwt.RegisteredClaims{
		Subject:   opts.Space,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(opts.TTL)),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
