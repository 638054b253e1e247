// Package cli implements ledgerctl, the operator tool for migrations,
// manual reconciliation and wallet support tasks.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"carbonledger/internal/app"
	"carbonledger/internal/config"
)

// Builder assembles the application for one command run.
type Builder func(ctx context.Context, migrate bool) (*app.App, error)

type RootOptions struct {
	Format string // "json" | "text"
	Actor  string
	build  Builder
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(func(ctx context.Context, migrate bool) (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return app.Build(ctx, cfg, migrate)
	})
}

func newRootCommand(build Builder) *cobra.Command {
	opts := &RootOptions{build: build}

	cmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate the carbon ledger",
		Long:  "Operator tool for the carbon-credit ledger: schema migrations, manual reconciliation and wallet support.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "ops", "operator id recorded in audit trails")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewPaymentCommand(opts))
	cmd.AddCommand(NewWalletCommand(opts))
	cmd.AddCommand(NewProjectCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
