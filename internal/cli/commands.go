package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"carbonledger/internal/db"
	"carbonledger/internal/payment"
)

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd.Context(), true)
			if err != nil {
				return WrapExitError(ExitCommandError, "migration failed", err)
			}
			defer a.Close()
			if a.DB == nil {
				return WrapExitError(ExitCommandError, "migrate needs STORE_DRIVER=postgres", nil)
			}
			version, dirty, err := db.SchemaVersion(a.DB, a.Config.MigrationsPath)
			if err != nil {
				return WrapExitError(ExitFailure, "migrations applied but version unknown", err)
			}
			return output(cmd, opts, map[string]interface{}{"version": version, "dirty": dirty}, func(w io.Writer) {
				fmt.Fprintf(w, "migrations applied, schema at version %d\n", version)
				if dirty {
					fmt.Fprintln(w, "warning: schema is marked dirty")
				}
			})
		},
	}
}

type ReconcileOptions struct {
	*RootOptions
	PaymentID string
}

func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Verify in-flight payments with their processors",
		Long: `Runs one reconciliation sweep over stale in-flight payments, the same
pass the server's poller makes on every interval.

With --payment only that payment is verified, regardless of its age.

Examples:
  ledgerctl reconcile
  ledgerctl reconcile --payment pay_01hx...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.PaymentID, "payment", "", "reconcile a single payment")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := opts.build(ctx, false)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize", err)
	}
	defer a.Close()

	if opts.PaymentID != "" {
		p, err := a.Poller.ReconcilePayment(ctx, opts.PaymentID)
		if err != nil {
			return WrapExitError(ExitFailure, "reconciliation failed", err)
		}
		return output(cmd, opts.RootOptions, p, func(w io.Writer) { printPayment(w, p) })
	}

	sum, err := a.Poller.RunOnce(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "reconciliation sweep failed", err)
	}
	if err := output(cmd, opts.RootOptions, sum, func(w io.Writer) {
		fmt.Fprintf(w, "checked %d, resolved %d, escalated %d, errors %d\n",
			sum.Checked, sum.Resolved, sum.Escalated, sum.Errors)
	}); err != nil {
		return err
	}
	if sum.Errors > 0 {
		return WrapExitError(ExitFailure, fmt.Sprintf("%d payments could not be reconciled", sum.Errors), nil)
	}
	return nil
}

func printPayment(w io.Writer, p *payment.Payment) {
	fmt.Fprintf(w, "Payment %s\n", p.ID)
	fmt.Fprintf(w, "  user:       %s\n", p.UserID)
	fmt.Fprintf(w, "  project:    %s (%s credits @ %s)\n", p.ProjectID, p.CreditAmount, p.PricePerUnit)
	fmt.Fprintf(w, "  amount:     %s %s via %s\n", p.Amount.StringFixed(2), p.Currency, p.Method)
	fmt.Fprintf(w, "  status:     %s\n", p.Status)
	if p.ProcessorTransactionID != "" {
		fmt.Fprintf(w, "  processor:  %s %s\n", p.ProcessorName, p.ProcessorTransactionID)
	}
	if p.ErrorCode != "" {
		fmt.Fprintf(w, "  error:      %s %s\n", p.ErrorCode, p.ErrorMessage)
	}
	if p.NeedsReview {
		fmt.Fprintf(w, "  NEEDS REVIEW after %d reconcile attempts\n", p.ReconcileAttempts)
	}
	if len(p.AuditTrail) > 0 {
		fmt.Fprintln(w, "  audit:")
		for _, e := range p.AuditTrail {
			fmt.Fprintf(w, "    %s  %-20s %s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Action, e.Actor)
		}
	}
}
