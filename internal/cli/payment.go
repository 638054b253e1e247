package cli

import (
	"io"

	"github.com/spf13/cobra"

	"carbonledger/internal/settlement"
)

func NewPaymentCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Inspect and resolve payments",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <payment-id>",
		Short: "Show a payment with its audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd.Context(), false)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize", err)
			}
			defer a.Close()

			p, err := a.Settlement.GetPayment(cmd.Context(), args[0], opsActor(opts))
			if err != nil {
				return WrapExitError(ExitFailure, "payment lookup failed", err)
			}
			return output(cmd, opts, p, func(w io.Writer) { printPayment(w, p) })
		},
	})

	var reason string
	cancel := &cobra.Command{
		Use:   "cancel <payment-id>",
		Short: "Cancel an in-flight payment and release its reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd.Context(), false)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize", err)
			}
			defer a.Close()

			p, err := a.Settlement.CancelPayment(cmd.Context(), args[0], opsActor(opts), reason)
			if err != nil {
				return WrapExitError(ExitFailure, "cancel failed", err)
			}
			return output(cmd, opts, p, func(w io.Writer) { printPayment(w, p) })
		},
	}
	cancel.Flags().StringVar(&reason, "reason", "ops_cancelled", "reason recorded on the payment")
	cmd.AddCommand(cancel)

	cmd.AddCommand(&cobra.Command{
		Use:   "refund <payment-id>",
		Short: "Refund a completed payment through its processor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(cmd.Context(), false)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize", err)
			}
			defer a.Close()

			p, err := a.Settlement.RefundPayment(cmd.Context(), args[0], opsActor(opts))
			if err != nil {
				return WrapExitError(ExitFailure, "refund failed", err)
			}
			return output(cmd, opts, p, func(w io.Writer) { printPayment(w, p) })
		},
	})

	return cmd
}

func opsActor(opts *RootOptions) settlement.Actor {
	return settlement.Actor{ID: "ops:" + opts.Actor, Admin: true}
}
