package cli

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"carbonledger/internal/api"
	"carbonledger/internal/wallet"
)

func NewWalletCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Inspect and fund wallets",
	}

	var entries int
	show := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show balances, portfolio and recent ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.build(ctx, false)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize", err)
			}
			defer a.Close()

			w, err := a.Settlement.GetWallet(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "wallet lookup failed", err)
			}
			var recent []wallet.Entry
			if entries > 0 {
				if recent, err = a.Settlement.ListEntries(ctx, args[0], entries, 0); err != nil {
					return WrapExitError(ExitFailure, "entries lookup failed", err)
				}
			}

			out := struct {
				api.WalletResponse
				Entries []wallet.Entry `json:"entries,omitempty"`
			}{api.NewWalletResponse(w), recent}
			return output(cmd, opts, out, func(tw io.Writer) { printWallet(tw, w, recent) })
		},
	}
	show.Flags().IntVar(&entries, "entries", 10, "number of recent ledger entries to show")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "topup <user-id> <amount>",
		Short: "Credit externally received fiat to a wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid amount", err)
			}

			ctx := cmd.Context()
			a, err := opts.build(ctx, false)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize", err)
			}
			defer a.Close()

			w, err := a.Settlement.TopUp(ctx, args[0], amount, opsActor(opts))
			if err != nil {
				return WrapExitError(ExitFailure, "top-up failed", err)
			}
			return output(cmd, opts, api.NewWalletResponse(w), func(tw io.Writer) { printWallet(tw, w, nil) })
		},
	})

	return cmd
}

func printWallet(out io.Writer, w *wallet.Wallet, entries []wallet.Entry) {
	fmt.Fprintf(out, "Wallet of %s (%s)\n", w.UserID, w.Currency)
	fmt.Fprintf(out, "  fiat:     %s available, %s locked, %s total\n",
		w.AvailableFiat.StringFixed(2), w.LockedFiat.StringFixed(2), w.TotalFiat().StringFixed(2))
	fmt.Fprintf(out, "  credits:  %s available, %s locked, %s retired, %s sold\n",
		w.AvailableCredits, w.LockedCredits, w.RetiredCredits, w.TotalSold)
	for id, p := range w.Portfolio {
		fmt.Fprintf(out, "  holding:  %s %s @ %s avg\n", id, p.Amount, p.WeightedAveragePrice)
	}
	for _, e := range entries {
		fmt.Fprintf(out, "  %s  %-10s fiat %10s  credits %8s  %s\n",
			e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), e.Type, e.FiatAmount.StringFixed(2), e.CreditAmount, e.Reference)
	}
}
