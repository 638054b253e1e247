package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"carbonledger/internal/logger"
	"carbonledger/internal/metrics"
	"carbonledger/internal/store"
	"carbonledger/internal/transaction"
	"carbonledger/internal/wallet"
)

// Retirement is the permanent record of credits taken out of circulation.
type Retirement struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	ProjectID string          `json:"project_id"`
	Amount    decimal.Decimal `json:"amount"`
	At        time.Time       `json:"retired_at"`
	Wallet    *wallet.Wallet  `json:"wallet"`
}

// withWallet locks a wallet for an operation that is not tied to a payment.
func (s *service) withWallet(ctx context.Context, op, userID string, fn func(w *wallet.Wallet, at time.Time) (wallet.Entry, error)) (*wallet.Wallet, error) {
	var out *wallet.Wallet
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		w, err := tx.LockWallet(ctx, userID, s.currency)
		if err != nil {
			return err
		}

		at := s.now()
		entry, err := fn(w, at)
		if err != nil {
			return err
		}
		if err := w.CheckInvariants(); err != nil {
			s.invariantViolation(op, entry.Reference, err)
			return err
		}

		w.UpdatedAt = at
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.AddEntry(ctx, entry); err != nil {
			return err
		}
		out = w.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func requireCredits(projectID string, amount decimal.Decimal) error {
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("%w: project is required", ErrInvalidInput)
	}
	return requireAmount(amount)
}

func requireAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return nil
}

// TopUp credits externally received fiat to a user's wallet.
func (s *service) TopUp(ctx context.Context, userID string, amount decimal.Decimal, by Actor) (*wallet.Wallet, error) {
	if !by.Admin {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if err := requireAmount(amount); err != nil {
		return nil, err
	}
	if amount.Exponent() < -2 {
		return nil, fmt.Errorf("%w: amount has more than 2 decimal places", ErrInvalidInput)
	}

	w, err := s.withWallet(ctx, "topup", userID, func(w *wallet.Wallet, at time.Time) (wallet.Entry, error) {
		if err := w.Credit(amount); err != nil {
			return wallet.Entry{}, err
		}
		return w.NewEntry(wallet.EntryTopUp, amount, decimal.Zero, "", "topup:"+by.ID, at), nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordWalletTopUp()
	logger.Info("wallet topped up",
		"user_id", userID,
		"amount", amount.String(),
		"actor", by.ID,
	)
	return w, nil
}

func (s *service) SellCredits(ctx context.Context, userID, projectID string, amount decimal.Decimal) (*wallet.Wallet, error) {
	if err := requireCredits(projectID, amount); err != nil {
		return nil, err
	}
	ref := "sale_" + strings.ToLower(ulid.Make().String())

	w, err := s.withWallet(ctx, "sale", userID, func(w *wallet.Wallet, at time.Time) (wallet.Entry, error) {
		if err := w.CommitSale(amount, projectID); err != nil {
			return wallet.Entry{}, err
		}
		return w.NewEntry(wallet.EntrySale, decimal.Zero, amount, projectID, ref, at), nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("credits sold", "user_id", userID, "project_id", projectID, "amount", amount.String(), "reference", ref)
	return w, nil
}

func (s *service) RetireCredits(ctx context.Context, userID, projectID string, amount decimal.Decimal) (*Retirement, error) {
	if err := requireCredits(projectID, amount); err != nil {
		return nil, err
	}
	r := &Retirement{
		ID:        "ret_" + strings.ToLower(ulid.Make().String()),
		UserID:    userID,
		ProjectID: projectID,
		Amount:    amount,
	}

	w, err := s.withWallet(ctx, "retirement", userID, func(w *wallet.Wallet, at time.Time) (wallet.Entry, error) {
		if err := w.CommitRetirement(amount, projectID); err != nil {
			return wallet.Entry{}, err
		}
		r.At = at
		return w.NewEntry(wallet.EntryRetirement, decimal.Zero, amount, projectID, r.ID, at), nil
	})
	if err != nil {
		return nil, err
	}
	r.Wallet = w

	logger.Info("credits retired", "user_id", userID, "project_id", projectID, "amount", amount.String(), "retirement_id", r.ID)
	return r, nil
}

// GetWallet returns an empty wallet for users that never had one.
func (s *service) GetWallet(ctx context.Context, userID string) (*wallet.Wallet, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return wallet.New(userID, s.currency, s.now()), nil
	}
	return w, err
}

func (s *service) ListEntries(ctx context.Context, userID string, limit, offset int) ([]wallet.Entry, error) {
	return s.store.ListEntries(ctx, userID, limit, offset)
}

func (s *service) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]transaction.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, limit, offset)
}
