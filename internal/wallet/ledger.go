package wallet

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvariantViolation  = errors.New("wallet invariant violation")
	ErrInvalidAmount       = errors.New("amount must not be negative")
)

// averagePricePlaces bounds the stored precision of weighted-average prices.
const averagePricePlaces = 6

// The operations below mutate w only when they succeed. Callers must hold
// the wallet's lock for the whole read-modify-write.

// LockBalance reserves fiat and credits for a pending operation.
func (w *Wallet) LockBalance(fiat, credits decimal.Decimal) error {
	if fiat.IsNegative() || credits.IsNegative() {
		return ErrInvalidAmount
	}
	if w.AvailableFiat.LessThan(fiat) {
		return fmt.Errorf("%w: available %s, required %s", ErrInsufficientFunds, w.AvailableFiat, fiat)
	}
	if w.AvailableCredits.LessThan(credits) {
		return fmt.Errorf("%w: available credits %s, required %s", ErrInsufficientFunds, w.AvailableCredits, credits)
	}

	w.AvailableFiat = w.AvailableFiat.Sub(fiat)
	w.LockedFiat = w.LockedFiat.Add(fiat)
	w.AvailableCredits = w.AvailableCredits.Sub(credits)
	w.LockedCredits = w.LockedCredits.Add(credits)
	return nil
}

// UnlockBalance releases a reservation made by LockBalance. Releasing more
// than is locked is rejected instead of clamped.
func (w *Wallet) UnlockBalance(fiat, credits decimal.Decimal) error {
	if fiat.IsNegative() || credits.IsNegative() {
		return ErrInvalidAmount
	}
	if w.LockedFiat.LessThan(fiat) || w.LockedCredits.LessThan(credits) {
		return fmt.Errorf("%w: unlock %s/%s exceeds locked %s/%s",
			ErrInvariantViolation, fiat, credits, w.LockedFiat, w.LockedCredits)
	}

	w.LockedFiat = w.LockedFiat.Sub(fiat)
	w.AvailableFiat = w.AvailableFiat.Add(fiat)
	w.LockedCredits = w.LockedCredits.Sub(credits)
	w.AvailableCredits = w.AvailableCredits.Add(credits)
	return nil
}

// CommitPurchase consumes locked fiat and books the purchased credits into
// the project's portfolio entry at a weighted-average price.
func (w *Wallet) CommitPurchase(fiat, credits decimal.Decimal, projectID string, pricePerUnit decimal.Decimal, vintage, standard string) error {
	if fiat.IsNegative() || !credits.IsPositive() || pricePerUnit.IsNegative() {
		return ErrInvalidAmount
	}
	if w.LockedFiat.LessThan(fiat) {
		return fmt.Errorf("%w: commit %s exceeds locked %s", ErrInvariantViolation, fiat, w.LockedFiat)
	}

	w.LockedFiat = w.LockedFiat.Sub(fiat)
	w.AvailableCredits = w.AvailableCredits.Add(credits)

	if w.Portfolio == nil {
		w.Portfolio = make(map[string]*PortfolioEntry)
	}
	e, ok := w.Portfolio[projectID]
	if !ok {
		w.Portfolio[projectID] = &PortfolioEntry{
			ProjectID:            projectID,
			Amount:               credits,
			WeightedAveragePrice: pricePerUnit,
			Vintage:              vintage,
			Standard:             standard,
		}
		return nil
	}

	newAmount := e.Amount.Add(credits)
	cost := e.Amount.Mul(e.WeightedAveragePrice).Add(credits.Mul(pricePerUnit))
	e.WeightedAveragePrice = cost.Div(newAmount).Round(averagePricePlaces)
	e.Amount = newAmount
	if vintage != "" {
		e.Vintage = vintage
	}
	if standard != "" {
		e.Standard = standard
	}
	return nil
}

func (w *Wallet) CommitSale(credits decimal.Decimal, projectID string) error {
	return w.commitCredits(credits, projectID, false)
}

func (w *Wallet) CommitRetirement(credits decimal.Decimal, projectID string) error {
	return w.commitCredits(credits, projectID, true)
}

func (w *Wallet) commitCredits(credits decimal.Decimal, projectID string, isRetirement bool) error {
	if !credits.IsPositive() {
		return ErrInvalidAmount
	}
	if err := w.takeFromPortfolio(credits, projectID); err != nil {
		return err
	}
	if isRetirement {
		w.RetiredCredits = w.RetiredCredits.Add(credits)
	} else {
		w.TotalSold = w.TotalSold.Add(credits)
	}
	return nil
}

// ReversePurchase undoes a committed purchase for a refund: the fiat comes
// back as available and the credits leave the project's entry. The entry's
// average price is kept.
func (w *Wallet) ReversePurchase(fiat, credits decimal.Decimal, projectID string) error {
	if fiat.IsNegative() || !credits.IsPositive() {
		return ErrInvalidAmount
	}
	if err := w.takeFromPortfolio(credits, projectID); err != nil {
		return err
	}
	w.AvailableFiat = w.AvailableFiat.Add(fiat)
	return nil
}

// Credit adds externally funded fiat, e.g. an admin top-up.
func (w *Wallet) Credit(fiat decimal.Decimal) error {
	if !fiat.IsPositive() {
		return ErrInvalidAmount
	}
	w.AvailableFiat = w.AvailableFiat.Add(fiat)
	return nil
}

func (w *Wallet) takeFromPortfolio(credits decimal.Decimal, projectID string) error {
	e, ok := w.Portfolio[projectID]
	if !ok || e.Amount.LessThan(credits) {
		held := decimal.Zero
		if ok {
			held = e.Amount
		}
		return fmt.Errorf("%w: project %s holds %s, requested %s", ErrInsufficientCredits, projectID, held, credits)
	}
	if w.AvailableCredits.LessThan(credits) {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientCredits, w.AvailableCredits, credits)
	}

	w.AvailableCredits = w.AvailableCredits.Sub(credits)
	e.Amount = e.Amount.Sub(credits)
	if e.Amount.IsZero() {
		delete(w.Portfolio, projectID)
	}
	return nil
}

// CheckInvariants verifies that no balance is negative and that the
// portfolio accounts for every held credit.
func (w *Wallet) CheckInvariants() error {
	fields := map[string]decimal.Decimal{
		"available_fiat":    w.AvailableFiat,
		"locked_fiat":       w.LockedFiat,
		"available_credits": w.AvailableCredits,
		"locked_credits":    w.LockedCredits,
		"retired_credits":   w.RetiredCredits,
		"total_sold":        w.TotalSold,
	}
	for name, v := range fields {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s is negative (%s)", ErrInvariantViolation, name, v)
		}
	}

	held := decimal.Zero
	for _, e := range w.Portfolio {
		if e.Amount.IsNegative() {
			return fmt.Errorf("%w: portfolio %s is negative", ErrInvariantViolation, e.ProjectID)
		}
		held = held.Add(e.Amount)
	}
	if !held.Equal(w.AvailableCredits.Add(w.LockedCredits)) {
		return fmt.Errorf("%w: portfolio holds %s, balances hold %s",
			ErrInvariantViolation, held, w.AvailableCredits.Add(w.LockedCredits))
	}
	return nil
}
