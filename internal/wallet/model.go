package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's fiat and carbon-credit balances. Total fiat is
// always AvailableFiat + LockedFiat and is never stored.
type Wallet struct {
	ID               int64           `db:"id" json:"id"`
	UserID           string          `db:"user_id" json:"user_id"`
	Currency         string          `db:"currency" json:"currency"`
	AvailableFiat    decimal.Decimal `db:"available_fiat" json:"available_fiat"`
	LockedFiat       decimal.Decimal `db:"locked_fiat" json:"locked_fiat"`
	AvailableCredits decimal.Decimal `db:"available_credits" json:"available_credits"`
	LockedCredits    decimal.Decimal `db:"locked_credits" json:"locked_credits"`
	RetiredCredits   decimal.Decimal `db:"retired_credits" json:"retired_credits"`
	TotalSold        decimal.Decimal `db:"total_sold" json:"total_sold"`

	Portfolio map[string]*PortfolioEntry `db:"-" json:"portfolio"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type PortfolioEntry struct {
	ProjectID            string          `db:"project_id" json:"project_id"`
	Amount               decimal.Decimal `db:"amount" json:"amount"`
	WeightedAveragePrice decimal.Decimal `db:"weighted_average_price" json:"weighted_average_price"`
	Vintage              string          `db:"vintage" json:"vintage"`
	Standard             string          `db:"standard" json:"standard"`
}

type EntryType string

const (
	EntryTopUp      EntryType = "topup"
	EntryLock       EntryType = "lock"
	EntryUnlock     EntryType = "unlock"
	EntryPurchase   EntryType = "purchase"
	EntryRefund     EntryType = "refund"
	EntrySale       EntryType = "sale"
	EntryRetirement EntryType = "retirement"
)

// Entry is one row of the wallet's movement history, with balances as they
// stood after the movement.
type Entry struct {
	ID                    int64           `db:"id" json:"id"`
	WalletID              int64           `db:"wallet_id" json:"wallet_id"`
	Type                  EntryType       `db:"type" json:"type"`
	FiatAmount            decimal.Decimal `db:"fiat_amount" json:"fiat_amount"`
	CreditAmount          decimal.Decimal `db:"credit_amount" json:"credit_amount"`
	ProjectID             string          `db:"project_id" json:"project_id,omitempty"`
	Reference             string          `db:"reference" json:"reference,omitempty"`
	AvailableFiatAfter    decimal.Decimal `db:"available_fiat_after" json:"available_fiat_after"`
	LockedFiatAfter       decimal.Decimal `db:"locked_fiat_after" json:"locked_fiat_after"`
	AvailableCreditsAfter decimal.Decimal `db:"available_credits_after" json:"available_credits_after"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

func New(userID, currency string, at time.Time) *Wallet {
	return &Wallet{
		UserID:           userID,
		Currency:         currency,
		AvailableFiat:    decimal.Zero,
		LockedFiat:       decimal.Zero,
		AvailableCredits: decimal.Zero,
		LockedCredits:    decimal.Zero,
		RetiredCredits:   decimal.Zero,
		TotalSold:        decimal.Zero,
		Portfolio:        make(map[string]*PortfolioEntry),
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

func (w *Wallet) TotalFiat() decimal.Decimal {
	return w.AvailableFiat.Add(w.LockedFiat)
}

// NewEntry snapshots the wallet's balances into a history row.
func (w *Wallet) NewEntry(t EntryType, fiat, credits decimal.Decimal, projectID, reference string, at time.Time) Entry {
	return Entry{
		WalletID:              w.ID,
		Type:                  t,
		FiatAmount:            fiat,
		CreditAmount:          credits,
		ProjectID:             projectID,
		Reference:             reference,
		AvailableFiatAfter:    w.AvailableFiat,
		LockedFiatAfter:       w.LockedFiat,
		AvailableCreditsAfter: w.AvailableCredits,
		CreatedAt:             at,
	}
}

func (w *Wallet) Clone() *Wallet {
	c := *w
	c.Portfolio = make(map[string]*PortfolioEntry, len(w.Portfolio))
	for k, e := range w.Portfolio {
		ec := *e
		c.Portfolio[k] = &ec
	}
	return &c
}
