package transaction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
)

// Transaction is the settled record of a completed purchase. There is at
// most one per payment.
type Transaction struct {
	ID            string          `db:"id" json:"id"`
	PaymentID     string          `db:"payment_id" json:"payment_id"`
	BuyerID       string          `db:"buyer_id" json:"buyer_id"`
	ProjectID     string          `db:"project_id" json:"project_id"`
	CreditsAmount decimal.Decimal `db:"credits_amount" json:"credits_amount"`
	PricePerUnit  decimal.Decimal `db:"price_per_unit" json:"price_per_unit"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Currency      string          `db:"currency" json:"currency"`
	Status        Status          `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

type NewParams struct {
	PaymentID     string
	BuyerID       string
	ProjectID     string
	CreditsAmount decimal.Decimal
	PricePerUnit  decimal.Decimal
	Amount        decimal.Decimal
	Currency      string
}

func New(p NewParams, at time.Time) *Transaction {
	return &Transaction{
		ID:            uuid.NewString(),
		PaymentID:     p.PaymentID,
		BuyerID:       p.BuyerID,
		ProjectID:     p.ProjectID,
		CreditsAmount: p.CreditsAmount,
		PricePerUnit:  p.PricePerUnit,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        StatusCompleted,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func (t *Transaction) MarkRefunded(at time.Time) {
	t.Status = StatusRefunded
	t.UpdatedAt = at
}
