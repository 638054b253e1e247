package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type Method string
type Status string

const (
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodCrypto       Method = "crypto"
)

const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
	StatusRequiresAction Status = "requires_action"
)

// Error codes stored on failed payments.
const (
	CodeInsufficientFunds = "InsufficientFunds"
	CodeProcessorDeclined = "ProcessorDeclined"
	CodeIntegrationError  = "IntegrationError"
	CodeCancelled         = "Cancelled"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCard, MethodBankTransfer, MethodCrypto:
		return true
	}
	return false
}

// Terminal reports whether no further transition other than a refund of a
// completed payment is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Fees is fixed when the payment is created.
type Fees struct {
	Platform  decimal.Decimal `db:"fee_platform" json:"platform"`
	Processor decimal.Decimal `db:"fee_processor" json:"processor"`
	Network   decimal.Decimal `db:"fee_network" json:"network"`
	Total     decimal.Decimal `db:"fee_total" json:"total"`
}

type AuditEntry struct {
	Seq       int               `db:"seq" json:"seq"`
	Action    string            `db:"action" json:"action"`
	Actor     string            `db:"actor" json:"actor"`
	Details   map[string]string `db:"-" json:"details,omitempty"`
	Timestamp time.Time         `db:"created_at" json:"timestamp"`
}

type Payment struct {
	ID        string `db:"payment_id" json:"payment_id"`
	UserID    string `db:"user_id" json:"user_id"`
	ProjectID string `db:"project_id" json:"project_id"`

	CreditAmount decimal.Decimal `db:"credit_amount" json:"credit_amount"`
	PricePerUnit decimal.Decimal `db:"price_per_unit" json:"price_per_unit"`
	Vintage      string          `db:"vintage" json:"vintage"`
	Standard     string          `db:"standard" json:"standard"`

	BaseValue decimal.Decimal `db:"base_value" json:"base_value"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Currency  string          `db:"currency" json:"currency"`
	Method    Method          `db:"method" json:"method"`
	Status    Status          `db:"status" json:"status"`
	Fees      Fees            `db:"-" json:"fees"`

	// Amounts reserved on the buyer's wallet when the payment was created.
	LockedFiat    decimal.Decimal `db:"locked_fiat" json:"-"`
	LockedCredits decimal.Decimal `db:"locked_credits" json:"-"`

	ProcessorName          string  `db:"processor_name" json:"processor_name,omitempty"`
	ProcessorTransactionID string  `db:"processor_transaction_id" json:"processor_transaction_id,omitempty"`
	RedirectURL            string  `db:"redirect_url" json:"redirect_url,omitempty"`
	TransactionID          *string `db:"transaction_id" json:"transaction_id,omitempty"`

	ErrorCode    string `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`

	ReconcileAttempts int  `db:"reconcile_attempts" json:"reconcile_attempts"`
	NeedsReview       bool `db:"needs_review" json:"needs_review"`

	AuditTrail []AuditEntry `db:"-" json:"audit_trail"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Audit appends an entry to the trail. Entries are never edited.
func (p *Payment) Audit(action, actor string, details map[string]string, at time.Time) {
	p.AuditTrail = append(p.AuditTrail, AuditEntry{
		Seq:       len(p.AuditTrail) + 1,
		Action:    action,
		Actor:     actor,
		Details:   details,
		Timestamp: at,
	})
	p.UpdatedAt = at
}

func (p *Payment) Clone() *Payment {
	c := *p
	c.AuditTrail = append([]AuditEntry(nil), p.AuditTrail...)
	if p.TransactionID != nil {
		id := *p.TransactionID
		c.TransactionID = &id
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
