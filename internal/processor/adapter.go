package processor

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"carbonledger/internal/payment"
)

var (
	// ErrDeclined is a processor-reported business failure. Not retried.
	ErrDeclined = errors.New("processor declined")
	// ErrTransient covers timeouts and processor-side outages. Safe to retry
	// with the same idempotency key.
	ErrTransient = errors.New("processor unavailable")
	// ErrIntegration means the processor answered with something we cannot
	// interpret. Never guessed into success or failure.
	ErrIntegration = errors.New("processor integration error")

	ErrUnknownProcessor = errors.New("unknown processor")
)

type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusPending        Status = "pending"
	StatusRequiresAction Status = "requires_action"
	StatusFailed         Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSucceeded, StatusPending, StatusRequiresAction, StatusFailed:
		return true
	}
	return false
}

type ChargeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	MethodDetails  map[string]string
	IdempotencyKey string
	Description    string
}

type ChargeResult struct {
	ProcessorTransactionID string
	Status                 Status
	RedirectURL            string
	FailureReason          string
}

type VerifyResult struct {
	Status        Status
	Amount        decimal.Decimal
	Currency      string
	FailureReason string
}

type RefundRequest struct {
	ProcessorTransactionID string
	Amount                 decimal.Decimal
	Currency               string
	IdempotencyKey         string
}

type RefundResult struct {
	RefundID string
	Status   Status
}

// Adapter is one payment rail. Charge must be safe to repeat with the same
// IdempotencyKey.
type Adapter interface {
	Name() string
	Method() payment.Method
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Verify(ctx context.Context, processorTransactionID string) (*VerifyResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// Outcome classifies an adapter error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDeclined):
		return "declined"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrIntegration):
		return "integration"
	default:
		return "error"
	}
}
