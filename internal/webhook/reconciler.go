// Package webhook resolves the final state of payments from processor
// events and, when those get lost, from periodic verify polls.
package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"carbonledger/internal/logger"
	"carbonledger/internal/metrics"
	"carbonledger/internal/payment"
	"carbonledger/internal/processor"
	"carbonledger/internal/settlement"
	"carbonledger/internal/store"
)

var ErrInvalidEvent = errors.New("invalid processor event")

// Settler is the part of the settlement service the reconciler drives.
type Settler interface {
	ApplyReport(ctx context.Context, paymentID string, r settlement.Report) (*payment.Payment, settlement.Disposition, error)
	BeginReconcile(ctx context.Context, paymentID string, maxAttempts int) (*payment.Payment, bool, error)
	RecoverCharge(ctx context.Context, paymentID string) (*payment.Payment, error)
	CancelPayment(ctx context.Context, paymentID string, by settlement.Actor, reason string) (*payment.Payment, error)
}

// PaymentFinder looks payments up by our ID or the processor's.
type PaymentFinder interface {
	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
	FindPaymentByProcessorRef(ctx context.Context, processorName, processorTxID string) (*payment.Payment, error)
}

// Event is a verified, decoded processor notification.
type Event struct {
	Processor             string
	ExternalTransactionID string
	// Reference is our payment ID when the processor echoes it back.
	Reference string
	Status    processor.Status
	Amount    decimal.NullDecimal
	Currency  string
	Raw       map[string]string
}

type Result struct {
	Found       bool
	PaymentID   string
	Status      payment.Status
	Disposition settlement.Disposition
}

type Reconciler struct {
	payments PaymentFinder
	settler  Settler
}

func NewReconciler(payments PaymentFinder, settler Settler) *Reconciler {
	return &Reconciler{payments: payments, settler: settler}
}

// OnProcessorEvent applies one processor event. Events for payments we do
// not know are logged and dropped without an error, so the processor stops
// redelivering them.
func (r *Reconciler) OnProcessorEvent(ctx context.Context, e Event) (*Result, error) {
	if e.Processor == "" || e.ExternalTransactionID == "" || !e.Status.Valid() {
		metrics.RecordWebhookEvent(e.Processor, "invalid")
		return nil, fmt.Errorf("%w: processor=%q id=%q status=%q", ErrInvalidEvent, e.Processor, e.ExternalTransactionID, e.Status)
	}

	p, err := r.lookup(ctx, e)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("webhook for unknown payment",
			"processor", e.Processor,
			"processor_transaction_id", e.ExternalTransactionID,
			"reference", e.Reference,
		)
		metrics.RecordWebhookEvent(e.Processor, "unknown_payment")
		return &Result{Found: false}, nil
	}
	if err != nil {
		metrics.RecordWebhookEvent(e.Processor, "error")
		return nil, err
	}

	updated, disp, err := r.settler.ApplyReport(ctx, p.ID, settlement.Report{
		Source:                 "webhook",
		ProcessorName:          e.Processor,
		ProcessorTransactionID: e.ExternalTransactionID,
		Status:                 e.Status,
		Amount:                 e.Amount,
		Currency:               e.Currency,
		Raw:                    e.Raw,
	})
	if err != nil {
		metrics.RecordWebhookEvent(e.Processor, "error")
		logger.Error("failed to apply webhook",
			"payment_id", p.ID,
			"processor", e.Processor,
			"status", string(e.Status),
			"error", err,
		)
		return nil, err
	}

	metrics.RecordWebhookEvent(e.Processor, string(disp))
	logger.Info("webhook applied",
		"payment_id", updated.ID,
		"processor", e.Processor,
		"reported", string(e.Status),
		"status", string(updated.Status),
		"disposition", string(disp),
	)
	return &Result{Found: true, PaymentID: updated.ID, Status: updated.Status, Disposition: disp}, nil
}

// lookup prefers the processor reference and falls back to our payment ID
// for events that beat the synchronous charge response.
func (r *Reconciler) lookup(ctx context.Context, e Event) (*payment.Payment, error) {
	p, err := r.payments.FindPaymentByProcessorRef(ctx, e.Processor, e.ExternalTransactionID)
	if err == nil || !errors.Is(err, store.ErrNotFound) || e.Reference == "" {
		return p, err
	}

	p, err = r.payments.GetPayment(ctx, e.Reference)
	if err != nil {
		return nil, err
	}
	if p.ProcessorName != e.Processor {
		return nil, store.ErrNotFound
	}
	if p.ProcessorTransactionID != "" && p.ProcessorTransactionID != e.ExternalTransactionID {
		return nil, store.ErrNotFound
	}
	return p, nil
}
