package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"carbonledger/internal/logger"
	"carbonledger/internal/metrics"
	"carbonledger/internal/payment"
	"carbonledger/internal/processor"
	"carbonledger/internal/settlement"
	"carbonledger/internal/store"
)

var reconcilerActor = settlement.Actor{ID: "system:reconciler", Admin: true}

// PollerStore is the read side the poller needs.
type PollerStore interface {
	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
	ListStalePayments(ctx context.Context, before time.Time, limit int) ([]*payment.Payment, error)
	CountNeedsReview(ctx context.Context) (int, error)
}

type AdapterSource interface {
	Get(name string) (processor.Adapter, error)
}

type PollerConfig struct {
	Interval time.Duration
	// MinAge is how long a payment must sit untouched before it is polled.
	MinAge      time.Duration
	MaxAttempts int
	// ActionTimeout cancels requires_action payments the payer abandoned.
	ActionTimeout time.Duration
	BatchSize     int
}

type Summary struct {
	Checked   int `json:"checked"`
	Resolved  int `json:"resolved"`
	Escalated int `json:"escalated"`
	Errors    int `json:"errors"`
}

// Poller is the backstop for lost webhooks. Every interval it verifies
// in-flight payments with their processor and feeds the answer through the
// same path as a webhook.
type Poller struct {
	payments   PollerStore
	settler    Settler
	processors AdapterSource
	cfg        PollerConfig
	now        func() time.Time
}

func NewPoller(payments PollerStore, settler Settler, processors AdapterSource, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Poller{
		payments:   payments,
		settler:    settler,
		processors: processors,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (p *Poller) Start(ctx context.Context) {
	log := logger.Component("poller")
	log.Info("Reconciliation poller started", "interval", p.cfg.Interval.String())

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Reconciliation poller stopped")
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				log.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

// RunOnce sweeps one batch of stale payments.
func (p *Poller) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary

	stale, err := p.payments.ListStalePayments(ctx, p.now().Add(-p.cfg.MinAge), p.cfg.BatchSize)
	if err != nil {
		metrics.RecordReconcileRun("error")
		return sum, fmt.Errorf("list stale payments: %w", err)
	}

	for _, stalePayment := range stale {
		sum.Checked++

		current, escalated, err := p.settler.BeginReconcile(ctx, stalePayment.ID, p.cfg.MaxAttempts)
		if err != nil {
			sum.Errors++
			logger.WithError(err).Error("failed to start reconciliation", "payment_id", stalePayment.ID)
			continue
		}
		if escalated {
			sum.Escalated++
			continue
		}
		if current.Status.Terminal() || current.NeedsReview {
			continue
		}

		updated, err := p.reconcile(ctx, current)
		if err != nil {
			sum.Errors++
			logger.Warn("reconciliation attempt failed",
				"payment_id", current.ID,
				"attempt", current.ReconcileAttempts,
				"error", err,
			)
			continue
		}
		if updated.Status.Terminal() {
			sum.Resolved++
		}
	}

	outcome := "ok"
	if sum.Errors > 0 {
		outcome = "partial"
	}
	metrics.RecordReconcileRun(outcome)

	if n, err := p.payments.CountNeedsReview(ctx); err == nil {
		metrics.SetPaymentsNeedingReview(n)
	} else {
		logger.WithError(err).Warn("failed to count payments needing review")
	}

	if sum.Checked > 0 {
		logger.Info("reconciliation sweep finished",
			"checked", sum.Checked,
			"resolved", sum.Resolved,
			"escalated", sum.Escalated,
			"errors", sum.Errors,
		)
	}
	return sum, nil
}

// ReconcilePayment verifies one payment on demand. It does not count
// towards the escalation ceiling.
func (p *Poller) ReconcilePayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	current, err := p.payments.GetPayment(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, settlement.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, nil
	}
	return p.reconcile(ctx, current)
}

func (p *Poller) reconcile(ctx context.Context, current *payment.Payment) (*payment.Payment, error) {
	// The charge timed out before the processor told us its reference.
	if current.ProcessorTransactionID == "" {
		return p.settler.RecoverCharge(ctx, current.ID)
	}

	adapter, err := p.processors.Get(current.ProcessorName)
	if err != nil {
		return nil, err
	}
	v, err := adapter.Verify(ctx, current.ProcessorTransactionID)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", current.ID, err)
	}

	if v.Status == processor.StatusRequiresAction && current.Status == payment.StatusRequiresAction &&
		p.cfg.ActionTimeout > 0 && p.now().Sub(current.CreatedAt) > p.cfg.ActionTimeout {
		return p.settler.CancelPayment(ctx, current.ID, reconcilerActor, "action_timeout")
	}

	report := settlement.Report{
		Source:                 "poll",
		ProcessorName:          current.ProcessorName,
		ProcessorTransactionID: current.ProcessorTransactionID,
		Status:                 v.Status,
		Currency:               v.Currency,
		FailureReason:          v.FailureReason,
	}
	if !v.Amount.IsZero() {
		report.Amount = decimal.NewNullDecimal(v.Amount)
	}

	updated, _, err := p.settler.ApplyReport(ctx, current.ID, report)
	return updated, err
}
