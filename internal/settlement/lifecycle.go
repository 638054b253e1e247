package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"carbonledger/internal/logger"
	"carbonledger/internal/notify"
	"carbonledger/internal/payment"
	"carbonledger/internal/processor"
	"carbonledger/internal/store"
	"carbonledger/internal/wallet"
)

func (s *service) GetPayment(ctx context.Context, paymentID string, by Actor) (*payment.Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if !by.owns(p) {
		return nil, ErrForbidden
	}
	return p, nil
}

// CancelPayment ends an in-flight payment and releases its reservation. It
// takes the same lock as finalization, so a racing success either lands
// first (and the cancel fails with ErrPaymentFinal) or is recorded as a
// charge after cancel.
func (s *service) CancelPayment(ctx context.Context, paymentID string, by Actor, reason string) (*payment.Payment, error) {
	return s.withPayment(ctx, "cancel", paymentID, func(u *unit) error {
		if !by.owns(u.p) {
			return ErrForbidden
		}
		if u.p.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrPaymentFinal, u.p.Status)
		}
		if reason == "" {
			reason = "cancelled by " + by.ID
		}
		return s.release(u, payment.EventCancel, payment.CodeCancelled, reason, by.ID)
	})
}

// RefundPayment returns a completed purchase. The processor refund happens
// first; the wallet and records change only once it is accepted.
func (s *service) RefundPayment(ctx context.Context, paymentID string, by Actor) (*payment.Payment, error) {
	if !by.Admin {
		return nil, ErrForbidden
	}

	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if !payment.CanApply(p, payment.EventRefund) {
		return nil, fmt.Errorf("%w: refund from %s", payment.ErrInvalidTransition, p.Status)
	}

	w, err := s.store.GetWallet(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", p.UserID, err)
	}
	if err := w.Clone().ReversePurchase(p.Amount, p.CreditAmount, p.ProjectID); err != nil {
		return nil, err
	}

	adapter, err := s.adapterFor(p)
	if err != nil {
		return nil, err
	}
	refund, refundErr := adapter.Refund(ctx, processor.RefundRequest{
		ProcessorTransactionID: p.ProcessorTransactionID,
		Amount:                 p.Amount,
		Currency:               p.Currency,
		IdempotencyKey:         "refund_" + p.ID,
	})
	if refundErr == nil && refund.Status == processor.StatusFailed {
		refundErr = fmt.Errorf("%w: refund %s failed", processor.ErrDeclined, refund.RefundID)
	}
	if refundErr != nil {
		if _, err := s.audit(ctx, p.ID, "refund_rejected", by.ID, map[string]string{"error": refundErr.Error()}); err != nil {
			logger.WithError(err).Error("failed to audit refund rejection", "payment_id", p.ID)
		}
		return nil, fmt.Errorf("refund %s: %w", p.ID, refundErr)
	}

	out, err := s.withPayment(ctx, "refund", p.ID, func(u *unit) error {
		if err := u.transition(payment.EventRefund, by.ID, map[string]string{
			"refund_id":     refund.RefundID,
			"refund_status": string(refund.Status),
		}); err != nil {
			return err
		}
		if err := u.w.ReversePurchase(u.p.Amount, u.p.CreditAmount, u.p.ProjectID); err != nil {
			return err
		}
		u.book(wallet.EntryRefund, u.p.Amount, u.p.CreditAmount, u.p.ProjectID)

		tr, err := u.tx.LockTransactionByPayment(u.ctx, u.p.ID)
		if err != nil {
			return fmt.Errorf("lock transaction for %s: %w", u.p.ID, err)
		}
		tr.MarkRefunded(u.at)
		return u.tx.UpdateTransaction(u.ctx, tr)
	})
	if err != nil {
		// Money already went back through the processor.
		logger.Error("refund accepted by processor but not booked",
			"payment_id", p.ID,
			"refund_id", refund.RefundID,
			"error", err,
		)
		if _, rerr := s.flagForReview(ctx, p.ID, "refund_unbooked", map[string]string{
			"refund_id": refund.RefundID,
			"error":     err.Error(),
		}); rerr != nil {
			logger.WithError(rerr).Error("failed to flag payment for review", "payment_id", p.ID)
		}
		return nil, err
	}
	return out, nil
}

// Disposition is what applying a processor report did to a payment.
type Disposition string

const (
	// DispositionApplied means the payment changed status.
	DispositionApplied Disposition = "applied"
	// DispositionRecorded means the report was audited without a status change.
	DispositionRecorded Disposition = "recorded"
	// DispositionDuplicate means the payment was already final.
	DispositionDuplicate Disposition = "duplicate"
	// DispositionMismatch means amount or currency disagreed and the payment
	// is waiting for manual review.
	DispositionMismatch Disposition = "mismatch"
	// DispositionChargeAfterCancel means a success arrived for a cancelled
	// payment and has to be refunded by hand.
	DispositionChargeAfterCancel Disposition = "charge_after_cancel"
)

// Report is a processor's statement about a charge, from a webhook or a
// verify poll.
type Report struct {
	Source                 string
	ProcessorName          string
	ProcessorTransactionID string
	Status                 processor.Status
	Amount                 decimal.NullDecimal
	Currency               string
	FailureReason          string
	Raw                    map[string]string
}

func (r Report) auditDetails() map[string]string {
	d := make(map[string]string, len(r.Raw)+4)
	for k, v := range r.Raw {
		d[k] = v
	}
	d["source"] = r.Source
	d["processor"] = r.ProcessorName
	d["processor_transaction_id"] = r.ProcessorTransactionID
	d["status"] = string(r.Status)
	if r.Amount.Valid {
		d["amount"] = r.Amount.Decimal.String()
	}
	if r.Currency != "" {
		d["currency"] = r.Currency
	}
	return d
}

// ApplyReport records a processor report on the payment and moves it on when
// the report is conclusive. Replaying a report is harmless: once the payment
// is final only the audit trail grows.
func (s *service) ApplyReport(ctx context.Context, paymentID string, r Report) (*payment.Payment, Disposition, error) {
	if !r.Status.Valid() {
		return nil, "", fmt.Errorf("%w: processor status %q", ErrInvalidInput, r.Status)
	}

	disposition := DispositionRecorded
	actor := r.Source
	if actor == "" {
		actor = systemActor
	}

	p, err := s.withPayment(ctx, "processor_"+r.Source, paymentID, func(u *unit) error {
		p := u.p
		p.Audit("processor_event", actor, r.auditDetails(), u.at)

		if p.ProcessorTransactionID == "" && r.ProcessorTransactionID != "" {
			p.ProcessorName = r.ProcessorName
			p.ProcessorTransactionID = r.ProcessorTransactionID
		}

		if p.Status.Terminal() {
			disposition = DispositionDuplicate
			if p.Status == payment.StatusCancelled && r.Status == processor.StatusSucceeded {
				disposition = DispositionChargeAfterCancel
				logger.Warn("charge succeeded after cancel",
					"payment_id", p.ID,
					"processor", r.ProcessorName,
					"processor_transaction_id", r.ProcessorTransactionID,
				)
				p.NeedsReview = true
				p.Audit(string(DispositionChargeAfterCancel), actor, nil, u.at)
			}
			return nil
		}

		if mismatch := reportMismatch(p, r); mismatch != "" {
			disposition = DispositionMismatch
			logger.Error("processor report does not match payment",
				"payment_id", p.ID,
				"processor", r.ProcessorName,
				"mismatch", mismatch,
				"reported_amount", r.Amount.Decimal.String(),
				"reported_currency", r.Currency,
				"amount", p.Amount.String(),
				"currency", p.Currency,
			)
			p.NeedsReview = true
			p.ErrorCode = payment.CodeIntegrationError
			p.ErrorMessage = mismatch
			p.Audit("integration_error", actor, map[string]string{"mismatch": mismatch}, u.at)
			return nil
		}

		details := map[string]string{"source": r.Source}
		switch r.Status {
		case processor.StatusSucceeded:
			disposition = DispositionApplied
			return s.complete(u, actor, details)
		case processor.StatusFailed:
			disposition = DispositionApplied
			return s.release(u, payment.EventFail, payment.CodeProcessorDeclined, r.FailureReason, actor)
		case processor.StatusRequiresAction:
			if p.Status == payment.StatusProcessing {
				disposition = DispositionApplied
				return u.transition(payment.EventRequireAction, actor, details)
			}
		case processor.StatusPending:
			if p.Status == payment.StatusRequiresAction {
				disposition = DispositionApplied
				return u.transition(payment.EventResume, actor, details)
			}
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return p, disposition, nil
}

func reportMismatch(p *payment.Payment, r Report) string {
	if r.Amount.Valid && !r.Amount.Decimal.Equal(p.Amount) {
		return "amount"
	}
	if r.Currency != "" && !strings.EqualFold(r.Currency, p.Currency) {
		return "currency"
	}
	return ""
}

// BeginReconcile counts one reconciliation attempt. Past maxAttempts the
// payment is escalated for manual review and true is returned; the caller
// must then leave it alone.
func (s *service) BeginReconcile(ctx context.Context, paymentID string, maxAttempts int) (*payment.Payment, bool, error) {
	escalated := false
	p, err := s.withPayment(ctx, "reconcile", paymentID, func(u *unit) error {
		p := u.p
		if p.Status.Terminal() || p.NeedsReview {
			return errUnchanged
		}
		p.ReconcileAttempts++
		p.UpdatedAt = u.at
		if maxAttempts > 0 && p.ReconcileAttempts > maxAttempts {
			escalated = true
			p.NeedsReview = true
			p.Audit("escalated", systemActor, map[string]string{
				"attempts": strconv.Itoa(p.ReconcileAttempts),
			}, u.at)
			u.notes = append(u.notes, notify.EventPaymentEscalated)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if escalated {
		logger.Warn("payment escalated for review",
			"payment_id", p.ID,
			"status", string(p.Status),
			"attempts", p.ReconcileAttempts,
		)
	}
	return p, escalated, nil
}

// flagForReview marks a payment for manual review without changing its
// status.
func (s *service) flagForReview(ctx context.Context, paymentID, action string, details map[string]string) (*payment.Payment, error) {
	return s.withPayment(ctx, "review", paymentID, func(u *unit) error {
		u.p.NeedsReview = true
		u.p.Audit(action, systemActor, details, u.at)
		return nil
	})
}

func (s *service) audit(ctx context.Context, paymentID, action, actor string, details map[string]string) (*payment.Payment, error) {
	return s.withPayment(ctx, "audit", paymentID, func(u *unit) error {
		u.p.Audit(action, actor, details, u.at)
		return nil
	})
}
