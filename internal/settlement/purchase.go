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
	"carbonledger/internal/payment"
	"carbonledger/internal/processor"
	"carbonledger/internal/project"
	"carbonledger/internal/store"
	"carbonledger/internal/transaction"
	"carbonledger/internal/wallet"
)

const (
	actionChargeRequested = "charge_requested"
	idempotencyDetail     = "idempotency_key"
)

type PurchaseRequest struct {
	// PaymentID is the caller's idempotency key. Generated when empty.
	PaymentID     string
	UserID        string
	ProjectID     string
	CreditAmount  decimal.Decimal
	PricePerUnit  decimal.Decimal
	Method        payment.Method
	MethodDetails map[string]string
}

type Result struct {
	Payment     *payment.Payment
	Transaction *transaction.Transaction
	// Replayed is set when the payment ID was already used by this user and
	// the stored payment is returned untouched.
	Replayed bool
}

// Pending reports whether the caller has to poll for the final outcome.
func (r *Result) Pending() bool {
	return !r.Payment.Status.Terminal()
}

func NewPaymentID() string {
	return "pay_" + strings.ToLower(ulid.Make().String())
}

// ProcessPayment prices the purchase, reserves the total on the buyer's
// wallet and charges the processor. Only a synchronous success completes the
// payment here; anything inconclusive is left for the webhook or the
// reconciliation poller.
func (s *service) ProcessPayment(ctx context.Context, req PurchaseRequest) (*Result, error) {
	start := time.Now()

	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ProjectID) == "" {
		return nil, fmt.Errorf("%w: user and project are required", ErrInvalidInput)
	}

	params, err := s.price(ctx, req)
	if err != nil {
		return nil, err
	}

	adapter, err := s.processors.ForMethod(req.Method)
	if err != nil {
		return nil, fmt.Errorf("%w: method %s is not available", ErrInvalidInput, req.Method)
	}

	if req.PaymentID == "" {
		req.PaymentID = NewPaymentID()
	}
	params.ID = req.PaymentID

	r, err := s.reserve(ctx, req, params, adapter)
	if err != nil {
		return nil, err
	}
	res := r.result
	if res.Replayed {
		return s.withTransaction(ctx, res)
	}
	s.afterCommit(ctx, "process_payment", payment.StatusPending, res.Payment, nil)
	if r.rejected != nil {
		metrics.ObserveSettlement(string(req.Method), "insufficient_funds", time.Since(start).Seconds())
		return nil, fmt.Errorf("payment %s: %w", res.Payment.ID, r.rejected)
	}

	chargeCtx := context.WithoutCancel(ctx)
	charge, chargeErr := adapter.Charge(chargeCtx, processor.ChargeRequest{
		Amount:         res.Payment.Amount,
		Currency:       res.Payment.Currency,
		MethodDetails:  req.MethodDetails,
		IdempotencyKey: res.Payment.ID,
		Description:    fmt.Sprintf("%s carbon credits of project %s", res.Payment.CreditAmount, res.Payment.ProjectID),
	})

	p, err := s.applyCharge(chargeCtx, res.Payment.ID, adapter.Name(), charge, chargeErr)
	outcome := processor.Outcome(chargeErr)
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveSettlement(string(req.Method), outcome, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return s.withTransaction(ctx, &Result{Payment: p})
}

// price validates the request against the listing and computes fees.
func (s *service) price(ctx context.Context, req PurchaseRequest) (payment.NewParams, error) {
	price := req.PricePerUnit
	var vintage, standard string

	if s.catalog != nil {
		proj, err := s.catalog.Get(ctx, req.ProjectID)
		if errors.Is(err, project.ErrNotFound) {
			return payment.NewParams{}, fmt.Errorf("%w: project %s not found", ErrInvalidInput, req.ProjectID)
		}
		if err != nil {
			return payment.NewParams{}, fmt.Errorf("load project %s: %w", req.ProjectID, err)
		}
		if !proj.Active {
			return payment.NewParams{}, fmt.Errorf("%w: %v", ErrInvalidInput, project.ErrInactive)
		}
		if price.IsZero() {
			price = proj.PricePerUnit
		} else if !price.Equal(proj.PricePerUnit) {
			return payment.NewParams{}, fmt.Errorf("%w: price %s does not match listing price %s",
				ErrInvalidInput, price, proj.PricePerUnit)
		}
		if proj.AvailableCredits.LessThan(req.CreditAmount) {
			return payment.NewParams{}, fmt.Errorf("%w: project %s lists only %s credits",
				ErrInvalidInput, proj.ID, proj.AvailableCredits)
		}
		vintage, standard = proj.Vintage, proj.Standard
	}

	quote, err := s.calculator.Calculate(req.CreditAmount, price, req.Method)
	if err != nil {
		return payment.NewParams{}, err
	}

	return payment.NewParams{
		UserID:       req.UserID,
		ProjectID:    req.ProjectID,
		CreditAmount: req.CreditAmount,
		PricePerUnit: price,
		Vintage:      vintage,
		Standard:     standard,
		BaseValue:    quote.BaseValue,
		Amount:       quote.Total,
		Currency:     s.currency,
		Method:       req.Method,
		Fees:         quote.Fees(),
		Actor:        req.UserID,
	}, nil
}

type reservation struct {
	result *Result
	// rejected is set when the wallet could not cover the total. The wallet
	// is untouched and the payment is stored as failed.
	rejected error
}

// reserve creates the payment and locks its total on the wallet in one
// transaction.
func (s *service) reserve(ctx context.Context, req PurchaseRequest, params payment.NewParams, adapter processor.Adapter) (*reservation, error) {
	var (
		res      *Result
		rejected error
	)

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		existing, err := tx.LockPayment(ctx, params.ID)
		switch {
		case err == nil:
			if existing.UserID != req.UserID {
				return fmt.Errorf("%w: payment id %s is already in use", ErrInvalidInput, params.ID)
			}
			res = &Result{Payment: existing.Clone(), Replayed: true}
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		w, err := tx.LockWallet(ctx, req.UserID, params.Currency)
		if err != nil {
			return err
		}

		at := s.now()
		p := payment.New(params, at)
		p.ProcessorName = adapter.Name()
		u := &unit{ctx: ctx, tx: tx, p: p, w: w, at: at}

		if err := w.LockBalance(p.Amount, decimal.Zero); err != nil {
			if !errors.Is(err, wallet.ErrInsufficientFunds) {
				return err
			}
			rejected = err
			p.ErrorCode = payment.CodeInsufficientFunds
			p.ErrorMessage = err.Error()
			if err := u.transition(payment.EventFail, systemActor, map[string]string{
				"error_code": payment.CodeInsufficientFunds,
			}); err != nil {
				return err
			}
			res = &Result{Payment: p}
			return tx.CreatePayment(ctx, p)
		}
		p.LockedFiat = p.Amount
		u.book(wallet.EntryLock, p.Amount, decimal.Zero, p.ProjectID)

		if err := u.transition(payment.EventStartProcessing, systemActor, nil); err != nil {
			return err
		}
		p.Audit(actionChargeRequested, systemActor, chargeDetails(p.ID, req.MethodDetails), at)

		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		if err := w.CheckInvariants(); err != nil {
			s.invariantViolation("lock_balance", p.ID, err)
			return err
		}
		w.UpdatedAt = at
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		for _, e := range u.entries {
			if err := tx.AddEntry(ctx, e); err != nil {
				return err
			}
		}
		res = &Result{Payment: p.Clone()}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: payment id %s is already in use", ErrInvalidInput, params.ID)
		}
		return nil, err
	}
	return &reservation{result: res, rejected: rejected}, nil
}

// chargeDetails keeps what is needed to repeat the charge after a timeout.
func chargeDetails(paymentID string, methodDetails map[string]string) map[string]string {
	d := make(map[string]string, len(methodDetails)+1)
	for k, v := range methodDetails {
		d[k] = v
	}
	d[idempotencyDetail] = paymentID
	return d
}

// applyCharge folds the result of a charge call into the payment.
func (s *service) applyCharge(ctx context.Context, paymentID, processorName string, res *processor.ChargeResult, chargeErr error) (*payment.Payment, error) {
	return s.withPayment(ctx, "charge", paymentID, func(u *unit) error {
		p := u.p
		if p.Status.Terminal() {
			// A webhook or a cancellation got here first.
			s.lateCharge(u, processorName, res, chargeErr)
			return nil
		}

		if chargeErr != nil {
			return s.chargeFailed(u, processorName, chargeErr)
		}

		if res.ProcessorTransactionID != "" && p.ProcessorTransactionID == "" {
			p.ProcessorName = processorName
			p.ProcessorTransactionID = res.ProcessorTransactionID
		}
		if res.RedirectURL != "" {
			p.RedirectURL = res.RedirectURL
		}
		details := map[string]string{
			"processor":                processorName,
			"processor_transaction_id": res.ProcessorTransactionID,
			"status":                   string(res.Status),
		}

		switch res.Status {
		case processor.StatusSucceeded:
			return s.complete(u, systemActor, details)
		case processor.StatusFailed:
			return s.release(u, payment.EventFail, payment.CodeProcessorDeclined, res.FailureReason, systemActor)
		case processor.StatusRequiresAction:
			if p.Status == payment.StatusRequiresAction {
				p.Audit("charge_requires_action", systemActor, details, u.at)
				return nil
			}
			return u.transition(payment.EventRequireAction, systemActor, details)
		default:
			p.Audit("charge_pending", systemActor, details, u.at)
			return nil
		}
	})
}

// lateCharge records a charge result for a payment that is already final.
// A success on a cancelled payment means money was captured that nothing
// will book, so the payment is held for a manual refund.
func (s *service) lateCharge(u *unit, processorName string, res *processor.ChargeResult, chargeErr error) {
	p := u.p
	details := map[string]string{"processor": processorName}
	if chargeErr != nil {
		details["error"] = chargeErr.Error()
		p.Audit("late_charge_result", systemActor, details, u.at)
		return
	}

	details["processor_transaction_id"] = res.ProcessorTransactionID
	details["status"] = string(res.Status)
	if res.ProcessorTransactionID != "" && p.ProcessorTransactionID == "" {
		p.ProcessorName = processorName
		p.ProcessorTransactionID = res.ProcessorTransactionID
	}

	if p.Status == payment.StatusCancelled && res.Status == processor.StatusSucceeded {
		logger.Warn("charge succeeded after cancel",
			"payment_id", p.ID,
			"processor", processorName,
			"processor_transaction_id", res.ProcessorTransactionID,
		)
		p.NeedsReview = true
		p.Audit(string(DispositionChargeAfterCancel), systemActor, details, u.at)
		return
	}
	p.Audit("late_charge_result", systemActor, details, u.at)
}

func (s *service) chargeFailed(u *unit, processorName string, err error) error {
	p := u.p
	details := map[string]string{
		"processor": processorName,
		"error":     err.Error(),
	}

	switch {
	case errors.Is(err, processor.ErrDeclined):
		return s.release(u, payment.EventFail, payment.CodeProcessorDeclined, err.Error(), systemActor)
	case errors.Is(err, processor.ErrTransient):
		// The charge may have gone through; the poller resolves it.
		logger.Warn("charge outcome unknown",
			"payment_id", p.ID,
			"processor", processorName,
			"error", err,
		)
		p.Audit("charge_timeout", systemActor, details, u.at)
		return nil
	default:
		logger.Error("charge integration error",
			"payment_id", p.ID,
			"processor", processorName,
			"amount", p.Amount.String(),
			"currency", p.Currency,
			"error", err,
		)
		p.NeedsReview = true
		p.ErrorCode = payment.CodeIntegrationError
		p.ErrorMessage = err.Error()
		p.Audit("integration_error", systemActor, details, u.at)
		return nil
	}
}

func (s *service) withTransaction(ctx context.Context, res *Result) (*Result, error) {
	if res.Payment.TransactionID == nil {
		return res, nil
	}
	tr, err := s.store.GetTransactionByPayment(ctx, res.Payment.ID)
	if err != nil {
		return nil, fmt.Errorf("load transaction for %s: %w", res.Payment.ID, err)
	}
	res.Transaction = tr
	return res, nil
}

// RecoverCharge repeats a charge whose first attempt ended without a
// processor reference. The original idempotency key and method details are
// reused so the processor can deduplicate.
func (s *service) RecoverCharge(ctx context.Context, paymentID string) (*payment.Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() || p.ProcessorTransactionID != "" {
		return p, nil
	}

	adapter, err := s.adapterFor(p)
	if err != nil {
		return nil, err
	}

	details := lastChargeDetails(p)
	key := details[idempotencyDetail]
	if key == "" {
		key = p.ID
	}
	delete(details, idempotencyDetail)

	res, chargeErr := adapter.Charge(ctx, processor.ChargeRequest{
		Amount:         p.Amount,
		Currency:       p.Currency,
		MethodDetails:  details,
		IdempotencyKey: key,
		Description:    fmt.Sprintf("%s carbon credits of project %s", p.CreditAmount, p.ProjectID),
	})
	return s.applyCharge(ctx, p.ID, adapter.Name(), res, chargeErr)
}

func (s *service) adapterFor(p *payment.Payment) (processor.Adapter, error) {
	if p.ProcessorName != "" {
		return s.processors.Get(p.ProcessorName)
	}
	return s.processors.ForMethod(p.Method)
}

func lastChargeDetails(p *payment.Payment) map[string]string {
	out := map[string]string{}
	for i := len(p.AuditTrail) - 1; i >= 0; i-- {
		if p.AuditTrail[i].Action == actionChargeRequested {
			for k, v := range p.AuditTrail[i].Details {
				out[k] = v
			}
			break
		}
	}
	return out
}
