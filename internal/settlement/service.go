// Package settlement coordinates payments, processor calls and wallet
// mutations so that a purchase is reflected in the buyer's wallet exactly
// once.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"carbonledger/internal/fees"
	"carbonledger/internal/logger"
	"carbonledger/internal/metrics"
	"carbonledger/internal/notify"
	"carbonledger/internal/payment"
	"carbonledger/internal/processor"
	"carbonledger/internal/project"
	"carbonledger/internal/store"
	"carbonledger/internal/transaction"
	"carbonledger/internal/wallet"
)

var (
	ErrInvalidInput    = fees.ErrInvalidInput
	ErrPaymentNotFound = errors.New("payment not found")
	ErrPaymentFinal    = errors.New("payment is already final")
	ErrForbidden       = errors.New("payment belongs to another user")
)

const systemActor = "system"

// Actor is the caller an operation is performed for.
type Actor struct {
	ID    string
	Admin bool
}

func (a Actor) owns(p *payment.Payment) bool {
	return a.Admin || a.ID == p.UserID
}

type Service interface {
	Quote(creditAmount, pricePerUnit decimal.Decimal, method payment.Method) (fees.Quote, error)

	ProcessPayment(ctx context.Context, req PurchaseRequest) (*Result, error)
	GetPayment(ctx context.Context, paymentID string, by Actor) (*payment.Payment, error)
	CancelPayment(ctx context.Context, paymentID string, by Actor, reason string) (*payment.Payment, error)
	RefundPayment(ctx context.Context, paymentID string, by Actor) (*payment.Payment, error)

	ApplyReport(ctx context.Context, paymentID string, r Report) (*payment.Payment, Disposition, error)
	BeginReconcile(ctx context.Context, paymentID string, maxAttempts int) (*payment.Payment, bool, error)
	RecoverCharge(ctx context.Context, paymentID string) (*payment.Payment, error)

	TopUp(ctx context.Context, userID string, amount decimal.Decimal, by Actor) (*wallet.Wallet, error)
	SellCredits(ctx context.Context, userID, projectID string, amount decimal.Decimal) (*wallet.Wallet, error)
	RetireCredits(ctx context.Context, userID, projectID string, amount decimal.Decimal) (*Retirement, error)

	GetWallet(ctx context.Context, userID string) (*wallet.Wallet, error)
	ListEntries(ctx context.Context, userID string, limit, offset int) ([]wallet.Entry, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]transaction.Transaction, error)
}

// Options wires the collaborators. Catalog may be nil, in which case the
// request's price is trusted. Notifier defaults to logging.
type Options struct {
	Store      store.Store
	Processors *processor.Registry
	Calculator *fees.Calculator
	Catalog    project.Catalog
	Notifier   notify.Dispatcher
	Currency   string
}

type service struct {
	store      store.Store
	processors *processor.Registry
	calculator *fees.Calculator
	catalog    project.Catalog
	notifier   notify.Dispatcher
	currency   string
	now        func() time.Time
}

func NewService(opts Options) Service {
	return newService(opts)
}

func newService(opts Options) *service {
	s := &service{
		store:      opts.Store,
		processors: opts.Processors,
		calculator: opts.Calculator,
		catalog:    opts.Catalog,
		notifier:   opts.Notifier,
		currency:   opts.Currency,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.calculator == nil {
		s.calculator = fees.NewCalculator(fees.DefaultNetworkFee)
	}
	if s.notifier == nil {
		s.notifier = notify.LogDispatcher{}
	}
	if s.currency == "" {
		s.currency = "USD"
	}
	return s
}

func (s *service) Quote(creditAmount, pricePerUnit decimal.Decimal, method payment.Method) (fees.Quote, error) {
	return s.calculator.Calculate(creditAmount, pricePerUnit, method)
}

// errUnchanged aborts a unit without persisting anything.
var errUnchanged = errors.New("unchanged")

// unit is one locked read-modify-write of a payment and its buyer's wallet.
type unit struct {
	ctx     context.Context
	tx      store.Tx
	p       *payment.Payment
	w       *wallet.Wallet
	at      time.Time
	entries []wallet.Entry
	notes   []notify.EventType
}

// book records a wallet ledger entry. The wallet is saved with the unit.
func (u *unit) book(t wallet.EntryType, fiat, credits decimal.Decimal, projectID string) {
	u.entries = append(u.entries, u.w.NewEntry(t, fiat, credits, projectID, u.p.ID, u.at))
}

func (u *unit) transition(ev payment.Event, actor string, details map[string]string) error {
	return payment.ApplyTransition(u.p, payment.Transition{Event: ev, Actor: actor, Details: details, At: u.at})
}

// withPayment locks the payment, then its buyer's wallet, runs fn and
// persists both. Notifications and transition logs are emitted after commit.
func (s *service) withPayment(ctx context.Context, op, paymentID string, fn func(u *unit) error) (*payment.Payment, error) {
	var (
		from payment.Status
		out  *payment.Payment
		u    *unit
	)

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		w, err := tx.LockWallet(ctx, p.UserID, p.Currency)
		if err != nil {
			return err
		}

		from = p.Status
		u = &unit{ctx: ctx, tx: tx, p: p, w: w, at: s.now()}
		if err := fn(u); err != nil {
			return err
		}
		if err := s.persist(u, op); err != nil {
			return err
		}
		out = p.Clone()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return u.p.Clone(), nil
	}
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, op, from, out, u.notes)
	return out, nil
}

func (s *service) persist(u *unit, op string) error {
	if len(u.entries) > 0 {
		if err := u.w.CheckInvariants(); err != nil {
			s.invariantViolation(op, u.p.ID, err)
			return err
		}
		u.w.UpdatedAt = u.at
		if err := u.tx.SaveWallet(u.ctx, u.w); err != nil {
			return err
		}
		for _, e := range u.entries {
			if err := u.tx.AddEntry(u.ctx, e); err != nil {
				return err
			}
		}
	}
	return u.tx.UpdatePayment(u.ctx, u.p)
}

func (s *service) afterCommit(ctx context.Context, op string, from payment.Status, p *payment.Payment, notes []notify.EventType) {
	if from != p.Status {
		logger.Info("payment transition",
			"payment_id", p.ID,
			"from", string(from),
			"to", string(p.Status),
			"operation", op,
		)
		metrics.RecordPayment(string(p.Method), string(p.Status))
		if t, ok := statusEvents[p.Status]; ok {
			notes = append([]notify.EventType{t}, notes...)
		}
	}
	for _, t := range notes {
		s.notifier.Notify(ctx, notify.NewPaymentEvent(t, p, s.now()))
	}
}

var statusEvents = map[payment.Status]notify.EventType{
	payment.StatusCompleted:      notify.EventPaymentCompleted,
	payment.StatusFailed:         notify.EventPaymentFailed,
	payment.StatusCancelled:      notify.EventPaymentCancelled,
	payment.StatusRefunded:       notify.EventPaymentRefunded,
	payment.StatusRequiresAction: notify.EventPaymentRequiresAction,
}

func (s *service) invariantViolation(op, paymentID string, err error) {
	metrics.RecordInvariantViolation(op)
	logger.Error("wallet invariant violated",
		"invariant_violation", true,
		"operation", op,
		"payment_id", paymentID,
		"error", err,
	)
}

// complete books the purchase and creates its Transaction. The payment moves
// to completed only if every write succeeds.
func (s *service) complete(u *unit, actor string, details map[string]string) error {
	p := u.p
	if err := u.w.CommitPurchase(p.LockedFiat, p.CreditAmount, p.ProjectID, p.PricePerUnit, p.Vintage, p.Standard); err != nil {
		if errors.Is(err, wallet.ErrInvariantViolation) {
			s.invariantViolation("commit_purchase", p.ID, err)
		}
		return fmt.Errorf("commit purchase %s: %w", p.ID, err)
	}
	u.book(wallet.EntryPurchase, p.LockedFiat, p.CreditAmount, p.ProjectID)

	tr := transaction.New(transaction.NewParams{
		PaymentID:     p.ID,
		BuyerID:       p.UserID,
		ProjectID:     p.ProjectID,
		CreditsAmount: p.CreditAmount,
		PricePerUnit:  p.PricePerUnit,
		Amount:        p.Amount,
		Currency:      p.Currency,
	}, u.at)
	if err := u.tx.CreateTransaction(u.ctx, tr); err != nil {
		return err
	}
	p.TransactionID = &tr.ID

	return u.transition(payment.EventSucceed, actor, details)
}

// release ends a non-completed payment and returns the reserved amounts to
// the buyer.
func (s *service) release(u *unit, ev payment.Event, code, reason, actor string) error {
	p := u.p
	details := map[string]string{"error_code": code}
	if reason != "" {
		details["reason"] = reason
	}
	if err := u.transition(ev, actor, details); err != nil {
		return err
	}

	if err := u.w.UnlockBalance(p.LockedFiat, p.LockedCredits); err != nil {
		if errors.Is(err, wallet.ErrInvariantViolation) {
			s.invariantViolation("unlock_balance", p.ID, err)
		}
		return fmt.Errorf("unlock payment %s: %w", p.ID, err)
	}
	u.book(wallet.EntryUnlock, p.LockedFiat, p.LockedCredits, p.ProjectID)

	p.ErrorCode = code
	p.ErrorMessage = reason
	return nil
}
