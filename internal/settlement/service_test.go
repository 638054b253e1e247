package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carbonledger/internal/notify"
	"carbonledger/internal/payment"
	"carbonledger/internal/processor"
	"carbonledger/internal/project"
	"carbonledger/internal/store"
	"carbonledger/internal/transaction"
	"carbonledger/internal/wallet"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Notify(ctx context.Context, e notify.Event) {
	m.Called(ctx, e)
}

type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Name() string           { return "mock-card" }
func (m *MockAdapter) Method() payment.Method { return payment.MethodCard }

func (m *MockAdapter) Charge(ctx context.Context, req processor.ChargeRequest) (*processor.ChargeResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*processor.ChargeResult)
	return res, args.Error(1)
}

func (m *MockAdapter) Verify(ctx context.Context, id string) (*processor.VerifyResult, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*processor.VerifyResult)
	return res, args.Error(1)
}

func (m *MockAdapter) Refund(ctx context.Context, req processor.RefundRequest) (*processor.RefundResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*processor.RefundResult)
	return res, args.Error(1)
}

var admin = Actor{ID: "admin-1", Admin: true}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

type harness struct {
	svc      *service
	store    *store.Memory
	card     *processor.Sandbox
	notifier *MockDispatcher
}

func newHarness(t *testing.T, adapters ...processor.Adapter) *harness {
	t.Helper()

	st := store.NewMemory()
	reg := processor.NewRegistry()
	card := processor.NewSandbox("card-sandbox", payment.MethodCard)
	if len(adapters) == 0 {
		adapters = []processor.Adapter{card}
	}
	for _, a := range adapters {
		require.NoError(t, reg.Register(a, "secret"))
	}

	n := new(MockDispatcher)
	n.On("Notify", mock.Anything, mock.Anything).Return()

	return &harness{
		svc:      newService(Options{Store: st, Processors: reg, Notifier: n, Currency: "USD"}),
		store:    st,
		card:     card,
		notifier: n,
	}
}

func (h *harness) fund(t *testing.T, userID, amount string) {
	t.Helper()
	_, err := h.svc.TopUp(context.Background(), userID, d(amount), admin)
	require.NoError(t, err)
}

// buy purchases 10 credits of proj-1 at 20 by card: total 231.80.
func (h *harness) buy(userID, paymentID, outcome string) (*Result, error) {
	details := map[string]string{}
	if outcome != "" {
		details[processor.SandboxOutcomeKey] = outcome
	}
	return h.svc.ProcessPayment(context.Background(), PurchaseRequest{
		PaymentID:     paymentID,
		UserID:        userID,
		ProjectID:     "proj-1",
		CreditAmount:  d("10"),
		PricePerUnit:  d("20"),
		Method:        payment.MethodCard,
		MethodDetails: details,
	})
}

func (h *harness) wallet(t *testing.T, userID string) *wallet.Wallet {
	t.Helper()
	w, err := h.svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return w
}

func (h *harness) transactionCount(t *testing.T, userID string) int {
	t.Helper()
	txs, err := h.store.ListTransactions(context.Background(), userID, 100, 0)
	require.NoError(t, err)
	return len(txs)
}

func (h *harness) notified(eventType notify.EventType) bool {
	for _, c := range h.notifier.Calls {
		if e, ok := c.Arguments.Get(1).(notify.Event); ok && e.Type == eventType {
			return true
		}
	}
	return false
}

func webhookSuccess(p *payment.Payment) Report {
	return Report{
		Source:                 "webhook",
		ProcessorName:          p.ProcessorName,
		ProcessorTransactionID: p.ProcessorTransactionID,
		Status:                 processor.StatusSucceeded,
		Amount:                 decimal.NewNullDecimal(p.Amount),
		Currency:               p.Currency,
	}
}

func TestProcessPayment_SynchronousSuccess(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")

	res, err := h.buy("user-1", "", "succeeded")

	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, res.Payment.Status)
	assert.False(t, res.Pending())
	assertDecimal(t, "231.80", res.Payment.Amount, "total")
	assertDecimal(t, "1.00", res.Payment.Fees.Platform, "platform fee")
	assertDecimal(t, "5.80", res.Payment.Fees.Processor, "processor fee")
	assertDecimal(t, "25", res.Payment.Fees.Network, "network fee")
	require.NotNil(t, res.Transaction)
	assert.Equal(t, transaction.StatusCompleted, res.Transaction.Status)
	assert.Equal(t, res.Payment.ID, res.Transaction.PaymentID)

	w := h.wallet(t, "user-1")
	assertDecimal(t, "768.20", w.AvailableFiat, "available fiat")
	assertDecimal(t, "0", w.LockedFiat, "locked fiat")
	assertDecimal(t, "10", w.AvailableCredits, "available credits")
	require.Contains(t, w.Portfolio, "proj-1")
	assertDecimal(t, "20", w.Portfolio["proj-1"].WeightedAveragePrice, "average price")
	assert.Equal(t, 1, h.transactionCount(t, "user-1"))
	assert.True(t, h.notified(notify.EventPaymentCompleted))
}

func TestProcessPayment_ProcessorFailureRestoresWallet(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")

	res, err := h.buy("user-1", "", "failed")

	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, res.Payment.Status)
	assert.Equal(t, payment.CodeProcessorDeclined, res.Payment.ErrorCode)
	assert.Nil(t, res.Transaction)

	w := h.wallet(t, "user-1")
	assertDecimal(t, "1000", w.AvailableFiat, "available fiat")
	assertDecimal(t, "0", w.LockedFiat, "locked fiat")
	assertDecimal(t, "0", w.AvailableCredits, "available credits")
	assert.Equal(t, 0, h.transactionCount(t, "user-1"))

	_, err = h.store.GetTransactionByPayment(context.Background(), res.Payment.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.True(t, h.notified(notify.EventPaymentFailed))
}

func TestProcessPayment_DeclineIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")

	res, err := h.buy("user-1", "", "declined")

	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, res.Payment.Status)
	assertDecimal(t, "1000", h.wallet(t, "user-1").AvailableFiat, "available fiat")
}

func TestProcessPayment_PendingThenWebhook(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	res, err := h.buy("user-1", "", "pending")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProcessing, res.Payment.Status)
	assert.True(t, res.Pending())
	assert.NotEmpty(t, res.Payment.ProcessorTransactionID)

	w := h.wallet(t, "user-1")
	assertDecimal(t, "768.20", w.AvailableFiat, "available fiat while pending")
	assertDecimal(t, "231.80", w.LockedFiat, "locked fiat while pending")

	p, disp, err := h.svc.ApplyReport(ctx, res.Payment.ID, webhookSuccess(res.Payment))
	require.NoError(t, err)
	assert.Equal(t, DispositionApplied, disp)
	assert.Equal(t, payment.StatusCompleted, p.Status)

	// duplicate delivery
	p, disp, err = h.svc.ApplyReport(ctx, res.Payment.ID, webhookSuccess(res.Payment))
	require.NoError(t, err)
	assert.Equal(t, DispositionDuplicate, disp)
	assert.Equal(t, payment.StatusCompleted, p.Status)

	w = h.wallet(t, "user-1")
	assertDecimal(t, "768.20", w.AvailableFiat, "available fiat")
	assertDecimal(t, "0", w.LockedFiat, "locked fiat")
	assertDecimal(t, "10", w.AvailableCredits, "available credits")
	assert.Equal(t, 1, h.transactionCount(t, "user-1"))
}

func TestProcessPayment_InsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "100")

	res, err := h.buy("user-1", "pay_poor", "succeeded")

	assert.Nil(t, res)
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	w := h.wallet(t, "user-1")
	assertDecimal(t, "100", w.AvailableFiat, "available fiat")
	assertDecimal(t, "0", w.LockedFiat, "locked fiat")

	p, err := h.store.GetPayment(context.Background(), "pay_poor")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.Equal(t, payment.CodeInsufficientFunds, p.ErrorCode)
	assert.Empty(t, p.ProcessorTransactionID, "no processor call")
}

func TestProcessPayment_InvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []PurchaseRequest{
		{UserID: "user-1", ProjectID: "proj-1", CreditAmount: d("0"), PricePerUnit: d("20"), Method: payment.MethodCard},
		{UserID: "user-1", ProjectID: "proj-1", CreditAmount: d("1"), PricePerUnit: d("-1"), Method: payment.MethodCard},
		{UserID: "user-1", ProjectID: "proj-1", CreditAmount: d("1"), PricePerUnit: d("20"), Method: "cheque"},
		{UserID: "", ProjectID: "proj-1", CreditAmount: d("1"), PricePerUnit: d("20"), Method: payment.MethodCard},
		// no adapter registered for crypto
		{UserID: "user-1", ProjectID: "proj-1", CreditAmount: d("1"), PricePerUnit: d("20"), Method: payment.MethodCrypto},
	}
	for i, req := range cases {
		_, err := h.svc.ProcessPayment(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidInput, "case %d", i)
	}
}

func TestProcessPayment_IdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")

	first, err := h.buy("user-1", "order-42", "succeeded")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := h.buy("user-1", "order-42", "succeeded")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	require.NotNil(t, second.Transaction)

	assertDecimal(t, "768.20", h.wallet(t, "user-1").AvailableFiat, "charged once")

	_, err = h.buy("user-2", "order-42", "succeeded")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProcessPayment_TimeoutStaysProcessingAndRecovers(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	res, err := h.buy("user-1", "", "transient_once")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProcessing, res.Payment.Status)
	assert.Empty(t, res.Payment.ProcessorTransactionID)
	assertDecimal(t, "231.80", h.wallet(t, "user-1").LockedFiat, "still locked")

	p, err := h.svc.RecoverCharge(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assertDecimal(t, "768.20", h.wallet(t, "user-1").AvailableFiat, "available fiat")
}

func TestProcessPayment_IntegrationErrorIsNotGuessed(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")

	res, err := h.buy("user-1", "", "malformed")

	require.NoError(t, err)
	assert.Equal(t, payment.StatusProcessing, res.Payment.Status)
	assert.Equal(t, payment.CodeIntegrationError, res.Payment.ErrorCode)
	assert.True(t, res.Payment.NeedsReview)
	assertDecimal(t, "231.80", h.wallet(t, "user-1").LockedFiat, "locked fiat")
}

func TestProcessPayment_RequiresActionThenCancel(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	res, err := h.buy("user-1", "", "requires_action")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRequiresAction, res.Payment.Status)
	assert.NotEmpty(t, res.Payment.RedirectURL)

	_, err = h.svc.CancelPayment(ctx, res.Payment.ID, Actor{ID: "user-2"}, "")
	assert.ErrorIs(t, err, ErrForbidden)

	p, err := h.svc.CancelPayment(ctx, res.Payment.ID, Actor{ID: "user-1"}, "")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCancelled, p.Status)
	assertDecimal(t, "1000", h.wallet(t, "user-1").AvailableFiat, "available fiat")

	_, err = h.svc.CancelPayment(ctx, res.Payment.ID, Actor{ID: "user-1"}, "")
	assert.ErrorIs(t, err, ErrPaymentFinal)

	// the payer finished checkout anyway
	p, disp, err := h.svc.ApplyReport(ctx, res.Payment.ID, webhookSuccess(res.Payment))
	require.NoError(t, err)
	assert.Equal(t, DispositionChargeAfterCancel, disp)
	assert.Equal(t, payment.StatusCancelled, p.Status)
	assert.True(t, p.NeedsReview)
	assertDecimal(t, "0", h.wallet(t, "user-1").AvailableCredits, "no credits booked")
}

func auditActions(p *payment.Payment) []string {
	out := make([]string, 0, len(p.AuditTrail))
	for _, e := range p.AuditTrail {
		out = append(out, e.Action)
	}
	return out
}

func TestProcessPayment_SuccessAfterCancelIsHeldForReview(t *testing.T) {
	m := new(MockAdapter)
	h := newHarness(t, m)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	// the buyer cancels while the charge call is still out
	m.On("Charge", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			p, err := h.svc.CancelPayment(ctx, "pay_race", Actor{ID: "user-1"}, "")
			require.NoError(t, err)
			require.Equal(t, payment.StatusCancelled, p.Status)
		}).
		Return(&processor.ChargeResult{ProcessorTransactionID: "ch_1", Status: processor.StatusSucceeded}, nil)

	res, err := h.buy("user-1", "pay_race", "")
	require.NoError(t, err)

	p, err := h.store.GetPayment(ctx, "pay_race")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCancelled, p.Status)
	assert.Equal(t, payment.StatusCancelled, res.Payment.Status)
	assert.True(t, p.NeedsReview)
	assert.Equal(t, "ch_1", p.ProcessorTransactionID)
	assert.Equal(t, "mock-card", p.ProcessorName)
	assert.Contains(t, auditActions(p), string(DispositionChargeAfterCancel))

	w := h.wallet(t, "user-1")
	assertDecimal(t, "1000", w.AvailableFiat, "reservation released")
	assertDecimal(t, "0", w.AvailableCredits, "no credits booked")
	assert.Equal(t, 0, h.transactionCount(t, "user-1"))
	m.AssertExpectations(t)
}

func TestProcessPayment_LateDeclineIsAudited(t *testing.T) {
	m := new(MockAdapter)
	h := newHarness(t, m)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	m.On("Charge", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			_, err := h.svc.CancelPayment(ctx, "pay_late", Actor{ID: "user-1"}, "")
			require.NoError(t, err)
		}).
		Return(nil, fmt.Errorf("%w: card expired", processor.ErrDeclined))

	_, err := h.buy("user-1", "pay_late", "")
	require.NoError(t, err)

	p, err := h.store.GetPayment(ctx, "pay_late")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCancelled, p.Status)
	assert.False(t, p.NeedsReview)
	assert.Equal(t, "late_charge_result", p.AuditTrail[len(p.AuditTrail)-1].Action)
}

func TestApplyReport_AmountMismatchFlagsReview(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	res, err := h.buy("user-1", "", "pending")
	require.NoError(t, err)

	r := webhookSuccess(res.Payment)
	r.Amount = decimal.NewNullDecimal(d("1.00"))
	p, disp, err := h.svc.ApplyReport(ctx, res.Payment.ID, r)

	require.NoError(t, err)
	assert.Equal(t, DispositionMismatch, disp)
	assert.Equal(t, payment.StatusProcessing, p.Status)
	assert.True(t, p.NeedsReview)
	assertDecimal(t, "231.80", h.wallet(t, "user-1").LockedFiat, "locked fiat")
}

func TestApplyReport_FailureUnlocksOnce(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	res, err := h.buy("user-1", "", "pending")
	require.NoError(t, err)

	r := webhookSuccess(res.Payment)
	r.Status = processor.StatusFailed
	for i := 0; i < 3; i++ {
		_, _, err := h.svc.ApplyReport(ctx, res.Payment.ID, r)
		require.NoError(t, err)
	}

	w := h.wallet(t, "user-1")
	assertDecimal(t, "1000", w.AvailableFiat, "available fiat")
	assertDecimal(t, "0", w.LockedFiat, "locked fiat")

	entries, err := h.svc.ListEntries(ctx, "user-1", 50, 0)
	require.NoError(t, err)
	unlocks := 0
	for _, e := range entries {
		if e.Type == wallet.EntryUnlock {
			unlocks++
		}
	}
	assert.Equal(t, 1, unlocks)
}

func TestApplyReport_RejectsUnknownStatus(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.svc.ApplyReport(context.Background(), "pay_x", Report{Status: "weird"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = h.svc.ApplyReport(context.Background(), "pay_x", Report{Status: processor.StatusSucceeded})
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestConcurrentWebhooksCommitOnce(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	res, err := h.buy("user-1", "", "pending")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, disp, err := h.svc.ApplyReport(ctx, res.Payment.ID, webhookSuccess(res.Payment))
			assert.NoError(t, err)
			if disp == DispositionApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, h.transactionCount(t, "user-1"))
	assertDecimal(t, "10", h.wallet(t, "user-1").AvailableCredits, "available credits")
}

func TestConcurrentPurchasesSerializePerWallet(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		completed    int
		insufficient int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.buy("user-1", fmt.Sprintf("pay_c%d", i), "succeeded")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case errors.Is(err, wallet.ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, completed)
	assert.Equal(t, 16, insufficient)

	w := h.wallet(t, "user-1")
	assertDecimal(t, "72.80", w.AvailableFiat, "available fiat")
	assertDecimal(t, "0", w.LockedFiat, "locked fiat")
	assertDecimal(t, "40", w.AvailableCredits, "available credits")
	assert.NoError(t, w.CheckInvariants())
}

func TestConcurrentSameIdempotencyKeyChargesOnce(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fresh    int
		replayed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.buy("user-1", "order-42", "succeeded")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if res.Replayed {
				replayed++
			} else {
				fresh++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, workers-1, replayed)
	assertDecimal(t, "768.20", h.wallet(t, "user-1").AvailableFiat, "charged once")
	assert.Equal(t, 1, h.transactionCount(t, "user-1"))
}

func TestRefundPayment(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	res, err := h.buy("user-1", "", "succeeded")
	require.NoError(t, err)

	_, err = h.svc.RefundPayment(ctx, res.Payment.ID, Actor{ID: "user-1"})
	assert.ErrorIs(t, err, ErrForbidden)

	p, err := h.svc.RefundPayment(ctx, res.Payment.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, p.Status)

	w := h.wallet(t, "user-1")
	assertDecimal(t, "1000", w.AvailableFiat, "available fiat")
	assertDecimal(t, "0", w.AvailableCredits, "available credits")
	assert.Empty(t, w.Portfolio)

	tr, err := h.store.GetTransactionByPayment(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusRefunded, tr.Status)

	_, err = h.svc.RefundPayment(ctx, res.Payment.ID, admin)
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)
	assert.True(t, h.notified(notify.EventPaymentRefunded))
}

func TestRefundPayment_CreditsAlreadyRetired(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	res, err := h.buy("user-1", "", "succeeded")
	require.NoError(t, err)
	_, err = h.svc.RetireCredits(ctx, "user-1", "proj-1", d("10"))
	require.NoError(t, err)

	_, err = h.svc.RefundPayment(ctx, res.Payment.ID, admin)
	assert.ErrorIs(t, err, wallet.ErrInsufficientCredits)

	p, err := h.store.GetPayment(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)
}

func TestRefundPayment_DeclinedKeepsCompleted(t *testing.T) {
	m := new(MockAdapter)
	h := newHarness(t, m)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	m.On("Charge", mock.Anything, mock.Anything).
		Return(&processor.ChargeResult{ProcessorTransactionID: "ch_1", Status: processor.StatusSucceeded}, nil)
	m.On("Refund", mock.Anything, mock.MatchedBy(func(r processor.RefundRequest) bool {
		return r.ProcessorTransactionID == "ch_1" && r.Amount.Equal(d("231.80"))
	})).Return(nil, fmt.Errorf("%w: too late", processor.ErrDeclined))

	res, err := h.buy("user-1", "", "")
	require.NoError(t, err)
	require.Equal(t, payment.StatusCompleted, res.Payment.Status)

	_, err = h.svc.RefundPayment(ctx, res.Payment.ID, admin)
	assert.ErrorIs(t, err, processor.ErrDeclined)

	p, err := h.store.GetPayment(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.Equal(t, "refund_rejected", p.AuditTrail[len(p.AuditTrail)-1].Action)
	m.AssertExpectations(t)
}

func TestBeginReconcile_Escalates(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	res, err := h.buy("user-1", "", "pending")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, escalated, err := h.svc.BeginReconcile(ctx, res.Payment.ID, 2)
		require.NoError(t, err)
		assert.False(t, escalated)
	}

	p, escalated, err := h.svc.BeginReconcile(ctx, res.Payment.ID, 2)
	require.NoError(t, err)
	assert.True(t, escalated)
	assert.True(t, p.NeedsReview)
	assert.Equal(t, payment.StatusProcessing, p.Status, "escalation never fails the payment")
	assert.True(t, h.notified(notify.EventPaymentEscalated))

	n, err := h.store.CountNeedsReview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSellAndRetireCredits(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	_, err := h.buy("user-1", "", "succeeded")
	require.NoError(t, err)

	r, err := h.svc.RetireCredits(ctx, "user-1", "proj-1", d("4"))
	require.NoError(t, err)
	assert.Contains(t, r.ID, "ret_")
	assertDecimal(t, "4", r.Wallet.RetiredCredits, "retired")
	assertDecimal(t, "6", r.Wallet.AvailableCredits, "available credits")

	w, err := h.svc.SellCredits(ctx, "user-1", "proj-1", d("6"))
	require.NoError(t, err)
	assertDecimal(t, "6", w.TotalSold, "total sold")
	assert.NotContains(t, w.Portfolio, "proj-1")

	_, err = h.svc.SellCredits(ctx, "user-1", "proj-1", d("1"))
	assert.ErrorIs(t, err, wallet.ErrInsufficientCredits)

	_, err = h.svc.RetireCredits(ctx, "user-1", "", d("1"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	entries, err := h.svc.ListEntries(ctx, "user-1", 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, wallet.EntrySale, entries[0].Type)
}

func TestTopUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.TopUp(ctx, "user-1", d("10"), Actor{ID: "user-1"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.svc.TopUp(ctx, "user-1", d("-5"), admin)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.TopUp(ctx, "user-1", d("1.001"), admin)
	assert.ErrorIs(t, err, ErrInvalidInput)

	w, err := h.svc.TopUp(ctx, "user-1", d("250.50"), admin)
	require.NoError(t, err)
	assertDecimal(t, "250.50", w.AvailableFiat, "available fiat")
	assertDecimal(t, "250.50", w.TotalFiat(), "total fiat")
}

func TestGetWallet_EmptyForNewUser(t *testing.T) {
	h := newHarness(t)
	w := h.wallet(t, "nobody")
	assert.Equal(t, "nobody", w.UserID)
	assert.True(t, w.AvailableFiat.IsZero())
}

func TestGetPayment_Ownership(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	res, err := h.buy("user-1", "", "succeeded")
	require.NoError(t, err)

	_, err = h.svc.GetPayment(ctx, res.Payment.ID, Actor{ID: "user-2"})
	assert.ErrorIs(t, err, ErrForbidden)

	p, err := h.svc.GetPayment(ctx, res.Payment.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, res.Payment.ID, p.ID)

	_, err = h.svc.GetPayment(ctx, "pay_missing", admin)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestProcessPayment_UsesCatalog(t *testing.T) {
	h := newHarness(t)
	h.svc.catalog = project.NewStaticCatalog(
		project.Project{ID: "proj-1", Name: "Mangroves", Vintage: "2023", Standard: "VCS",
			PricePerUnit: d("20"), AvailableCredits: d("1000"), Active: true},
		project.Project{ID: "proj-old", PricePerUnit: d("5"), AvailableCredits: d("10"), Active: false},
	)
	h.fund(t, "user-1", "1000")
	ctx := context.Background()

	res, err := h.svc.ProcessPayment(ctx, PurchaseRequest{
		UserID: "user-1", ProjectID: "proj-1", CreditAmount: d("10"), Method: payment.MethodCard,
	})
	require.NoError(t, err)
	assertDecimal(t, "20", res.Payment.PricePerUnit, "listing price")
	assert.Equal(t, "2023", res.Payment.Vintage)
	assert.Equal(t, "VCS", h.wallet(t, "user-1").Portfolio["proj-1"].Standard)

	bad := []PurchaseRequest{
		{UserID: "user-1", ProjectID: "proj-1", CreditAmount: d("1"), PricePerUnit: d("19"), Method: payment.MethodCard},
		{UserID: "user-1", ProjectID: "proj-1", CreditAmount: d("5000"), Method: payment.MethodCard},
		{UserID: "user-1", ProjectID: "proj-old", CreditAmount: d("1"), Method: payment.MethodCard},
		{UserID: "user-1", ProjectID: "proj-none", CreditAmount: d("1"), Method: payment.MethodCard},
	}
	for i, req := range bad {
		_, err := h.svc.ProcessPayment(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidInput, "case %d", i)
	}
}
