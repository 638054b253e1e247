package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carbonledger/internal/auth"
	"carbonledger/internal/config"
	"carbonledger/internal/fees"
	"carbonledger/internal/payment"
	"carbonledger/internal/processor"
	"carbonledger/internal/settlement"
	"carbonledger/internal/store"
	"carbonledger/internal/transaction"
	"carbonledger/internal/wallet"
	"carbonledger/internal/webhook"
)

const testSecret = "test-secret"

type MockService struct {
	mock.Mock
}

func (m *MockService) Quote(creditAmount, pricePerUnit decimal.Decimal, method payment.Method) (fees.Quote, error) {
	args := m.Called(creditAmount, pricePerUnit, method)
	return args.Get(0).(fees.Quote), args.Error(1)
}

func (m *MockService) ProcessPayment(ctx context.Context, req settlement.PurchaseRequest) (*settlement.Result, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*settlement.Result)
	return r, args.Error(1)
}

func (m *MockService) GetPayment(ctx context.Context, paymentID string, by settlement.Actor) (*payment.Payment, error) {
	args := m.Called(ctx, paymentID, by)
	p, _ := args.Get(0).(*payment.Payment)
	return p, args.Error(1)
}

func (m *MockService) CancelPayment(ctx context.Context, paymentID string, by settlement.Actor, reason string) (*payment.Payment, error) {
	args := m.Called(ctx, paymentID, by, reason)
	p, _ := args.Get(0).(*payment.Payment)
	return p, args.Error(1)
}

func (m *MockService) RefundPayment(ctx context.Context, paymentID string, by settlement.Actor) (*payment.Payment, error) {
	args := m.Called(ctx, paymentID, by)
	p, _ := args.Get(0).(*payment.Payment)
	return p, args.Error(1)
}

func (m *MockService) ApplyReport(ctx context.Context, paymentID string, r settlement.Report) (*payment.Payment, settlement.Disposition, error) {
	args := m.Called(ctx, paymentID, r)
	p, _ := args.Get(0).(*payment.Payment)
	return p, args.Get(1).(settlement.Disposition), args.Error(2)
}

func (m *MockService) BeginReconcile(ctx context.Context, paymentID string, maxAttempts int) (*payment.Payment, bool, error) {
	args := m.Called(ctx, paymentID, maxAttempts)
	p, _ := args.Get(0).(*payment.Payment)
	return p, args.Bool(1), args.Error(2)
}

func (m *MockService) RecoverCharge(ctx context.Context, paymentID string) (*payment.Payment, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(*payment.Payment)
	return p, args.Error(1)
}

func (m *MockService) TopUp(ctx context.Context, userID string, amount decimal.Decimal, by settlement.Actor) (*wallet.Wallet, error) {
	args := m.Called(ctx, userID, amount, by)
	w, _ := args.Get(0).(*wallet.Wallet)
	return w, args.Error(1)
}

func (m *MockService) SellCredits(ctx context.Context, userID, projectID string, amount decimal.Decimal) (*wallet.Wallet, error) {
	args := m.Called(ctx, userID, projectID, amount)
	w, _ := args.Get(0).(*wallet.Wallet)
	return w, args.Error(1)
}

func (m *MockService) RetireCredits(ctx context.Context, userID, projectID string, amount decimal.Decimal) (*settlement.Retirement, error) {
	args := m.Called(ctx, userID, projectID, amount)
	r, _ := args.Get(0).(*settlement.Retirement)
	return r, args.Error(1)
}

func (m *MockService) GetWallet(ctx context.Context, userID string) (*wallet.Wallet, error) {
	args := m.Called(ctx, userID)
	w, _ := args.Get(0).(*wallet.Wallet)
	return w, args.Error(1)
}

func (m *MockService) ListEntries(ctx context.Context, userID string, limit, offset int) ([]wallet.Entry, error) {
	args := m.Called(ctx, userID, limit, offset)
	e, _ := args.Get(0).([]wallet.Entry)
	return e, args.Error(1)
}

func (m *MockService) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]transaction.Transaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	t, _ := args.Get(0).([]transaction.Transaction)
	return t, args.Error(1)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) ReconcilePayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(*payment.Payment)
	return p, args.Error(1)
}

type MockEventHandler struct {
	mock.Mock
}

func (m *MockEventHandler) OnProcessorEvent(ctx context.Context, e webhook.Event) (*webhook.Result, error) {
	args := m.Called(ctx, e)
	r, _ := args.Get(0).(*webhook.Result)
	return r, args.Error(1)
}

type staticSecrets map[string]string

func (s staticSecrets) WebhookSecret(name string) (string, bool) {
	v, ok := s[name]
	return v, ok
}

type testServer struct {
	router   http.Handler
	svc      *MockService
	verifier *MockVerifier
	events   *MockEventHandler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{svc: new(MockService), verifier: new(MockVerifier), events: new(MockEventHandler)}
	srv := New(&config.Config{JWTSecret: testSecret, Currency: "USD"}, Deps{
		Settlement: ts.svc,
		Webhooks:   ts.events,
		Verifier:   ts.verifier,
		Secrets:    staticSecrets{"card-sandbox": "whsec"},
	})
	ts.router = srv.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, role string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		userID := "user-1"
		if role == auth.RoleAdmin {
			userID = "admin-1"
		}
		token, err := auth.GenerateAccessToken(userID, "", role, testSecret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func testPayment(status payment.Status) *payment.Payment {
	return &payment.Payment{
		ID:           "pay_1",
		UserID:       "user-1",
		ProjectID:    "proj-1",
		CreditAmount: decimal.NewFromInt(10),
		PricePerUnit: decimal.NewFromInt(20),
		Amount:       decimal.RequireFromString("231.80"),
		Currency:     "USD",
		Method:       payment.MethodCard,
		Status:       status,
	}
}

var user = settlement.Actor{ID: "user-1"}

func purchaseBody() map[string]interface{} {
	return map[string]interface{}{
		"project_id":     "proj-1",
		"credit_amount":  "10",
		"price_per_unit": "20",
		"payment_method": "card",
	}
}

func TestCreatePayment(t *testing.T) {
	tests := []struct {
		name    string
		result  *settlement.Result
		err     error
		want    int
		pending bool
	}{
		{"Completed", &settlement.Result{Payment: testPayment(payment.StatusCompleted)}, nil, http.StatusCreated, false},
		{"Pending", &settlement.Result{Payment: testPayment(payment.StatusProcessing)}, nil, http.StatusAccepted, true},
		{"Replayed", &settlement.Result{Payment: testPayment(payment.StatusCompleted), Replayed: true}, nil, http.StatusOK, false},
		{"Declined", &settlement.Result{Payment: testPayment(payment.StatusFailed)}, nil, http.StatusPaymentRequired, false},
		{"Insufficient funds", nil, fmt.Errorf("payment pay_1: %w", wallet.ErrInsufficientFunds), http.StatusUnprocessableEntity, false},
		{"Invalid input", nil, fmt.Errorf("%w: project not found", settlement.ErrInvalidInput), http.StatusBadRequest, false},
		{"Processor down", nil, fmt.Errorf("%w: 503", processor.ErrTransient), http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.svc.On("ProcessPayment", mock.Anything, mock.MatchedBy(func(r settlement.PurchaseRequest) bool {
				return r.UserID == "user-1" && r.ProjectID == "proj-1" && r.PaymentID == "key-1" &&
					r.CreditAmount.Equal(decimal.NewFromInt(10)) && r.Method == payment.MethodCard
			})).Return(tt.result, tt.err)

			w := ts.do(t, "POST", "/payments", auth.RoleUser, purchaseBody(), map[string]string{"Idempotency-Key": "key-1"})

			assert.Equal(t, tt.want, w.Code)
			if tt.result != nil {
				body := decode(t, w)
				assert.Equal(t, "pay_1", body["payment_id"])
				assert.Equal(t, tt.pending, body["pending"])
			}
			ts.svc.AssertExpectations(t)
		})
	}
}

func TestCreatePayment_Validation(t *testing.T) {
	ts := newTestServer(t)

	body := purchaseBody()
	body["credit_amount"] = "-1"
	body["payment_method"] = "paypal"
	w := ts.do(t, "POST", "/payments", auth.RoleUser, body, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "CreditAmount")
	assert.Contains(t, w.Body.String(), "PaymentMethod")
	ts.svc.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
}

func TestCreatePayment_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/payments", "", purchaseBody(), nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetPayment(t *testing.T) {
	t.Run("Own payment", func(t *testing.T) {
		ts := newTestServer(t)
		ts.svc.On("GetPayment", mock.Anything, "pay_1", user).Return(testPayment(payment.StatusRequiresAction), nil)

		w := ts.do(t, "GET", "/payments/pay_1", auth.RoleUser, nil, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "requires_action", decode(t, w)["status"])
	})

	t.Run("Someone else's payment", func(t *testing.T) {
		ts := newTestServer(t)
		ts.svc.On("GetPayment", mock.Anything, "pay_2", user).Return(nil, settlement.ErrForbidden)

		w := ts.do(t, "GET", "/payments/pay_2", auth.RoleUser, nil, nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Unknown payment", func(t *testing.T) {
		ts := newTestServer(t)
		ts.svc.On("GetPayment", mock.Anything, "pay_x", user).Return(nil, settlement.ErrPaymentNotFound)

		w := ts.do(t, "GET", "/payments/pay_x", auth.RoleUser, nil, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCancelPayment(t *testing.T) {
	t.Run("Default reason", func(t *testing.T) {
		ts := newTestServer(t)
		ts.svc.On("CancelPayment", mock.Anything, "pay_1", user, "user_requested").
			Return(testPayment(payment.StatusCancelled), nil)

		w := ts.do(t, "POST", "/payments/pay_1/cancel", auth.RoleUser, nil, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "cancelled", decode(t, w)["status"])
	})

	t.Run("Given reason", func(t *testing.T) {
		ts := newTestServer(t)
		ts.svc.On("CancelPayment", mock.Anything, "pay_1", user, "wrong project").
			Return(testPayment(payment.StatusCancelled), nil)

		w := ts.do(t, "POST", "/payments/pay_1/cancel", auth.RoleUser, map[string]string{"reason": "wrong project"}, nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Already final", func(t *testing.T) {
		ts := newTestServer(t)
		ts.svc.On("CancelPayment", mock.Anything, "pay_1", user, "user_requested").
			Return(nil, settlement.ErrPaymentFinal)

		w := ts.do(t, "POST", "/payments/pay_1/cancel", auth.RoleUser, nil, nil)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestVerifyPayment(t *testing.T) {
	t.Run("Reconciles own payment", func(t *testing.T) {
		ts := newTestServer(t)
		ts.svc.On("GetPayment", mock.Anything, "pay_1", user).Return(testPayment(payment.StatusProcessing), nil)
		ts.verifier.On("ReconcilePayment", mock.Anything, "pay_1").Return(testPayment(payment.StatusCompleted), nil)

		w := ts.do(t, "POST", "/payments/pay_1/verify", auth.RoleUser, nil, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "completed", decode(t, w)["status"])
	})

	t.Run("Ownership is checked first", func(t *testing.T) {
		ts := newTestServer(t)
		ts.svc.On("GetPayment", mock.Anything, "pay_1", user).Return(nil, settlement.ErrForbidden)

		w := ts.do(t, "POST", "/payments/pay_1/verify", auth.RoleUser, nil, nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
		ts.verifier.AssertNotCalled(t, "ReconcilePayment", mock.Anything, mock.Anything)
	})
}

func TestQuote(t *testing.T) {
	ts := newTestServer(t)
	q, err := fees.Calculate(decimal.NewFromInt(10), decimal.NewFromInt(20), payment.MethodCard)
	require.NoError(t, err)
	ts.svc.On("Quote", decimal.RequireFromString("10"), decimal.RequireFromString("20"), payment.MethodCard).Return(q, nil)

	w := ts.do(t, "GET", "/fees/quote?credit_amount=10&price_per_unit=20&method=card", auth.RoleUser, nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "USD", decode(t, w)["currency"])

	w = ts.do(t, "GET", "/fees/quote?credit_amount=ten&price_per_unit=20&method=card", auth.RoleUser, nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetWallet_IncludesTotalFiat(t *testing.T) {
	ts := newTestServer(t)
	wl := wallet.New("user-1", "USD", time.Now())
	wl.AvailableFiat = decimal.NewFromInt(100)
	wl.LockedFiat = decimal.NewFromInt(50)
	ts.svc.On("GetWallet", mock.Anything, "user-1").Return(wl, nil)

	w := ts.do(t, "GET", "/wallet", auth.RoleUser, nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "150", decode(t, w)["total_fiat"])
}

func TestListEntries_Pagination(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.On("ListEntries", mock.Anything, "user-1", maxPageSize, 10).Return([]wallet.Entry{}, nil)

	w := ts.do(t, "GET", "/wallet/entries?limit=5000&offset=10", auth.RoleUser, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, "GET", "/wallet/entries?offset=-1", auth.RoleUser, nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTransactions(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.On("ListTransactions", mock.Anything, "user-1", defaultPageSize, 0).
		Return([]transaction.Transaction{{ID: "tx-1", PaymentID: "pay_1"}}, nil)

	w := ts.do(t, "GET", "/wallet/transactions", auth.RoleUser, nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["transactions"], 1)
}

func TestRetireCredits(t *testing.T) {
	ts := newTestServer(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts.svc.On("RetireCredits", mock.Anything, "user-1", "proj-1", decimal.RequireFromString("2")).Return(&settlement.Retirement{
		ID:        "ret_1",
		UserID:    "user-1",
		ProjectID: "proj-1",
		Amount:    decimal.NewFromInt(2),
		At:        at,
		Wallet:    wallet.New("user-1", "USD", at),
	}, nil)

	w := ts.do(t, "POST", "/credits/retire", auth.RoleUser, map[string]string{"project_id": "proj-1", "amount": "2"}, nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "ret_1", decode(t, w)["retirement_id"])
}

func TestSellCredits_NotEnoughCredits(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.On("SellCredits", mock.Anything, "user-1", "proj-1", decimal.RequireFromString("5")).
		Return(nil, fmt.Errorf("%w: holding 2", wallet.ErrInsufficientCredits))

	w := ts.do(t, "POST", "/credits/sell", auth.RoleUser, map[string]string{"project_id": "proj-1", "amount": "5"}, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestTopUp(t *testing.T) {
	t.Run("Admin", func(t *testing.T) {
		ts := newTestServer(t)
		admin := settlement.Actor{ID: "admin-1", Admin: true}
		wl := wallet.New("user-9", "USD", time.Now())
		wl.AvailableFiat = decimal.NewFromInt(1000)
		ts.svc.On("TopUp", mock.Anything, "user-9", decimal.RequireFromString("1000.00"), admin).Return(wl, nil)

		w := ts.do(t, "POST", "/admin/wallets/user-9/topup", auth.RoleAdmin, map[string]string{"amount": "1000.00"}, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		ts.svc.AssertExpectations(t)
	})

	t.Run("Regular user", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, "POST", "/admin/wallets/user-1/topup", auth.RoleUser, map[string]string{"amount": "1000"}, nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
		ts.svc.AssertNotCalled(t, "TopUp", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRefundPayment_Declined(t *testing.T) {
	ts := newTestServer(t)
	admin := settlement.Actor{ID: "admin-1", Admin: true}
	ts.svc.On("RefundPayment", mock.Anything, "pay_1", admin).
		Return(nil, fmt.Errorf("refund pay_1: %w", processor.ErrDeclined))

	w := ts.do(t, "POST", "/admin/payments/pay_1/refund", auth.RoleAdmin, nil, nil)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{settlement.ErrInvalidInput, http.StatusBadRequest},
		{wallet.ErrInvalidAmount, http.StatusBadRequest},
		{wallet.ErrInsufficientCredits, http.StatusUnprocessableEntity},
		{processor.ErrDeclined, http.StatusPaymentRequired},
		{store.ErrNotFound, http.StatusNotFound},
		{payment.ErrInvalidTransition, http.StatusConflict},
		{store.ErrDuplicate, http.StatusConflict},
		{processor.ErrIntegration, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}
