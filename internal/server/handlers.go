package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"carbonledger/internal/api"
	"carbonledger/internal/auth"
	"carbonledger/internal/payment"
	"carbonledger/internal/settlement"
	"carbonledger/internal/transaction"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxIdempotencyKey = 64

	defaultPageSize = 50
	maxPageSize     = 200
)

type Handler struct {
	svc      settlement.Service
	verifier Verifier
	webhooks EventHandler
	secrets  SecretSource
	currency string
}

func NewHandler(svc settlement.Service, verifier Verifier, webhooks EventHandler, secrets SecretSource, currency string) *Handler {
	return &Handler{
		svc:      svc,
		verifier: verifier,
		webhooks: webhooks,
		secrets:  secrets,
		currency: currency,
	}
}

func requireActor(c *gin.Context) (settlement.Actor, bool) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "User not authenticated"})
		return settlement.Actor{}, false
	}
	return settlement.Actor{ID: userID, Admin: auth.IsAdmin(c)}, true
}

func paymentResponse(p *payment.Payment, tx *transaction.Transaction) api.PaymentResponse {
	return api.PaymentResponse{Payment: p, Transaction: tx, Pending: !p.Status.Terminal()}
}

func pagination(c *gin.Context) (limit, offset int, ok bool) {
	limit, offset = defaultPageSize, 0
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid limit"})
			return 0, 0, false
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid offset"})
			return 0, 0, false
		}
	}
	return limit, offset, true
}

// Quote godoc
// @Summary      Fee quote
// @Description  Prices a purchase without reserving anything.
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        credit_amount   query     string  true  "Credits to buy"
// @Param        price_per_unit  query     string  true  "Price per credit"
// @Param        method          query     string  true  "card, bank_transfer or crypto"
// @Success      200  {object}  api.QuoteResponse
// @Failure      400  {object}  api.ErrorResponse
// @Router       /fees/quote [get]
func (h *Handler) Quote(c *gin.Context) {
	amount, err := decimal.NewFromString(c.Query("credit_amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid credit_amount"})
		return
	}
	price, err := decimal.NewFromString(c.Query("price_per_unit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid price_per_unit"})
		return
	}

	q, err := h.svc.Quote(amount, price, payment.Method(c.Query("method")))
	if err != nil {
		respondError(c, "quote", err)
		return
	}
	c.JSON(http.StatusOK, api.QuoteResponse{Quote: q, Currency: h.currency})
}

// CreatePayment godoc
// @Summary      Buy carbon credits
// @Description  Reserves the total on the caller's wallet and charges the processor.
// @Description  201 when settled, 202 when the outcome is still pending, 200 for a replayed Idempotency-Key.
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header    string               false  "Client chosen payment id"
// @Param        request          body      api.PurchaseRequest  true   "Purchase"
// @Success      201  {object}  api.PaymentResponse
// @Success      202  {object}  api.PaymentResponse
// @Failure      400  {object}  api.ErrorResponse
// @Failure      402  {object}  api.PaymentResponse
// @Failure      422  {object}  api.ErrorResponse
// @Failure      429  {object}  api.ErrorResponse
// @Router       /payments [post]
func (h *Handler) CreatePayment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req api.PurchaseRequest
	if !bindJSON(c, &req) {
		return
	}

	key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
	if len(key) > maxIdempotencyKey {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Idempotency-Key is too long"})
		return
	}

	res, err := h.svc.ProcessPayment(c.Request.Context(), settlement.PurchaseRequest{
		PaymentID:     key,
		UserID:        actor.ID,
		ProjectID:     req.ProjectID,
		CreditAmount:  req.CreditAmount,
		PricePerUnit:  req.PricePerUnit,
		Method:        req.PaymentMethod,
		MethodDetails: req.MethodDetails,
	})
	if err != nil {
		respondError(c, "process_payment", err)
		return
	}

	status := http.StatusCreated
	switch {
	case res.Payment.Status == payment.StatusFailed:
		status = http.StatusPaymentRequired
	case res.Replayed:
		status = http.StatusOK
	case res.Pending():
		status = http.StatusAccepted
	}
	c.JSON(status, paymentResponse(res.Payment, res.Transaction))
}

// GetPayment godoc
// @Summary      Payment status
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        paymentID  path      string  true  "Payment ID"
// @Success      200  {object}  api.PaymentResponse
// @Failure      403  {object}  api.ErrorResponse
// @Failure      404  {object}  api.ErrorResponse
// @Router       /payments/{paymentID} [get]
func (h *Handler) GetPayment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	p, err := h.svc.GetPayment(c.Request.Context(), c.Param("paymentID"), actor)
	if err != nil {
		respondError(c, "get_payment", err)
		return
	}
	c.JSON(http.StatusOK, paymentResponse(p, nil))
}

// CancelPayment godoc
// @Summary      Cancel payment
// @Description  Cancels a payment that has not reached a final state and releases the reserved funds.
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        paymentID  path      string             true   "Payment ID"
// @Param        request    body      api.CancelRequest  false  "Reason"
// @Success      200  {object}  api.PaymentResponse
// @Failure      403  {object}  api.ErrorResponse
// @Failure      404  {object}  api.ErrorResponse
// @Failure      409  {object}  api.ErrorResponse
// @Router       /payments/{paymentID}/cancel [post]
func (h *Handler) CancelPayment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	req := api.CancelRequest{}
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "user_requested"
	}

	p, err := h.svc.CancelPayment(c.Request.Context(), c.Param("paymentID"), actor, reason)
	if err != nil {
		respondError(c, "cancel_payment", err)
		return
	}
	c.JSON(http.StatusOK, paymentResponse(p, nil))
}

// VerifyPayment godoc
// @Summary      Verify payment with processor
// @Description  Asks the processor for the current state of an in-flight payment and applies it.
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        paymentID  path      string  true  "Payment ID"
// @Success      200  {object}  api.PaymentResponse
// @Failure      403  {object}  api.ErrorResponse
// @Failure      404  {object}  api.ErrorResponse
// @Failure      503  {object}  api.ErrorResponse
// @Router       /payments/{paymentID}/verify [post]
func (h *Handler) VerifyPayment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("paymentID")

	if _, err := h.svc.GetPayment(ctx, id, actor); err != nil {
		respondError(c, "verify_payment", err)
		return
	}

	p, err := h.verifier.ReconcilePayment(ctx, id)
	if err != nil {
		respondError(c, "verify_payment", err)
		return
	}
	c.JSON(http.StatusOK, paymentResponse(p, nil))
}

// RefundPayment godoc
// @Summary      Refund payment
// @Description  Refunds a completed payment through its processor and reverses the purchase.
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        paymentID  path      string  true  "Payment ID"
// @Success      200  {object}  api.PaymentResponse
// @Failure      402  {object}  api.ErrorResponse
// @Failure      404  {object}  api.ErrorResponse
// @Failure      409  {object}  api.ErrorResponse
// @Failure      422  {object}  api.ErrorResponse
// @Router       /admin/payments/{paymentID}/refund [post]
func (h *Handler) RefundPayment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	p, err := h.svc.RefundPayment(c.Request.Context(), c.Param("paymentID"), actor)
	if err != nil {
		respondError(c, "refund_payment", err)
		return
	}
	c.JSON(http.StatusOK, paymentResponse(p, nil))
}

// GetWallet godoc
// @Summary      Wallet balances and portfolio
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  api.WalletResponse
// @Router       /wallet [get]
func (h *Handler) GetWallet(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	w, err := h.svc.GetWallet(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, "get_wallet", err)
		return
	}
	c.JSON(http.StatusOK, api.NewWalletResponse(w))
}

// ListEntries godoc
// @Summary      Wallet ledger entries
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Param        limit   query     int  false  "Page size"
// @Param        offset  query     int  false  "Offset"
// @Success      200  {object}  api.EntriesResponse
// @Router       /wallet/entries [get]
func (h *Handler) ListEntries(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	entries, err := h.svc.ListEntries(c.Request.Context(), actor.ID, limit, offset)
	if err != nil {
		respondError(c, "list_entries", err)
		return
	}
	c.JSON(http.StatusOK, api.EntriesResponse{Entries: entries, Limit: limit, Offset: offset})
}

// ListTransactions godoc
// @Summary      Settled purchases
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Param        limit   query     int  false  "Page size"
// @Param        offset  query     int  false  "Offset"
// @Success      200  {object}  api.TransactionsResponse
// @Router       /wallet/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	txs, err := h.svc.ListTransactions(c.Request.Context(), actor.ID, limit, offset)
	if err != nil {
		respondError(c, "list_transactions", err)
		return
	}
	c.JSON(http.StatusOK, api.TransactionsResponse{Transactions: txs, Limit: limit, Offset: offset})
}

// SellCredits godoc
// @Summary      Sell credits
// @Tags         credits
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      api.CreditsRequest  true  "Credits to sell"
// @Success      200  {object}  api.WalletResponse
// @Failure      400  {object}  api.ErrorResponse
// @Failure      422  {object}  api.ErrorResponse
// @Router       /credits/sell [post]
func (h *Handler) SellCredits(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req api.CreditsRequest
	if !bindJSON(c, &req) {
		return
	}

	w, err := h.svc.SellCredits(c.Request.Context(), actor.ID, req.ProjectID, req.Amount)
	if err != nil {
		respondError(c, "sell_credits", err)
		return
	}
	c.JSON(http.StatusOK, api.NewWalletResponse(w))
}

// RetireCredits godoc
// @Summary      Retire credits
// @Description  Permanently retires credits against the caller's emissions.
// @Tags         credits
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      api.CreditsRequest  true  "Credits to retire"
// @Success      201  {object}  api.RetirementResponse
// @Failure      400  {object}  api.ErrorResponse
// @Failure      422  {object}  api.ErrorResponse
// @Router       /credits/retire [post]
func (h *Handler) RetireCredits(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req api.CreditsRequest
	if !bindJSON(c, &req) {
		return
	}

	r, err := h.svc.RetireCredits(c.Request.Context(), actor.ID, req.ProjectID, req.Amount)
	if err != nil {
		respondError(c, "retire_credits", err)
		return
	}
	c.JSON(http.StatusCreated, api.RetirementResponse{
		RetirementID: r.ID,
		ProjectID:    r.ProjectID,
		Amount:       r.Amount,
		RetiredAt:    r.At,
		Wallet:       api.NewWalletResponse(r.Wallet),
	})
}

// TopUp godoc
// @Summary      Top up a wallet
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        userID   path      string            true  "Wallet owner"
// @Param        request  body      api.TopUpRequest  true  "Amount"
// @Success      200  {object}  api.WalletResponse
// @Failure      400  {object}  api.ErrorResponse
// @Failure      403  {object}  api.ErrorResponse
// @Router       /admin/wallets/{userID}/topup [post]
func (h *Handler) TopUp(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req api.TopUpRequest
	if !bindJSON(c, &req) {
		return
	}

	w, err := h.svc.TopUp(c.Request.Context(), c.Param("userID"), req.Amount, actor)
	if err != nil {
		respondError(c, "topup", err)
		return
	}
	c.JSON(http.StatusOK, api.NewWalletResponse(w))
}
