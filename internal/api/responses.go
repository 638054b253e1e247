package api

import (
	"time"

	"github.com/shopspring/decimal"

	"carbonledger/internal/fees"
	"carbonledger/internal/payment"
	"carbonledger/internal/transaction"
	"carbonledger/internal/wallet"
)

type ErrorResponse struct {
	Error string `json:"error" example:"something went wrong"`
}

type MessageResponse struct {
	Message string `json:"message" example:"ok"`
}

type HealthResponse struct {
	Status string            `json:"status" example:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

type ValidationErrorResponse struct {
	Error   string            `json:"error" example:"validation failed"`
	Details []ValidationError `json:"details"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// Requests. Amounts are decimal strings or JSON numbers.

type PurchaseRequest struct {
	ProjectID     string            `json:"project_id" validate:"required,max=64" example:"proj-amazon-2024"`
	CreditAmount  decimal.Decimal   `json:"credit_amount" validate:"decimal_positive" swaggertype:"string" example:"10"`
	PricePerUnit  decimal.Decimal   `json:"price_per_unit" validate:"decimal_nonnegative" swaggertype:"string" example:"20"`
	PaymentMethod payment.Method    `json:"payment_method" validate:"required,oneof=card bank_transfer crypto" example:"card"`
	MethodDetails map[string]string `json:"method_details,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=200" example:"changed my mind"`
}

type CreditsRequest struct {
	ProjectID string          `json:"project_id" validate:"required,max=64" example:"proj-amazon-2024"`
	Amount    decimal.Decimal `json:"amount" validate:"decimal_positive" swaggertype:"string" example:"2"`
}

type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"decimal_positive" swaggertype:"string" example:"1000.00"`
}

// WebhookPayload is the body every processor posts to /webhooks/{processor}.
type WebhookPayload struct {
	EventID               string              `json:"event_id"`
	ExternalTransactionID string              `json:"external_transaction_id" validate:"required"`
	Reference             string              `json:"reference"`
	Status                string              `json:"status" validate:"required"`
	Amount                decimal.NullDecimal `json:"amount" swaggertype:"string"`
	Currency              string              `json:"currency" validate:"omitempty,len=3"`
	FailureReason         string              `json:"failure_reason"`
}

// Responses.

type QuoteResponse struct {
	fees.Quote
	Currency string `json:"currency" example:"USD"`
}

type PaymentResponse struct {
	*payment.Payment
	Transaction *transaction.Transaction `json:"transaction,omitempty"`
	// Pending is set while the outcome is still unknown; poll GET /payments/{id}.
	Pending bool `json:"pending"`
}

type WalletResponse struct {
	*wallet.Wallet
	TotalFiat decimal.Decimal `json:"total_fiat" swaggertype:"string"`
}

type EntriesResponse struct {
	Entries []wallet.Entry `json:"entries"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

type TransactionsResponse struct {
	Transactions []transaction.Transaction `json:"transactions"`
	Limit        int                       `json:"limit"`
	Offset       int                       `json:"offset"`
}

type RetirementResponse struct {
	RetirementID string          `json:"retirement_id"`
	ProjectID    string          `json:"project_id"`
	Amount       decimal.Decimal `json:"amount" swaggertype:"string"`
	RetiredAt    time.Time       `json:"retired_at"`
	Wallet       WalletResponse  `json:"wallet"`
}

type WebhookResponse struct {
	PaymentID   string `json:"payment_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Disposition string `json:"disposition,omitempty"`
	Message     string `json:"message,omitempty"`
}

func NewWalletResponse(w *wallet.Wallet) WalletResponse {
	return WalletResponse{Wallet: w, TotalFiat: w.TotalFiat()}
}
