package processor

import (
	"time"

	"carbonledger/internal/payment"
)

var cardRail = rail{
	method:       payment.MethodCard,
	resource:     "charges",
	detailsField: "payment_method",
	statuses: map[string]Status{
		"succeeded":               StatusSucceeded,
		"processing":              StatusPending,
		"pending":                 StatusPending,
		"requires_action":         StatusRequiresAction,
		"requires_confirmation":   StatusRequiresAction,
		"requires_payment_method": StatusFailed,
		"canceled":                StatusFailed,
		"failed":                  StatusFailed,
	},
}

var bankTransferRail = rail{
	method:       payment.MethodBankTransfer,
	resource:     "transfers",
	detailsField: "bank_account",
	statuses: map[string]Status{
		"settled":                StatusSucceeded,
		"succeeded":              StatusSucceeded,
		"initiated":              StatusPending,
		"pending":                StatusPending,
		"awaiting_authorization": StatusRequiresAction,
		"rejected":               StatusFailed,
		"returned":               StatusFailed,
		"failed":                 StatusFailed,
	},
}

var cryptoRail = rail{
	method:       payment.MethodCrypto,
	resource:     "invoices",
	detailsField: "network",
	statuses: map[string]Status{
		"confirmed":        StatusSucceeded,
		"succeeded":        StatusSucceeded,
		"unconfirmed":      StatusPending,
		"pending":          StatusPending,
		"awaiting_payment": StatusRequiresAction,
		"expired":          StatusFailed,
		"underpaid":        StatusFailed,
		"failed":           StatusFailed,
	},
}

// NewCard returns an adapter for a card acquirer API.
func NewCard(name, baseURL, apiKey string, timeout time.Duration) *HTTPAdapter {
	return newHTTPAdapter(name, cardRail, baseURL, apiKey, timeout)
}

// NewBankTransfer returns an adapter for a bank transfer initiation API.
func NewBankTransfer(name, baseURL, apiKey string, timeout time.Duration) *HTTPAdapter {
	return newHTTPAdapter(name, bankTransferRail, baseURL, apiKey, timeout)
}

// NewCrypto returns an adapter for a hosted crypto invoice API. The redirect
// URL of a requires_action result points at the payer's checkout page.
func NewCrypto(name, baseURL, apiKey string, timeout time.Duration) *HTTPAdapter {
	return newHTTPAdapter(name, cryptoRail, baseURL, apiKey, timeout)
}
