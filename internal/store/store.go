package store

import (
	"context"
	"errors"
	"time"

	"carbonledger/internal/payment"
	"carbonledger/internal/transaction"
	"carbonledger/internal/wallet"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotLocked is returned when a write targets a record the transaction
	// has not locked first.
	ErrNotLocked = errors.New("record not locked in this transaction")
)

// Store is the durable state of the ledger. Every multi-record change goes
// through InTx, which commits all writes made through the Tx or none.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetWallet(ctx context.Context, userID string) (*wallet.Wallet, error)
	ListEntries(ctx context.Context, userID string, limit, offset int) ([]wallet.Entry, error)

	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
	FindPaymentByProcessorRef(ctx context.Context, processorName, processorTxID string) (*payment.Payment, error)
	// ListStalePayments returns in-flight payments not updated since before,
	// oldest first, without their audit trails.
	ListStalePayments(ctx context.Context, before time.Time, limit int) ([]*payment.Payment, error)
	CountNeedsReview(ctx context.Context) (int, error)

	GetTransactionByPayment(ctx context.Context, paymentID string) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, buyerID string, limit, offset int) ([]transaction.Transaction, error)
}

// Tx holds row locks until it ends. Locks are taken in the order the methods
// are called, so callers lock a payment before its buyer's wallet.
type Tx interface {
	// LockWallet returns the user's wallet, creating an empty one if needed.
	LockWallet(ctx context.Context, userID, currency string) (*wallet.Wallet, error)
	SaveWallet(ctx context.Context, w *wallet.Wallet) error
	AddEntry(ctx context.Context, e wallet.Entry) error

	LockPayment(ctx context.Context, id string) (*payment.Payment, error)
	CreatePayment(ctx context.Context, p *payment.Payment) error
	// UpdatePayment persists p and appends audit entries added since it was
	// locked.
	UpdatePayment(ctx context.Context, p *payment.Payment) error

	LockTransactionByPayment(ctx context.Context, paymentID string) (*transaction.Transaction, error)
	CreateTransaction(ctx context.Context, t *transaction.Transaction) error
	UpdateTransaction(ctx context.Context, t *transaction.Transaction) error
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
