package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"carbonledger/internal/logger"
	"carbonledger/internal/payment"
)

type EventType string

const (
	EventPaymentCompleted      EventType = "payment.completed"
	EventPaymentFailed         EventType = "payment.failed"
	EventPaymentCancelled      EventType = "payment.cancelled"
	EventPaymentRefunded       EventType = "payment.refunded"
	EventPaymentEscalated      EventType = "payment.escalated"
	EventPaymentRequiresAction EventType = "payment.requires_action"
)

type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	PaymentID string          `json:"payment_id"`
	UserID    string          `json:"user_id"`
	Status    payment.Status  `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	At        time.Time       `json:"at"`
	Tries     int             `json:"tries,omitempty"`
}

func NewPaymentEvent(t EventType, p *payment.Payment, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		PaymentID: p.ID,
		UserID:    p.UserID,
		Status:    p.Status,
		Amount:    p.Amount,
		Currency:  p.Currency,
		At:        at,
	}
}

// Dispatcher delivers events fire-and-forget. Implementations log delivery
// problems instead of returning them.
type Dispatcher interface {
	Notify(ctx context.Context, e Event)
}

// LogDispatcher only logs events. Used when no queue is configured.
type LogDispatcher struct{}

func (LogDispatcher) Notify(_ context.Context, e Event) {
	logger.Info("notification",
		"type", string(e.Type),
		"payment_id", e.PaymentID,
		"user_id", e.UserID,
		"status", string(e.Status),
	)
}
