package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidTransition = errors.New("invalid payment transition")

type Event string

const (
	EventStartProcessing Event = "start_processing"
	EventRequireAction   Event = "require_action"
	EventResume          Event = "resume"
	EventSucceed         Event = "succeed"
	EventFail            Event = "fail"
	EventCancel          Event = "cancel"
	EventRefund          Event = "refund"
)

var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventStartProcessing: StatusProcessing,
		EventFail:            StatusFailed,
		EventCancel:          StatusCancelled,
	},
	StatusProcessing: {
		EventSucceed:       StatusCompleted,
		EventFail:          StatusFailed,
		EventRequireAction: StatusRequiresAction,
		EventCancel:        StatusCancelled,
	},
	StatusRequiresAction: {
		EventResume:  StatusProcessing,
		EventSucceed: StatusCompleted,
		EventFail:    StatusFailed,
		EventCancel:  StatusCancelled,
	},
	StatusCompleted: {
		EventRefund: StatusRefunded,
	},
}

// Transition is one state change request together with what gets written
// to the audit trail.
type Transition struct {
	Event   Event
	Actor   string
	Details map[string]string
	At      time.Time
}

// CanApply reports whether ev is allowed from the payment's current status.
func CanApply(p *Payment, ev Event) bool {
	_, ok := transitions[p.Status][ev]
	return ok
}

// ApplyTransition moves p to the next status for t.Event and records the
// change in the audit trail. p is left untouched when the move is not allowed.
func ApplyTransition(p *Payment, t Transition) error {
	next, ok := transitions[p.Status][t.Event]
	if !ok {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t.Event, p.Status)
	}

	details := map[string]string{
		"from": string(p.Status),
		"to":   string(next),
	}
	for k, v := range t.Details {
		details[k] = v
	}

	p.Status = next
	if next == StatusCompleted {
		at := t.At
		p.CompletedAt = &at
	}
	p.Audit(string(t.Event), t.Actor, details, t.At)
	return nil
}

type NewParams struct {
	ID           string
	UserID       string
	ProjectID    string
	CreditAmount decimal.Decimal
	PricePerUnit decimal.Decimal
	Vintage      string
	Standard     string
	BaseValue    decimal.Decimal
	Amount       decimal.Decimal
	Currency     string
	Method       Method
	Fees         Fees
	Actor        string
}

// New creates a payment in pending with its fees fixed.
func New(params NewParams, at time.Time) *Payment {
	p := &Payment{
		ID:            params.ID,
		UserID:        params.UserID,
		ProjectID:     params.ProjectID,
		CreditAmount:  params.CreditAmount,
		PricePerUnit:  params.PricePerUnit,
		Vintage:       params.Vintage,
		Standard:      params.Standard,
		BaseValue:     params.BaseValue,
		Amount:        params.Amount,
		Currency:      params.Currency,
		Method:        params.Method,
		Status:        StatusPending,
		Fees:          params.Fees,
		LockedFiat:    decimal.Zero,
		LockedCredits: decimal.Zero,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	p.Audit("created", params.Actor, map[string]string{
		"amount":   params.Amount.StringFixed(2),
		"currency": params.Currency,
		"method":   string(params.Method),
	}, at)
	return p
}
