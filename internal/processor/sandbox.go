package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"carbonledger/internal/payment"
)

// SandboxOutcomeKey in ChargeRequest.MethodDetails selects the scripted
// result of a sandbox charge: succeeded (default), pending, requires_action,
// failed, declined, transient, transient_once or malformed.
const SandboxOutcomeKey = "sandbox_outcome"

// Sandbox is an in-process processor used when no real rail is configured.
// Charges are deduplicated by idempotency key like a real processor.
type Sandbox struct {
	name   string
	method payment.Method

	mu       sync.Mutex
	charges  map[string]*sandboxCharge
	byKey    map[string]string
	refunds  map[string]*RefundResult
	attempts map[string]int
}

type sandboxCharge struct {
	result   ChargeResult
	verify   VerifyResult
	refunded bool
}

func NewSandbox(name string, method payment.Method) *Sandbox {
	return &Sandbox{
		name:     name,
		method:   method,
		charges:  make(map[string]*sandboxCharge),
		byKey:    make(map[string]string),
		refunds:  make(map[string]*RefundResult),
		attempts: make(map[string]int),
	}
}

func (s *Sandbox) Name() string           { return s.name }
func (s *Sandbox) Method() payment.Method { return s.method }

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		r := s.charges[id].result
		return &r, nil
	}

	s.attempts[req.IdempotencyKey]++
	outcome := strings.ToLower(req.MethodDetails[SandboxOutcomeKey])
	switch outcome {
	case "transient":
		return nil, fmt.Errorf("%w: sandbox outage", ErrTransient)
	case "transient_once":
		if s.attempts[req.IdempotencyKey] == 1 {
			return nil, fmt.Errorf("%w: sandbox outage", ErrTransient)
		}
		outcome = "succeeded"
	case "malformed":
		return nil, fmt.Errorf("%w: sandbox returned garbage", ErrIntegration)
	case "declined":
		return nil, fmt.Errorf("%w: card_declined", ErrDeclined)
	}

	status := Status(outcome)
	if outcome == "" {
		status = StatusSucceeded
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown sandbox outcome %q", ErrIntegration, outcome)
	}

	id := "sbx_" + ulid.Make().String()
	c := &sandboxCharge{
		result: ChargeResult{ProcessorTransactionID: id, Status: status},
		verify: VerifyResult{Status: status, Amount: req.Amount, Currency: req.Currency},
	}
	switch status {
	case StatusRequiresAction:
		c.result.RedirectURL = "https://sandbox.invalid/checkout/" + id
	case StatusFailed:
		c.result.FailureReason = "sandbox_failure"
		c.verify.FailureReason = "sandbox_failure"
	}

	s.charges[id] = c
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = id
	}
	r := c.result
	return &r, nil
}

func (s *Sandbox) Verify(ctx context.Context, processorTransactionID string) (*VerifyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[processorTransactionID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown charge %s", ErrIntegration, processorTransactionID)
	}
	v := c.verify
	return &v, nil
}

func (s *Sandbox) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.refunds[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		out := *r
		return &out, nil
	}

	c, ok := s.charges[req.ProcessorTransactionID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown charge %s", ErrIntegration, req.ProcessorTransactionID)
	}
	if c.verify.Status != StatusSucceeded || c.refunded {
		return nil, fmt.Errorf("%w: charge %s is not refundable", ErrDeclined, req.ProcessorTransactionID)
	}
	if req.Amount.GreaterThan(c.verify.Amount) {
		return nil, fmt.Errorf("%w: refund exceeds charge", ErrDeclined)
	}

	c.refunded = true
	r := &RefundResult{RefundID: "sbr_" + ulid.Make().String(), Status: StatusSucceeded}
	if req.IdempotencyKey != "" {
		s.refunds[req.IdempotencyKey] = r
	}
	out := *r
	return &out, nil
}

// Settle moves a sandbox charge to status, as the processor would once the
// payer completes an asynchronous flow.
func (s *Sandbox) Settle(processorTransactionID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[processorTransactionID]
	if !ok {
		return fmt.Errorf("%w: unknown charge %s", ErrIntegration, processorTransactionID)
	}
	c.verify.Status = status
	c.result.Status = status
	return nil
}
