package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"carbonledger/internal/logger"
	"carbonledger/internal/metrics"
)

type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// CallTimeout bounds each attempt. Zero leaves it to the caller's context.
	CallTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		CallTimeout:     15 * time.Second,
	}
}

// resilient retries transient failures with exponential backoff and records
// every attempt. Declines and integration errors are returned at once.
type resilient struct {
	Adapter
	policy RetryPolicy
}

func WithRetry(a Adapter, policy RetryPolicy) Adapter {
	return &resilient{Adapter: a, policy: policy}
}

// Unwrap returns the adapter without retries.
func (r *resilient) Unwrap() Adapter {
	return r.Adapter
}

func (r *resilient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	var out *ChargeResult
	err := r.retry(ctx, "charge", func(ctx context.Context) error {
		var err error
		out, err = r.Adapter.Charge(ctx, req)
		return err
	})
	return out, err
}

func (r *resilient) Verify(ctx context.Context, processorTransactionID string) (*VerifyResult, error) {
	var out *VerifyResult
	err := r.retry(ctx, "verify", func(ctx context.Context) error {
		var err error
		out, err = r.Adapter.Verify(ctx, processorTransactionID)
		return err
	})
	return out, err
}

func (r *resilient) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	var out *RefundResult
	err := r.retry(ctx, "refund", func(ctx context.Context) error {
		var err error
		out, err = r.Adapter.Refund(ctx, req)
		return err
	})
	return out, err
}

func (r *resilient) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.policy.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.policy.CallTimeout)
		}
		defer cancel()

		err := fn(callCtx)
		metrics.RecordProcessorCall(r.Name(), op, Outcome(err))
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTransient) {
			logger.Warn("processor call failed, will retry",
				"processor", r.Name(),
				"operation", op,
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, r.policy.MaxRetries), ctx))

	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrTransient) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
