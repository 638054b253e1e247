package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"carbonledger/internal/logger"
	"carbonledger/internal/metrics"
)

const (
	queueKey  = "notifications"
	failedKey = "notifications:failed"
	maxTries  = 3
)

// Publisher hands an event to the downstream bus.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Queue is a Redis list outbox. Notify pushes, Start drains it into the
// publisher, retrying each event up to maxTries times before parking it in
// the failed list.
type Queue struct {
	redis      *redis.Client
	publisher  Publisher
	retryDelay time.Duration
	// errorDelay is the first pause after Redis fails; it doubles up to
	// maxErrorDelay while the failures last.
	errorDelay    time.Duration
	maxErrorDelay time.Duration
}

func NewQueue(rdb *redis.Client, publisher Publisher) *Queue {
	return &Queue{
		redis:         rdb,
		publisher:     publisher,
		retryDelay:    5 * time.Second,
		errorDelay:    time.Second,
		maxErrorDelay: 30 * time.Second,
	}
}

func (q *Queue) Notify(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Errorf("Failed to marshal notification %s: %v", e.ID, err)
		metrics.RecordNotification("enqueue_failed")
		return
	}

	if err := q.redis.LPush(ctx, queueKey, string(data)).Err(); err != nil {
		logger.Error("failed to queue notification",
			"payment_id", e.PaymentID,
			"type", string(e.Type),
			"error", err,
		)
		metrics.RecordNotification("enqueue_failed")
		return
	}

	metrics.RecordNotification("queued")
	logger.Debug("notification queued", "payment_id", e.PaymentID, "type", string(e.Type))
}

func (q *Queue) Start(ctx context.Context) {
	log := logger.Component("notify")
	log.Info("Notification worker started")

	var backoff time.Duration
	for {
		select {
		case <-ctx.Done():
			log.Info("Notification worker stopped")
			return
		default:
		}

		if err := q.processNext(ctx); err != nil {
			backoff = q.nextBackoff(backoff)
			log.Warn("notification queue unavailable",
				"error", err,
				"retry_in", backoff.String(),
			)
			q.wait(ctx, backoff)
			continue
		}
		backoff = 0
	}
}

func (q *Queue) nextBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return q.errorDelay
	}
	next := prev * 2
	if next > q.maxErrorDelay {
		return q.maxErrorDelay
	}
	return next
}

// processNext publishes one event. It returns an error only when Redis
// itself failed; publish failures are retried through the queue.
func (q *Queue) processNext(ctx context.Context) error {
	result, err := q.redis.BRPop(ctx, 2*time.Second, queueKey).Result()
	if errors.Is(err, redis.Nil) || ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pop notification: %w", err)
	}

	var e Event
	if err := json.Unmarshal([]byte(result[1]), &e); err != nil {
		logger.Errorf("Bad notification data: %v", err)
		metrics.RecordNotification("malformed")
		return nil
	}

	e.Tries++
	if err := q.publisher.Publish(ctx, e); err != nil {
		logger.Error("failed to publish notification",
			"payment_id", e.PaymentID,
			"attempt", e.Tries,
			"error", err,
		)

		if e.Tries >= maxTries {
			return q.saveFailed(e, err)
		}
		q.wait(ctx, q.retryDelay)
		data, _ := json.Marshal(e)
		if err := q.redis.LPush(context.Background(), queueKey, string(data)).Err(); err != nil {
			// The event only exists in this log line now.
			logger.Error("failed to requeue notification",
				"payment_id", e.PaymentID,
				"event", string(data),
				"error", err,
			)
			metrics.RecordNotification("requeue_failed")
			return fmt.Errorf("requeue notification %s: %w", e.ID, err)
		}
		metrics.RecordNotification("retried")
		return nil
	}

	metrics.RecordNotification("published")
	return nil
}

func (q *Queue) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (q *Queue) saveFailed(e Event, cause error) error {
	failed := map[string]interface{}{
		"event": e,
		"error": cause.Error(),
		"time":  time.Now(),
	}
	data, _ := json.Marshal(failed)
	if err := q.redis.LPush(context.Background(), failedKey, string(data)).Err(); err != nil {
		logger.Error("failed to park notification",
			"payment_id", e.PaymentID,
			"event", string(data),
			"error", err,
		)
		metrics.RecordNotification("requeue_failed")
		return fmt.Errorf("park notification %s: %w", e.ID, err)
	}
	metrics.RecordNotification("failed")
	logger.Errorf("Notification %s for payment %s moved to failed queue", e.ID, e.PaymentID)
	return nil
}

// QueueLength reports the backlog and mirrors it into the queue gauge.
func (q *Queue) QueueLength(ctx context.Context) int64 {
	length, _ := q.redis.LLen(ctx, queueKey).Result()
	metrics.NotificationQueueLength.Set(float64(length))
	return length
}

func (q *Queue) Close() error {
	if err := q.publisher.Close(); err != nil {
		return err
	}
	return q.redis.Close()
}
