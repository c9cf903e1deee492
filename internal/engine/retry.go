package engine

import (
	"context"
	"time"

	"github.com/webhookd/webhookd/internal/domain"
	"github.com/webhookd/webhookd/internal/registry"
)

// backoffDelay computes the exponential backoff for the n-th retry:
// base × 2^(n−1), capped at max.
func backoffDelay(base time.Duration, retryCount int, max time.Duration) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// handleFailure is the retry controller: it burns one retry, then either
// re-queues the event with a backoff timer or escalates it to the dead-letter
// collection.
func (e *Engine) handleFailure(ctx context.Context, ev *domain.WebhookEvent, policy registry.Policy, errMsg string) {
	retryCount := ev.RetryCount + 1
	now := time.Now()

	if !policy.Retryable || retryCount >= ev.MaxRetries {
		e.store.MoveToDeadLetter(ev.ID, retryCount, errMsg, now)

		dead, _ := e.store.Get(ev.ID)
		e.journalStatus(ctx, dead)
		e.notify(dead, StageDeadLetter, errMsg)

		// Monitoring alert for the dead-letter escalation.
		e.logger.Error("event dead-lettered",
			"event_id", ev.ID,
			"source", ev.Source,
			"type", ev.Type,
			"retry_count", retryCount,
			"retryable", policy.Retryable,
			"error", errMsg,
		)
		return
	}

	base := policy.RetryDelay
	if base <= 0 {
		base = e.cfg.DefaultRetryDelay
	}
	delay := backoffDelay(base, retryCount, e.cfg.MaxRetryDelay)
	nextRetryAt := now.Add(delay)

	e.store.ScheduleRetry(ev.ID, retryCount, errMsg, nextRetryAt)

	queued, _ := e.store.Get(ev.ID)
	e.journalStatus(ctx, queued)
	e.notify(queued, StageRetryScheduled, errMsg)

	e.logger.Warn("attempt failed, retry scheduled",
		"event_id", ev.ID,
		"source", ev.Source,
		"type", ev.Type,
		"retry_count", retryCount,
		"max_retries", ev.MaxRetries,
		"next_retry_at", nextRetryAt,
		"error", errMsg,
	)
}
