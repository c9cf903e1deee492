package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/webhookd/webhookd/internal/domain"
	"github.com/webhookd/webhookd/internal/registry"
)

// processEvent runs one attempt for a claimed event. The event is already
// marked processing and in-flight; whatever happens here, the in-flight slot
// is released only after the attempt has fully resolved.
func (e *Engine) processEvent(ctx context.Context, ev *domain.WebhookEvent) {
	defer e.store.Release(ev.ID)

	reg, found := e.registry.Resolve(ev.Source, ev.Type)

	if e.breaker != nil && found {
		if _, allowed := e.breaker.Allow(ctx, reg.Key); !allowed {
			// Open circuit: defer without consuming a retry or recording an
			// attempt. Dispatch was gated, not attempted.
			until := time.Now().Add(e.breaker.Cooldown())
			e.store.Defer(ev.ID, until)
			e.logger.Warn("dispatch gated by open circuit",
				"event_id", ev.ID,
				"route", reg.Key.String(),
				"deferred_until", until,
			)
			return
		}
	}

	if !found {
		e.handleUnrouted(ctx, ev)
		return
	}

	start := time.Now()
	err := e.invokeHandler(ctx, reg.Handler, ev)
	elapsed := time.Since(start)

	e.recordAttempt(ctx, ev.ID, err, elapsed)

	if err == nil {
		now := time.Now()
		e.store.Complete(ev.ID, elapsed, now)
		if e.breaker != nil {
			e.breaker.RecordSuccess(ctx, reg.Key)
		}

		done, _ := e.store.Get(ev.ID)
		e.journalStatus(ctx, done)
		e.notify(done, StageCompleted, "")
		e.logger.Info("event processed",
			"event_id", ev.ID,
			"source", ev.Source,
			"type", ev.Type,
			"attempt", ev.RetryCount+1,
			"processing_time_ms", elapsed.Milliseconds(),
		)
		return
	}

	if e.breaker != nil {
		e.breaker.RecordFailure(ctx, reg.Key)
	}
	e.handleFailure(ctx, ev, reg.Policy, err.Error())
}

// handleUnrouted treats a missing handler as a failed attempt. Whether that
// failure retries or dead-letters immediately is the configured
// UnroutedPolicy: a handler may be registered late, or never.
func (e *Engine) handleUnrouted(ctx context.Context, ev *domain.WebhookEvent) {
	err := domain.E(domain.KindHandlerNotFound, "no handler registered for %s:%s", ev.Source, ev.Type)
	e.recordAttempt(ctx, ev.ID, err, 0)

	policy := e.registry.EffectivePolicy(ev.Source, ev.Type)
	if e.cfg.UnroutedPolicy == UnroutedDeadLetter {
		policy.Retryable = false
	}
	e.handleFailure(ctx, ev, policy, err.Error())
}

// invokeHandler races the handler against the processing timeout. A panicking
// handler is converted into a failed attempt; nothing may escape into the
// scheduler and halt processing of other events.
func (e *Engine) invokeHandler(ctx context.Context, h registry.HandlerFunc, ev *domain.WebhookEvent) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProcessingTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- h(ctx, ev)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The handler goroutine runs to completion on its own; the attempt
		// resolves as a timeout failure now.
		return domain.E(domain.KindTimeout, "handler exceeded processing timeout of %s", e.cfg.ProcessingTimeout)
	}
}

// recordAttempt appends the audit record for one attempt, whatever the
// outcome, to the store and, when configured, the journal.
func (e *Engine) recordAttempt(ctx context.Context, eventID string, attemptErr error, elapsed time.Duration) {
	att := domain.DeliveryAttempt{
		EventID:      eventID,
		Timestamp:    time.Now(),
		Success:      attemptErr == nil,
		ResponseTime: elapsed,
	}
	if attemptErr != nil {
		att.Error = attemptErr.Error()
	}

	e.store.RecordAttempt(att)

	if e.journal != nil {
		if err := e.journal.InsertAttempt(ctx, att); err != nil {
			e.logger.Error("failed to journal delivery attempt",
				"error", err,
				"event_id", eventID,
			)
		}
	}
}
