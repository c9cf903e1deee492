package store

import (
	"context"
	"fmt"
	"time"

	"github.com/webhookd/webhookd/internal/domain"
)

// InsertEvent journals a newly received event.
func (j *Journal) InsertEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO webhook_events (id, source, event_type, payload, signature, tenant_id, status, retry_count, max_retries, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ev.ID, string(ev.Source), ev.Type, []byte(ev.Payload), ev.Signature, nullable(ev.TenantID),
		string(ev.Status), ev.RetryCount, ev.MaxRetries, ev.ReceivedAt)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// UpdateEventStatus journals a lifecycle transition.
func (j *Journal) UpdateEventStatus(ctx context.Context, ev *domain.WebhookEvent) error {
	_, err := j.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = $2, retry_count = $3, next_retry_at = $4, error_message = $5, completed_at = $6
		WHERE id = $1
	`, ev.ID, string(ev.Status), ev.RetryCount, ev.NextRetryAt, nullable(ev.ErrorMessage), ev.CompletedAt)
	if err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}
	return nil
}

// InsertAttempt journals one delivery attempt. Attempt rows are append-only.
func (j *Journal) InsertAttempt(ctx context.Context, att domain.DeliveryAttempt) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO delivery_attempts (event_id, attempted_at, success, error_message, response_time_ms)
		VALUES ($1, $2, $3, $4, $5)
	`, att.EventID, att.Timestamp, att.Success, nullable(att.Error), att.ResponseTime.Milliseconds())
	if err != nil {
		return fmt.Errorf("inserting delivery attempt: %w", err)
	}
	return nil
}

// LoadUnsettled returns journaled events that never reached a terminal state,
// for startup re-hydration. Rows stuck in processing belong to a previous
// process whose attempt cannot have survived the restart, so they come back
// as pending with their retry timer cleared.
func (j *Journal) LoadUnsettled(ctx context.Context) ([]domain.WebhookEvent, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT id, source, event_type, payload, signature, COALESCE(tenant_id, ''),
			   retry_count, max_retries, received_at
		FROM webhook_events
		WHERE status IN ('pending', 'processing')
		ORDER BY received_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying unsettled events: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		var ev domain.WebhookEvent
		var source string
		err := rows.Scan(&ev.ID, &source, &ev.Type, &ev.Payload, &ev.Signature,
			&ev.TenantID, &ev.RetryCount, &ev.MaxRetries, &ev.ReceivedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Source = domain.Source(source)
		ev.Status = domain.StatusPending
		events = append(events, ev)
	}

	return events, rows.Err()
}

// PurgeSettled deletes journaled events (and their attempts, via cascade)
// that settled before the cutoff. Mirrors the in-memory retention pass.
func (j *Journal) PurgeSettled(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := j.pool.Exec(ctx, `
		DELETE FROM webhook_events
		WHERE status IN ('completed', 'dead_letter') AND COALESCE(completed_at, received_at) < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging settled events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
