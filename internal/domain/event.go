package domain

import (
	"encoding/json"
	"time"
)

// Source identifies the platform that sent a webhook.
type Source string

const (
	SourceStripe      Source = "stripe"
	SourcePayPal      Source = "paypal"
	SourceShopify     Source = "shopify"
	SourceMarketplace Source = "marketplace"
	SourceCustom      Source = "custom"
)

// Status is the lifecycle state of a webhook event. A "failed" label only
// ever describes a single attempt outcome, never a stored event status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusDeadLetter Status = "dead_letter"
)

// WebhookEvent is one inbound notification and its processing state.
// ID is assigned at receipt and never changes; it uniquely indexes the
// event's delivery-attempt history.
type WebhookEvent struct {
	ID          string            `json:"id"`
	Source      Source            `json:"source"`
	Type        string            `json:"type"`
	Payload     json.RawMessage   `json:"payload"`
	Signature   string            `json:"signature,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	TenantID    string            `json:"tenant_id,omitempty"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	NextRetryAt *time.Time        `json:"next_retry_at,omitempty"`
	Status      Status            `json:"status"`

	// Observability fields for the most recent attempt.
	ProcessingTime time.Duration `json:"processing_time,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`

	ReceivedAt  time.Time  `json:"received_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Ready reports whether the event is eligible for dispatch at the given time.
func (e *WebhookEvent) Ready(now time.Time) bool {
	if e.Status != StatusPending {
		return false
	}
	return e.NextRetryAt == nil || !e.NextRetryAt.After(now)
}

// DeliveryAttempt is one append-only audit record of a processing attempt.
type DeliveryAttempt struct {
	EventID      string        `json:"event_id"`
	Timestamp    time.Time     `json:"timestamp"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
}
