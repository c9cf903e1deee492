package engine

import (
	"time"

	"github.com/webhookd/webhookd/internal/domain"
)

// Lifecycle stages published to the monitoring feed.
const (
	StageReceived       = "received"
	StageCompleted      = "completed"
	StageRetryScheduled = "retry_scheduled"
	StageDeadLetter     = "dead_letter"
	StageRevived        = "revived"
)

// LifecycleUpdate is one monitoring-feed message describing an event
// transition.
type LifecycleUpdate struct {
	Stage      string        `json:"stage"`
	EventID    string        `json:"event_id"`
	Source     domain.Source `json:"source"`
	EventType  string        `json:"event_type"`
	Status     domain.Status `json:"status"`
	RetryCount int           `json:"retry_count"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Notifier receives lifecycle updates. Implementations must not block: the
// engine publishes from the processing path.
type Notifier interface {
	Publish(update LifecycleUpdate)
}

func (e *Engine) notify(ev *domain.WebhookEvent, stage, errMsg string) {
	if e.notifier == nil || ev == nil {
		return
	}
	e.notifier.Publish(LifecycleUpdate{
		Stage:      stage,
		EventID:    ev.ID,
		Source:     ev.Source,
		EventType:  ev.Type,
		Status:     ev.Status,
		RetryCount: ev.RetryCount,
		Error:      errMsg,
		Timestamp:  time.Now(),
	})
}
