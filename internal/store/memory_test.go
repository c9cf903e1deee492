package store

import (
	"testing"
	"time"

	"github.com/webhookd/webhookd/internal/domain"
)

func newEvent(id string) *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ID:         id,
		Source:     domain.SourceCustom,
		Type:       "order.created",
		Payload:    []byte(`{}`),
		MaxRetries: 3,
		Status:     domain.StatusPending,
		ReceivedAt: time.Now(),
	}
}

func TestMemory_AppendSameIDReplacesInPlace(t *testing.T) {
	s := NewMemory()
	s.Append(newEvent("a"))
	s.Append(newEvent("b"))

	// Same id again, as a journal re-hydration of a still-live event would do.
	again := newEvent("a")
	again.RetryCount = 2
	s.Append(again)

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot holds %d entries, want 2", len(snap))
	}
	if snap[0].ID != "a" || snap[1].ID != "b" {
		t.Errorf("order = %s,%s, want a,b", snap[0].ID, snap[1].ID)
	}
	if snap[0].RetryCount != 2 {
		t.Errorf("RetryCount = %d, want the replacement's 2", snap[0].RetryCount)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestMemory_ClaimReadyInsertionOrder(t *testing.T) {
	s := NewMemory()
	for _, id := range []string{"a", "b", "c"} {
		s.Append(newEvent(id))
	}

	claimed := s.ClaimReady(time.Now(), 2)
	if len(claimed) != 2 {
		t.Fatalf("claimed %d events, want 2", len(claimed))
	}
	if claimed[0].ID != "a" || claimed[1].ID != "b" {
		t.Errorf("claimed %s,%s, want a,b", claimed[0].ID, claimed[1].ID)
	}
	for _, ev := range claimed {
		if ev.Status != domain.StatusProcessing {
			t.Errorf("event %s status = %s, want processing", ev.ID, ev.Status)
		}
	}
	if got := s.InFlightCount(); got != 2 {
		t.Errorf("InFlightCount = %d, want 2", got)
	}
}

func TestMemory_ClaimReadySkipsInFlight(t *testing.T) {
	s := NewMemory()
	s.Append(newEvent("a"))

	if got := len(s.ClaimReady(time.Now(), 10)); got != 1 {
		t.Fatalf("first claim got %d events, want 1", got)
	}
	// Already claimed, must not be handed out again.
	if got := len(s.ClaimReady(time.Now(), 10)); got != 0 {
		t.Fatalf("second claim got %d events, want 0", got)
	}

	s.Release("a")
	// Released but still marked processing, so still not claimable.
	if got := len(s.ClaimReady(time.Now(), 10)); got != 0 {
		t.Fatalf("claim after release got %d events, want 0", got)
	}
}

func TestMemory_ClaimReadyHonorsRetryTimer(t *testing.T) {
	s := NewMemory()
	s.Append(newEvent("a"))
	now := time.Now()

	s.ClaimReady(now, 1)
	s.Release("a")
	s.ScheduleRetry("a", 1, "boom", now.Add(time.Minute))

	if got := len(s.ClaimReady(now, 10)); got != 0 {
		t.Errorf("claimed %d events before retry timer elapsed, want 0", got)
	}
	if got := len(s.ClaimReady(now.Add(2*time.Minute), 10)); got != 1 {
		t.Errorf("claimed %d events after retry timer elapsed, want 1", got)
	}
}

func TestMemory_ScheduleRetryState(t *testing.T) {
	s := NewMemory()
	s.Append(newEvent("a"))
	next := time.Now().Add(30 * time.Second)

	s.ScheduleRetry("a", 2, "connection refused", next)

	ev, ok := s.Get("a")
	if !ok {
		t.Fatal("event not found")
	}
	if ev.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", ev.Status)
	}
	if ev.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", ev.RetryCount)
	}
	if ev.ErrorMessage != "connection refused" {
		t.Errorf("ErrorMessage = %q", ev.ErrorMessage)
	}
	if ev.NextRetryAt == nil || !ev.NextRetryAt.Equal(next) {
		t.Errorf("NextRetryAt = %v, want %v", ev.NextRetryAt, next)
	}
}

func TestMemory_Complete(t *testing.T) {
	s := NewMemory()
	s.Append(newEvent("a"))
	now := time.Now()

	s.Complete("a", 42*time.Millisecond, now)

	ev, _ := s.Get("a")
	if ev.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", ev.Status)
	}
	if ev.ProcessingTime != 42*time.Millisecond {
		t.Errorf("ProcessingTime = %v", ev.ProcessingTime)
	}
	if ev.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if ev.NextRetryAt != nil {
		t.Error("NextRetryAt should be cleared on completion")
	}
}

func TestMemory_DeferDoesNotConsumeRetry(t *testing.T) {
	s := NewMemory()
	s.Append(newEvent("a"))
	now := time.Now()

	s.ClaimReady(now, 1)
	s.Release("a")
	s.Defer("a", now.Add(10*time.Second))

	ev, _ := s.Get("a")
	if ev.RetryCount != 0 {
		t.Errorf("RetryCount = %d after defer, want 0", ev.RetryCount)
	}
	if ev.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", ev.Status)
	}
	if ev.NextRetryAt == nil {
		t.Fatal("NextRetryAt not set")
	}
}

func TestMemory_DeadLetterLifecycle(t *testing.T) {
	s := NewMemory()
	s.Append(newEvent("a"))
	s.Append(newEvent("b"))
	now := time.Now()

	s.MoveToDeadLetter("a", 3, "persistent failure", now)

	ev, _ := s.Get("a")
	if ev.Status != domain.StatusDeadLetter {
		t.Fatalf("status = %s, want dead_letter", ev.Status)
	}

	dead := s.DeadLetters()
	if len(dead) != 1 || dead[0].ID != "a" {
		t.Fatalf("DeadLetters = %v, want just a", dead)
	}

	if err := s.ReviveDeadLetter("a"); err != nil {
		t.Fatalf("revive: %v", err)
	}
	ev, _ = s.Get("a")
	if ev.Status != domain.StatusPending {
		t.Errorf("status after revive = %s, want pending", ev.Status)
	}
	if ev.RetryCount != 0 {
		t.Errorf("RetryCount after revive = %d, want 0", ev.RetryCount)
	}
	if len(s.DeadLetters()) != 0 {
		t.Error("dead-letter index not cleared after revive")
	}
}

func TestMemory_ReviveRejectsNonDeadLetter(t *testing.T) {
	s := NewMemory()
	s.Append(newEvent("a"))

	err := s.ReviveDeadLetter("a")
	if err == nil {
		t.Fatal("expected error reviving a live event")
	}
	if !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("error kind = %v, want not_found", domain.KindOf(err))
	}
	if err := s.ReviveDeadLetter("missing"); err == nil {
		t.Error("expected error reviving unknown event")
	}
}

func TestMemory_History(t *testing.T) {
	s := NewMemory()
	s.Append(newEvent("a"))

	s.RecordAttempt(domain.DeliveryAttempt{EventID: "a", Success: false, Error: "boom"})
	s.RecordAttempt(domain.DeliveryAttempt{EventID: "a", Success: true})

	hist := s.History("a")
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Error != "boom" || !hist[1].Success {
		t.Error("history out of record order")
	}
	if len(s.History("missing")) != 0 {
		t.Error("unknown event should have empty history")
	}
}

func TestMemory_Cleanup(t *testing.T) {
	s := NewMemory()
	s.Append(newEvent("done-old"))
	s.Append(newEvent("dead-old"))
	s.Append(newEvent("done-new"))
	s.Append(newEvent("live"))

	old := time.Now().Add(-48 * time.Hour)
	s.Complete("done-old", time.Millisecond, old)
	s.MoveToDeadLetter("dead-old", 3, "x", old)
	s.Complete("done-new", time.Millisecond, time.Now())
	s.RecordAttempt(domain.DeliveryAttempt{EventID: "done-old", Success: true})

	removed := s.Cleanup(time.Now().Add(-24 * time.Hour))
	if removed != 2 {
		t.Fatalf("removed %d events, want 2", removed)
	}
	if _, ok := s.Get("done-old"); ok {
		t.Error("settled event past retention should be purged")
	}
	if _, ok := s.Get("dead-old"); ok {
		t.Error("dead-lettered event past retention should be purged")
	}
	if _, ok := s.Get("done-new"); !ok {
		t.Error("recently settled event should survive cleanup")
	}
	if _, ok := s.Get("live"); !ok {
		t.Error("pending event should never be purged")
	}
	if len(s.History("done-old")) != 0 {
		t.Error("history of purged event should be dropped")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestMemory_SnapshotIsolation(t *testing.T) {
	s := NewMemory()
	s.Append(newEvent("a"))

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot length = %d, want 1", len(snap))
	}
	snap[0].Status = domain.StatusCompleted
	snap[0].Headers = map[string]string{"X": "mutated"}

	ev, _ := s.Get("a")
	if ev.Status != domain.StatusPending {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	s := NewMemory()
	ev := newEvent("a")
	ev.Headers = map[string]string{"X-Test": "1"}
	s.Append(ev)

	got, _ := s.Get("a")
	got.Headers["X-Test"] = "mutated"
	got.RetryCount = 99

	again, _ := s.Get("a")
	if again.Headers["X-Test"] != "1" || again.RetryCount != 0 {
		t.Error("mutating a returned event leaked into the store")
	}
}
