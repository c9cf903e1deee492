// Package store holds webhook event state: the in-memory live queue that the
// engine dispatches from, and an optional Postgres journal for durability.
package store

import (
	"sync"
	"time"

	"github.com/webhookd/webhookd/internal/domain"
)

// Memory is the in-process event store. It owns the live event collection,
// the in-flight set, the dead-letter index, and the per-event delivery
// history. One mutex guards all of it: every mutation happens under the lock,
// and everything handed out is a copy so readers never observe a write in
// progress.
type Memory struct {
	mu          sync.Mutex
	events      map[string]*domain.WebhookEvent
	order       []string // insertion order, drives dispatch selection
	inflight    map[string]struct{}
	deadLetters map[string]struct{}
	attempts    map[string][]domain.DeliveryAttempt
	settledAt   map[string]time.Time // terminal transition time, drives retention
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		events:      make(map[string]*domain.WebhookEvent),
		inflight:    make(map[string]struct{}),
		deadLetters: make(map[string]struct{}),
		attempts:    make(map[string][]domain.DeliveryAttempt),
		settledAt:   make(map[string]time.Time),
	}
}

// Append adds a newly received event to the live queue. An id that is
// already stored is replaced in place, keeping its queue position; this is
// what keeps journal re-hydration from double-counting events that never
// left memory.
func (s *Memory) Append(ev *domain.WebhookEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneEvent(ev)
	if _, exists := s.events[cp.ID]; !exists {
		s.order = append(s.order, cp.ID)
	}
	s.events[cp.ID] = cp
}

// Get returns a copy of the event, or false if it does not exist.
func (s *Memory) Get(id string) (*domain.WebhookEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, false
	}
	return cloneEvent(ev), true
}

// ClaimReady selects up to max dispatchable events in insertion order:
// status pending, retry timer elapsed, not already in flight. Each selected
// event is marked processing and inserted into the in-flight set before the
// lock is released, so no other claim can ever see it. This is the mutual
// exclusion guarantee the processor relies on. Returned events are copies.
func (s *Memory) ClaimReady(now time.Time, max int) []*domain.WebhookEvent {
	if max <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*domain.WebhookEvent
	for _, id := range s.order {
		if len(claimed) >= max {
			break
		}
		ev, ok := s.events[id]
		if !ok || !ev.Ready(now) {
			continue
		}
		if _, busy := s.inflight[id]; busy {
			continue
		}
		ev.Status = domain.StatusProcessing
		s.inflight[id] = struct{}{}
		claimed = append(claimed, cloneEvent(ev))
	}
	return claimed
}

// Release removes an event from the in-flight set once its attempt has fully
// resolved, whatever the outcome.
func (s *Memory) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// Complete marks the event successfully processed.
func (s *Memory) Complete(id string, processingTime time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return
	}
	ev.Status = domain.StatusCompleted
	ev.ProcessingTime = processingTime
	ev.ErrorMessage = ""
	ev.NextRetryAt = nil
	done := now
	ev.CompletedAt = &done
	s.settledAt[id] = now
}

// ScheduleRetry records a failed attempt outcome and re-queues the event with
// a backoff timer. The retry controller computes the values; the store only
// applies them.
func (s *Memory) ScheduleRetry(id string, retryCount int, errMsg string, nextRetryAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return
	}
	ev.Status = domain.StatusPending
	ev.RetryCount = retryCount
	ev.ErrorMessage = errMsg
	next := nextRetryAt
	ev.NextRetryAt = &next
}

// Defer re-queues an event without consuming a retry: used when dispatch is
// gated (open circuit) rather than attempted and failed.
func (s *Memory) Defer(id string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return
	}
	ev.Status = domain.StatusPending
	next := until
	ev.NextRetryAt = &next
}

// MoveToDeadLetter marks the event terminally failed and indexes it in the
// dead-letter collection.
func (s *Memory) MoveToDeadLetter(id string, retryCount int, errMsg string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return
	}
	ev.Status = domain.StatusDeadLetter
	ev.RetryCount = retryCount
	ev.ErrorMessage = errMsg
	ev.NextRetryAt = nil
	s.deadLetters[id] = struct{}{}
	s.settledAt[id] = now
}

// ReviveDeadLetter moves a dead-lettered event back into the live queue with
// its retry budget reset. Returns a not_found error if the event is not in
// the dead-letter collection.
func (s *Memory) ReviveDeadLetter(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deadLetters[id]; !ok {
		return domain.E(domain.KindNotFound, "event %s not in dead-letter queue", id)
	}
	ev := s.events[id]
	ev.Status = domain.StatusPending
	ev.RetryCount = 0
	ev.ErrorMessage = ""
	ev.NextRetryAt = nil
	delete(s.deadLetters, id)
	delete(s.settledAt, id)
	return nil
}

// RecordAttempt appends one delivery attempt to the event's audit history.
// History is append-only; nothing ever mutates a recorded attempt.
func (s *Memory) RecordAttempt(att domain.DeliveryAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[att.EventID] = append(s.attempts[att.EventID], att)
}

// History returns a copy of the event's delivery attempts in record order.
func (s *Memory) History(id string) []domain.DeliveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.attempts[id]
	out := make([]domain.DeliveryAttempt, len(src))
	copy(out, src)
	return out
}

// Snapshot returns copies of every stored event (live and dead-lettered) in
// insertion order. Read-side consumers aggregate over the snapshot so stats
// computation never blocks or mutates the dispatch path.
func (s *Memory) Snapshot() []domain.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.WebhookEvent, 0, len(s.order))
	for _, id := range s.order {
		if ev, ok := s.events[id]; ok {
			out = append(out, *cloneEvent(ev))
		}
	}
	return out
}

// DeadLetters returns copies of all dead-lettered events in insertion order.
func (s *Memory) DeadLetters() []domain.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.WebhookEvent, 0, len(s.deadLetters))
	for _, id := range s.order {
		if _, dead := s.deadLetters[id]; !dead {
			continue
		}
		if ev, ok := s.events[id]; ok {
			out = append(out, *cloneEvent(ev))
		}
	}
	return out
}

// InFlightCount returns the number of events currently being processed.
func (s *Memory) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Len returns the total number of stored events.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Cleanup purges completed and dead-lettered events that settled before the
// cutoff, along with their delivery history. Returns the number removed.
func (s *Memory) Cleanup(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		settled, terminal := s.settledAt[id]
		if terminal && settled.Before(cutoff) {
			delete(s.events, id)
			delete(s.deadLetters, id)
			delete(s.attempts, id)
			delete(s.settledAt, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

func cloneEvent(ev *domain.WebhookEvent) *domain.WebhookEvent {
	cp := *ev
	if ev.Headers != nil {
		cp.Headers = make(map[string]string, len(ev.Headers))
		for k, v := range ev.Headers {
			cp.Headers[k] = v
		}
	}
	if ev.NextRetryAt != nil {
		next := *ev.NextRetryAt
		cp.NextRetryAt = &next
	}
	if ev.CompletedAt != nil {
		done := *ev.CompletedAt
		cp.CompletedAt = &done
	}
	return &cp
}
