// Package engine implements the webhook ingestion and delivery-processing
// engine: receipt and verification of inbound notifications, a ticking
// scheduler that dispatches ready events under a concurrency cap, handler
// execution with timeouts, exponential-backoff retries, and a dead-letter
// escalation path.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/webhookd/webhookd/internal/domain"
	"github.com/webhookd/webhookd/internal/registry"
	"github.com/webhookd/webhookd/internal/store"
	"github.com/webhookd/webhookd/internal/verify"
)

// UnroutedPolicy decides what happens to events that reach the processor with
// no registered handler: keep retrying on the normal backoff schedule (the
// handler may simply not be registered yet) or dead-letter on the first
// attempt (a missing handler is a permanent configuration gap).
type UnroutedPolicy string

const (
	UnroutedRetry      UnroutedPolicy = "retry"
	UnroutedDeadLetter UnroutedPolicy = "dead_letter"
)

// HealthThresholds configure the coarse health label derived from queue and
// dead-letter sizes.
type HealthThresholds struct {
	QueueWarn      int
	QueueError     int
	DeadLetterWarn int
	DeadLetterErr  int
}

// Config holds all tunables of one engine instance.
type Config struct {
	TickInterval      time.Duration
	MaxConcurrent     int
	BatchSize         int
	ProcessingTimeout time.Duration

	DefaultMaxRetries int
	DefaultRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	UnroutedPolicy    UnroutedPolicy

	RetentionWindow time.Duration
	CleanupInterval time.Duration

	Health HealthThresholds
}

func (c *Config) normalize() {
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = 30 * time.Second
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
	if c.DefaultRetryDelay <= 0 {
		c.DefaultRetryDelay = 30 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = time.Hour
	}
	if c.UnroutedPolicy == "" {
		c.UnroutedPolicy = UnroutedRetry
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = 24 * time.Hour
	}
	if c.Health.QueueWarn <= 0 {
		c.Health.QueueWarn = 500
	}
	if c.Health.QueueError <= 0 {
		c.Health.QueueError = 2000
	}
	if c.Health.DeadLetterWarn <= 0 {
		c.Health.DeadLetterWarn = 50
	}
	if c.Health.DeadLetterErr <= 0 {
		c.Health.DeadLetterErr = 200
	}
}

type verifierEntry struct {
	verifier verify.Verifier
	secret   string
}

// Engine is the single owner of the event store and the dispatch loop. It is
// constructed with its configuration and passed by handle; multiple
// independent instances can coexist in one process.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	store    *store.Memory
	registry *registry.Registry

	// Optional collaborators; all nil-safe.
	journal  *store.Journal
	limiter  *RateLimiter
	breaker  *CircuitBreaker
	notifier Notifier

	vmu       sync.RWMutex
	verifiers map[domain.Source]verifierEntry

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	loopWG   sync.WaitGroup // scheduler + retention loops
	attempts sync.WaitGroup // in-flight processing attempts
}

// Option wires an optional collaborator into the engine.
type Option func(*Engine)

// WithJournal enables the Postgres durability journal: receipts, attempts and
// transitions are recorded, and unsettled events re-hydrate on Start.
func WithJournal(j *store.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithRateLimiter enables per-source ingest rate limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(e *Engine) { e.limiter = rl }
}

// WithCircuitBreaker enables per-route dispatch gating.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(e *Engine) { e.breaker = cb }
}

// WithNotifier streams lifecycle updates to a monitoring feed.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// New creates an engine around the given registry.
func New(cfg Config, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Engine {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		store:     store.NewMemory(),
		registry:  reg,
		verifiers: make(map[domain.Source]verifierEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterVerifier installs the signature verifier and shared secret for a
// source. Sources without a verifier accept unsigned payloads, but any
// payload carrying a known signature header is rejected fail-closed.
func (e *Engine) RegisterVerifier(source domain.Source, v verify.Verifier, secret string) {
	e.vmu.Lock()
	defer e.vmu.Unlock()
	e.verifiers[source] = verifierEntry{verifier: v, secret: secret}
}

// Start re-hydrates unsettled events from the journal (when configured) and
// launches the scheduler and retention loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine already started")
	}

	if e.journal != nil {
		events, err := e.journal.LoadUnsettled(ctx)
		if err != nil {
			return fmt.Errorf("re-hydrating events: %w", err)
		}
		for i := range events {
			e.store.Append(&events[i])
		}
		if len(events) > 0 {
			e.logger.Info("re-hydrated unsettled events", "count", len(events))
		}
	}

	e.stop = make(chan struct{})
	e.running = true

	e.loopWG.Add(1)
	go e.run()

	if e.cfg.CleanupInterval > 0 {
		e.loopWG.Add(1)
		go e.retentionLoop()
	}

	e.logger.Info("engine started",
		"tick_interval", e.cfg.TickInterval,
		"max_concurrent", e.cfg.MaxConcurrent,
		"batch_size", e.cfg.BatchSize,
	)
	return nil
}

// Stop halts the scheduler and waits for all in-flight attempts to resolve.
// Pending events stay queued; with a journal configured they survive into the
// next Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()

	e.loopWG.Wait()
	e.attempts.Wait()
	e.logger.Info("engine stopped")
}

// run is the dispatch loop: one single-threaded ticker drives all "which
// events are ready" decisions.
func (e *Engine) run() {
	defer e.loopWG.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			e.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick claims ready events up to the free concurrency slots and hands each to
// the processor on its own goroutine. Claiming marks events in-flight before
// any suspension point, so a single event can never be dispatched twice.
func (e *Engine) tick() {
	slots := e.cfg.MaxConcurrent - e.store.InFlightCount()
	if slots <= 0 {
		return
	}
	if slots > e.cfg.BatchSize {
		slots = e.cfg.BatchSize
	}

	claimed := e.store.ClaimReady(time.Now(), slots)
	for _, ev := range claimed {
		e.attempts.Add(1)
		go func(ev *domain.WebhookEvent) {
			defer e.attempts.Done()
			e.processEvent(context.Background(), ev)
		}(ev)
	}
}

func (e *Engine) retentionLoop() {
	defer e.loopWG.Done()

	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if n := e.Cleanup(context.Background()); n > 0 {
				e.logger.Info("retention cleanup", "removed", n)
			}
		}
	}
}

// Cleanup purges completed and dead-lettered events older than the retention
// window from the live store and, when configured, the journal. Returns the
// number of events removed from memory.
func (e *Engine) Cleanup(ctx context.Context) int {
	cutoff := time.Now().Add(-e.cfg.RetentionWindow)
	removed := e.store.Cleanup(cutoff)

	if e.journal != nil {
		if _, err := e.journal.PurgeSettled(ctx, cutoff); err != nil {
			e.logger.Error("failed to purge journal", "error", err)
		}
	}
	return removed
}

// RetryEvent moves a dead-lettered event back into the live queue with its
// retry budget reset. It becomes eligible for dispatch on the next tick.
func (e *Engine) RetryEvent(ctx context.Context, id string) error {
	if err := e.store.ReviveDeadLetter(id); err != nil {
		return err
	}

	ev, _ := e.store.Get(id)
	e.journalStatus(ctx, ev)
	e.notify(ev, StageRevived, "")
	e.logger.Info("dead-lettered event revived",
		"event_id", id,
		"source", ev.Source,
		"type", ev.Type,
	)
	return nil
}

// GetEvent returns a copy of the event, or a not_found error.
func (e *Engine) GetEvent(id string) (*domain.WebhookEvent, error) {
	ev, ok := e.store.Get(id)
	if !ok {
		return nil, domain.E(domain.KindNotFound, "event %s not found", id)
	}
	return ev, nil
}

// GetDeliveryHistory returns the append-only attempt history for an event.
func (e *Engine) GetDeliveryHistory(id string) ([]domain.DeliveryAttempt, error) {
	if _, ok := e.store.Get(id); !ok {
		return nil, domain.E(domain.KindNotFound, "event %s not found", id)
	}
	return e.store.History(id), nil
}

// DeadLetters returns copies of all dead-lettered events.
func (e *Engine) DeadLetters() []domain.WebhookEvent {
	return e.store.DeadLetters()
}

// Registrations exposes the handler registry snapshot for introspection.
func (e *Engine) Registrations() []registry.Registration {
	return e.registry.List()
}

// journalStatus records a lifecycle transition; journal failures are logged
// and never propagate into the processing path.
func (e *Engine) journalStatus(ctx context.Context, ev *domain.WebhookEvent) {
	if e.journal == nil || ev == nil {
		return
	}
	if err := e.journal.UpdateEventStatus(ctx, ev); err != nil {
		e.logger.Error("failed to journal event status",
			"error", err,
			"event_id", ev.ID,
			"status", ev.Status,
		)
	}
}
