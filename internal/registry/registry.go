// Package registry maps inbound webhook routes to handler functions and
// their retry policies. Integration modules register their handlers once at
// process startup; the engine resolves them at dispatch time.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/webhookd/webhookd/internal/domain"
)

// Wildcard matches any event type for a source when no exact route exists.
const Wildcard = "*"

// HandlerFunc processes one webhook event. A nil return means the event was
// handled; a non-nil error is the failure reason fed to the retry controller.
// Handlers must be idempotent with respect to the event id and payload,
// since retries re-invoke them with identical input.
type HandlerFunc func(ctx context.Context, event *domain.WebhookEvent) error

// RouteKey identifies a registration. Lookup is a two-step: exact
// (source, eventType), then (source, "*") fallback.
type RouteKey struct {
	Source    domain.Source
	EventType string
}

func (k RouteKey) String() string {
	return string(k.Source) + ":" + k.EventType
}

// Policy is the retry behavior attached to a registration.
type Policy struct {
	Retryable  bool
	MaxRetries int
	RetryDelay time.Duration
}

// Registration binds a route to a handler and its retry policy.
type Registration struct {
	Key     RouteKey
	Handler HandlerFunc
	Policy  Policy
}

// Registry holds all handler registrations. Safe for concurrent use;
// registration normally happens once at startup, resolution on every dispatch.
type Registry struct {
	mu       sync.RWMutex
	routes   map[RouteKey]Registration
	defaults Policy
}

// New creates a registry. The defaults policy applies to events whose route
// has no registration at receipt time.
func New(defaults Policy) *Registry {
	return &Registry{
		routes:   make(map[RouteKey]Registration),
		defaults: defaults,
	}
}

// Option tweaks a single registration.
type Option func(*Registration)

// WithRetryable marks the handler retryable or not. Non-retryable handlers
// dead-letter after a single failed attempt.
func WithRetryable(retryable bool) Option {
	return func(r *Registration) { r.Policy.Retryable = retryable }
}

// WithMaxRetries overrides the retry budget for this route.
func WithMaxRetries(n int) Option {
	return func(r *Registration) { r.Policy.MaxRetries = n }
}

// WithRetryDelay overrides the base backoff delay for this route.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Registration) { r.Policy.RetryDelay = d }
}

// Register binds a handler to (source, eventType). Use Wildcard as the event
// type to install a per-source fallback. Re-registering a route replaces the
// previous binding and returns an error so misconfigured startups are visible.
func (r *Registry) Register(source domain.Source, eventType string, handler HandlerFunc, opts ...Option) error {
	if handler == nil {
		return fmt.Errorf("registering %s:%s: handler is nil", source, eventType)
	}
	key := RouteKey{Source: source, EventType: eventType}

	reg := Registration{Key: key, Handler: handler, Policy: r.defaults}
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.routes[key]
	r.routes[key] = reg
	if replaced {
		return fmt.Errorf("registering %s: route already registered, replaced", key)
	}
	return nil
}

// Resolve returns the registration for an event: exact route first, then the
// per-source wildcard. The second return is false when neither exists.
func (r *Registry) Resolve(source domain.Source, eventType string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reg, ok := r.routes[RouteKey{Source: source, EventType: eventType}]; ok {
		return reg, true
	}
	reg, ok := r.routes[RouteKey{Source: source, EventType: Wildcard}]
	return reg, ok
}

// EffectivePolicy returns the retry policy the receiver should stamp onto a
// new event: the matched registration's policy, or the registry defaults when
// no handler is registered yet.
func (r *Registry) EffectivePolicy(source domain.Source, eventType string) Policy {
	if reg, ok := r.Resolve(source, eventType); ok {
		return reg.Policy
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// List returns a snapshot of all registrations for introspection endpoints.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.routes))
	for _, reg := range r.routes {
		out = append(out, reg)
	}
	return out
}
