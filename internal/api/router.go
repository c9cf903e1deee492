package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webhookd/webhookd/internal/engine"
	ws "github.com/webhookd/webhookd/internal/ws"
)

// NewRouter creates and configures the HTTP router. hub may be nil when the
// live feed is disabled.
func NewRouter(e *engine.Engine, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// Handlers
	webhookHandler := NewWebhookHandler(e)
	eventHandler := NewEventHandler(e)
	dlqHandler := NewDeadLetterHandler(e)
	statsHandler := NewStatsHandler(e)

	// WebSocket monitoring feed
	if hub != nil {
		r.Get("/ws", hub.HandleWebSocket)
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", statsHandler.Health)
		r.Get("/stats", statsHandler.Stats)
		r.Get("/handlers", statsHandler.Handlers)

		r.Post("/webhooks/{source}", webhookHandler.Receive)

		r.Route("/events", func(r chi.Router) {
			r.Get("/{id}", eventHandler.Get)
			r.Get("/{id}/attempts", eventHandler.Attempts)
		})

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", dlqHandler.List)
			r.Post("/{id}/retry", dlqHandler.Retry)
		})
	})

	return r
}
