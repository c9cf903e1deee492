package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webhookd/webhookd/internal/engine"
)

type EventHandler struct {
	engine *engine.Engine
}

func NewEventHandler(e *engine.Engine) *EventHandler {
	return &EventHandler{engine: e}
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.engine.GetEvent(id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, event)
}

// Attempts returns the append-only delivery history for an event.
func (h *EventHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	attempts, err := h.engine.GetDeliveryHistory(id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, attempts)
}
