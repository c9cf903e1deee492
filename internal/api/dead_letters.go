package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webhookd/webhookd/internal/engine"
)

type DeadLetterHandler struct {
	engine *engine.Engine
}

func NewDeadLetterHandler(e *engine.Engine) *DeadLetterHandler {
	return &DeadLetterHandler{engine: e}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.DeadLetters())
}

// Retry moves a dead-lettered event back into the live queue with its retry
// budget reset; it is picked up on the next scheduler tick.
func (h *DeadLetterHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.engine.RetryEvent(r.Context(), id); err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}
