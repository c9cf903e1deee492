package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webhookd/webhookd/internal/domain"
	"github.com/webhookd/webhookd/internal/engine"
)

// maxWebhookBodySize bounds inbound payloads. Platform webhook bodies are
// small; the limit protects against abuse.
const maxWebhookBodySize = 256 * 1024

type WebhookHandler struct {
	engine *engine.Engine
}

func NewWebhookHandler(e *engine.Engine) *WebhookHandler {
	return &WebhookHandler{engine: e}
}

type receiveResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"event_id"`
}

// Receive ingests one webhook. The raw body is passed to the engine exactly
// as transmitted: signature verification needs the original bytes, never a
// re-serialized object.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	source := domain.Source(chi.URLParam(r, "source"))

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	eventID, err := h.engine.Receive(r.Context(), source, string(raw), headers, r.Header.Get("X-Tenant-ID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, receiveResponse{Success: true, EventID: eventID})
}
