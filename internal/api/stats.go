package api

import (
	"net/http"

	"github.com/webhookd/webhookd/internal/engine"
	"github.com/webhookd/webhookd/internal/registry"
)

type StatsHandler struct {
	engine *engine.Engine
}

func NewStatsHandler(e *engine.Engine) *StatsHandler {
	return &StatsHandler{engine: e}
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.GetStats())
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.engine.GetHealthStatus()

	status := http.StatusOK
	if health.Status == "error" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}

type registrationInfo struct {
	Source     string `json:"source"`
	EventType  string `json:"event_type"`
	Retryable  bool   `json:"retryable"`
	MaxRetries int    `json:"max_retries"`
	RetryDelay string `json:"retry_delay"`
}

// Handlers lists the registered webhook routes and their retry policies.
func (h *StatsHandler) Handlers(w http.ResponseWriter, r *http.Request) {
	regs := h.engine.Registrations()

	out := make([]registrationInfo, 0, len(regs))
	for _, reg := range regs {
		out = append(out, toRegistrationInfo(reg))
	}
	respondJSON(w, http.StatusOK, out)
}

func toRegistrationInfo(reg registry.Registration) registrationInfo {
	return registrationInfo{
		Source:     string(reg.Key.Source),
		EventType:  reg.Key.EventType,
		Retryable:  reg.Policy.Retryable,
		MaxRetries: reg.Policy.MaxRetries,
		RetryDelay: reg.Policy.RetryDelay.String(),
	}
}
