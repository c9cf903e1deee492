package engine

import (
	"time"

	"github.com/webhookd/webhookd/internal/domain"
)

// SourceStats is the per-source slice of the aggregate view.
type SourceStats struct {
	Total             int     `json:"total"`
	Completed         int     `json:"completed"`
	Failed            int     `json:"failed"`
	AvgProcessingMs   float64 `json:"avg_processing_ms"`
	completedDuration time.Duration
}

// Stats is a read-side projection over the full event set, live and
// dead-lettered alike.
type Stats struct {
	TotalEvents     int                     `json:"total_events"`
	Pending         int                     `json:"pending"`
	Processing      int                     `json:"processing"`
	Completed       int                     `json:"completed"`
	DeadLetter      int                     `json:"dead_letter"`
	InFlight        int                     `json:"in_flight"`
	SuccessRate     float64                 `json:"success_rate"`
	AvgProcessingMs float64                 `json:"avg_processing_ms"`
	BySource        map[string]*SourceStats `json:"by_source"`
}

// GetStats aggregates over a snapshot of the store; it never blocks or
// mutates the dispatch path.
func (e *Engine) GetStats() Stats {
	events := e.store.Snapshot()

	stats := Stats{
		BySource: make(map[string]*SourceStats),
		InFlight: e.store.InFlightCount(),
	}

	var completedDuration time.Duration
	for i := range events {
		ev := &events[i]
		stats.TotalEvents++

		src, ok := stats.BySource[string(ev.Source)]
		if !ok {
			src = &SourceStats{}
			stats.BySource[string(ev.Source)] = src
		}
		src.Total++

		switch ev.Status {
		case domain.StatusPending:
			stats.Pending++
		case domain.StatusProcessing:
			stats.Processing++
		case domain.StatusCompleted:
			stats.Completed++
			completedDuration += ev.ProcessingTime
			src.Completed++
			src.completedDuration += ev.ProcessingTime
		case domain.StatusDeadLetter:
			stats.DeadLetter++
			src.Failed++
		}
	}

	if stats.TotalEvents > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.TotalEvents) * 100
	}
	if stats.Completed > 0 {
		stats.AvgProcessingMs = float64(completedDuration.Milliseconds()) / float64(stats.Completed)
	}
	for _, src := range stats.BySource {
		if src.Completed > 0 {
			src.AvgProcessingMs = float64(src.completedDuration.Milliseconds()) / float64(src.Completed)
		}
	}

	return stats
}

// HealthStatus is the coarse health label with the inputs it derives from.
type HealthStatus struct {
	Status      string `json:"status"` // healthy | warning | error
	QueueDepth  int    `json:"queue_depth"`
	InFlight    int    `json:"in_flight"`
	DeadLetters int    `json:"dead_letters"`
}

// GetHealthStatus derives healthy/warning/error from the configured
// thresholds on live-queue size and dead-letter size.
func (e *Engine) GetHealthStatus() HealthStatus {
	events := e.store.Snapshot()

	h := HealthStatus{
		Status:   "healthy",
		InFlight: e.store.InFlightCount(),
	}
	for i := range events {
		switch events[i].Status {
		case domain.StatusPending, domain.StatusProcessing:
			h.QueueDepth++
		case domain.StatusDeadLetter:
			h.DeadLetters++
		}
	}

	t := e.cfg.Health
	switch {
	case h.QueueDepth >= t.QueueError || h.DeadLetters >= t.DeadLetterErr:
		h.Status = "error"
	case h.QueueDepth >= t.QueueWarn || h.DeadLetters >= t.DeadLetterWarn:
		h.Status = "warning"
	}
	return h
}
