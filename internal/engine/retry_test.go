package engine

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	base := 30 * time.Second
	maxDelay := time.Hour

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{0, 30 * time.Second}, // clamps to the first retry
	}
	for _, tt := range tests {
		if got := backoffDelay(base, tt.retryCount, maxDelay); got != tt.want {
			t.Errorf("backoffDelay(retry %d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestBackoffDelay_Cap(t *testing.T) {
	base := 30 * time.Second

	if got := backoffDelay(base, 10, time.Hour); got != time.Hour {
		t.Errorf("capped delay = %v, want 1h", got)
	}
	// Deep retry counts must not overflow past the cap.
	if got := backoffDelay(base, 200, time.Hour); got != time.Hour {
		t.Errorf("deep retry delay = %v, want 1h", got)
	}
	// A zero cap means uncapped.
	if got := backoffDelay(base, 4, 0); got != 240*time.Second {
		t.Errorf("uncapped delay = %v, want 240s", got)
	}
}
