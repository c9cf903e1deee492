package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	if got := KindOf(E(KindValidation, "bad payload")); got != KindValidation {
		t.Errorf("KindOf = %v, want validation", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain error) = %v, want internal", got)
	}

	// Kinds survive wrapping.
	wrapped := fmt.Errorf("outer: %w", E(KindNotFound, "event missing"))
	if !IsKind(wrapped, KindNotFound) {
		t.Error("kind lost through fmt.Errorf wrapping")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindInternal, cause, "journal insert")

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if msg := err.Error(); msg != "internal: journal insert: connection refused" {
		t.Errorf("Error() = %q", msg)
	}
}

func TestErrorMessageFormat(t *testing.T) {
	err := E(KindValidation, "unknown source %q", "github")
	if got := err.Error(); got != `validation: unknown source "github"` {
		t.Errorf("Error() = %q", got)
	}
}
