package utils

import (
	"errors"
	"fmt"
	"testing"
)

var errSentinel = errors.New("sentinel")

func TestAppErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewAppError("engine.Estimate", "max iterations must be positive", errSentinel))
	if !errors.Is(err, errSentinel) {
		t.Fatalf("expected sentinel in chain")
	}
	if got := Message(err); got != "max iterations must be positive" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := err.Error(); got != "outer: engine.Estimate: max iterations must be positive: sentinel" {
		t.Fatalf("unexpected error string %q", got)
	}
}

func TestMessageWithoutAppError(t *testing.T) {
	if got := Message(errSentinel); got != "sentinel" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Message(nil); got != "" {
		t.Fatalf("expected empty message, got %q", got)
	}
}
