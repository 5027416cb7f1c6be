package logging

import "testing"

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus", ""} {
		if logger := New(level); logger == nil || logger.Logger == nil {
			t.Fatalf("New(%q) returned nil logger", level)
		}
	}
}

func TestWithComponent(t *testing.T) {
	logger := Default().WithComponent("webhook")
	if logger == nil || logger.Logger == nil {
		t.Fatal("WithComponent returned nil logger")
	}
}
