package env

import "testing"

func TestFirstPrefersEarlierKeys(t *testing.T) {
	t.Setenv("LIBRARY_LOG_FORMAT", "console")
	t.Setenv("LOG_FORMAT", "json")
	if got := First("json", "LIBRARY_LOG_FORMAT", "LOG_FORMAT"); got != "console" {
		t.Fatalf("expected LIBRARY_LOG_FORMAT to win, got %q", got)
	}
}

func TestFirstSkipsBlankAndFallsBack(t *testing.T) {
	t.Setenv("LIBRARY_LOG_FORMAT", "   ")
	t.Setenv("LOG_FORMAT", "")
	if got := First("json", "LIBRARY_LOG_FORMAT", "LOG_FORMAT"); got != "json" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
