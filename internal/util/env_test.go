package util

import (
	"log/slog"
	"testing"
	"time"
)

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("TRACKER_TEST_ADDR", "")
	if got := EnvOrDefault("TRACKER_TEST_ADDR", ":8080"); got != ":8080" {
		t.Fatalf("got %q", got)
	}
	t.Setenv("TRACKER_TEST_ADDR", ":9090")
	if got := EnvOrDefault("TRACKER_TEST_ADDR", ":8080"); got != ":9090" {
		t.Fatalf("got %q", got)
	}
}

func TestDurationOrDefault(t *testing.T) {
	cases := map[string]time.Duration{
		"":      5 * time.Second,
		"250ms": 250 * time.Millisecond,
		"2m":    2 * time.Minute,
		"soon":  5 * time.Second,
		"-1s":   5 * time.Second,
	}
	for value, want := range cases {
		t.Setenv("TRACKER_TEST_TIMEOUT", value)
		if got := DurationOrDefault("TRACKER_TEST_TIMEOUT", 5*time.Second); got != want {
			t.Errorf("DurationOrDefault(%q) = %s, want %s", value, got, want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" http://a.test, ,http://b.test ")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Fatalf("got %q", got)
	}
	if SplitList("") != nil {
		t.Fatalf("empty value must yield no entries")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for value, want := range cases {
		if got := ParseLevel(value); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", value, got, want)
		}
	}
}
