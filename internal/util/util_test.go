package util

import (
	"errors"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("step %d: expected %v, got %v", i, w, got)
		}
	}
}

func TestBackoffInitialAboveMax(t *testing.T) {
	b := NewBackoff(10*time.Second, 3*time.Second)
	if got := b.Next(); got != 3*time.Second {
		t.Errorf("expected initial delay capped at 3s, got %v", got)
	}
}

func TestExtractDateFromFilename(t *testing.T) {
	got, ok := ExtractDateFromFilename("events-2026-05-04T030201Z.jsonl")
	if !ok || !got.Equal(time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected date %v %v", got, ok)
	}
	for _, name := range []string{"events.jsonl", "events-2026-13-40.jsonl"} {
		if _, ok := ExtractDateFromFilename(name); ok {
			t.Errorf("%s: expected no date", name)
		}
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path string
		ok   bool
	}{
		{"events.jsonl", true},
		{"/var/log/levelmon/events.jsonl", true},
		{"", false},
		{"../events.jsonl", false},
		{"logs/../../events.jsonl", false},
	}
	for _, tt := range tests {
		if err := ValidatePath("event_log.path", tt.path); (err == nil) != tt.ok {
			t.Errorf("ValidatePath(%q) = %v, want ok=%v", tt.path, err, tt.ok)
		}
	}
}

func TestWrapError(t *testing.T) {
	if WrapError("read config", nil) != nil {
		t.Error("expected nil for nil error")
	}
	base := errors.New("permission denied")
	err := WrapError("read config", base)
	if !errors.Is(err, base) || err.Error() != "failed to read config: permission denied" {
		t.Errorf("unexpected wrapped error %v", err)
	}
}

func TestFormatHumanTime(t *testing.T) {
	if got := FormatHumanTime(""); got != "unknown" {
		t.Errorf("expected unknown, got %q", got)
	}
	if got := FormatHumanTime("yesterday"); got != "yesterday" {
		t.Errorf("expected unparsable input returned as is, got %q", got)
	}
	ts := "2026-05-04T03:02:01Z"
	want := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC).Local().Format(humanTimeFormat)
	if got := FormatHumanTime(ts); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
