package eventlog

import (
	"path/filepath"
	"testing"
)

func tempLogger(t *testing.T) *Logger {
	t.Helper()
	log, err := NewLogger(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestLogAndReadBack(t *testing.T) {
	log := tempLogger(t)

	if err := log.LogSilence(SilenceTimeout, "USB Mic", 5.0, 5.0); err != nil {
		t.Fatalf("LogSilence: %v", err)
	}
	if err := log.LogSwitch("USB Mic", "Line In", "candidate_probe"); err != nil {
		t.Fatalf("LogSwitch: %v", err)
	}
	if err := log.LogFailover(FallbackCommitted, &FailoverDetails{Device: "Line In", Query: "line"}); err != nil {
		t.Fatalf("LogFailover: %v", err)
	}

	events, hasMore, err := ReadLast(log.Path(), 10, 0, FilterAll)
	if err != nil {
		t.Fatalf("ReadLast: %v", err)
	}
	if hasMore {
		t.Fatal("hasMore = true with only 3 events")
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Newest first.
	if events[0].Type != FallbackCommitted {
		t.Fatalf("events[0].Type = %q, want %q", events[0].Type, FallbackCommitted)
	}
	if events[2].Type != SilenceTimeout {
		t.Fatalf("events[2].Type = %q, want %q", events[2].Type, SilenceTimeout)
	}
	for _, e := range events {
		if e.Timestamp.IsZero() {
			t.Fatal("timestamp not stamped on write")
		}
	}
}

func TestReadLastFiltersAndPaginates(t *testing.T) {
	log := tempLogger(t)

	for range 5 {
		if err := log.LogSwitch("a", "b", "upgrade"); err != nil {
			t.Fatalf("LogSwitch: %v", err)
		}
	}
	if err := log.LogSilence(SignalRestored, "USB Mic", 3.0, 5.0); err != nil {
		t.Fatalf("LogSilence: %v", err)
	}

	devices, hasMore, err := ReadLast(log.Path(), 2, 0, FilterDevice)
	if err != nil {
		t.Fatalf("ReadLast: %v", err)
	}
	if len(devices) != 2 || !hasMore {
		t.Fatalf("got %d events hasMore=%v, want 2 with more available", len(devices), hasMore)
	}
	for _, e := range devices {
		if e.Type != DeviceSwitched {
			t.Fatalf("filter let through %q", e.Type)
		}
	}

	rest, hasMore, err := ReadLast(log.Path(), 10, 2, FilterDevice)
	if err != nil {
		t.Fatalf("ReadLast offset: %v", err)
	}
	if len(rest) != 3 || hasMore {
		t.Fatalf("got %d events hasMore=%v after offset 2, want 3 and no more", len(rest), hasMore)
	}
}

func TestReadLastMissingFile(t *testing.T) {
	events, hasMore, err := ReadLast(filepath.Join(t.TempDir(), "absent.jsonl"), 10, 0, FilterAll)
	if err != nil {
		t.Fatalf("ReadLast: %v", err)
	}
	if len(events) != 0 || hasMore {
		t.Fatal("missing journal must read as empty")
	}
}
