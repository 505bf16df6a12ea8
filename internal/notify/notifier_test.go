package notify

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/types"
)

func TestTrySendDeduplicates(t *testing.T) {
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	n := NewDegradationNotifier(cfg)

	fired := make(chan struct{}, 3)
	for range 3 {
		n.trySend(&n.webhookSent, true, func() { fired <- struct{}{} })
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("first sender never fired")
	}
	select {
	case <-fired:
		t.Fatal("sender fired more than once in one period")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTrySendRespectsCondition(t *testing.T) {
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	n := NewDegradationNotifier(cfg)

	n.trySend(&n.logSent, false, func() { t.Error("sender fired with false condition") })
	if n.logSent {
		t.Fatal("flag must stay clear when the condition is false")
	}
}

func TestDegradationLogRoundTrip(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "degradations.jsonl")

	if err := LogDegradationStart(logPath, "USB Mic", 5.2, 1e-5); err != nil {
		t.Fatalf("LogDegradationStart: %v", err)
	}
	if err := LogDegradationEnd(logPath, "USB Mic", 93000); err != nil {
		t.Fatalf("LogDegradationEnd: %v", err)
	}

	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var entries []types.DegradationLogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e types.DegradationLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		entries = append(entries, e)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Event != "degradation_start" || entries[0].SilentSeconds != 5.2 {
		t.Fatalf("unexpected start entry: %+v", entries[0])
	}
	if entries[1].Event != "degradation_end" || entries[1].DurationMs != 93000 {
		t.Fatalf("unexpected end entry: %+v", entries[1])
	}
}

func TestLogSkipsWhenUnconfigured(t *testing.T) {
	if err := LogDegradationStart("", "USB Mic", 5.0, 1e-5); err != nil {
		t.Fatalf("unconfigured log path must be a silent no-op, got %v", err)
	}
}

func TestSendDegradationWebhook(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := SendDegradationWebhook(srv.URL, "USB Mic", 5.0, 1e-5); err != nil {
		t.Fatalf("SendDegradationWebhook: %v", err)
	}
	if got.Event != "microphone_silent" || got.Device != "USB Mic" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.Timestamp == "" {
		t.Fatal("payload missing timestamp")
	}
}

func TestSendWebhookRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := SendRecoveryWebhook(srv.URL, "USB Mic", 1000); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestParseRecipients(t *testing.T) {
	got := ParseRecipients(" a@example.com, ,b@example.com ,")
	want := []string{"a@example.com", "b@example.com"}
	if !slices.Equal(got, want) {
		t.Fatalf("ParseRecipients = %v, want %v", got, want)
	}
}
