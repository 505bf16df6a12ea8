package server

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/micguard/micguard/internal/audio"
	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/eventlog"
	"github.com/micguard/micguard/internal/failover"
	"github.com/micguard/micguard/internal/notify"
)

// stubDirectory satisfies both failover.Directory and DeviceLister with a
// fixed device set.
type stubDirectory struct {
	devices []audio.Device
}

func (d stubDirectory) Devices() ([]audio.Device, error) { return d.devices, nil }
func (d stubDirectory) IsAlive(dev audio.Device) bool    { return true }
func (d stubDirectory) Default() (audio.Device, bool)    { return audio.Device{}, false }
func (d stubDirectory) SetDefault(dev audio.Device) error {
	return nil
}
func (d stubDirectory) Refresh(dev audio.Device) (audio.Device, error) { return dev, nil }

type stubSampler struct{}

func (stubSampler) Open(dev audio.Device, onBuffer func(rms float64)) (failover.CaptureStream, error) {
	return nil, nil
}
func (stubSampler) Probe(ctx context.Context, dev audio.Device, duration time.Duration, threshold float64) (bool, error) {
	return true, nil
}

func newTestHandler(t *testing.T, devices ...audio.Device) (*CommandHandler, *config.Config) {
	t.Helper()

	dirPath := t.TempDir()
	cfg := config.New(filepath.Join(dirPath, "config.json"))
	if err := cfg.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}

	journal, err := eventlog.NewLogger(filepath.Join(dirPath, "events.jsonl"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	dir := stubDirectory{devices: devices}
	ctrl := failover.New(cfg, dir, stubSampler{}, nil)
	notifier := notify.NewDegradationNotifier(cfg)
	expiry := notify.NewSecretExpiryChecker(notify.BuildGraphConfig(cfg.Snapshot()))

	return NewCommandHandler(cfg, ctrl, dir, notifier, expiry, journal), cfg
}

// dispatch runs a command and returns the first queued response.
func dispatch(t *testing.T, h *CommandHandler, cmdType, data string) map[string]any {
	t.Helper()

	cmd := WSCommand{Type: cmdType}
	if data != "" {
		cmd.Data = json.RawMessage(data)
	}

	send := make(chan any, 16)
	statusUpdates := 0
	h.Handle(cmd, send, func() { statusUpdates++ })
	if statusUpdates != 1 {
		t.Fatalf("expected exactly one status update trigger, got %d", statusUpdates)
	}

	select {
	case msg := <-send:
		raw, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal response: %v", err)
		}
		var out map[string]any
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		return out
	default:
		return nil
	}
}

func TestSettingsUpdatePersistsAndSucceeds(t *testing.T) {
	h, cfg := newTestHandler(t)

	resp := dispatch(t, h, "settings/update", `{"silence_timeout_seconds": 8.5, "enabled": false}`)
	if resp == nil || resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}

	snap := cfg.Snapshot()
	if snap.SilenceTimeoutSeconds != 8.5 {
		t.Errorf("timeout not persisted: got %v", snap.SilenceTimeoutSeconds)
	}
	if snap.DetectionEnabled {
		t.Error("detection still enabled after update")
	}
}

func TestSettingsUpdateRejectsOutOfRangeThreshold(t *testing.T) {
	h, cfg := newTestHandler(t)

	resp := dispatch(t, h, "settings/update", `{"silence_threshold_rms": 2.0}`)
	if resp == nil || resp["success"] != false {
		t.Fatalf("expected validation failure, got %v", resp)
	}

	if cfg.Snapshot().SilenceThresholdRMS == 2.0 {
		t.Error("invalid threshold was persisted")
	}
}

func TestSettingsUpdateRejectsMalformedJSON(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := dispatch(t, h, "settings/update", `{"silence_timeout_seconds": `)
	if resp == nil || resp["success"] != false {
		t.Fatalf("expected failure, got %v", resp)
	}
}

func TestPrioritySetReplacesList(t *testing.T) {
	h, cfg := newTestHandler(t)

	resp := dispatch(t, h, "priority/set", `{"priority": ["usb", "line", "webcam"]}`)
	if resp == nil || resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}

	snap := cfg.Snapshot()
	if len(snap.Priority) != 3 || snap.Priority[0] != "usb" {
		t.Errorf("priority not persisted: %v", snap.Priority)
	}
}

func TestPrioritySetRejectsEmptyEntry(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := dispatch(t, h, "priority/set", `{"priority": ["usb", ""]}`)
	if resp == nil || resp["success"] != false {
		t.Fatalf("expected validation failure, got %v", resp)
	}
}

func TestAliasesSetReplacesMap(t *testing.T) {
	h, cfg := newTestHandler(t)

	resp := dispatch(t, h, "aliases/set", `{"aliases": {"usb": "USB Audio Device"}}`)
	if resp == nil || resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}

	if cfg.Snapshot().Aliases["usb"] != "USB Audio Device" {
		t.Errorf("alias not persisted: %v", cfg.Snapshot().Aliases)
	}
}

func TestLockSetRequiresUniqueMatch(t *testing.T) {
	usb := audio.Device{ID: "1", Name: "USB Microphone"}
	usb2 := audio.Device{ID: "2", Name: "USB Microphone (rear)"}
	h, cfg := newTestHandler(t, usb, usb2)

	resp := dispatch(t, h, "lock/set", `{"query": "usb"}`)
	if resp == nil || resp["success"] != false {
		t.Fatalf("expected ambiguity rejection, got %v", resp)
	}
	if cfg.Snapshot().LockQuery != "" {
		t.Error("ambiguous lock was persisted")
	}

	resp = dispatch(t, h, "lock/set", `{"query": "rear"}`)
	if resp == nil || resp["success"] != true {
		t.Fatalf("expected success for unique match, got %v", resp)
	}
	if cfg.Snapshot().LockQuery != "rear" {
		t.Errorf("lock not persisted: %q", cfg.Snapshot().LockQuery)
	}
}

func TestLockSetClearReturnsToPriorityMode(t *testing.T) {
	usb := audio.Device{ID: "1", Name: "USB Microphone"}
	h, cfg := newTestHandler(t, usb)

	if resp := dispatch(t, h, "lock/set", `{"query": "usb"}`); resp["success"] != true {
		t.Fatalf("lock set failed: %v", resp)
	}
	if resp := dispatch(t, h, "lock/set", `{"query": ""}`); resp["success"] != true {
		t.Fatalf("lock clear failed: %v", resp)
	}
	if cfg.Snapshot().LockQuery != "" {
		t.Errorf("lock not cleared: %q", cfg.Snapshot().LockQuery)
	}
}

func TestDevicesListReturnsDirectoryContents(t *testing.T) {
	usb := audio.Device{ID: "1", Name: "USB Microphone"}
	line := audio.Device{ID: "2", Name: "Line In"}
	h, _ := newTestHandler(t, usb, line)

	resp := dispatch(t, h, "devices/list", "")
	if resp == nil || resp["type"] != "devices" {
		t.Fatalf("unexpected response: %v", resp)
	}
	devices, ok := resp["devices"].([]any)
	if !ok || len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %v", resp["devices"])
	}
}

func TestEventsRecentReadsJournal(t *testing.T) {
	h, _ := newTestHandler(t)

	for range 3 {
		if err := h.journal.LogSwitch("a", "b", "resolve"); err != nil {
			t.Fatalf("journal write: %v", err)
		}
	}

	resp := dispatch(t, h, "events/recent", `{"limit": 2}`)
	if resp == nil || resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}
	events, ok := resp["events"].([]any)
	if !ok || len(events) != 2 {
		t.Fatalf("expected 2 events, got %v", resp["events"])
	}
	if resp["has_more"] != true {
		t.Error("expected has_more for remaining entry")
	}
}

func TestIncidentsUpdatePersists(t *testing.T) {
	h, cfg := newTestHandler(t)

	resp := dispatch(t, h, "incidents/update", `{"enabled": true, "retention_days": 14}`)
	if resp == nil || resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}

	snap := cfg.Snapshot()
	if !snap.Incidents.Enabled || snap.Incidents.RetentionDays != 14 {
		t.Errorf("incident settings not persisted: %+v", snap.Incidents)
	}
}

func TestWebhookUpdateRejectsBadURL(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := dispatch(t, h, "notifications/webhook/update", `{"url": "not a url"}`)
	if resp == nil || resp["success"] != false {
		t.Fatalf("expected validation failure, got %v", resp)
	}
}

func TestUnknownCommandProducesNoResponse(t *testing.T) {
	h, _ := newTestHandler(t)

	if resp := dispatch(t, h, "bogus/command", ""); resp != nil {
		t.Errorf("unexpected response for unknown command: %v", resp)
	}
}
