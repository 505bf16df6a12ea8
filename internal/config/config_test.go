package config

import (
	"os"
	"path/filepath"
	"testing"
)

func tempConfig(t *testing.T, content string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write temp config: %v", err)
		}
	}
	return New(path)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	cfg := tempConfig(t, "")
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if _, err := os.Stat(cfg.FilePath()); err != nil {
		t.Errorf("expected config file to be created: %v", err)
	}

	snap := cfg.Snapshot()
	if snap.SilenceThresholdRMS != DefaultSilenceThresholdRMS {
		t.Errorf("threshold = %v, want default %v", snap.SilenceThresholdRMS, DefaultSilenceThresholdRMS)
	}
	if snap.SilenceTimeoutSeconds != DefaultSilenceTimeoutSeconds {
		t.Errorf("timeout = %v, want default %v", snap.SilenceTimeoutSeconds, DefaultSilenceTimeoutSeconds)
	}
	if !snap.DetectionEnabled {
		t.Error("detection should be enabled by default")
	}
}

func TestLoadCorruptFileFallsBackToDefaults(t *testing.T) {
	cfg := tempConfig(t, "{not json")
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() on corrupt file should not fail, got %v", err)
	}
	snap := cfg.Snapshot()
	if snap.WebPort != DefaultWebPort {
		t.Errorf("port = %d, want default %d", snap.WebPort, DefaultWebPort)
	}
}

func TestLoadClampsDetectionValues(t *testing.T) {
	cfg := tempConfig(t, `{
		"detection": {
			"silence_timeout_seconds": 0.2,
			"sample_interval_seconds": 4,
			"sample_duration_seconds": 9
		}
	}`)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	snap := cfg.Snapshot()
	if snap.SilenceTimeoutSeconds != MinSilenceTimeoutSeconds {
		t.Errorf("timeout = %v, want clamped %v", snap.SilenceTimeoutSeconds, MinSilenceTimeoutSeconds)
	}
	if snap.SampleDurationSeconds > snap.SampleIntervalSeconds {
		t.Errorf("duration %v must not exceed interval %v",
			snap.SampleDurationSeconds, snap.SampleIntervalSeconds)
	}
}

func TestSetDetectionEnforcesDurationInvariant(t *testing.T) {
	cfg := tempConfig(t, "")
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	err := cfg.SetDetection(func(d *DetectionConfig) {
		d.SampleIntervalSeconds = 5
		d.SampleDurationSeconds = 30
	})
	if err != nil {
		t.Fatalf("SetDetection() error: %v", err)
	}

	snap := cfg.Snapshot()
	if snap.SampleDurationSeconds != 5 {
		t.Errorf("duration = %v, want clamped to interval 5", snap.SampleDurationSeconds)
	}
}

func TestSetPriorityRejectsEmptyQueries(t *testing.T) {
	cfg := tempConfig(t, "")
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if err := cfg.SetPriority([]string{"USB Mic", "  "}); err == nil {
		t.Error("expected error for empty priority entry")
	}
	if err := cfg.SetPriority([]string{"USB Mic", "Webcam"}); err != nil {
		t.Errorf("SetPriority() error: %v", err)
	}

	snap := cfg.Snapshot()
	if len(snap.Priority) != 2 || snap.Priority[0] != "USB Mic" {
		t.Errorf("priority = %v, want [USB Mic Webcam]", snap.Priority)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	cfg := tempConfig(t, "")
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.SetAliases(map[string]string{"desk": "USB Audio"}); err != nil {
		t.Fatalf("SetAliases() error: %v", err)
	}
	if err := cfg.SetWebhookURL("https://example.com/hook"); err != nil {
		t.Fatalf("SetWebhookURL() error: %v", err)
	}

	// A fresh Config reading the same file sees the persisted values.
	reloaded := New(cfg.FilePath())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload error: %v", err)
	}
	snap := reloaded.Snapshot()
	if snap.Aliases["desk"] != "USB Audio" {
		t.Errorf("alias not persisted, got %v", snap.Aliases)
	}
	if !snap.HasWebhook() || snap.WebhookURL != "https://example.com/hook" {
		t.Errorf("webhook not persisted, got %q", snap.WebhookURL)
	}
}
