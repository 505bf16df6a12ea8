package incident

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/micguard/micguard/internal/audio"
	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/failover"
)

// outputDirName is the default dump directory inside the system temp dir.
const outputDirName = "micguard-incidents"

// DumpCallback receives every finished dump attempt, including failed ones.
type DumpCallback func(result *DumpResult, device, s3Key string)

// CleanupCallback receives the number of files removed by a cleanup run.
type CleanupCallback func(deleted int)

// Manager listens to the failover event stream and writes an incident dump
// whenever the silence timeout fires. One dump per degradation period.
type Manager struct {
	failover.NopListener
	cfg  *config.Config
	ring *Ring

	mu       sync.Mutex
	dumping  bool
	degraded bool

	onDump    DumpCallback
	onCleanup CleanupCallback

	cleanupStopCh chan struct{}
	stopOnce      sync.Once
}

// NewManager creates an incident manager. Attach the returned manager's ring
// to the sampler with Feed, register it as a failover listener, then Start.
func NewManager(cfg *config.Config, onDump DumpCallback, onCleanup CleanupCallback) *Manager {
	return &Manager{
		cfg:           cfg,
		ring:          NewRing(DefaultRingSeconds),
		onDump:        onDump,
		onCleanup:     onCleanup,
		cleanupStopCh: make(chan struct{}),
	}
}

// Feed returns the raw PCM sink to install on the sampler.
func (m *Manager) Feed() func(pcm []byte) {
	return m.ring.Write
}

// Start launches the retention cleanup scheduler.
func (m *Manager) Start() {
	m.startCleanupScheduler()
}

// Stop halts the cleanup scheduler. Idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.cleanupStopCh) })
}

// SilenceTimeoutReached dumps the ring contents covering the audio that led
// up to the failover. Further timeouts in the same degradation period are
// ignored; PrimaryRestored re-arms dumping.
func (m *Manager) SilenceTimeoutReached(dev audio.Device, accumulatedSeconds float64) {
	snap := m.cfg.Snapshot()
	if !snap.Incidents.Enabled {
		return
	}

	m.mu.Lock()
	if m.degraded || m.dumping {
		m.mu.Unlock()
		return
	}
	m.degraded = true
	m.dumping = true
	m.mu.Unlock()

	pcm := m.ring.Snapshot()
	dir := m.outputDir()
	start := time.Now()

	go func() {
		defer func() {
			m.mu.Lock()
			m.dumping = false
			m.mu.Unlock()
		}()

		result := writeWAV(dir, pcm, start)
		if result.Error != nil {
			slog.Error("incident dump failed", "error", result.Error)
			if m.onDump != nil {
				m.onDump(result, dev.Name, "")
			}
			return
		}

		slog.Info("incident dump written",
			"file", result.Filename,
			"size", result.FileSize,
			"device", dev.Name)

		var s3Key string
		if s3cfg := m.s3Config(); s3cfg.IsConfigured() {
			key, err := uploadDump(s3cfg, result.FilePath, result.Filename)
			if err != nil {
				slog.Error("incident upload failed", "file", result.Filename, "error", err)
			} else {
				s3Key = key
				slog.Info("incident dump uploaded", "key", key)
			}
		}

		if m.onDump != nil {
			m.onDump(result, dev.Name, s3Key)
		}
	}()
}

// PrimaryRestored closes the degradation period so the next timeout dumps
// again.
func (m *Manager) PrimaryRestored(primary audio.Device) {
	m.mu.Lock()
	m.degraded = false
	m.mu.Unlock()
}

// List returns the dump filenames currently on disk, newest first.
func (m *Manager) List() ([]string, error) {
	dir := m.outputDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read dump directory: %w", err)
	}

	var names []string
	for i := len(entries) - 1; i >= 0; i-- {
		if entry := entries[i]; !entry.IsDir() && filepath.Ext(entry.Name()) == ".wav" {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// outputDir resolves the configured dump directory, defaulting to a
// per-daemon directory under the system temp dir.
func (m *Manager) outputDir() string {
	snap := m.cfg.Snapshot()
	if snap.Incidents.Directory != "" {
		return snap.Incidents.Directory
	}
	return filepath.Join(os.TempDir(), outputDirName)
}

// s3Config builds the upload target from the current configuration.
func (m *Manager) s3Config() *S3Config {
	snap := m.cfg.Snapshot()
	return &S3Config{
		Endpoint:        snap.Incidents.S3Endpoint,
		Bucket:          snap.Incidents.S3Bucket,
		AccessKeyID:     snap.Incidents.S3AccessKeyID,
		SecretAccessKey: snap.Incidents.S3SecretAccessKey,
	}
}
