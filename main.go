// Package main provides a microphone failover daemon that watches the
// active capture device for silence and switches the OS default input to
// the best available fallback.
//
// Usage:
//
//	micguard [-config path/to/config.json] [-lock "device query"]
//
// If -config is not specified, micguard looks for config.json in the same
// directory as the binary.
package main

import (
	"cmp"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/micguard/micguard/internal/audio"
	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/eventlog"
	"github.com/micguard/micguard/internal/failover"
	"github.com/micguard/micguard/internal/incident"
	"github.com/micguard/micguard/internal/lockstate"
	"github.com/micguard/micguard/internal/notify"
	"github.com/micguard/micguard/internal/types"
	"github.com/micguard/micguard/internal/util"
)

// Build metadata, injected via -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = ""
)

// deviceWatchInterval is how often the device directory is polled for
// attach/detach and external default-input changes.
const deviceWatchInterval = 2 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	lockQuery := flag.String("lock", "", "Lock to a single device query and disable failover")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if *lockQuery != "" {
		if err := cfg.SetLock(*lockQuery); err != nil {
			slog.Error("failed to apply lock query", "error", err)
			os.Exit(1)
		}
		slog.Info("device lock requested", "query", *lockQuery)
	}

	snap := cfg.Snapshot()

	actx, err := audio.NewContext()
	if err != nil {
		slog.Error("failed to initialize audio backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := actx.Close(); err != nil {
			slog.Error("audio backend close error", "error", err)
		}
	}()

	dir := audio.NewDirectory(actx)
	sampler := audio.NewSampler(actx)
	meter := audio.NewMeter()

	journalPath := cmp.Or(snap.EventLogPath, eventlog.DefaultLogPath(snap.WebPort))
	journal, err := eventlog.NewLogger(journalPath)
	if err != nil {
		slog.Error("failed to open event journal", "path", journalPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			slog.Error("event journal close error", "error", err)
		}
	}()

	notifier := notify.NewDegradationNotifier(cfg)

	incidents := incident.NewManager(cfg,
		func(result *incident.DumpResult, device, s3Key string) {
			logIncidentDump(journal, cfg, result, device, s3Key)
		},
		func(deleted int) {
			if err := journal.LogIncident(eventlog.CleanupCompleted, &eventlog.IncidentDetails{FilesDeleted: deleted}); err != nil {
				slog.Warn("failed to journal cleanup", "error", err)
			}
		})

	lockStore := lockstate.NewStore(lockstate.DefaultPath(*configPath))
	lockRec := lockstate.NewRecorder(lockStore, snap.LockQuery != "")

	listeners := failover.Listeners{
		eventlog.NewJournal(journal),
		notifier,
		incidents,
		lockRec,
	}

	ctrl := failover.New(cfg, dir, samplerAdapter{sampler}, listeners)

	// Every opened capture tap feeds both the VU meter and the incident ring.
	incidentFeed := incidents.Feed()
	sampler.SetSink(func(pcm []byte) {
		meter.Feed(pcm)
		incidentFeed(pcm)
	})

	if err := ctrl.Start(); err != nil {
		slog.Error("failed to start failover controller", "error", err)
		os.Exit(1)
	}
	incidents.Start()

	watcher := audio.NewWatcher(dir, deviceWatchInterval)
	watcher.OnDeviceListChanged = ctrl.NotifyDeviceListChanged
	watcher.OnDefaultChanged = ctrl.NotifyDefaultDeviceChanged
	watcher.Start()

	if err := journal.Log(&eventlog.Event{Type: eventlog.DaemonStarted, Message: "micguard " + Version}); err != nil {
		slog.Warn("failed to journal startup", "error", err)
	}

	srv := NewServer(cfg, ctrl, dir, meter, incidents, notifier, journal)
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	srv.version.Stop()
	watcher.Stop()
	ctrl.Stop()
	incidents.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := lockStore.Clear(); err != nil {
		slog.Error("failed to clear lock state", "error", err)
	}

	if err := journal.Log(&eventlog.Event{Type: eventlog.DaemonStopped}); err != nil {
		slog.Warn("failed to journal shutdown", "error", err)
	}

	slog.Info("shutdown complete")
}

// logIncidentDump journals a finished dump and mails it out when email
// notifications are configured.
func logIncidentDump(journal *eventlog.Logger, cfg *config.Config, result *incident.DumpResult, device, s3Key string) {
	if result.Error != nil {
		if err := journal.LogIncident(eventlog.IncidentSaved, &eventlog.IncidentDetails{Error: result.Error.Error()}); err != nil {
			slog.Warn("failed to journal incident", "error", err)
		}
		return
	}

	details := &eventlog.IncidentDetails{
		Filename:  result.Filename,
		SizeBytes: result.FileSize,
	}
	if err := journal.LogIncident(eventlog.IncidentSaved, details); err != nil {
		slog.Warn("failed to journal incident", "error", err)
	}
	if s3Key != "" {
		details.S3Key = s3Key
		if err := journal.LogIncident(eventlog.IncidentUploaded, details); err != nil {
			slog.Warn("failed to journal incident upload", "error", err)
		}
	}

	snap := cfg.Snapshot()
	if !snap.HasGraph() {
		return
	}
	data, err := os.ReadFile(result.FilePath)
	if err != nil {
		slog.Warn("failed to read incident dump for email", "file", result.FilePath, "error", err)
		return
	}
	if err := notify.SendIncidentEmail(notify.BuildGraphConfig(snap), device, result.Filename, data); err != nil {
		slog.Warn("failed to email incident dump", "error", err)
	}
}

// samplerAdapter narrows *audio.Sampler to the failover.Sampler contract.
type samplerAdapter struct {
	s *audio.Sampler
}

func (a samplerAdapter) Open(dev audio.Device, onBuffer func(rms float64)) (failover.CaptureStream, error) {
	return a.s.Open(dev, onBuffer)
}

func (a samplerAdapter) Probe(ctx context.Context, dev audio.Device, duration time.Duration, threshold float64) (bool, error) {
	return a.s.Probe(ctx, dev, duration, threshold)
}
