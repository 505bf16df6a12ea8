package failover

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micguard/micguard/internal/audio"
)

// WindowOutcome is the result of one duty-cycled sampling window.
type WindowOutcome struct {
	// HadSignal reports whether any buffer in the window exceeded the
	// silence threshold. Within a window this is monotonic: once true it
	// stays true until window end.
	HadSignal bool
	// Duration is the seconds of sampling the window represents.
	Duration float64
}

// WindowConfig is the duty-cycle timing for one monitoring run.
type WindowConfig struct {
	// Interval is the period between window starts.
	Interval time.Duration
	// Duration is how long each window samples. Never exceeds Interval.
	Duration time.Duration
	// Threshold is the linear RMS level above which a buffer counts as signal.
	Threshold float64
}

// Scheduler drives duty-cycled observation of one device: it samples for
// Duration immediately, then once per Interval, and reports each window's
// outcome. It holds no opinion about what outcomes mean; that is the
// controller's job.
type Scheduler struct {
	sampler Sampler

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewScheduler returns a stopped scheduler using the given sampler.
func NewScheduler(sampler Sampler) *Scheduler {
	return &Scheduler{sampler: sampler}
}

// Start begins a window cycle on dev, replacing any cycle in progress.
// report is called once per completed window, never for an aborted one.
func (s *Scheduler) Start(dev audio.Device, cfg WindowConfig, report func(WindowOutcome)) {
	s.Stop()

	s.mu.Lock()
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	go s.run(dev, cfg, report, stopCh)
}

// Stop cancels the current cycle and releases the capture tap. Idempotent
// and safe to call when no cycle is active.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// Running reports whether a window cycle is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(dev audio.Device, cfg WindowConfig, report func(WindowOutcome), stopCh <-chan struct{}) {
	// First window fires immediately.
	if !s.window(dev, cfg, report, stopCh) {
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.window(dev, cfg, report, stopCh) {
				return
			}
		}
	}
}

// window samples one duty-cycle window. It returns false when the cycle was
// stopped mid-window; an aborted window reports nothing, so a stale outcome
// can never fire against a device that is no longer being monitored.
func (s *Scheduler) window(dev audio.Device, cfg WindowConfig, report func(WindowOutcome), stopCh <-chan struct{}) bool {
	var hadSignal atomic.Bool

	stream, err := s.sampler.Open(dev, func(rms float64) {
		if rms > cfg.Threshold {
			hadSignal.Store(true)
		}
	})
	if err != nil {
		// Hardware transient (device mid-reconfiguration, format refused):
		// skip this window and retry on the next scheduled one.
		slog.Warn("capture tap failed to start, retrying next window",
			"device", dev.Name, "error", err)
		return true
	}

	select {
	case <-time.After(cfg.Duration):
	case <-stopCh:
		_ = stream.Close()
		return false
	}
	_ = stream.Close()

	report(WindowOutcome{HadSignal: hadSignal.Load(), Duration: cfg.Duration.Seconds()})
	return true
}
