package failover

import (
	"context"
	"time"

	"github.com/micguard/micguard/internal/audio"
)

// Directory is the device-directory contract consumed by the controller.
// Implementations return fresh snapshots on every call.
type Directory interface {
	Devices() ([]audio.Device, error)
	IsAlive(dev audio.Device) bool
	Default() (audio.Device, bool)
	SetDefault(dev audio.Device) error
	Refresh(dev audio.Device) (audio.Device, error)
}

// CaptureStream is a running capture tap. Close must be idempotent.
type CaptureStream interface {
	Close() error
}

// Sampler is the amplitude-sampling contract consumed by the controller and
// scheduler. onBuffer runs on the capture callback and must only touch its
// own accumulator.
type Sampler interface {
	Open(dev audio.Device, onBuffer func(rms float64)) (CaptureStream, error)
	Probe(ctx context.Context, dev audio.Device, duration time.Duration, threshold float64) (bool, error)
}

// SwitchReason says why the active input device was changed.
type SwitchReason string

const (
	// SwitchResolve is the initial or recovery resolution of the priority list.
	SwitchResolve SwitchReason = "resolve"
	// SwitchProbe routes to a candidate for validation.
	SwitchProbe SwitchReason = "candidate_probe"
	// SwitchRecheck routes back to the primary for its periodic recheck.
	SwitchRecheck SwitchReason = "primary_recheck"
	// SwitchRestoreFallback returns to the committed fallback after a failed recheck.
	SwitchRestoreFallback SwitchReason = "fallback_restore"
	// SwitchUpgrade adopts a better-ranked device that became resolvable.
	SwitchUpgrade SwitchReason = "upgrade"
	// SwitchReassert undoes an external default-input change.
	SwitchReassert SwitchReason = "reassert"
	// SwitchPark returns to the silent primary when no fallback is available.
	SwitchPark SwitchReason = "park"
)

// Listener receives controller events. Implementations are called on the
// controller loop and must not block; hand off to a queue for slow work.
type Listener interface {
	// StateChanged fires on every state transition.
	StateChanged(prev, next State, active audio.Device)
	// SilenceTimeoutReached fires when accumulated silence hits the timeout.
	SilenceTimeoutReached(dev audio.Device, accumulatedSeconds float64)
	// SignalRestored fires when a window has signal after nonzero accumulation.
	SignalRestored(dev audio.Device, silentForSeconds float64)
	// DeviceSwitched fires after every confirmed active-device change.
	DeviceSwitched(from, to audio.Device, reason SwitchReason)
	// CandidateProbed fires after each candidate validation probe.
	CandidateProbed(dev audio.Device, query string, hadSignal bool)
	// FallbackCommitted fires when a validated candidate becomes active.
	FallbackCommitted(dev audio.Device, query string)
	// PrimaryRecheck fires when the periodic primary probe begins.
	PrimaryRecheck(primary audio.Device)
	// PrimaryRestored fires when the preferred device is re-adopted.
	PrimaryRestored(primary audio.Device)
	// FallbackExhausted fires when no candidate resolves and validates.
	FallbackExhausted()
	// DeviceLost fires when the active device stops being enumerable.
	DeviceLost(dev audio.Device)
}

// NopListener is a Listener that ignores everything. Embed it to implement
// only the events you care about.
type NopListener struct{}

func (NopListener) StateChanged(prev, next State, active audio.Device) {}
func (NopListener) SilenceTimeoutReached(dev audio.Device, accumulatedSeconds float64) {}
func (NopListener) SignalRestored(dev audio.Device, silentForSeconds float64) {}
func (NopListener) DeviceSwitched(from, to audio.Device, reason SwitchReason) {}
func (NopListener) CandidateProbed(dev audio.Device, query string, hadSignal bool) {}
func (NopListener) FallbackCommitted(dev audio.Device, query string) {}
func (NopListener) PrimaryRecheck(primary audio.Device) {}
func (NopListener) PrimaryRestored(primary audio.Device) {}
func (NopListener) FallbackExhausted() {}
func (NopListener) DeviceLost(dev audio.Device) {}

// Listeners fans events out to multiple listeners in order.
type Listeners []Listener

func (ls Listeners) StateChanged(prev, next State, active audio.Device) {
	for _, l := range ls {
		l.StateChanged(prev, next, active)
	}
}

func (ls Listeners) SilenceTimeoutReached(dev audio.Device, accumulatedSeconds float64) {
	for _, l := range ls {
		l.SilenceTimeoutReached(dev, accumulatedSeconds)
	}
}

func (ls Listeners) SignalRestored(dev audio.Device, silentForSeconds float64) {
	for _, l := range ls {
		l.SignalRestored(dev, silentForSeconds)
	}
}

func (ls Listeners) DeviceSwitched(from, to audio.Device, reason SwitchReason) {
	for _, l := range ls {
		l.DeviceSwitched(from, to, reason)
	}
}

func (ls Listeners) CandidateProbed(dev audio.Device, query string, hadSignal bool) {
	for _, l := range ls {
		l.CandidateProbed(dev, query, hadSignal)
	}
}

func (ls Listeners) FallbackCommitted(dev audio.Device, query string) {
	for _, l := range ls {
		l.FallbackCommitted(dev, query)
	}
}

func (ls Listeners) PrimaryRecheck(primary audio.Device) {
	for _, l := range ls {
		l.PrimaryRecheck(primary)
	}
}

func (ls Listeners) PrimaryRestored(primary audio.Device) {
	for _, l := range ls {
		l.PrimaryRestored(primary)
	}
}

func (ls Listeners) FallbackExhausted() {
	for _, l := range ls {
		l.FallbackExhausted()
	}
}

func (ls Listeners) DeviceLost(dev audio.Device) {
	for _, l := range ls {
		l.DeviceLost(dev)
	}
}
