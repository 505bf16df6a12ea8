package failover

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/micguard/micguard/internal/audio"
	"github.com/micguard/micguard/internal/config"
)

// fakeDirectory is an in-memory device directory. All mutation happens under
// the mutex so test goroutines and timer goroutines stay coherent.
type fakeDirectory struct {
	mu        sync.Mutex
	devices   []audio.Device
	defaultID string
	failSet   map[string]bool
	switches  []string // device IDs passed to SetDefault, in order
}

func newFakeDirectory(devices ...audio.Device) *fakeDirectory {
	return &fakeDirectory{devices: devices, failSet: map[string]bool{}}
}

func (d *fakeDirectory) Devices() ([]audio.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.devices), nil
}

func (d *fakeDirectory) IsAlive(dev audio.Device) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.ContainsFunc(d.devices, func(x audio.Device) bool { return x.ID == dev.ID })
}

func (d *fakeDirectory) Default() (audio.Device, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dev := range d.devices {
		if dev.ID == d.defaultID {
			return dev, true
		}
	}
	return audio.Device{}, false
}

func (d *fakeDirectory) SetDefault(dev audio.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSet[dev.ID] {
		return errors.New("switch refused")
	}
	d.defaultID = dev.ID
	d.switches = append(d.switches, dev.ID)
	return nil
}

func (d *fakeDirectory) Refresh(dev audio.Device) (audio.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, x := range d.devices {
		if x.ID == dev.ID {
			return x, nil
		}
	}
	return audio.Device{}, audio.ErrDeviceGone
}

func (d *fakeDirectory) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = slices.DeleteFunc(d.devices, func(x audio.Device) bool { return x.ID == id })
}

func (d *fakeDirectory) add(dev audio.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = append(d.devices, dev)
}

func (d *fakeDirectory) switchLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.switches)
}

type fakeStream struct{}

func (fakeStream) Close() error { return nil }

// fakeSampler answers probes from a per-device signal table.
type fakeSampler struct {
	mu       sync.Mutex
	signal   map[string]bool
	probeErr map[string]error
	probed   []string
}

func newFakeSampler() *fakeSampler {
	return &fakeSampler{signal: map[string]bool{}, probeErr: map[string]error{}}
}

func (s *fakeSampler) Open(dev audio.Device, onBuffer func(rms float64)) (CaptureStream, error) {
	return fakeStream{}, nil
}

func (s *fakeSampler) Probe(ctx context.Context, dev audio.Device, duration time.Duration, threshold float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probed = append(s.probed, dev.ID)
	if err := s.probeErr[dev.ID]; err != nil {
		return false, err
	}
	return s.signal[dev.ID], nil
}

// recordingListener captures event names in order.
type recordingListener struct {
	NopListener
	mu     sync.Mutex
	events []string
	// last SignalRestored payload
	restoredAfter float64
}

func (l *recordingListener) record(name string) {
	l.mu.Lock()
	l.events = append(l.events, name)
	l.mu.Unlock()
}

func (l *recordingListener) StateChanged(prev, next State, active audio.Device) {
	l.record("state:" + next.String())
}
func (l *recordingListener) SilenceTimeoutReached(dev audio.Device, accumulated float64) {
	l.record("silence_timeout")
}
func (l *recordingListener) SignalRestored(dev audio.Device, silentFor float64) {
	l.mu.Lock()
	l.restoredAfter = silentFor
	l.mu.Unlock()
	l.record("signal_restored")
}
func (l *recordingListener) DeviceSwitched(from, to audio.Device, reason SwitchReason) {
	l.record("switch:" + string(reason))
}
func (l *recordingListener) CandidateProbed(dev audio.Device, query string, hadSignal bool) {
	l.record("candidate_probed")
}
func (l *recordingListener) FallbackCommitted(dev audio.Device, query string) {
	l.record("fallback_committed")
}
func (l *recordingListener) PrimaryRecheck(primary audio.Device)  { l.record("primary_recheck") }
func (l *recordingListener) PrimaryRestored(primary audio.Device) { l.record("primary_restored") }
func (l *recordingListener) FallbackExhausted()                   { l.record("fallback_exhausted") }
func (l *recordingListener) DeviceLost(dev audio.Device)          { l.record("device_lost") }

func (l *recordingListener) has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.events, name)
}

func (l *recordingListener) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == name {
			n++
		}
	}
	return n
}

var (
	devUSB  = audio.Device{ID: "usb1", Name: "USB Studio Mic"}
	devLine = audio.Device{ID: "line1", Name: "Line In"}
	devWeb  = audio.Device{ID: "web1", Name: "Webcam Microphone"}
)

type harness struct {
	c       *Controller
	dir     *fakeDirectory
	sampler *fakeSampler
	lst     *recordingListener
	cfg     *config.Config
}

// newHarness builds a controller seeded as if startup already adopted the
// first priority entry. Handlers are driven directly; the event loop is not
// started, so every call runs synchronously on the test goroutine.
func newHarness(t *testing.T, devices []audio.Device, priority []string) *harness {
	t.Helper()

	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.SetPriority(priority); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}

	dir := newFakeDirectory(devices...)
	sampler := newFakeSampler()
	lst := &recordingListener{}
	c := New(cfg, dir, sampler, lst)

	h := &harness{c: c, dir: dir, sampler: sampler, lst: lst, cfg: cfg}
	t.Cleanup(c.Stop)
	return h
}

// seedActive puts the controller in Normal state on dev without running the
// scheduler.
func (h *harness) seedActive(dev audio.Device, query string) {
	h.c.active = dev
	h.c.activeQuery = query
	h.c.state = StateNormal
}

// window feeds one synthetic sampling-window outcome into the controller.
func (h *harness) window(hadSignal bool, seconds float64) {
	h.c.handleWindow(WindowOutcome{HadSignal: hadSignal, Duration: seconds})
}

func TestSilenceAccumulatesMonotonically(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")

	h.window(false, 2.0)
	if got := h.c.accumSilence; got != 2.0 {
		t.Fatalf("after one silent window accum = %v, want 2.0", got)
	}
	h.window(false, 2.0)
	if got := h.c.accumSilence; got != 4.0 {
		t.Fatalf("after two silent windows accum = %v, want 4.0", got)
	}
	if h.c.state != StateNormal {
		t.Fatalf("state = %v before timeout, want normal", h.c.state)
	}
}

func TestSignalResetsAccumulationImmediately(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")

	h.window(false, 2.0)
	h.window(false, 2.0)
	h.window(true, 2.0)

	if got := h.c.accumSilence; got != 0 {
		t.Fatalf("accum after signal window = %v, want 0", got)
	}
	if !h.lst.has("signal_restored") {
		t.Fatal("expected signal_restored event")
	}
	if h.lst.restoredAfter != 4.0 {
		t.Fatalf("restored after %v seconds of silence, want 4.0", h.lst.restoredAfter)
	}
	if h.lst.has("silence_timeout") {
		t.Fatal("timeout must not fire when signal returned before the threshold")
	}
}

func TestTimeoutTriggersAtThreshold(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")

	// Default timeout is 5.0s; 2+2 stays under, the third window crosses.
	h.window(false, 2.0)
	h.window(false, 2.0)
	if h.lst.has("silence_timeout") {
		t.Fatal("timeout fired below the configured threshold")
	}
	h.window(false, 2.0)

	if !h.lst.has("silence_timeout") {
		t.Fatal("expected silence_timeout at accumulated >= timeout")
	}
	if h.c.state != StateCheckingCandidate {
		t.Fatalf("state = %v after timeout, want checking_candidate", h.c.state)
	}
	if h.c.candidateDevice.ID != devLine.ID {
		t.Fatalf("candidate = %q, want %q", h.c.candidateDevice.ID, devLine.ID)
	}
	if got := h.dir.switchLog(); len(got) == 0 || got[len(got)-1] != devLine.ID {
		t.Fatalf("switch log = %v, want final switch to %q", got, devLine.ID)
	}
}

func TestCandidateWithSignalCommits(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	h.sampler.signal[devLine.ID] = true

	h.window(false, 6.0)
	h.c.handleProbeResult(h.c.probeSeq, true, nil)

	if h.c.state != StateFallback {
		t.Fatalf("state = %v, want fallback", h.c.state)
	}
	if h.c.active.ID != devLine.ID {
		t.Fatalf("active = %q, want %q", h.c.active.ID, devLine.ID)
	}
	if !h.lst.has("fallback_committed") {
		t.Fatal("expected fallback_committed event")
	}
	if h.c.recheckTask == nil {
		t.Fatal("primary recheck must be armed after commit")
	}
}

func TestSilentCandidateSkippedThenExhausted(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")

	h.window(false, 6.0)
	// Candidate is connected but silent.
	h.c.handleProbeResult(h.c.probeSeq, false, nil)

	if !h.c.skipped["line"] {
		t.Fatal("silent candidate must be recorded in skipped queries")
	}
	if !h.lst.has("fallback_exhausted") {
		t.Fatal("expected fallback_exhausted with no remaining candidates")
	}
	if h.c.state != StateNormal {
		t.Fatalf("state = %v after exhaustion, want normal", h.c.state)
	}
	// Input parked back on the silent primary.
	if got := h.dir.switchLog(); got[len(got)-1] != devUSB.ID {
		t.Fatalf("switch log = %v, want final park on %q", got, devUSB.ID)
	}
	if h.c.retryTask == nil {
		t.Fatal("retry must be scheduled after exhaustion")
	}
}

func TestNoWrapAroundBelowLastEntry(t *testing.T) {
	// The active device resolves from the LAST priority entry; the entry
	// above it must never be treated as its backup.
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devLine, "line")

	h.window(false, 6.0)

	if h.lst.has("candidate_probed") || h.c.state == StateCheckingCandidate {
		t.Fatal("candidate search must not wrap above the primary's position")
	}
	if !h.lst.has("fallback_exhausted") {
		t.Fatal("expected immediate exhaustion with nothing ranked below")
	}
}

func TestAmbiguousEntrySkippedSilently(t *testing.T) {
	twin := audio.Device{ID: "line2", Name: "Line In (rear)"}
	h := newHarness(t, []audio.Device{devUSB, devLine, twin, devWeb},
		[]string{"usb", "line", "webcam"})
	h.seedActive(devUSB, "usb")
	h.sampler.signal[devWeb.ID] = true

	h.window(false, 6.0)

	// "line" matches two devices and is passed over without being marked
	// skipped; "webcam" becomes the candidate.
	if h.c.candidateDevice.ID != devWeb.ID {
		t.Fatalf("candidate = %q, want %q", h.c.candidateDevice.ID, devWeb.ID)
	}
	if h.c.skipped["line"] {
		t.Fatal("ambiguous entries are passed over, not marked skipped")
	}
}

func TestSwitchFailureMarksSkipped(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine, devWeb},
		[]string{"usb", "line", "webcam"})
	h.seedActive(devUSB, "usb")
	h.dir.failSet[devLine.ID] = true
	h.sampler.signal[devWeb.ID] = true

	h.window(false, 6.0)

	if !h.c.skipped["line"] {
		t.Fatal("unswitchable candidate must be marked skipped")
	}
	if h.c.candidateDevice.ID != devWeb.ID {
		t.Fatalf("candidate = %q, want %q", h.c.candidateDevice.ID, devWeb.ID)
	}
}

func TestPrimaryRecheckRestoresPrimary(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	h.window(false, 6.0)
	h.c.handleProbeResult(h.c.probeSeq, true, nil) // commit fallback

	h.c.handleRecheck()
	if h.c.state != StateCheckingCandidate || !h.c.checkingPrimary {
		t.Fatalf("state = %v checkingPrimary = %v, want checking_candidate/true",
			h.c.state, h.c.checkingPrimary)
	}
	if !h.lst.has("primary_recheck") {
		t.Fatal("expected primary_recheck event")
	}

	h.c.handleProbeResult(h.c.probeSeq, true, nil)
	if h.c.state != StateNormal {
		t.Fatalf("state = %v after primary recovery, want normal", h.c.state)
	}
	if h.c.active.ID != devUSB.ID {
		t.Fatalf("active = %q, want primary %q", h.c.active.ID, devUSB.ID)
	}
	if !h.lst.has("primary_restored") {
		t.Fatal("expected primary_restored event")
	}
	if h.c.recheckTask != nil {
		t.Fatal("recheck task must be cleared on return to normal")
	}
}

func TestPrimaryRecheckStillSilentReturnsToFallback(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	h.window(false, 6.0)
	h.c.handleProbeResult(h.c.probeSeq, true, nil)

	h.c.handleRecheck()
	h.c.handleProbeResult(h.c.probeSeq, false, nil)

	if h.c.state != StateFallback {
		t.Fatalf("state = %v, want fallback", h.c.state)
	}
	if h.c.active.ID != devLine.ID {
		t.Fatalf("active = %q, want fallback %q", h.c.active.ID, devLine.ID)
	}
	if !h.lst.has("switch:" + string(SwitchRestoreFallback)) {
		t.Fatal("expected a fallback_restore switch")
	}
	if h.c.recheckTask == nil {
		t.Fatal("recheck must be re-armed after a failed recovery")
	}
}

func TestFallbackGoneDuringRecheckTriggersNewSearch(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine, devWeb},
		[]string{"usb", "line", "webcam"})
	h.seedActive(devUSB, "usb")
	h.sampler.signal[devLine.ID] = true
	h.window(false, 6.0)
	h.c.handleProbeResult(h.c.probeSeq, true, nil)

	h.c.handleRecheck()
	h.dir.remove(devLine.ID)
	h.c.handleProbeResult(h.c.probeSeq, false, nil)

	// The committed fallback vanished, so the search resumes and finds the
	// webcam as the next candidate.
	if h.c.state != StateCheckingCandidate {
		t.Fatalf("state = %v, want checking_candidate", h.c.state)
	}
	if h.c.candidateDevice.ID != devWeb.ID {
		t.Fatalf("candidate = %q, want %q", h.c.candidateDevice.ID, devWeb.ID)
	}
}

func TestStaleProbeResultIgnored(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	h.window(false, 6.0)

	stale := h.c.probeSeq - 1
	h.c.handleProbeResult(stale, true, nil)

	if h.c.state != StateCheckingCandidate {
		t.Fatalf("state = %v, a stale probe result must not advance state", h.c.state)
	}
	if h.lst.has("fallback_committed") {
		t.Fatal("stale probe result must not commit a fallback")
	}
}

func TestProbeErrorCountsAsSilence(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	h.window(false, 6.0)

	h.c.handleProbeResult(h.c.probeSeq, true, errors.New("device busy"))

	if h.lst.has("fallback_committed") {
		t.Fatal("an errored probe must never commit")
	}
	if !h.c.skipped["line"] {
		t.Fatal("errored candidate must be marked skipped")
	}
}

func TestWindowsIgnoredWhileCheckingCandidate(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	h.window(false, 6.0)

	before := h.c.accumSilence
	h.window(false, 2.0)
	if h.c.accumSilence != before {
		t.Fatal("window outcomes must not accumulate during candidate validation")
	}
}

func TestFallbackSilenceDoesNotCascade(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine, devWeb},
		[]string{"usb", "line", "webcam"})
	h.seedActive(devUSB, "usb")
	h.window(false, 6.0)
	h.c.handleProbeResult(h.c.probeSeq, true, nil)

	// Silent windows on a committed fallback never start another failover;
	// recovery is the recheck cycle's job.
	h.window(false, 6.0)
	h.window(false, 6.0)

	if h.c.state != StateFallback {
		t.Fatalf("state = %v, want fallback", h.c.state)
	}
	if got := h.lst.count("silence_timeout"); got != 1 {
		t.Fatalf("silence_timeout fired %d times, want exactly 1", got)
	}
}

func TestDetectionDisabledIgnoresWindows(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	if err := h.cfg.SetDetection(func(d *config.DetectionConfig) {
		off := false
		d.Enabled = &off
	}); err != nil {
		t.Fatalf("SetDetection: %v", err)
	}

	h.window(false, 60.0)

	if h.c.accumSilence != 0 || h.lst.has("silence_timeout") {
		t.Fatal("disabled detection must not accumulate silence")
	}
}

func TestDeviceLostReResolves(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")

	h.dir.remove(devUSB.ID)
	h.c.handleDeviceListChanged()

	if !h.lst.has("device_lost") {
		t.Fatal("expected device_lost event")
	}
	if h.c.active.ID != devLine.ID {
		t.Fatalf("active = %q after loss, want %q", h.c.active.ID, devLine.ID)
	}
	if h.c.state != StateNormal {
		t.Fatalf("state = %v, want normal", h.c.state)
	}
}

func TestFallbackDeviceLostAbandonsDegradedState(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	h.window(false, 6.0)
	h.c.handleProbeResult(h.c.probeSeq, true, nil)

	h.dir.remove(devLine.ID)
	h.c.handleDeviceListChanged()

	if h.c.state != StateNormal {
		t.Fatalf("state = %v, want normal after abandoning degraded state", h.c.state)
	}
	if h.c.active.ID != devUSB.ID {
		t.Fatalf("active = %q, want re-resolved %q", h.c.active.ID, devUSB.ID)
	}
	if h.c.recheckTask != nil {
		t.Fatal("recheck task must be cancelled when degraded state is abandoned")
	}
}

func TestBetterDeviceAppearingUpgrades(t *testing.T) {
	h := newHarness(t, []audio.Device{devLine}, []string{"usb", "line"})
	h.seedActive(devLine, "line")
	h.c.accumSilence = 3.0

	h.dir.add(devUSB)
	h.c.handleDeviceListChanged()

	if h.c.active.ID != devUSB.ID {
		t.Fatalf("active = %q, want upgraded %q", h.c.active.ID, devUSB.ID)
	}
	if !h.lst.has("switch:" + string(SwitchUpgrade)) {
		t.Fatal("expected an upgrade switch")
	}
	if h.c.accumSilence != 0 {
		t.Fatal("accumulated silence must reset on device switch")
	}
}

func TestExternalDefaultChangeReasserted(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")

	h.c.handleDefaultChanged(devLine)

	if got := h.dir.switchLog(); len(got) != 1 || got[0] != devUSB.ID {
		t.Fatalf("switch log = %v, want single re-assert to %q", got, devUSB.ID)
	}
	if !h.lst.has("switch:" + string(SwitchReassert)) {
		t.Fatal("expected a reassert switch")
	}
}

func TestMatchingDefaultChangeIgnored(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB}, []string{"usb"})
	h.seedActive(devUSB, "usb")

	h.c.handleDefaultChanged(devUSB)

	if got := h.dir.switchLog(); len(got) != 0 {
		t.Fatalf("switch log = %v, want no switches when the default already matches", got)
	}
}

func TestOwnValidationRoutingNotReassertedAway(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	h.sampler.signal[devLine.ID] = true

	h.window(false, 6.0)
	// The watcher observes the controller's own routing to the candidate.
	h.c.handleDefaultChanged(devLine)

	if h.lst.has("switch:" + string(SwitchReassert)) {
		t.Fatal("the controller's own probe routing must not be re-asserted away")
	}
	h.c.handleProbeResult(h.c.probeSeq, true, nil)

	if h.c.state != StateFallback {
		t.Fatalf("state = %v, want fallback", h.c.state)
	}
	if dev, ok := h.dir.Default(); !ok || dev.ID != devLine.ID {
		t.Fatalf("OS default = %q, want committed fallback %q", dev.ID, devLine.ID)
	}
}

func TestExternalChangeDuringValidationHoldsProbeTarget(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine, devWeb}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")

	h.window(false, 6.0)
	// Something else grabs the default mid-probe; the re-assert must restore
	// the probe target, never the device being failed away from.
	h.c.handleDefaultChanged(devWeb)

	if !h.lst.has("switch:" + string(SwitchReassert)) {
		t.Fatal("expected a reassert switch")
	}
	if dev, ok := h.dir.Default(); !ok || dev.ID != devLine.ID {
		t.Fatalf("OS default = %q, want probe target %q", dev.ID, devLine.ID)
	}
	if h.c.state != StateCheckingCandidate {
		t.Fatalf("state = %v, validation must survive the external change", h.c.state)
	}
}

func TestDefaultChangeIgnoredDuringPrimaryRecheck(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	h.window(false, 6.0)
	h.c.handleProbeResult(h.c.probeSeq, true, nil) // commit fallback

	h.c.handleRecheck()
	// The watcher observes the controller's own routing back to the primary.
	h.c.handleDefaultChanged(devUSB)

	if h.lst.has("switch:" + string(SwitchReassert)) {
		t.Fatal("recheck routing must not be re-asserted away")
	}
	if !h.c.checkingPrimary {
		t.Fatal("the primary recheck must still be in progress")
	}
}

func TestStartRejectsAmbiguousLock(t *testing.T) {
	twin := audio.Device{ID: "line2", Name: "Line In (rear)"}
	h := newHarness(t, []audio.Device{devLine, twin}, []string{"line"})
	if err := h.cfg.SetLock("line"); err != nil {
		t.Fatalf("SetLock: %v", err)
	}

	if err := h.c.Start(); err == nil {
		t.Fatal("Start must fail for an ambiguous lock query")
	}
}

func TestStartRejectsUnmatchedLock(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB}, []string{"usb"})
	if err := h.cfg.SetLock("nonexistent"); err != nil {
		t.Fatalf("SetLock: %v", err)
	}

	if err := h.c.Start(); err == nil {
		t.Fatal("Start must fail for an unmatched lock query")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB}, []string{"usb"})
	h.c.Stop()
	h.c.Stop()
}

func TestStatusMirrorsState(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	h.window(false, 2.0)

	st := h.c.Status()
	if st.State != "normal" {
		t.Fatalf("status state = %q, want normal", st.State)
	}
	if st.AccumulatedSilence != 2.0 {
		t.Fatalf("status accum = %v, want 2.0", st.AccumulatedSilence)
	}
	if st.ActiveDevice.ID != devUSB.ID {
		t.Fatalf("status active = %q, want %q", st.ActiveDevice.ID, devUSB.ID)
	}
}

func TestVacatedDeviceNeverItsOwnFallback(t *testing.T) {
	// Both priority entries resolve to the same physical device.
	h := newHarness(t, []audio.Device{devUSB}, []string{"usb", "studio"})
	h.seedActive(devUSB, "usb")
	h.sampler.signal[devUSB.ID] = true

	h.window(false, 6.0)

	if h.lst.has("candidate_probed") {
		t.Fatal("the vacated device must not be probed as its own fallback")
	}
	if !h.lst.has("fallback_exhausted") {
		t.Fatal("expected exhaustion when the only lower entry is the vacated device")
	}
	if h.c.skipped["studio"] {
		t.Fatal("a self-resolving entry is passed over, not marked skipped")
	}
	if h.c.state != StateNormal {
		t.Fatalf("state = %v after exhaustion, want normal", h.c.state)
	}
}

func TestRuntimeLockTakesEffectWithoutRestart(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")

	if err := h.cfg.SetLock("line"); err != nil {
		t.Fatalf("SetLock: %v", err)
	}
	h.c.handlePolicyChanged()

	if !h.c.lockMode {
		t.Fatal("controller must enter lock mode without a restart")
	}
	if h.c.active.ID != devLine.ID {
		t.Fatalf("active = %q, want locked %q", h.c.active.ID, devLine.ID)
	}
	if st := h.c.Status(); !st.LockMode {
		t.Fatal("status must report lock mode")
	}

	if err := h.cfg.SetLock(""); err != nil {
		t.Fatalf("SetLock: %v", err)
	}
	h.c.handlePolicyChanged()

	if h.c.lockMode {
		t.Fatal("clearing the lock must return the controller to priority mode")
	}
	if h.c.active.ID != devUSB.ID {
		t.Fatalf("active = %q, want top priority %q", h.c.active.ID, devUSB.ID)
	}
	if st := h.c.Status(); st.LockMode {
		t.Fatal("status must drop lock mode once cleared")
	}
}

func TestPolicyChangeSupersedesDegradedState(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	h.seedActive(devUSB, "usb")
	h.window(false, 6.0)
	h.c.handleProbeResult(h.c.probeSeq, true, nil) // commit fallback on line

	if err := h.cfg.SetPriority([]string{"line", "usb"}); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	h.c.handlePolicyChanged()

	if h.c.state != StateNormal {
		t.Fatalf("state = %v, want normal under the new policy", h.c.state)
	}
	if h.c.active.ID != devLine.ID {
		t.Fatalf("active = %q, want %q (top of the new order)", h.c.active.ID, devLine.ID)
	}
	if h.c.recheckTask != nil {
		t.Fatal("primary recheck must be cancelled when the policy changes")
	}
}

func TestStopDrainsEventLoopAndCancelsTasks(t *testing.T) {
	h := newHarness(t, []audio.Device{devUSB, devLine}, []string{"usb", "line"})
	if err := h.c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.c.TriggerFailover() // arms the settle task on the loop
	synced := make(chan struct{})
	h.c.post(func() { close(synced) })
	<-synced

	h.c.Stop()

	if h.c.settleTask != nil || h.c.recheckTask != nil || h.c.retryTask != nil {
		t.Fatal("scheduled tasks must be cancelled and cleared on shutdown")
	}
	if h.c.sched.Running() {
		t.Fatal("scheduler must be stopped on shutdown")
	}
}
