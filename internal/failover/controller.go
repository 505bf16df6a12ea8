// Package failover keeps a preferred capture device active as the OS input,
// demoting to ranked backups when it goes silent and restoring it when its
// signal returns. The controller is a single-threaded state machine: every
// timer firing, window outcome, and hardware notification is serialized onto
// one event loop, so state never races.
package failover

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micguard/micguard/internal/audio"
	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/util"
)

// State is the controller's position in the failover lifecycle.
type State int

const (
	// StateNormal means the preferred (or best-resolving) device is active
	// and being monitored for silence.
	StateNormal State = iota
	// StateFallback means a backup device is active and the primary is
	// rechecked periodically.
	StateFallback
	// StateCheckingCandidate means a device is routed for validation and
	// window accounting is suspended.
	StateCheckingCandidate
)

// String returns the wire/log form of the state.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateFallback:
		return "fallback"
	case StateCheckingCandidate:
		return "checking_candidate"
	default:
		return "unknown"
	}
}

// Validation and recheck timing. The primary recheck is deliberately
// time-boxed polling: a device that starts producing audio again has no push
// notification distinguishable from routine fluctuation, so a brief
// definitive probe on a fixed cadence is the simplest correct signal.
const (
	candidateSettleDelay   = 500 * time.Millisecond
	candidateProbeDuration = 1500 * time.Millisecond
	primaryProbeDuration   = 2 * time.Second
	primaryRecheckInterval = 30 * time.Second

	retryInitialDelay = 10 * time.Second
	retryMaxDelay     = 2 * time.Minute

	eventQueueSize = 32
)

// Status is a point-in-time view of the controller for presentation.
type Status struct {
	State              string       `json:"state"`
	ActiveDevice       audio.Device `json:"active_device"`
	ActiveQuery        string       `json:"active_query,omitzero"`
	PrimaryQuery       string       `json:"primary_query,omitzero"`
	AccumulatedSilence float64      `json:"accumulated_silence_seconds"`
	SkippedQueries     []string     `json:"skipped_queries,omitzero"`
	LockMode           bool         `json:"lock_mode,omitzero"`
	Monitoring         bool         `json:"monitoring"`
}

// Controller owns the failover state machine. Construct with New, then
// Start; all other methods are safe to call from any goroutine.
type Controller struct {
	cfg      *config.Config
	dir      Directory
	sampler  Sampler
	sched    *Scheduler
	listener Listener
	backoff  *util.Backoff

	events   chan func()
	done     chan struct{}
	loopDone chan struct{}
	started  atomic.Bool
	stop     sync.Once

	// Loop-owned state. Touched only from the event loop after Start.
	state           State
	lockMode        bool
	active          audio.Device
	routed          audio.Device // last device this process set as OS default
	activeQuery     string
	primaryDevice   audio.Device
	primaryQuery    string
	primaryIndex    int
	fallbackDevice  audio.Device
	fallbackQuery   string
	candidateDevice audio.Device
	candidateQuery  string
	checkingPrimary bool
	accumSilence    float64
	skipped         map[string]bool

	settleTask  *task
	recheckTask *task
	retryTask   *task
	probeSeq    uint64
	probeCancel context.CancelFunc

	statusMu sync.Mutex
	status   Status
}

// New creates a stopped controller. listener may be nil.
func New(cfg *config.Config, dir Directory, sampler Sampler, listener Listener) *Controller {
	if listener == nil {
		listener = NopListener{}
	}
	return &Controller{
		cfg:          cfg,
		dir:          dir,
		sampler:      sampler,
		sched:        NewScheduler(sampler),
		listener:     listener,
		backoff:      util.NewBackoff(retryInitialDelay, retryMaxDelay),
		events:       make(chan func(), eventQueueSize),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		primaryIndex: -1,
		skipped:      make(map[string]bool),
	}
}

// Start seeds the controller from the configured device policy and launches
// the event loop. In lock mode an ambiguous or unmatched lock query is a
// hard error; in priority-list mode a list that resolves nothing parks the
// controller, which retries passively.
func (c *Controller) Start() error {
	snap := c.cfg.Snapshot()

	devices, err := c.dir.Devices()
	if err != nil {
		return util.WrapError("enumerate capture devices", err)
	}

	if snap.LockQuery != "" {
		c.lockMode = true
		res := Resolve(snap.LockQuery, snap.Aliases, devices)
		switch res.Kind {
		case Ambiguous:
			return fmt.Errorf("lock query %q matches %d devices; use a more specific name or an alias",
				snap.LockQuery, len(res.Matches))
		case NoMatch:
			return fmt.Errorf("lock query %q matches no capture device", snap.LockQuery)
		case UniqueMatch:
			c.adopt(snap, res.Device, "")
		}
	} else {
		if dev, query, ok := ResolveBest(snap.Priority, snap.Aliases, devices, nil); ok {
			c.adopt(snap, dev, query)
		} else {
			slog.Warn("no priority entry currently resolves; waiting for devices")
			c.scheduleRetry()
		}
	}

	c.publishStatus()
	c.started.Store(true)
	go c.run()
	return nil
}

// Stop shuts the controller down. The event loop finishes the handler it is
// in, cancels every scheduled task on its own goroutine, and exits before the
// scheduler's capture tap is released. Idempotent.
func (c *Controller) Stop() {
	c.stop.Do(func() {
		close(c.done)
		if c.started.Load() {
			<-c.loopDone
		}
		c.sched.Stop()
	})
}

// Status returns the latest published controller status.
func (c *Controller) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// NotifyDeviceListChanged folds a device-list change notification into the
// state machine.
func (c *Controller) NotifyDeviceListChanged() {
	c.post(c.handleDeviceListChanged)
}

// NotifyDefaultDeviceChanged folds an externally observed default-input
// change into the state machine.
func (c *Controller) NotifyDefaultDeviceChanged(current audio.Device) {
	c.post(func() { c.handleDefaultChanged(current) })
}

// ApplyDevicePolicy re-reads the configured device policy (priority order,
// aliases, lock query) and re-resolves the active input under it. A policy
// change supersedes any failover search or degraded state in progress: the
// new order decides from scratch. skippedQueries survives, as it does across
// every other transition within a run.
func (c *Controller) ApplyDevicePolicy() {
	c.post(c.handlePolicyChanged)
}

// ApplySettings restarts monitoring with the current configuration. Called
// by the control surface after detection settings change.
func (c *Controller) ApplySettings() {
	c.post(func() {
		if c.state == StateCheckingCandidate {
			// Picked up when validation resolves and the scheduler restarts.
			return
		}
		snap := c.cfg.Snapshot()
		c.sched.Stop()
		c.accumSilence = 0
		c.startScheduler(snap, c.active)
		c.publishStatus()
	})
}

// TriggerFailover starts a failover search immediately, as if the silence
// timeout had been reached. No-op outside Normal state or in lock mode.
func (c *Controller) TriggerFailover() {
	c.post(func() {
		if c.state != StateNormal || c.lockMode || c.active.IsZero() {
			return
		}
		c.demote(c.cfg.Snapshot())
	})
}

// post serializes fn onto the event loop. Events arriving after Stop are
// dropped.
func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

func (c *Controller) run() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.done:
			c.cancelScheduled()
			return
		}
	}
}

// cancelScheduled is the loop's final action before exit. It runs on the loop
// goroutine, so it observes every task the handlers armed; the task slots are
// never touched from anywhere else.
func (c *Controller) cancelScheduled() {
	cancelTask(&c.settleTask)
	cancelTask(&c.recheckTask)
	cancelTask(&c.retryTask)
	if c.probeCancel != nil {
		c.probeCancel()
	}
}

// reportWindow is handed to the scheduler; it re-posts outcomes onto the loop.
func (c *Controller) reportWindow(o WindowOutcome) {
	c.post(func() { c.handleWindow(o) })
}

// --- Event handlers. All run on the loop. ---

// handleWindow folds one sampling-window outcome into silence accounting.
func (c *Controller) handleWindow(o WindowOutcome) {
	if c.state == StateCheckingCandidate {
		// The device being sampled during validation is not the one
		// duty-cycle accounting applies to.
		return
	}

	snap := c.cfg.Snapshot()
	if !snap.DetectionEnabled {
		return
	}

	if o.HadSignal {
		if c.accumSilence > 0 {
			silentFor := c.accumSilence
			c.accumSilence = 0
			c.listener.SignalRestored(c.active, silentFor)
		}
		c.publishStatus()
		return
	}

	// Silence only accumulates in Normal state; a silent committed
	// fallback is handled by the primary recheck cycle, not by another
	// failover round.
	if c.state != StateNormal {
		return
	}

	c.accumSilence += o.Duration
	slog.Debug("silent window",
		"device", c.active.Name,
		"accumulated_s", c.accumSilence,
		"timeout_s", snap.SilenceTimeoutSeconds)
	c.publishStatus()

	if c.accumSilence >= snap.SilenceTimeoutSeconds {
		c.listener.SilenceTimeoutReached(c.active, c.accumSilence)
		c.demote(snap)
	}
}

// demote remembers the active device as the degraded primary and starts the
// candidate search. In lock mode there is nothing to fail over to; the
// timeout event has been reported and accounting starts over.
func (c *Controller) demote(snap config.Snapshot) {
	c.accumSilence = 0
	if c.lockMode {
		return
	}

	c.primaryDevice, c.primaryQuery = c.active, c.activeQuery
	c.primaryIndex = slices.Index(snap.Priority, c.primaryQuery)
	c.sched.Stop()
	c.searchCandidate(snap)
}

// searchCandidate walks the priority list strictly below the primary's
// position. Entries above the primary are reserved for the recovery path;
// wrapping would turn a preferred device into its own backup's backup.
func (c *Controller) searchCandidate(snap config.Snapshot) {
	devices, err := c.dir.Devices()
	if err != nil {
		slog.Warn("device enumeration failed during candidate search", "error", err)
		devices = nil
	}

	for i := c.primaryIndex + 1; i < len(snap.Priority); i++ {
		query := snap.Priority[i]
		if c.skipped[query] {
			continue
		}
		res := Resolve(query, snap.Aliases, devices)
		if res.Kind != UniqueMatch {
			continue
		}
		if res.Device.ID == c.primaryDevice.ID {
			// Never re-select the device just vacated.
			continue
		}
		c.tryCandidate(snap, res.Device, query)
		return
	}

	c.exhausted(snap)
}

// tryCandidate routes the input to a candidate and schedules its validation
// probe after a settle delay for hardware routing latency.
func (c *Controller) tryCandidate(snap config.Snapshot, dev audio.Device, query string) {
	c.setState(StateCheckingCandidate)
	c.checkingPrimary = false
	c.candidateDevice, c.candidateQuery = dev, query

	if err := c.switchTo(dev, SwitchProbe); err != nil {
		slog.Warn("could not route to candidate", "device", dev.Name, "error", err)
		c.skipped[query] = true
		c.searchCandidate(snap)
		return
	}

	c.scheduleProbe(dev, candidateProbeDuration, snap.SilenceThresholdRMS)
}

// scheduleProbe arms the settle-delay task that launches the actual probe.
// The sequence number invalidates results belonging to an abandoned probe.
func (c *Controller) scheduleProbe(dev audio.Device, duration time.Duration, threshold float64) {
	c.probeSeq++
	seq := c.probeSeq

	ctx, cancel := context.WithCancel(context.Background())
	c.probeCancel = cancel

	c.settleTask = schedule(candidateSettleDelay, func() {
		hadSignal, err := c.sampler.Probe(ctx, dev, duration, threshold)
		c.post(func() { c.handleProbeResult(seq, hadSignal, err) })
	})
}

// handleProbeResult resolves a validation probe for either a candidate or
// the primary recheck. Stale results are discarded.
func (c *Controller) handleProbeResult(seq uint64, hadSignal bool, err error) {
	if seq != c.probeSeq || c.state != StateCheckingCandidate {
		return
	}

	snap := c.cfg.Snapshot()

	if err != nil {
		// A device whose tap will not open cannot be trusted either way.
		slog.Warn("validation probe failed", "error", err)
		hadSignal = false
	}

	if c.checkingPrimary {
		c.resolvePrimaryProbe(snap, hadSignal)
		return
	}

	c.listener.CandidateProbed(c.candidateDevice, c.candidateQuery, hadSignal)

	if !hadSignal {
		// Connected but equally silent: never commit, never retry this
		// session.
		c.skipped[c.candidateQuery] = true
		c.searchCandidate(snap)
		return
	}

	c.commitFallback(snap)
}

// commitFallback adopts the validated candidate and begins the degraded
// steady state: monitor the fallback, recheck the primary on a fixed cadence.
func (c *Controller) commitFallback(snap config.Snapshot) {
	c.fallbackDevice, c.fallbackQuery = c.candidateDevice, c.candidateQuery
	c.active, c.activeQuery = c.candidateDevice, c.candidateQuery
	c.backoff.Reset()

	c.listener.FallbackCommitted(c.active, c.activeQuery)
	c.setState(StateFallback)
	c.armRecheck()
	c.startScheduler(snap, c.active)
}

func (c *Controller) armRecheck() {
	cancelTask(&c.recheckTask)
	c.recheckTask = schedule(primaryRecheckInterval, func() {
		c.post(c.handleRecheck)
	})
}

// handleRecheck routes back to the primary and probes it for recovery.
func (c *Controller) handleRecheck() {
	if c.state != StateFallback {
		return
	}
	snap := c.cfg.Snapshot()

	primary, err := c.dir.Refresh(c.primaryDevice)
	if err != nil {
		// Primary is unplugged; keep the fallback and ask again later.
		c.armRecheck()
		return
	}
	c.primaryDevice = primary

	c.sched.Stop()
	if err := c.switchTo(primary, SwitchRecheck); err != nil {
		slog.Warn("could not route back to primary for recheck",
			"device", primary.Name, "error", err)
		c.startScheduler(snap, c.active)
		c.armRecheck()
		return
	}

	c.listener.PrimaryRecheck(primary)
	c.setState(StateCheckingCandidate)
	c.checkingPrimary = true
	c.scheduleProbe(primary, primaryProbeDuration, snap.SilenceThresholdRMS)
}

// resolvePrimaryProbe finishes a primary recheck: re-adopt the primary if it
// has signal, otherwise fall back to the committed backup or re-search.
func (c *Controller) resolvePrimaryProbe(snap config.Snapshot, hadSignal bool) {
	if hadSignal {
		c.active, c.activeQuery = c.primaryDevice, c.primaryQuery
		primary := c.primaryDevice
		c.clearDegraded()
		c.backoff.Reset()
		c.setState(StateNormal)
		c.listener.PrimaryRestored(primary)
		c.startScheduler(snap, c.active)
		return
	}

	// Primary still silent. Restore the previously committed fallback if it
	// is still present.
	if fb, err := c.dir.Refresh(c.fallbackDevice); err == nil {
		if err := c.switchTo(fb, SwitchRestoreFallback); err == nil {
			c.fallbackDevice = fb
			c.active, c.activeQuery = fb, c.fallbackQuery
			c.setState(StateFallback)
			c.armRecheck()
			c.startScheduler(snap, c.active)
			return
		}
	}

	// Fallback disappeared while we were probing; search again.
	c.searchCandidate(snap)
}

// exhausted parks the controller in Normal on the (still silent) primary and
// retries monitoring after a backoff delay, so a reconnecting device can be
// picked up by the next cycle instead of spinning the search.
func (c *Controller) exhausted(snap config.Snapshot) {
	slog.Warn("no fallback available", "primary", c.primaryDevice.Name)
	c.listener.FallbackExhausted()

	if dev, err := c.dir.Refresh(c.primaryDevice); err == nil {
		if err := c.switchTo(dev, SwitchPark); err == nil {
			c.active, c.activeQuery = dev, c.primaryQuery
		}
	}

	c.clearDegraded()
	c.setState(StateNormal)
	c.scheduleRetry()
}

// scheduleRetry arms the parked-state retry task.
func (c *Controller) scheduleRetry() {
	cancelTask(&c.retryTask)
	c.retryTask = schedule(c.backoff.Next(), func() {
		c.post(c.resumeMonitoring)
	})
}

// resumeMonitoring restarts monitoring from a parked Normal state, first
// re-resolving a device if none is active.
func (c *Controller) resumeMonitoring() {
	if c.state != StateNormal {
		return
	}
	snap := c.cfg.Snapshot()
	if c.active.IsZero() {
		c.adoptBest(snap)
		return
	}
	c.startScheduler(snap, c.active)
	c.publishStatus()
}

// handleDeviceListChanged reacts to hardware arrival/removal. In degraded
// states only disconnection of the active device matters; in Normal, a
// change in which priority entry resolves best triggers an upgrade switch.
func (c *Controller) handleDeviceListChanged() {
	snap := c.cfg.Snapshot()

	if !c.active.IsZero() && !c.dir.IsAlive(c.active) {
		c.listener.DeviceLost(c.active)
		c.abandonActive(snap)
		return
	}

	if c.state != StateNormal {
		return
	}

	if c.active.IsZero() {
		// Parked: something new may resolve now.
		c.adoptBest(snap)
		return
	}

	if c.lockMode {
		return
	}

	devices, err := c.dir.Devices()
	if err != nil {
		return
	}
	best, query, ok := ResolveBest(snap.Priority, snap.Aliases, devices, c.skipped)
	if !ok || best.ID == c.active.ID {
		return
	}
	if err := c.switchTo(best, SwitchUpgrade); err != nil {
		slog.Warn("upgrade switch failed", "device", best.Name, "error", err)
		return
	}
	c.active, c.activeQuery = best, query
	c.accumSilence = 0
	c.startScheduler(snap, c.active)
	c.publishStatus()
}

// handlePolicyChanged folds a device-policy change (priority, aliases, lock)
// into the state machine: leave any degraded state, then resolve and adopt
// under the new policy.
func (c *Controller) handlePolicyChanged() {
	snap := c.cfg.Snapshot()
	c.lockMode = snap.LockQuery != ""

	c.sched.Stop()
	c.setState(StateNormal)
	c.clearDegraded()
	c.accumSilence = 0
	c.adoptBest(snap)
}

// handleDefaultChanged re-asserts our routing when something outside this
// process changed the OS default input. During candidate validation the
// comparison target is the probe routing, not c.active: c.active still names
// the device being failed away from, and the watcher reporting the
// controller's own probe switch must not flip the default back to it.
func (c *Controller) handleDefaultChanged(current audio.Device) {
	ours := c.active
	if c.state == StateCheckingCandidate {
		ours = c.routed
	}
	if ours.IsZero() || current.ID == ours.ID {
		return
	}
	slog.Info("external default input change detected, re-asserting",
		"external", current.Name, "ours", ours.Name)
	if err := c.switchTo(ours, SwitchReassert); err != nil {
		slog.Error("failed to re-assert input routing", "device", ours.Name, "error", err)
	}
}

// abandonActive drops every piece of degraded bookkeeping and re-resolves
// from the priority list from scratch.
func (c *Controller) abandonActive(snap config.Snapshot) {
	c.sched.Stop()
	c.probeSeq++ // invalidate any in-flight probe
	if c.probeCancel != nil {
		c.probeCancel()
	}
	cancelTask(&c.settleTask)
	c.clearDegraded()
	c.active, c.activeQuery = audio.Device{}, ""
	c.accumSilence = 0
	c.setState(StateNormal)
	c.adoptBest(snap)
}

// adoptBest resolves the device policy against a fresh snapshot and adopts
// the result, or parks with a retry if nothing resolves.
func (c *Controller) adoptBest(snap config.Snapshot) {
	devices, err := c.dir.Devices()
	if err != nil {
		slog.Warn("device enumeration failed", "error", err)
		c.scheduleRetry()
		return
	}

	var (
		dev   audio.Device
		query string
		ok    bool
	)
	if c.lockMode {
		// At runtime the lock query is resolved like any other entry:
		// ambiguity parks rather than erroring, since the hard error
		// already happened at configuration time if it was ambiguous then.
		if res := Resolve(snap.LockQuery, snap.Aliases, devices); res.Kind == UniqueMatch {
			dev, ok = res.Device, true
		}
	} else {
		dev, query, ok = ResolveBest(snap.Priority, snap.Aliases, devices, c.skipped)
	}

	if !ok {
		slog.Warn("no capture device currently resolves; parked")
		c.active, c.activeQuery = audio.Device{}, ""
		c.publishStatus()
		c.scheduleRetry()
		return
	}

	c.adopt(snap, dev, query)
	c.publishStatus()
}

// adopt makes dev the active device and starts monitoring it. Re-adopting
// the device that is already active restarts monitoring without a switch.
func (c *Controller) adopt(snap config.Snapshot, dev audio.Device, query string) {
	if dev.ID != c.active.ID {
		if err := c.switchTo(dev, SwitchResolve); err != nil {
			slog.Error("failed to adopt device", "device", dev.Name, "error", err)
			c.active, c.activeQuery = audio.Device{}, ""
			c.scheduleRetry()
			return
		}
	}
	c.active, c.activeQuery = dev, query
	c.accumSilence = 0
	c.backoff.Reset()
	c.startScheduler(snap, dev)
}

// switchTo is the single write path for the systemwide active input device.
// The directory confirms the change via read-back before this returns nil;
// on error the caller must not advance state.
func (c *Controller) switchTo(dev audio.Device, reason SwitchReason) error {
	from := c.active
	if err := c.dir.SetDefault(dev); err != nil {
		return err
	}
	c.routed = dev
	c.listener.DeviceSwitched(from, dev, reason)
	return nil
}

// startScheduler (re)starts duty-cycled monitoring of dev.
func (c *Controller) startScheduler(snap config.Snapshot, dev audio.Device) {
	if dev.IsZero() || !snap.DetectionEnabled {
		return
	}
	c.sched.Start(dev, WindowConfig{
		Interval:  secondsToDuration(snap.SampleIntervalSeconds),
		Duration:  secondsToDuration(snap.SampleDurationSeconds),
		Threshold: snap.SilenceThresholdRMS,
	}, c.reportWindow)
}

// clearDegraded wipes primary/fallback bookkeeping. skippedQueries survives:
// a query that failed validation is never retried automatically within the
// same run.
func (c *Controller) clearDegraded() {
	c.primaryDevice, c.primaryQuery = audio.Device{}, ""
	c.primaryIndex = -1
	c.fallbackDevice, c.fallbackQuery = audio.Device{}, ""
	c.candidateDevice, c.candidateQuery = audio.Device{}, ""
	cancelTask(&c.recheckTask)
}

// setState performs a transition, cancelling scheduled work belonging to the
// state being left.
func (c *Controller) setState(next State) {
	if next == c.state {
		return
	}
	prev := c.state
	c.state = next

	if prev == StateCheckingCandidate {
		// Any probe still in flight belongs to the old state.
		c.probeSeq++
		if c.probeCancel != nil {
			c.probeCancel()
		}
		cancelTask(&c.settleTask)
		c.checkingPrimary = false
	}
	if next == StateNormal {
		cancelTask(&c.recheckTask)
	} else {
		cancelTask(&c.retryTask)
	}

	c.listener.StateChanged(prev, next, c.active)
	c.publishStatus()
}

// publishStatus mirrors loop-owned state into the mutex-guarded status copy.
func (c *Controller) publishStatus() {
	skipped := make([]string, 0, len(c.skipped))
	for query := range c.skipped {
		skipped = append(skipped, query)
	}
	slices.Sort(skipped)

	c.statusMu.Lock()
	c.status = Status{
		State:              c.state.String(),
		ActiveDevice:       c.active,
		ActiveQuery:        c.activeQuery,
		PrimaryQuery:       c.primaryQuery,
		AccumulatedSilence: c.accumSilence,
		SkippedQueries:     skipped,
		LockMode:           c.lockMode,
		Monitoring:         c.sched.Running(),
	}
	c.statusMu.Unlock()
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
