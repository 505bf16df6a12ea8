package audio

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultWatchInterval is how often the watcher re-enumerates devices.
const DefaultWatchInterval = 2 * time.Second

// Watcher polls the Directory and reports device-list and default-input
// changes as discrete events. Callbacks run on the watcher goroutine; they
// should hand off to their own queue rather than block.
type Watcher struct {
	dir      *Directory
	interval time.Duration

	// OnDeviceListChanged fires when the set of capture devices changes.
	OnDeviceListChanged func()
	// OnDefaultChanged fires when the OS default input changes.
	OnDefaultChanged func(current Device)

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// NewWatcher returns a stopped Watcher polling dir at the given interval.
// A non-positive interval selects DefaultWatchInterval.
func NewWatcher(dir *Directory, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{dir: dir, interval: interval}
}

// Start begins polling. Safe to call once; subsequent calls are no-ops.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	go w.run(w.stopCh)
}

// Stop halts polling. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
}

func (w *Watcher) run(stopCh <-chan struct{}) {
	lastList, lastDefault, _ := w.snapshot()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		list, def, err := w.snapshot()
		if err != nil {
			// A failed enumeration is a transient, not a removal.
			continue
		}
		if list != lastList {
			lastList = list
			if w.OnDeviceListChanged != nil {
				w.OnDeviceListChanged()
			}
		}
		if def.ID != lastDefault.ID {
			lastDefault = def
			if w.OnDefaultChanged != nil {
				w.OnDefaultChanged(def)
			}
		}
	}
}

// snapshot returns a comparable fingerprint of the device list plus the
// current default device.
func (w *Watcher) snapshot() (string, Device, error) {
	devices, err := w.dir.Devices()
	if err != nil {
		slog.Debug("device enumeration failed during watch", "error", err)
		return "", Device{}, err
	}

	ids := make([]string, 0, len(devices))
	var def Device
	for _, dev := range devices {
		ids = append(ids, dev.ID)
		if dev.Default {
			def = dev
		}
	}
	sort.Strings(ids)
	return strings.Join(ids, "\n"), def, nil
}
