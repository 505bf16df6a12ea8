package lockstate

import (
	"log/slog"
	"sync"

	"github.com/micguard/micguard/internal/audio"
	"github.com/micguard/micguard/internal/failover"
)

// Recorder keeps the lock-state file in sync with the controller. Every
// confirmed device switch rewrites the record; write failures are logged and
// never fed back into the state machine.
type Recorder struct {
	failover.NopListener

	store    *Store
	lockMode bool

	mu        sync.Mutex
	lastQuery string
}

// NewRecorder creates a recorder writing through the given store.
func NewRecorder(store *Store, lockMode bool) *Recorder {
	return &Recorder{store: store, lockMode: lockMode}
}

// DeviceSwitched rewrites the lock-state record for the new device.
func (r *Recorder) DeviceSwitched(from, to audio.Device, reason failover.SwitchReason) {
	r.mu.Lock()
	query := r.lastQuery
	r.mu.Unlock()

	st := State{
		DeviceID:   to.ID,
		DeviceName: to.Name,
		Query:      query,
		Reason:     string(reason),
		LockMode:   r.lockMode,
	}
	if err := r.store.Write(st); err != nil {
		slog.Warn("failed to write lock state", "path", r.store.Path(), "error", err)
	}
}

// FallbackCommitted remembers which priority query produced the active device.
func (r *Recorder) FallbackCommitted(dev audio.Device, query string) {
	r.setQuery(query)
}

// PrimaryRestored clears the fallback query annotation.
func (r *Recorder) PrimaryRestored(primary audio.Device) {
	r.setQuery("")
}

func (r *Recorder) setQuery(query string) {
	r.mu.Lock()
	r.lastQuery = query
	r.mu.Unlock()
}
