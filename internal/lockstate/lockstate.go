// Package lockstate persists which capture device the daemon currently
// holds. The file is rewritten on every confirmed device switch and removed
// on clean shutdown, so a present file always names the device the daemon
// owned when it was last alive.
package lockstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/micguard/micguard/internal/util"
)

// FileName is the lock-state file name, created next to the config file.
const FileName = "micguard.lock.json"

// State is the persisted record of the currently held device.
type State struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Query      string    `json:"query,omitempty"`
	Reason     string    `json:"reason"`
	LockMode   bool      `json:"lock_mode,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store writes and removes the lock-state file. It is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
}

// DefaultPath returns the lock-state path for a given config file path.
func DefaultPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), FileName)
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Write replaces the lock-state file atomically.
func (s *Store) Write(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return util.WrapError("marshal lock state", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return util.WrapError("write lock state", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return util.WrapError("replace lock state", err)
	}
	return nil
}

// Clear removes the lock-state file. A missing file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return util.WrapError("remove lock state", err)
	}
	return nil
}

// Read loads a lock-state file. Returns os.ErrNotExist when absent.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, util.WrapError("parse lock state", err)
	}
	return st, nil
}
