// Package eventlog provides the persistent event journal. It captures the
// failover lifecycle (silence, candidate probes, fallback commits, primary
// recovery) and device lifecycle (switches, losses) in a single JSON lines
// file, so a degraded night can be reconstructed the next morning.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Silence lifecycle event types.
const (
	SilenceTimeout EventType = "silence_timeout"
	SignalRestored EventType = "signal_restored"
)

// Failover lifecycle event types.
const (
	StateChanged      EventType = "state_changed"
	CandidateProbe    EventType = "candidate_probe"
	FallbackCommitted EventType = "fallback_committed"
	FallbackExhausted EventType = "fallback_exhausted"
	PrimaryRecheck    EventType = "primary_recheck"
	PrimaryRestored   EventType = "primary_restored"
)

// Device lifecycle event types.
const (
	DeviceSwitched EventType = "device_switched"
	DeviceLost     EventType = "device_lost"
)

// Daemon and incident event types.
const (
	DaemonStarted    EventType = "daemon_started"
	DaemonStopped    EventType = "daemon_stopped"
	IncidentSaved    EventType = "incident_saved"
	IncidentUploaded EventType = "incident_uploaded"
	CleanupCompleted EventType = "cleanup_completed"
)

// Event represents a single journal entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SilenceDetails contains silence accounting details.
type SilenceDetails struct {
	Device         string  `json:"device,omitempty"`
	SilentSeconds  float64 `json:"silent_s,omitempty"`
	TimeoutSeconds float64 `json:"timeout_s,omitempty"`
	ThresholdRMS   float64 `json:"threshold_rms,omitempty"`
}

// FailoverDetails contains failover lifecycle details.
type FailoverDetails struct {
	Device    string `json:"device,omitempty"`
	Query     string `json:"query,omitempty"`
	HadSignal bool   `json:"had_signal,omitempty"`
	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`
}

// SwitchDetails contains device switch details.
type SwitchDetails struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// IncidentDetails contains incident dump and housekeeping details.
type IncidentDetails struct {
	Filename     string `json:"filename,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	S3Key        string `json:"s3_key,omitempty"`
	Error        string `json:"error,omitempty"`
	FilesDeleted int    `json:"files_deleted,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific journal path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "micguard", "logs", fmt.Sprintf("%d", port), "micguard.jsonl")
	default: // linux, darwin
		return filepath.Join("/var/log/micguard", fmt.Sprintf("%d", port), "micguard.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the journal.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSilence logs a silence accounting event.
func (l *Logger) LogSilence(eventType EventType, device string, silentSeconds, timeoutSeconds float64) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &SilenceDetails{
			Device:         device,
			SilentSeconds:  silentSeconds,
			TimeoutSeconds: timeoutSeconds,
		},
	})
}

// LogFailover logs a failover lifecycle event.
func (l *Logger) LogFailover(eventType EventType, details *FailoverDetails) error {
	return l.Log(&Event{Type: eventType, Details: details})
}

// LogSwitch logs a device switch.
func (l *Logger) LogSwitch(from, to, reason string) error {
	return l.Log(&Event{
		Type:    DeviceSwitched,
		Details: &SwitchDetails{From: from, To: to, Reason: reason},
	})
}

// LogIncident logs an incident dump or housekeeping event.
func (l *Logger) LogIncident(eventType EventType, details *IncidentDetails) error {
	return l.Log(&Event{Type: eventType, Details: details})
}

// Close closes the journal file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the journal file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll      TypeFilter = ""
	FilterSilence  TypeFilter = "silence"
	FilterFailover TypeFilter = "failover"
	FilterDevice   TypeFilter = "device"
	FilterIncident TypeFilter = "incident"
)

// MaxReadLimit is the maximum number of events that can be read at once.
// This prevents denial-of-service via excessive memory allocation.
const MaxReadLimit = 500

// IsSilenceEvent reports whether t belongs to silence accounting.
func IsSilenceEvent(t EventType) bool {
	return t == SilenceTimeout || t == SignalRestored
}

// IsFailoverEvent reports whether t belongs to the failover lifecycle.
func IsFailoverEvent(t EventType) bool {
	switch t {
	case StateChanged, CandidateProbe, FallbackCommitted, FallbackExhausted,
		PrimaryRecheck, PrimaryRestored:
		return true
	}
	return false
}

// IsDeviceEvent reports whether t belongs to the device lifecycle.
func IsDeviceEvent(t EventType) bool {
	return t == DeviceSwitched || t == DeviceLost
}

// IsIncidentEvent reports whether t belongs to incident handling.
func IsIncidentEvent(t EventType) bool {
	return t == IncidentSaved || t == IncidentUploaded || t == CleanupCompleted
}

func matchesFilter(t EventType, filter TypeFilter) bool {
	switch filter {
	case FilterAll:
		return true
	case FilterSilence:
		return IsSilenceEvent(t)
	case FilterFailover:
		return IsFailoverEvent(t)
	case FilterDevice:
		return IsDeviceEvent(t)
	case FilterIncident:
		return IsIncidentEvent(t)
	default:
		return false
	}
}

// ReadLast reads events from the journal with pagination support.
// Returns up to n events starting from offset, filtered by type.
// Events are returned in reverse chronological order (newest first).
// The n parameter is capped at MaxReadLimit.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	if n > MaxReadLimit {
		n = MaxReadLimit
	}
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	// Parse events in reverse order (newest first), applying filter
	events := make([]Event, 0, n)
	skipped := 0
	hasMore := false
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !matchesFilter(event.Type, filter) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) >= n {
			hasMore = true
			break
		}
		events = append(events, event)
	}

	return events, hasMore, nil
}
