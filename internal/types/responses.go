package types

import "github.com/micguard/micguard/internal/audio"

// WSConfigResponse is sent in response to config/get.
// Contains the full configuration without runtime state.
type WSConfigResponse struct {
	Type   string `json:"type"` // "config"
	Config any    `json:"config"`
}

// WSCommandResult is the standard response for command execution.
// Used by slash-style commands (settings/update, priority/set, etc.)
type WSCommandResult struct {
	Type    string           `json:"type"`            // "<command>_result"
	Success bool             `json:"success"`         // true if command succeeded
	Error   *ValidationError `json:"error,omitempty"` // Validation errors if failed
	Data    any              `json:"data,omitempty"`  // Optional response data
}

// WSStatusResponse is the periodic status push and the status/get reply.
type WSStatusResponse struct {
	Type               string            `json:"type"` // "status"
	State              string            `json:"state"`
	ActiveDevice       audio.Device      `json:"active_device"`
	ActiveQuery        string            `json:"active_query,omitempty"`
	PrimaryQuery       string            `json:"primary_query,omitempty"`
	AccumulatedSilence float64           `json:"accumulated_silence_seconds"`
	SkippedQueries     []string          `json:"skipped_queries,omitempty"`
	LockMode           bool              `json:"lock_mode,omitempty"`
	Monitoring         bool              `json:"monitoring"`
	Settings           DetectionSettings `json:"settings"`
	Devices            DevicePolicy      `json:"devices"`
	GraphSecretExpiry  SecretExpiryInfo  `json:"graph_secret_expiry,omitzero"`
	Version            VersionInfo       `json:"version"`
}

// WSLevelsResponse is sent to clients with audio level updates.
type WSLevelsResponse struct {
	Type   string       `json:"type"` // "levels"
	Device string       `json:"device,omitempty"`
	Levels audio.Levels `json:"levels"`
}

// WSDevicesResponse is sent in response to devices/list.
type WSDevicesResponse struct {
	Type    string         `json:"type"` // "devices"
	Devices []audio.Device `json:"devices"`
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}
