// Package types provides shared type definitions used across the daemon.
package types

import "time"

const (
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
)

// DetectionSettings is the wire form of the silence detection settings.
type DetectionSettings struct {
	SilenceThresholdRMS   float64 `json:"silence_threshold_rms"`   // Linear RMS threshold
	SilenceTimeoutSeconds float64 `json:"silence_timeout_seconds"` // Accumulated silence before failover
	SampleIntervalSeconds float64 `json:"sample_interval_seconds"` // Seconds between window starts
	SampleDurationSeconds float64 `json:"sample_duration_seconds"` // Seconds sampled per window
	DetectionEnabled      bool    `json:"detection_enabled"`       // Monitoring active
}

// DevicePolicy is the wire form of the device selection settings.
type DevicePolicy struct {
	Priority []string          `json:"priority"`       // Ranked device queries
	Aliases  map[string]string `json:"aliases"`        // Short name -> device name fragment
	Lock     string            `json:"lock,omitempty"` // Single-device lock query
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// ZabbixConfig contains settings for sending trapper items to a Zabbix server.
type ZabbixConfig struct {
	Server string `json:"server,omitempty"`
	Port   int    `json:"port,omitempty"`
	Host   string `json:"host,omitempty"`
	Key    string `json:"key,omitempty"`
}

// SecretExpiryInfo contains client secret expiration data.
type SecretExpiryInfo struct {
	ExpiresAt   string `json:"expires_at,omitempty"`   // RFC3339 expiration timestamp
	ExpiresSoon bool   `json:"expires_soon,omitempty"` // True if expires within 30 days
	DaysLeft    int    `json:"days_left,omitempty"`    // Days until expiration
	Error       string `json:"error,omitempty"`        // Error message if check failed
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}

// DegradationLogEntry represents a single entry in the notification log file.
type DegradationLogEntry struct {
	Timestamp     string  `json:"timestamp"`                // RFC3339 timestamp
	Event         string  `json:"event"`                    // degradation_start, degradation_end, test
	Device        string  `json:"device,omitempty"`         // Device the event concerns
	FallbackTo    string  `json:"fallback_to,omitempty"`    // Committed fallback device (start only)
	SilentSeconds float64 `json:"silent_seconds,omitempty"` // Accumulated silence that triggered failover
	DurationMs    int64   `json:"duration_ms,omitempty"`    // Degradation duration (end only)
	ThresholdRMS  float64 `json:"threshold_rms,omitempty"`  // Configured silence threshold
}
