// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/micguard/micguard/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort     = 8090
	DefaultWebUsername = "admin"
	DefaultWebPassword = "micguard"

	// DefaultSilenceThresholdRMS is the normalized linear RMS level below
	// which a capture buffer counts as silent.
	DefaultSilenceThresholdRMS = 1e-5
	// DefaultSilenceTimeoutSeconds is how much accumulated silence triggers failover.
	DefaultSilenceTimeoutSeconds = 5.0
	// MinSilenceTimeoutSeconds is the enforced lower bound on the timeout.
	MinSilenceTimeoutSeconds = 1.0
	// DefaultSampleIntervalSeconds is the duty-cycle period between windows.
	DefaultSampleIntervalSeconds = 10.0
	// DefaultSampleDurationSeconds is how long each sampling window lasts.
	DefaultSampleDurationSeconds = 2.0

	DefaultIncidentRetentionDays = 7
)

// DetectionConfig holds silence detection and duty-cycle timing parameters.
type DetectionConfig struct {
	SilenceThresholdRMS   float64 `json:"silence_threshold_rms"`   // Linear RMS silence threshold
	SilenceTimeoutSeconds float64 `json:"silence_timeout_seconds"` // Accumulated silence before failover
	SampleIntervalSeconds float64 `json:"sample_interval_seconds"` // Seconds between sampling windows
	SampleDurationSeconds float64 `json:"sample_duration_seconds"` // Length of each sampling window
	Enabled               *bool   `json:"enabled"`                 // Silence detection on/off (default true)
}

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port     int    `json:"port"`     // HTTP server port
	Username string `json:"username"` // Login username
	Password string `json:"password"` // Login password
}

// DevicesConfig holds the device selection policy.
type DevicesConfig struct {
	// Priority is the ordered list of device queries; the first entry is
	// the preferred device, later entries are fallbacks in rank order.
	Priority []string `json:"priority"`
	// Aliases maps short alias strings to device-name substrings.
	Aliases map[string]string `json:"aliases"`
	// Lock, when set, pins a single device instead of using the priority
	// list. An ambiguous lock query is a configuration error.
	Lock string `json:"lock,omitempty"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url"` // Webhook URL for failover alerts
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path"` // Log file path for failover events
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// ZabbixConfig holds Zabbix trapper notification settings.
type ZabbixConfig struct {
	Server string `json:"server"` // Zabbix server hostname
	Port   int    `json:"port"`   // Zabbix trapper port
	Host   string `json:"host"`   // Monitored host name as known to Zabbix
	Key    string `json:"key"`    // Trapper item key
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"`
	Log     LogConfig     `json:"log"`
	Email   EmailConfig   `json:"email"`
	Zabbix  ZabbixConfig  `json:"zabbix"`
}

// IncidentConfig holds incident audio dump settings.
type IncidentConfig struct {
	Enabled       bool   `json:"enabled"`        // Capture pre-failover audio dumps
	Directory     string `json:"directory"`      // Dump directory (empty = system temp)
	RetentionDays int    `json:"retention_days"` // Days to keep local dumps

	// Optional S3-compatible upload target for dumps.
	S3Endpoint        string `json:"s3_endpoint"`
	S3Bucket          string `json:"s3_bucket"`
	S3AccessKeyID     string `json:"s3_access_key_id"`
	S3SecretAccessKey string `json:"s3_secret_access_key"`
}

// EventLogConfig holds event journal settings.
type EventLogConfig struct {
	Path string `json:"path"` // JSON-lines event journal path (empty = next to config)
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Devices       DevicesConfig       `json:"devices"`
	Detection     DetectionConfig     `json:"detection"`
	Notifications NotificationsConfig `json:"notifications"`
	Incidents     IncidentConfig      `json:"incidents"`
	EventLog      EventLogConfig      `json:"event_log"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port:     DefaultWebPort,
			Username: DefaultWebUsername,
			Password: DefaultWebPassword,
		},
		Devices: DevicesConfig{
			Priority: []string{},
			Aliases:  map[string]string{},
		},
		Incidents: IncidentConfig{
			RetentionDays: DefaultIncidentRetentionDays,
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default one if none exists.
// A corrupt file is reported and replaced by defaults rather than failing
// the daemon.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		// The corrupt file is left in place for inspection.
		slog.Warn("config file is unparseable, falling back to defaults",
			"path", c.filePath, "error", err)
		def := New(c.filePath)
		c.System = def.System
		c.Devices = def.Devices
		c.Detection = def.Detection
		c.Notifications = def.Notifications
		c.Incidents = def.Incidents
		c.EventLog = def.EventLog
		return nil
	}

	c.applyDefaults()
	c.clampLocked()

	return c.validateLocked()
}

// validateLocked checks configuration fields for correctness. Caller must hold c.mu.
func (c *Config) validateLocked() error {
	if c.System.Port < 1 || c.System.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1-65535", c.System.Port)
	}
	for alias, target := range c.Devices.Aliases {
		if strings.TrimSpace(alias) == "" || strings.TrimSpace(target) == "" {
			return fmt.Errorf("invalid alias %q -> %q: both sides must be non-empty", alias, target)
		}
	}
	for _, query := range c.Devices.Priority {
		if strings.TrimSpace(query) == "" {
			return fmt.Errorf("priority list contains an empty query")
		}
	}
	if c.Notifications.Log.Path != "" {
		if err := util.ValidatePath("notifications.log.path", c.Notifications.Log.Path); err != nil {
			return err
		}
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.Username == "" {
		c.System.Username = DefaultWebUsername
	}
	if c.System.Password == "" {
		c.System.Password = DefaultWebPassword
	}
	if c.Devices.Priority == nil {
		c.Devices.Priority = []string{}
	}
	if c.Devices.Aliases == nil {
		c.Devices.Aliases = map[string]string{}
	}
	if c.Incidents.RetentionDays == 0 {
		c.Incidents.RetentionDays = DefaultIncidentRetentionDays
	}
}

// clampLocked enforces detection invariants. Caller must hold c.mu.
// sample_duration_seconds <= sample_interval_seconds always holds after
// any write path.
func (c *Config) clampLocked() {
	d := &c.Detection
	if d.SilenceTimeoutSeconds != 0 && d.SilenceTimeoutSeconds < MinSilenceTimeoutSeconds {
		d.SilenceTimeoutSeconds = MinSilenceTimeoutSeconds
	}
	if d.SampleIntervalSeconds < 0 {
		d.SampleIntervalSeconds = 0
	}
	interval := cmp.Or(d.SampleIntervalSeconds, DefaultSampleIntervalSeconds)
	if d.SampleDurationSeconds > interval {
		d.SampleDurationSeconds = interval
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// FilePath returns the path of the backing config file.
func (c *Config) FilePath() string {
	return c.filePath
}

// --- Setters for individual settings ---

// SetDetection updates detection settings and saves the configuration.
// Values are clamped so that the duration/interval invariant holds on write.
func (c *Config) SetDetection(update func(*DetectionConfig)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.Detection)
	c.clampLocked()
	return c.saveLocked()
}

// SetPriority replaces the device priority list and saves the configuration.
func (c *Config) SetPriority(queries []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range queries {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("priority list contains an empty query")
		}
	}
	c.Devices.Priority = slices.Clone(queries)
	return c.saveLocked()
}

// SetAliases replaces the alias map and saves the configuration.
func (c *Config) SetAliases(aliases map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for alias, target := range aliases {
		if strings.TrimSpace(alias) == "" || strings.TrimSpace(target) == "" {
			return fmt.Errorf("invalid alias %q -> %q: both sides must be non-empty", alias, target)
		}
	}
	c.Devices.Aliases = maps.Clone(aliases)
	return c.saveLocked()
}

// SetLock updates the single-device lock query and saves the configuration.
// An empty query returns to priority-list mode.
func (c *Config) SetLock(query string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Devices.Lock = strings.TrimSpace(query)
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the notification log file path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email.TenantID = tenantID
	c.Notifications.Email.ClientID = clientID
	c.Notifications.Email.ClientSecret = clientSecret
	c.Notifications.Email.FromAddress = fromAddress
	c.Notifications.Email.Recipients = recipients
	return c.saveLocked()
}

// SetZabbixConfig updates Zabbix notification settings and saves.
func (c *Config) SetZabbixConfig(server string, port int, host, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Zabbix = ZabbixConfig{Server: server, Port: port, Host: host, Key: key}
	return c.saveLocked()
}

// SetIncidents updates incident dump settings and saves the configuration.
func (c *Config) SetIncidents(update func(*IncidentConfig)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.Incidents)
	if c.Incidents.RetentionDays == 0 {
		c.Incidents.RetentionDays = DefaultIncidentRetentionDays
	}
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort     int
	WebUser     string
	WebPassword string

	// Device policy
	Priority  []string
	Aliases   map[string]string
	LockQuery string

	// Detection (defaults applied)
	SilenceThresholdRMS   float64
	SilenceTimeoutSeconds float64
	SampleIntervalSeconds float64
	SampleDurationSeconds float64
	DetectionEnabled      bool

	// Notifications
	WebhookURL        string
	LogPath           string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string
	ZabbixServer      string
	ZabbixPort        int
	ZabbixHost        string
	ZabbixKey         string

	// Incidents
	Incidents IncidentConfig

	// Event journal
	EventLogPath string
}

// Snapshot returns a point-in-time copy of all configuration values with
// defaults applied.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	enabled := true
	if c.Detection.Enabled != nil {
		enabled = *c.Detection.Enabled
	}

	return Snapshot{
		WebPort:     c.System.Port,
		WebUser:     c.System.Username,
		WebPassword: c.System.Password,

		Priority:  slices.Clone(c.Devices.Priority),
		Aliases:   maps.Clone(c.Devices.Aliases),
		LockQuery: c.Devices.Lock,

		SilenceThresholdRMS:   cmp.Or(c.Detection.SilenceThresholdRMS, DefaultSilenceThresholdRMS),
		SilenceTimeoutSeconds: cmp.Or(c.Detection.SilenceTimeoutSeconds, DefaultSilenceTimeoutSeconds),
		SampleIntervalSeconds: cmp.Or(c.Detection.SampleIntervalSeconds, DefaultSampleIntervalSeconds),
		SampleDurationSeconds: cmp.Or(c.Detection.SampleDurationSeconds, DefaultSampleDurationSeconds),
		DetectionEnabled:      enabled,

		WebhookURL:        c.Notifications.Webhook.URL,
		LogPath:           c.Notifications.Log.Path,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,
		ZabbixServer:      c.Notifications.Zabbix.Server,
		ZabbixPort:        c.Notifications.Zabbix.Port,
		ZabbixHost:        c.Notifications.Zabbix.Host,
		ZabbixKey:         c.Notifications.Zabbix.Key,

		Incidents: c.Incidents,

		EventLogPath: c.EventLog.Path,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.GraphTenantID != "" && s.GraphClientID != "" && s.GraphClientSecret != "" &&
		s.GraphFromAddress != "" && s.GraphRecipients != ""
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasZabbix reports whether Zabbix notifications are configured.
func (s *Snapshot) HasZabbix() bool {
	return s.ZabbixServer != "" && s.ZabbixHost != "" && s.ZabbixKey != ""
}
