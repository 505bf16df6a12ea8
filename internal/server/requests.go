package server

// WebSocket request structures with validation tags.
// All requests are validated using go-playground/validator before processing.

// SettingsUpdateRequest is the data for a settings/update command. Fields
// left null keep their current values.
type SettingsUpdateRequest struct {
	SilenceThresholdRMS   *float64 `json:"silence_threshold_rms" validate:"omitempty,gt=0,lte=1"`
	SilenceTimeoutSeconds *float64 `json:"silence_timeout_seconds" validate:"omitempty,gte=1,lte=3600"`
	SampleIntervalSeconds *float64 `json:"sample_interval_seconds" validate:"omitempty,gte=1,lte=3600"`
	SampleDurationSeconds *float64 `json:"sample_duration_seconds" validate:"omitempty,gt=0,lte=60"`
	Enabled               *bool    `json:"enabled"`
}

// PrioritySetRequest is the data for a priority/set command. An empty list
// clears the priority order and parks the controller.
type PrioritySetRequest struct {
	Priority []string `json:"priority" validate:"max=32,dive,min=1,max=256"`
}

// AliasesSetRequest is the data for an aliases/set command. The full alias
// map is replaced atomically.
type AliasesSetRequest struct {
	Aliases map[string]string `json:"aliases" validate:"max=64,dive,keys,min=1,max=64,endkeys,min=1,max=256"`
}

// LockSetRequest is the data for a lock/set command. An empty query clears
// the lock and returns to priority-based selection.
type LockSetRequest struct {
	Query string `json:"query" validate:"max=256"`
}

// WebhookUpdateRequest is the data for a notifications/webhook/update command.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url"`
}

// LogUpdateRequest is the data for a notifications/log/update command.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// EmailUpdateRequest is the data for a notifications/email/update command.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,uuid"`
	ClientID     string `json:"client_id" validate:"omitempty,uuid"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=512"`
	FromAddress  string `json:"from_address" validate:"omitempty,email"`
	Recipients   string `json:"recipients" validate:"omitempty,max=2048"`
}

// ZabbixUpdateRequest is the data for a notifications/zabbix/update command.
type ZabbixUpdateRequest struct {
	Server string `json:"server" validate:"omitempty,hostname|ip"`
	Port   int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Host   string `json:"host" validate:"omitempty,max=256"`
	Key    string `json:"key" validate:"omitempty,max=256"`
}

// IncidentsUpdateRequest is the data for an incidents/update command. Fields
// left null keep their current values.
type IncidentsUpdateRequest struct {
	Enabled           *bool   `json:"enabled"`
	Directory         *string `json:"directory" validate:"omitempty,max=4096"`
	RetentionDays     *int    `json:"retention_days" validate:"omitempty,gte=0,lte=365"`
	S3Endpoint        *string `json:"s3_endpoint" validate:"omitempty,url"`
	S3Bucket          *string `json:"s3_bucket" validate:"omitempty,max=256"`
	S3AccessKeyID     *string `json:"s3_access_key_id" validate:"omitempty,max=256"`
	S3SecretAccessKey *string `json:"s3_secret_access_key" validate:"omitempty,max=256"`
}

// EventsRecentRequest is the data for an events/recent command.
type EventsRecentRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=100"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=silence failover device incident"`
}
