package server

import (
	"fmt"

	"github.com/micguard/micguard/internal/eventlog"
	"github.com/micguard/micguard/internal/incident"
	"github.com/micguard/micguard/internal/types"
)

// defaultEventLimit is used when events/recent does not specify a limit.
const defaultEventLimit = 50

// wsEventsResult is the reply to an events/recent command.
type wsEventsResult struct {
	Type    string           `json:"type"` // "events_result"
	Success bool             `json:"success"`
	Events  []eventlog.Event `json:"events,omitempty"`
	HasMore bool             `json:"has_more,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// handleDevicesList processes a devices/list command.
func (h *CommandHandler) handleDevicesList(send chan<- any) {
	devices, err := h.dir.Devices()
	if err != nil {
		SendError(send, "devices/list", err)
		return
	}

	trySend(send, "devices/list", types.WSDevicesResponse{
		Type:    "devices",
		Devices: devices,
	})
}

// handleEventsRecent processes an events/recent command. The journal is read
// newest-first with optional offset paging and type filtering.
func (h *CommandHandler) handleEventsRecent(cmd WSCommand, send chan<- any) {
	var req EventsRecentRequest
	if len(cmd.Data) > 0 {
		if !DecodeAndValidate(cmd, send, &req) {
			return
		}
	}
	if req.Limit == 0 {
		req.Limit = defaultEventLimit
	}
	if req.Limit > MaxEventEntries {
		req.Limit = MaxEventEntries
	}

	events, hasMore, err := eventlog.ReadLast(h.journal.Path(), req.Limit, req.Offset, eventlog.TypeFilter(req.Filter))
	if err != nil {
		trySend(send, cmd.Type, wsEventsResult{
			Type:  "events_result",
			Error: err.Error(),
		})
		return
	}

	trySend(send, cmd.Type, wsEventsResult{
		Type:    "events_result",
		Success: true,
		Events:  events,
		HasMore: hasMore,
	})
}

// handleFailoverTrigger processes a failover/trigger command. The search
// starts as if the silence timeout had just been reached.
func (h *CommandHandler) handleFailoverTrigger(cmd WSCommand, send chan<- any) {
	st := h.ctrl.Status()
	if st.LockMode {
		SendError(send, cmd.Type, fmt.Errorf("device lock active, failover disabled"))
		return
	}
	if st.State != "normal" {
		SendError(send, cmd.Type, fmt.Errorf("failover already in progress (state %s)", st.State))
		return
	}

	h.ctrl.TriggerFailover()
	SendSuccess(send, cmd.Type, nil)
}

// handleConfigGet processes a config/get command. Credential material is
// reduced to configured/not-configured booleans.
func (h *CommandHandler) handleConfigGet(send chan<- any) {
	snap := h.cfg.Snapshot()

	cfg := map[string]any{
		"detection": types.DetectionSettings{
			SilenceThresholdRMS:   snap.SilenceThresholdRMS,
			SilenceTimeoutSeconds: snap.SilenceTimeoutSeconds,
			SampleIntervalSeconds: snap.SampleIntervalSeconds,
			SampleDurationSeconds: snap.SampleDurationSeconds,
			DetectionEnabled:      snap.DetectionEnabled,
		},
		"devices": types.DevicePolicy{
			Priority: snap.Priority,
			Aliases:  snap.Aliases,
			Lock:     snap.LockQuery,
		},
		"notifications": map[string]any{
			"webhook": map[string]any{"url": snap.WebhookURL},
			"log":     map[string]any{"path": snap.LogPath},
			"email": map[string]any{
				"tenant_id":         snap.GraphTenantID,
				"client_id":         snap.GraphClientID,
				"client_secret_set": snap.GraphClientSecret != "",
				"from_address":      snap.GraphFromAddress,
				"recipients":        snap.GraphRecipients,
			},
			"zabbix": types.ZabbixConfig{
				Server: snap.ZabbixServer,
				Port:   snap.ZabbixPort,
				Host:   snap.ZabbixHost,
				Key:    snap.ZabbixKey,
			},
		},
		"incidents": map[string]any{
			"enabled":        snap.Incidents.Enabled,
			"directory":      snap.Incidents.Directory,
			"retention_days": snap.Incidents.RetentionDays,
			"s3_endpoint":    snap.Incidents.S3Endpoint,
			"s3_bucket":      snap.Incidents.S3Bucket,
			"s3_key_set":     snap.Incidents.S3AccessKeyID != "" && snap.Incidents.S3SecretAccessKey != "",
		},
	}

	trySend(send, "config/get", types.WSConfigResponse{
		Type:   "config",
		Config: cfg,
	})
}

// handleTestS3 processes an incidents/test-s3 command. Credentials from the
// request override stored ones so a new target can be verified before saving.
func (h *CommandHandler) handleTestS3(cmd WSCommand, send chan<- any) {
	snap := h.cfg.Snapshot()
	s3cfg := &incident.S3Config{
		Endpoint:        snap.Incidents.S3Endpoint,
		Bucket:          snap.Incidents.S3Bucket,
		AccessKeyID:     snap.Incidents.S3AccessKeyID,
		SecretAccessKey: snap.Incidents.S3SecretAccessKey,
	}

	if len(cmd.Data) > 0 {
		var req IncidentsUpdateRequest
		if !DecodeAndValidate(cmd, send, &req) {
			return
		}
		if req.S3Endpoint != nil {
			s3cfg.Endpoint = *req.S3Endpoint
		}
		if req.S3Bucket != nil {
			s3cfg.Bucket = *req.S3Bucket
		}
		if req.S3AccessKeyID != nil {
			s3cfg.AccessKeyID = *req.S3AccessKeyID
		}
		if req.S3SecretAccessKey != nil {
			s3cfg.SecretAccessKey = *req.S3SecretAccessKey
		}
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		if !s3cfg.IsConfigured() {
			return nil, fmt.Errorf("S3 upload not configured")
		}
		if err := incident.TestS3Connection(s3cfg); err != nil {
			return nil, err
		}
		return nil, nil
	})
}
