package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/failover"
	"github.com/micguard/micguard/internal/notify"
	"github.com/micguard/micguard/internal/util"
)

// --- Detection settings handlers ---

// handleSettingsUpdate processes a settings/update command.
func (h *CommandHandler) handleSettingsUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *SettingsUpdateRequest) error {
		if err := h.cfg.SetDetection(func(d *config.DetectionConfig) {
			if req.SilenceThresholdRMS != nil {
				d.SilenceThresholdRMS = *req.SilenceThresholdRMS
			}
			if req.SilenceTimeoutSeconds != nil {
				d.SilenceTimeoutSeconds = *req.SilenceTimeoutSeconds
			}
			if req.SampleIntervalSeconds != nil {
				d.SampleIntervalSeconds = *req.SampleIntervalSeconds
			}
			if req.SampleDurationSeconds != nil {
				d.SampleDurationSeconds = *req.SampleDurationSeconds
			}
			if req.Enabled != nil {
				d.Enabled = req.Enabled
			}
		}); err != nil {
			return err
		}

		slog.Info("settings/update: detection settings changed")
		h.ctrl.ApplySettings()
		return nil
	})
}

// --- Device policy handlers ---

// handlePrioritySet processes a priority/set command.
func (h *CommandHandler) handlePrioritySet(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *PrioritySetRequest) error {
		if err := h.cfg.SetPriority(req.Priority); err != nil {
			return err
		}

		slog.Info("priority/set: priority list replaced", "entries", len(req.Priority))
		h.ctrl.ApplyDevicePolicy()
		return nil
	})
}

// handleAliasesSet processes an aliases/set command.
func (h *CommandHandler) handleAliasesSet(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *AliasesSetRequest) error {
		if err := h.cfg.SetAliases(req.Aliases); err != nil {
			return err
		}

		slog.Info("aliases/set: alias map replaced", "entries", len(req.Aliases))
		h.ctrl.ApplyDevicePolicy()
		return nil
	})
}

// handleLockSet processes a lock/set command. A non-empty query must resolve
// to exactly one currently attached device; the lock (or its removal) takes
// effect immediately, without a restart.
func (h *CommandHandler) handleLockSet(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *LockSetRequest) error {
		query := strings.TrimSpace(req.Query)
		if query != "" {
			devices, err := h.dir.Devices()
			if err != nil {
				return fmt.Errorf("enumerate devices: %w", err)
			}
			snap := h.cfg.Snapshot()
			switch res := failover.Resolve(query, snap.Aliases, devices); res.Kind {
			case failover.NoMatch:
				return fmt.Errorf("lock query %q matches no device", query)
			case failover.Ambiguous:
				names := make([]string, len(res.Matches))
				for i, d := range res.Matches {
					names[i] = d.Name
				}
				return fmt.Errorf("lock query %q is ambiguous: matches %s", query, strings.Join(names, ", "))
			}
		}

		if err := h.cfg.SetLock(query); err != nil {
			return err
		}

		if query == "" {
			slog.Info("lock/set: lock cleared, returning to priority mode")
		} else {
			slog.Info("lock/set: device locked", "query", query)
		}
		h.ctrl.ApplyDevicePolicy()
		return nil
	})
}

// --- Notification settings handlers ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleLogUpdate processes a notifications/log/update command.
func (h *CommandHandler) handleLogUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *LogUpdateRequest) error {
		return h.cfg.SetLogPath(req.Path)
	})
}

// handleEmailUpdate processes a notifications/email/update command.
func (h *CommandHandler) handleEmailUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *EmailUpdateRequest) error {
		if err := h.cfg.SetGraphConfig(
			req.TenantID,
			req.ClientID,
			req.ClientSecret,
			req.FromAddress,
			req.Recipients,
		); err != nil {
			return err
		}
		h.notifier.InvalidateGraphClient()
		h.expiry.UpdateConfig(notify.BuildGraphConfig(h.cfg.Snapshot()))
		return nil
	})
}

// handleZabbixUpdate processes a notifications/zabbix/update command.
func (h *CommandHandler) handleZabbixUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ZabbixUpdateRequest) error {
		return h.cfg.SetZabbixConfig(req.Server, req.Port, req.Host, req.Key)
	})
}

// --- Incident settings handlers ---

// handleIncidentsUpdate processes an incidents/update command.
func (h *CommandHandler) handleIncidentsUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *IncidentsUpdateRequest) error {
		if req.Directory != nil && *req.Directory != "" {
			if err := util.CheckPathWritable(*req.Directory); err != nil {
				return err
			}
		}
		return h.cfg.SetIncidents(func(inc *config.IncidentConfig) {
			if req.Enabled != nil {
				inc.Enabled = *req.Enabled
			}
			if req.Directory != nil {
				inc.Directory = *req.Directory
			}
			if req.RetentionDays != nil {
				inc.RetentionDays = *req.RetentionDays
			}
			if req.S3Endpoint != nil {
				inc.S3Endpoint = *req.S3Endpoint
			}
			if req.S3Bucket != nil {
				inc.S3Bucket = *req.S3Bucket
			}
			if req.S3AccessKeyID != nil {
				inc.S3AccessKeyID = *req.S3AccessKeyID
			}
			if req.S3SecretAccessKey != nil {
				inc.S3SecretAccessKey = *req.S3SecretAccessKey
			}
		})
	})
}
