package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/micguard/micguard/internal/audio"
	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/eventlog"
	"github.com/micguard/micguard/internal/failover"
	"github.com/micguard/micguard/internal/notify"
)

// MaxEventEntries caps how many journal entries a single events/recent
// request may return.
const MaxEventEntries = 100

// DeviceLister enumerates the capture devices currently attached.
type DeviceLister interface {
	Devices() ([]audio.Device, error)
}

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg      *config.Config
	ctrl     *failover.Controller
	dir      DeviceLister
	notifier *notify.DegradationNotifier
	expiry   *notify.SecretExpiryChecker
	journal  *eventlog.Logger
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, ctrl *failover.Controller, dir DeviceLister, notifier *notify.DegradationNotifier, expiry *notify.SecretExpiryChecker, journal *eventlog.Logger) *CommandHandler {
	return &CommandHandler{
		cfg:      cfg,
		ctrl:     ctrl,
		dir:      dir,
		notifier: notifier,
		expiry:   expiry,
		journal:  journal,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "settings/update",
// "notifications/webhook/test").
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "settings":
		h.handleSettings(action, cmd, send)
	case "priority":
		h.handlePriority(action, cmd, send)
	case "aliases":
		h.handleAliases(action, cmd, send)
	case "lock":
		h.handleLock(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "incidents":
		h.handleIncidents(action, cmd, send)
	case "devices":
		h.handleDevices(action, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "failover":
		h.handleFailover(action, cmd, send)
	case "config":
		h.handleConfig(action, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace routers ---

// handleSettings routes settings/* commands
func (h *CommandHandler) handleSettings(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleSettingsUpdate(cmd, send)
	default:
		slog.Warn("unknown settings action", "action", action)
	}
}

// handlePriority routes priority/* commands
func (h *CommandHandler) handlePriority(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "set":
		h.handlePrioritySet(cmd, send)
	default:
		slog.Warn("unknown priority action", "action", action)
	}
}

// handleAliases routes aliases/* commands
func (h *CommandHandler) handleAliases(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "set":
		h.handleAliasesSet(cmd, send)
	default:
		slog.Warn("unknown aliases action", "action", action)
	}
}

// handleLock routes lock/* commands
func (h *CommandHandler) handleLock(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "set":
		h.handleLockSet(cmd, send)
	default:
		slog.Warn("unknown lock action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			h.handleWebhookUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_webhook")
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "email":
		switch subaction {
		case "update":
			h.handleEmailUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_email")
		default:
			slog.Warn("unknown email action", "subaction", subaction)
		}
	case "zabbix":
		switch subaction {
		case "update":
			h.handleZabbixUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_zabbix")
		default:
			slog.Warn("unknown zabbix action", "subaction", subaction)
		}
	case "log":
		switch subaction {
		case "update":
			h.handleLogUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_log")
		default:
			slog.Warn("unknown log action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleIncidents routes incidents/* commands
func (h *CommandHandler) handleIncidents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleIncidentsUpdate(cmd, send)
	case "test-s3":
		h.handleTestS3(cmd, send)
	default:
		slog.Warn("unknown incidents action", "action", action)
	}
}

// handleDevices routes devices/* commands
func (h *CommandHandler) handleDevices(action string, send chan<- any) {
	switch action {
	case "list":
		h.handleDevicesList(send)
	default:
		slog.Warn("unknown devices action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "recent":
		h.handleEventsRecent(cmd, send)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleFailover routes failover/* commands
func (h *CommandHandler) handleFailover(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "trigger":
		h.handleFailoverTrigger(cmd, send)
	default:
		slog.Warn("unknown failover action", "action", action)
	}
}

// handleConfig routes config/* commands
func (h *CommandHandler) handleConfig(action string, send chan<- any) {
	switch action {
	case "get":
		h.handleConfigGet(send)
	default:
		slog.Warn("unknown config action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get", "":
		// Status is pushed after every command; nothing extra to do.
		slog.Debug("status requested, update will be pushed")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
