package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/micguard/micguard/internal/notify"
	"github.com/micguard/micguard/internal/types"
)

// runTest fires a test notification on the requested channel using the
// current configuration.
func (h *CommandHandler) runTest(testType string) error {
	snap := h.cfg.Snapshot()

	switch testType {
	case "webhook":
		if !snap.HasWebhook() {
			return fmt.Errorf("webhook URL not configured")
		}
		return notify.SendTestWebhook(snap.WebhookURL)
	case "email":
		if !snap.HasGraph() {
			return fmt.Errorf("email notifications not configured")
		}
		return notify.SendTestEmail(notify.BuildGraphConfig(snap))
	case "zabbix":
		if !snap.HasZabbix() {
			return fmt.Errorf("zabbix notifications not configured")
		}
		return notify.SendTestZabbix(snap.ZabbixServer, snap.ZabbixPort, snap.ZabbixHost, snap.ZabbixKey)
	case "log":
		if !snap.HasLogPath() {
			return fmt.Errorf("log file path not configured")
		}
		return notify.WriteTestLog(snap.LogPath)
	default:
		return fmt.Errorf("unknown test type: %s", testType)
	}
}

// handleTest executes a notification test and sends the result to the client.
// testCmd should be in format "test_<type>" (e.g., "test_email", "test_webhook").
func (h *CommandHandler) handleTest(send chan<- any, testCmd string) {
	testType := strings.TrimPrefix(testCmd, "test_")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "command", testCmd, "panic", r)
			}
		}()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := h.runTest(testType); err != nil {
			slog.Error("test failed", "command", testCmd, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "command", testCmd)
		}

		// Send via channel (non-blocking to prevent goroutine leak if channel is closed)
		select {
		case send <- result:
		default:
			slog.Warn("failed to send test response: channel full or closed", "command", testCmd)
		}
	}()
}
