// Package notify delivers degradation alerts to external channels: a JSON
// webhook, email via Microsoft Graph, Zabbix trapper items, and a local log
// file. One alert per channel per degradation period; the period opens when
// the silence timeout fires and closes when the primary is restored.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/micguard/micguard/internal/audio"
	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/failover"
	"github.com/micguard/micguard/internal/util"
)

// DegradationNotifier listens to the failover event stream and fans alerts
// out to every configured channel.
type DegradationNotifier struct {
	failover.NopListener
	cfg *config.Config

	// mu protects the notification state fields below
	mu sync.Mutex

	// Track which notifications have been sent for the current period
	webhookSent bool
	emailSent   bool
	zabbixSent  bool
	logSent     bool

	degradedSince time.Time
	primaryName   string

	// Cached Graph client for email notifications
	graphClient *GraphClient
}

// NewDegradationNotifier returns a notifier configured with the given config.
func NewDegradationNotifier(cfg *config.Config) *DegradationNotifier {
	return &DegradationNotifier{cfg: cfg}
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *DegradationNotifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *DegradationNotifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// SilenceTimeoutReached opens a degradation period and sends the start
// alerts. Repeated timeouts within one period are deduplicated per channel.
func (n *DegradationNotifier) SilenceTimeoutReached(dev audio.Device, accumulatedSeconds float64) {
	cfg := n.cfg.Snapshot()

	n.mu.Lock()
	if n.degradedSince.IsZero() {
		n.degradedSince = time.Now()
		n.primaryName = dev.Name
	}
	n.mu.Unlock()

	n.trySend(&n.webhookSent, cfg.HasWebhook(), func() {
		util.LogNotifyResult(func() error {
			return SendDegradationWebhook(cfg.WebhookURL, dev.Name, accumulatedSeconds, cfg.SilenceThresholdRMS)
		}, "Degradation webhook")
	})
	n.trySend(&n.emailSent, cfg.HasGraph(), func() {
		n.sendDegradationEmail(cfg, dev.Name, accumulatedSeconds)
	})
	n.trySend(&n.zabbixSent, cfg.HasZabbix(), func() {
		util.LogNotifyResult(func() error {
			return SendDegradationZabbix(cfg.ZabbixServer, cfg.ZabbixPort, cfg.ZabbixHost, cfg.ZabbixKey,
				dev.Name, accumulatedSeconds, cfg.SilenceThresholdRMS)
		}, "Degradation zabbix")
	})
	n.trySend(&n.logSent, cfg.HasLogPath(), func() {
		util.LogNotifyResult(func() error {
			return LogDegradationStart(cfg.LogPath, dev.Name, accumulatedSeconds, cfg.SilenceThresholdRMS)
		}, "Degradation log")
	})
}

// FallbackCommitted records which backup took over; it does not open a new
// notification period.
func (n *DegradationNotifier) FallbackCommitted(dev audio.Device, query string) {
	cfg := n.cfg.Snapshot()
	if cfg.HasWebhook() {
		go util.LogNotifyResult(func() error {
			return SendFallbackWebhook(cfg.WebhookURL, n.primary(), dev.Name)
		}, "Fallback webhook")
	}
}

// FallbackExhausted alerts that silence persists with no backup available.
func (n *DegradationNotifier) FallbackExhausted() {
	cfg := n.cfg.Snapshot()
	if cfg.HasWebhook() {
		go util.LogNotifyResult(func() error {
			return SendExhaustedWebhook(cfg.WebhookURL, n.primary())
		}, "Exhausted webhook")
	}
	if cfg.HasZabbix() {
		go util.LogNotifyResult(func() error {
			return SendExhaustedZabbix(cfg.ZabbixServer, cfg.ZabbixPort, cfg.ZabbixHost, cfg.ZabbixKey, n.primary())
		}, "Exhausted zabbix")
	}
}

// PrimaryRestored closes the degradation period and sends recovery alerts on
// every channel that sent a start alert.
func (n *DegradationNotifier) PrimaryRestored(primary audio.Device) {
	cfg := n.cfg.Snapshot()

	n.mu.Lock()
	durationMs := int64(0)
	if !n.degradedSince.IsZero() {
		durationMs = time.Since(n.degradedSince).Milliseconds()
	}
	sendWebhook := n.webhookSent
	sendEmail := n.emailSent
	sendZabbix := n.zabbixSent
	sendLog := n.logSent
	n.webhookSent, n.emailSent, n.zabbixSent, n.logSent = false, false, false, false
	n.degradedSince = time.Time{}
	n.primaryName = ""
	n.mu.Unlock()

	if sendWebhook {
		go util.LogNotifyResult(func() error {
			return SendRecoveryWebhook(cfg.WebhookURL, primary.Name, durationMs)
		}, "Recovery webhook")
	}
	if sendEmail {
		go n.sendRecoveryEmail(cfg, primary.Name, durationMs)
	}
	if sendZabbix {
		go util.LogNotifyResult(func() error {
			return SendRecoveryZabbix(cfg.ZabbixServer, cfg.ZabbixPort, cfg.ZabbixHost, cfg.ZabbixKey,
				primary.Name, durationMs)
		}, "Recovery zabbix")
	}
	if sendLog {
		go util.LogNotifyResult(func() error {
			return LogDegradationEnd(cfg.LogPath, primary.Name, durationMs)
		}, "Recovery log")
	}
}

// Reset clears the notification state.
func (n *DegradationNotifier) Reset() {
	n.mu.Lock()
	n.webhookSent, n.emailSent, n.zabbixSent, n.logSent = false, false, false, false
	n.degradedSince = time.Time{}
	n.primaryName = ""
	n.mu.Unlock()
}

func (n *DegradationNotifier) primary() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.primaryName
}

// trySend sends a notification if the condition is met and not already sent.
func (n *DegradationNotifier) trySend(sent *bool, condition bool, sender func()) {
	n.mu.Lock()
	shouldSend := !*sent && condition
	if shouldSend {
		*sent = true
	}
	n.mu.Unlock()
	if shouldSend {
		go sender()
	}
}

// BuildGraphConfig creates a GraphConfig from the config snapshot.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func BuildGraphConfig(cfg config.Snapshot) *GraphConfig {
	return &GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	}
}

//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *DegradationNotifier) sendDegradationEmail(cfg config.Snapshot, device string, silentSeconds float64) {
	graphCfg := BuildGraphConfig(cfg)
	util.LogNotifyResult(func() error {
		subject := "[ALERT] Microphone Silent - " + AppName
		body := fmt.Sprintf(
			"The active microphone went silent.\n\n"+
				"Device:    %s\n"+
				"Silent:    %.1f s (accumulated)\n"+
				"Time:      %s\n\n"+
				"A failover to the next ranked device is in progress.",
			device, silentSeconds, util.HumanTime(),
		)
		return n.sendEmail(graphCfg, subject, body)
	}, "Degradation email")
}

//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *DegradationNotifier) sendRecoveryEmail(cfg config.Snapshot, device string, durationMs int64) {
	graphCfg := BuildGraphConfig(cfg)
	util.LogNotifyResult(func() error {
		subject := "[OK] Microphone Restored - " + AppName
		body := fmt.Sprintf(
			"The preferred microphone is active again.\n\n"+
				"Device:          %s\n"+
				"Degraded for:    %s\n"+
				"Time:            %s",
			device, util.FormatDuration(durationMs), util.HumanTime(),
		)
		return n.sendEmail(graphCfg, subject, body)
	}, "Recovery email")
}

// sendEmail handles the common email sending infrastructure.
func (n *DegradationNotifier) sendEmail(cfg *GraphConfig, subject, body string) error {
	if !IsConfigured(cfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	if err := client.SendMail(recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}

	return nil
}
