package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/micguard/micguard/internal/util"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event          string  `json:"event"`
	Device         string  `json:"device,omitempty"`
	FallbackDevice string  `json:"fallback_device,omitempty"`
	SilentSeconds  float64 `json:"silent_seconds,omitempty"`
	DurationMs     int64   `json:"duration_ms,omitempty"`
	ThresholdRMS   float64 `json:"threshold_rms,omitempty"`
	Message        string  `json:"message,omitempty"`
	Timestamp      string  `json:"timestamp"`
}

// SendDegradationWebhook notifies the configured webhook that the active
// microphone went silent past the timeout.
func SendDegradationWebhook(webhookURL, device string, silentSeconds, thresholdRMS float64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:         "microphone_silent",
		Device:        device,
		SilentSeconds: silentSeconds,
		ThresholdRMS:  thresholdRMS,
		Timestamp:     timestampUTC(),
	})
}

// SendFallbackWebhook notifies that a backup device took over.
func SendFallbackWebhook(webhookURL, primary, fallback string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:          "fallback_committed",
		Device:         primary,
		FallbackDevice: fallback,
		Timestamp:      timestampUTC(),
	})
}

// SendExhaustedWebhook notifies that no backup device was available.
func SendExhaustedWebhook(webhookURL, primary string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "fallback_exhausted",
		Device:    primary,
		Message:   "No ranked backup device produced signal. Input parked on the silent primary.",
		Timestamp: timestampUTC(),
	})
}

// SendRecoveryWebhook notifies that the preferred device recovered.
func SendRecoveryWebhook(webhookURL, device string, durationMs int64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:      "microphone_restored",
		Device:     device,
		DurationMs: durationMs,
		Timestamp:  timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
