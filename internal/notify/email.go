package notify

import (
	"fmt"

	"github.com/micguard/micguard/internal/util"
)

// SendIncidentEmail mails an incident audio dump as a WAV attachment.
func SendIncidentEmail(cfg *GraphConfig, device, filename string, data []byte) error {
	if !IsConfigured(cfg) {
		return nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	subject := "[ALERT] Incident Audio - " + AppName
	body := fmt.Sprintf(
		"Audio captured around a microphone failover is attached.\n\n"+
			"Device: %s\n"+
			"File:   %s\n"+
			"Time:   %s\n\n"+
			"The recording covers the moments leading up to the silence timeout.",
		device, filename, util.HumanTime(),
	)

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	attachment := &EmailAttachment{
		Filename:    filename,
		ContentType: "audio/wav",
		Data:        data,
	}

	if err := client.SendMailWithAttachment(recipients, subject, body, attachment); err != nil {
		return util.WrapError("send email via Graph", err)
	}

	return nil
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(cfg *GraphConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	// Validate authentication first
	if err := client.ValidateAuth(); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	subject := "[TEST] " + AppName
	body := fmt.Sprintf(
		"Test email from the microphone failover daemon.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		util.HumanTime(),
	)

	recipients := ParseRecipients(cfg.Recipients)
	if err := client.SendMail(recipients, subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}
