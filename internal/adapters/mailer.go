package adapters

import (
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/automation"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/email"
)

// Mailer returns sender as an automation.Mailer, or a nil interface when
// SMTP is not configured so email actions fall back to the CRM mailbox.
func Mailer(sender *email.SMTPSender) automation.Mailer {
	if sender == nil {
		return nil
	}
	return sender
}
