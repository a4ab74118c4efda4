// Package provider defines the interface for outbound email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/outreach-mailer/internal/email"
)

// Provider is the send side of the mail transport. Each provider delivers
// one message to one lead through its backing service (SES, SMTP, Graph,
// stdout).
type Provider interface {
	// Send delivers an email message and returns the transport's receipt id
	// for it. Failures are reported as *email.TransportError.
	Send(ctx context.Context, msg *email.Email) (string, error)

	// Name returns the human-readable name of this provider.
	Name() string
}
