// Package smtp implements a Provider that relays emails through an SMTP
// submission server with gomail.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/shineum/outreach-mailer/internal/email"
)

// SMTPProviderConfig holds the submission server settings.
type SMTPProviderConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
	// SSL selects implicit TLS (port 465). Otherwise STARTTLS is used when offered.
	SSL       bool
	TLSConfig *tls.Config
}

// Dialer is the gomail send surface. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPProvider sends one message per connection.
type SMTPProvider struct {
	sender string
	dialer Dialer
	newID  func() string
}

// New creates an SMTPProvider backed by a gomail dialer.
func New(cfg SMTPProviderConfig) *SMTPProvider {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.SSL
	if cfg.TLSConfig != nil {
		tc := cfg.TLSConfig.Clone()
		if tc.ServerName == "" {
			tc.ServerName = cfg.Host
		}
		d.TLSConfig = tc
	}
	return NewWithDialer(cfg.Sender, d)
}

// NewWithDialer creates an SMTPProvider with a custom dialer, used for testing.
func NewWithDialer(sender string, d Dialer) *SMTPProvider {
	return &SMTPProvider{
		sender: sender,
		dialer: d,
		newID:  uuid.NewString,
	}
}

// Send relays the message and returns the Message-ID it was stamped with.
func (p *SMTPProvider) Send(ctx context.Context, msg *email.Email) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &email.TransportError{Op: "send", Provider: p.Name(), Err: err}
	}

	messageID := fmt.Sprintf("<%s@%s>", p.newID(), senderDomain(p.sender))
	m := buildMessage(p.sender, messageID, msg)

	if err := p.dialer.DialAndSend(m); err != nil {
		return "", &email.TransportError{Op: "send", Provider: p.Name(), Err: err}
	}

	slog.Debug("smtp message relayed", "to", msg.To, "message_id", messageID)
	return messageID, nil
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}

func buildMessage(sender, messageID string, msg *email.Email) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", sender)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.SetHeader(k, msg.Headers[k])
	}

	m.SetBody("text/plain", msg.TextBody)
	return m
}

// senderDomain is the host part of the sender address, used as the
// Message-ID right-hand side.
func senderDomain(sender string) string {
	if i := strings.LastIndex(sender, "@"); i >= 0 && i < len(sender)-1 {
		return strings.TrimSuffix(sender[i+1:], ">")
	}
	return "localhost"
}
