package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/shineum/outreach-mailer/internal/email"
	"github.com/shineum/outreach-mailer/internal/provider"
)

var _ provider.Provider = (*SMTPProvider)(nil)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func newTestProvider(d Dialer) *SMTPProvider {
	p := NewWithDialer("Outreach <hello@acme.io>", d)
	p.newID = func() string { return "fixed-id" }
	return p
}

func TestSend(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	p := newTestProvider(d)

	id, err := p.Send(context.Background(), &email.Email{
		To:       "lead@example.com",
		Subject:  "Acme question",
		TextBody: "Hi Ann,\n\nQuick question.",
		Headers:  map[string]string{"X-Lead-ID": "L-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<fixed-id@acme.io>", id)
	require.Len(t, d.sent, 1)

	m := d.sent[0]
	assert.Equal(t, []string{"Outreach <hello@acme.io>"}, m.GetHeader("From"))
	assert.Equal(t, []string{"lead@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"<fixed-id@acme.io>"}, m.GetHeader("Message-ID"))
	assert.Equal(t, []string{"L-1"}, m.GetHeader("X-Lead-ID"))

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Subject: Acme question")
	assert.Contains(t, buf.String(), "text/plain")
	assert.Contains(t, buf.String(), "Quick question.")
}

func TestSend_DialError(t *testing.T) {
	t.Parallel()

	p := newTestProvider(&fakeDialer{err: errors.New("535 auth failed")})

	_, err := p.Send(context.Background(), &email.Email{To: "lead@example.com"})
	var te *email.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "smtp", te.Provider)
	assert.Equal(t, "send", te.Op)
	assert.Contains(t, err.Error(), "535 auth failed")
}

func TestSend_CancelledContext(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	p := newTestProvider(d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Send(ctx, &email.Email{To: "lead@example.com"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.sent)
}

func TestNew_TLSServerName(t *testing.T) {
	t.Parallel()

	p := New(SMTPProviderConfig{
		Host:      "smtp.acme.io",
		Port:      465,
		SSL:       true,
		Sender:    "hello@acme.io",
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	})

	d, ok := p.dialer.(*gomail.Dialer)
	require.True(t, ok)
	assert.True(t, d.SSL)
	require.NotNil(t, d.TLSConfig)
	assert.Equal(t, "smtp.acme.io", d.TLSConfig.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), d.TLSConfig.MinVersion)
}

func TestSenderDomain(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"hello@acme.io":            "acme.io",
		"Outreach <hello@acme.io>": "acme.io",
		"no-at-sign":               "localhost",
		"trailing@":                "localhost",
	}
	for in, want := range tests {
		assert.Equal(t, want, senderDomain(in), in)
	}
}
