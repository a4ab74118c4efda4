// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/outreach-mailer/internal/email"
)

// Provider prints email messages in a human-readable format. It is the
// dry-run transport: nothing leaves the machine.
type Provider struct {
	writer io.Writer
	newID  func() string
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{
		writer: w,
		newID:  func() string { return "stdout-" + uuid.NewString() },
	}
}

// Send prints the message and returns a generated receipt id.
func (p *Provider) Send(_ context.Context, msg *email.Email) (string, error) {
	id := p.newID()

	var b strings.Builder
	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Receipt: %s\n", id)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", msg.To)

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, msg.Headers[k])
	}

	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")
	b.WriteString(msg.TextBody + "\n")
	b.WriteString("========================================\n")

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return "", &email.TransportError{Op: "send", Provider: p.Name(), Err: err}
	}
	return id, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}
