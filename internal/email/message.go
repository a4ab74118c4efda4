// Package email defines the mail data model shared by the outbound providers,
// the mailbox reader and the bounce classifier.
package email

import (
	"fmt"
	"strings"
)

// Email is one outbound message addressed to a single lead.
type Email struct {
	From     string
	To       string
	Subject  string
	TextBody string
	// Headers are extra header fields such as X-Lead-ID.
	Headers map[string]string
}

// Message is a fetched mailbox message as a tree of typed parts.
type Message struct {
	ID      string
	Subject string
	From    string
	// Snippet is a short plain-text preview, the last-resort text source.
	Snippet string
	Root    *Part
}

// PartKind is the explicit type tag the classifier dispatches on.
type PartKind int

const (
	KindOther PartKind = iota
	KindPlainText
	KindDeliveryStatus
	KindMultipart
)

func (k PartKind) String() string {
	switch k {
	case KindPlainText:
		return "plain_text"
	case KindDeliveryStatus:
		return "delivery_status"
	case KindMultipart:
		return "multipart"
	default:
		return "other"
	}
}

// Part is one MIME entity. Body holds the transfer-decoded payload and is
// empty for multipart containers.
type Part struct {
	MIMEType string
	Body     []byte
	Parts    []*Part
}

// Kind classifies the part by its media type.
func (p *Part) Kind() PartKind {
	mt := strings.ToLower(strings.TrimSpace(p.MIMEType))
	switch {
	case mt == "message/delivery-status", mt == "message/global-delivery-status":
		return KindDeliveryStatus
	case strings.HasPrefix(mt, "text/plain"):
		return KindPlainText
	case strings.HasPrefix(mt, "multipart/"):
		return KindMultipart
	default:
		return KindOther
	}
}

// TransportError reports a failed send, search or fetch against a mail
// transport. It is transient and localised to the operation that raised it.
type TransportError struct {
	Op       string
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s via %s: %v", e.Op, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
