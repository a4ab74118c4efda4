// Package lead defines the outreach lead record and the row updates written
// back to the lead store.
package lead

import (
	"regexp"
	"strings"
	"time"
)

// Status is the delivery lifecycle state of a lead.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSent     Status = "SENT"
	StatusFailed   Status = "FAILED"
	StatusVerified Status = "VERIFIED"
)

// ParseStatus normalises a stored status value. Blank values read as
// StatusPending; unknown values are kept upper-cased so they are never
// mistaken for a pending lead.
func ParseStatus(s string) Status {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return StatusPending
	}
	return Status(s)
}

// Terminal reports whether the core no longer transitions this status.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed
}

// Field names a recognised lead column.
type Field string

const (
	FieldLeadID       Field = "lead_id"
	FieldEmail        Field = "email"
	FieldFirstName    Field = "first_name"
	FieldCompany      Field = "company"
	FieldStatus       Field = "status"
	FieldSentAt       Field = "sent_at"
	FieldGmailMsgID   Field = "gmail_msg_id"
	FieldBounceCode   Field = "bounce_code"
	FieldBounceReason Field = "bounce_reason"
	FieldVerifiedAt   Field = "verified_at"
)

// Fields lists every recognised column in canonical order.
var Fields = []Field{
	FieldLeadID,
	FieldEmail,
	FieldFirstName,
	FieldCompany,
	FieldStatus,
	FieldSentAt,
	FieldGmailMsgID,
	FieldBounceCode,
	FieldBounceReason,
	FieldVerifiedAt,
}

// Lead is one outreach target, one row in the store.
type Lead struct {
	// Row is the 1-based sheet row; the header occupies row 1.
	Row          int
	LeadID       string
	Email        string
	FirstName    string
	Company      string
	Status       Status
	SentAt       string
	GmailMsgID   string
	BounceCode   string
	BounceReason string
	VerifiedAt   string
}

// FromValues builds a Lead from recognised column values. Missing fields are
// empty and a missing status defaults to pending.
func FromValues(row int, values map[Field]string) Lead {
	return Lead{
		Row:          row,
		LeadID:       strings.TrimSpace(values[FieldLeadID]),
		Email:        strings.TrimSpace(values[FieldEmail]),
		FirstName:    strings.TrimSpace(values[FieldFirstName]),
		Company:      strings.TrimSpace(values[FieldCompany]),
		Status:       ParseStatus(values[FieldStatus]),
		SentAt:       values[FieldSentAt],
		GmailMsgID:   values[FieldGmailMsgID],
		BounceCode:   values[FieldBounceCode],
		BounceReason: values[FieldBounceReason],
		VerifiedAt:   values[FieldVerifiedAt],
	}
}

// Value returns the lead's value for a recognised field.
func (l Lead) Value(f Field) string {
	switch f {
	case FieldLeadID:
		return l.LeadID
	case FieldEmail:
		return l.Email
	case FieldFirstName:
		return l.FirstName
	case FieldCompany:
		return l.Company
	case FieldStatus:
		return string(l.Status)
	case FieldSentAt:
		return l.SentAt
	case FieldGmailMsgID:
		return l.GmailMsgID
	case FieldBounceCode:
		return l.BounceCode
	case FieldBounceReason:
		return l.BounceReason
	case FieldVerifiedAt:
		return l.VerifiedAt
	}
	return ""
}

var headerSeparators = regexp.MustCompile(`[\s\-]+`)

// NormalizeHeader canonicalises a column header: trimmed, lower-cased, with
// every run of whitespace and hyphens collapsed to one underscore.
func NormalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return headerSeparators.ReplaceAllString(s, "_")
}

// FormatTime renders a timestamp the way every lead timestamp is stored.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
