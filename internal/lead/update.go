package lead

import (
	"fmt"
	"time"
)

// Update is a single-row write: the row to touch and the ordered field/value
// pairs to place there.
type Update struct {
	Row    int
	Fields []Field
	Values []string
}

// Set appends a field/value pair to the update.
func (u *Update) Set(f Field, v string) *Update {
	u.Fields = append(u.Fields, f)
	u.Values = append(u.Values, v)
	return u
}

// Get returns the value staged for f, if any.
func (u Update) Get(f Field) (string, bool) {
	for i, field := range u.Fields {
		if field == f {
			return u.Values[i], true
		}
	}
	return "", false
}

// Apply returns a copy of l with the update's values applied.
func (u Update) Apply(l Lead) Lead {
	for i, f := range u.Fields {
		v := u.Values[i]
		switch f {
		case FieldLeadID:
			l.LeadID = v
		case FieldEmail:
			l.Email = v
		case FieldFirstName:
			l.FirstName = v
		case FieldCompany:
			l.Company = v
		case FieldStatus:
			l.Status = ParseStatus(v)
		case FieldSentAt:
			l.SentAt = v
		case FieldGmailMsgID:
			l.GmailMsgID = v
		case FieldBounceCode:
			l.BounceCode = v
		case FieldBounceReason:
			l.BounceReason = v
		case FieldVerifiedAt:
			l.VerifiedAt = v
		}
	}
	return l
}

// Sent records a successful send.
func Sent(l Lead, at time.Time, messageID string) Update {
	u := Update{Row: l.Row}
	u.Set(FieldStatus, string(StatusSent)).
		Set(FieldSentAt, FormatTime(at)).
		Set(FieldGmailMsgID, messageID)
	return u
}

// SendFailed records a transport failure at send time.
func SendFailed(l Lead, at time.Time, cause error) Update {
	u := Update{Row: l.Row}
	u.Set(FieldStatus, string(StatusFailed)).
		Set(FieldSentAt, FormatTime(at)).
		Set(FieldGmailMsgID, "").
		Set(FieldBounceCode, "").
		Set(FieldBounceReason, fmt.Sprintf("send_error: %v", cause))
	return u
}

// Bounced records a confirmed bounce found by verification. The send
// receipt columns are rewritten with their existing values.
func Bounced(l Lead, at time.Time, code, reason string) Update {
	u := Update{Row: l.Row}
	u.Set(FieldStatus, string(StatusFailed)).
		Set(FieldSentAt, l.SentAt).
		Set(FieldGmailMsgID, l.GmailMsgID).
		Set(FieldBounceCode, code).
		Set(FieldBounceReason, reason).
		Set(FieldVerifiedAt, FormatTime(at))
	return u
}

// Verified records that no confirmed bounce was observed.
func Verified(l Lead, at time.Time) Update {
	u := Update{Row: l.Row}
	u.Set(FieldStatus, string(StatusVerified)).
		Set(FieldSentAt, l.SentAt).
		Set(FieldGmailMsgID, l.GmailMsgID).
		Set(FieldBounceCode, "").
		Set(FieldBounceReason, "").
		Set(FieldVerifiedAt, FormatTime(at))
	return u
}
