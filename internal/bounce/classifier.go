// Package bounce extracts recipient-level rejection outcomes from fetched
// bounce messages and decides which of them are confirmed failures.
package bounce

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shineum/outreach-mailer/internal/email"
)

// maxReasonLen caps every extracted reason, in characters.
const maxReasonLen = 500

// responseMarker introduces the remote server's reply in Gmail bounces.
const responseMarker = "the response was:"

var (
	responseMarkerRe = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(responseMarker))
	smtpReplyLineRe  = regexp.MustCompile(`(?m)^\s*(\d{3}\s+\d\.\d{1,3}\.\d{1,3}\s+.+)$`)
	enhancedStatusRe = regexp.MustCompile(`\b([245]\.\d{1,3}\.\d{1,3})\b`)
	addressRe        = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	blankLineRe      = regexp.MustCompile(`\n[ \t]*\n`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// Outcome is one classified rejection signal extracted from one message.
type Outcome struct {
	// Email is the lower-cased recipient address.
	Email string
	// Status is the enhanced status code, possibly empty.
	Status string
	// Diagnostic is the raw Diagnostic-Code text, possibly empty.
	Diagnostic string
	// Reason is a best-effort human-readable explanation.
	Reason string
}

// Classify returns the outcomes found in msg. Delivery-status blocks are
// preferred; when none of them names a recipient, addresses are recovered
// heuristically from the message text. It never fails: a message with
// nothing extractable yields nil.
func Classify(msg *email.Message) []Outcome {
	if msg == nil {
		return nil
	}

	content := collect(msg.Root)
	snippet := strings.TrimSpace(msg.Snippet)
	combined := strings.TrimSpace(strings.Join(content.texts, "\n\n"))

	fallbackReason := func() string {
		if combined != "" {
			return BestReason(combined)
		}
		return snippet
	}

	var outcomes []Outcome
	for _, block := range content.statusBlocks {
		for _, rec := range parseDeliveryStatus(block) {
			reason := rec.diagnostic
			if reason == "" {
				reason = fallbackReason()
			}
			outcomes = append(outcomes, Outcome{
				Email:      rec.recipient,
				Status:     rec.status,
				Diagnostic: rec.diagnostic,
				Reason:     reason,
			})
		}
	}
	if len(outcomes) > 0 {
		return outcomes
	}

	text := combined
	if text == "" {
		text = snippet
	}
	addresses := uniqueAddresses(text)
	if len(addresses) == 0 {
		slog.Debug("no bounce outcome extractable", "message_id", msg.ID)
		return nil
	}

	status := ""
	if m := enhancedStatusRe.FindStringSubmatch(text); m != nil {
		status = m[1]
	}
	reason := fallbackReason()

	outcomes = make([]Outcome, 0, len(addresses))
	for _, addr := range addresses {
		outcomes = append(outcomes, Outcome{Email: addr, Status: status, Reason: reason})
	}
	return outcomes
}

// content is the text gathered from a part tree.
type content struct {
	statusBlocks []string
	texts        []string
}

// collect walks the part tree depth-first in document order with an
// explicit stack, dispatching on each part's kind tag.
func collect(root *email.Part) content {
	var c content
	if root == nil {
		return c
	}

	stack := []*email.Part{root}
	for len(stack) > 0 {
		part := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if part == nil {
			continue
		}

		switch part.Kind() {
		case email.KindDeliveryStatus:
			if len(part.Body) > 0 {
				c.statusBlocks = append(c.statusBlocks, decodeText(part.Body))
			}
		case email.KindPlainText:
			if len(part.Body) > 0 {
				c.texts = append(c.texts, decodeText(part.Body))
			}
		}

		for i := len(part.Parts) - 1; i >= 0; i-- {
			stack = append(stack, part.Parts[i])
		}
	}
	return c
}

// decodeText converts a decoded body to text with LF line endings.
func decodeText(b []byte) string {
	s := strings.ToValidUTF8(string(b), "�")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// dsnRecord holds the per-recipient fields of one DSN group.
type dsnRecord struct {
	recipient  string
	status     string
	diagnostic string
}

// parseDeliveryStatus reads the blank-line separated groups of a
// delivery-status block. Only groups naming a final recipient are kept.
func parseDeliveryStatus(block string) []dsnRecord {
	var records []dsnRecord
	for _, group := range blankLineRe.Split(block, -1) {
		var rec dsnRecord
		var haveRecipient, haveStatus, haveDiag bool

		for _, line := range unfold(group) {
			lower := strings.ToLower(line)
			switch {
			case strings.HasPrefix(lower, "final-recipient:") && !haveRecipient:
				rec.recipient = recipientValue(line)
				haveRecipient = true
			case strings.HasPrefix(lower, "status:") && !haveStatus:
				rec.status = afterFirst(line, ":")
				haveStatus = true
			case strings.HasPrefix(lower, "diagnostic-code:") && !haveDiag:
				rec.diagnostic = afterFirst(line, ":")
				haveDiag = true
			}
		}

		if rec.recipient != "" {
			records = append(records, rec)
		}
	}
	return records
}

// unfold joins folded header continuation lines and drops blank lines.
func unfold(group string) []string {
	var lines []string
	for _, raw := range strings.Split(group, "\n") {
		if raw == "" {
			continue
		}
		if (raw[0] == ' ' || raw[0] == '\t') && len(lines) > 0 {
			if cont := strings.TrimSpace(raw); cont != "" {
				lines[len(lines)-1] += " " + cont
			}
			continue
		}
		if line := strings.TrimSpace(raw); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// recipientValue extracts the address from "Final-Recipient: rfc822; a@x.com".
func recipientValue(line string) string {
	v := afterFirst(line, ";")
	if !strings.Contains(line, ";") {
		v = afterFirst(line, ":")
	}
	v = strings.TrimSpace(strings.Trim(v, "<> \t"))
	return strings.ToLower(v)
}

func afterFirst(s, sep string) string {
	if _, after, ok := strings.Cut(s, sep); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(s)
}

// uniqueAddresses returns the lower-cased addresses in text, first
// appearance order, without duplicates.
func uniqueAddresses(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range addressRe.FindAllString(text, -1) {
		addr := strings.ToLower(m)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// BestReason extracts the most informative explanation from free text:
// the lines after "The response was:", else the last SMTP reply line,
// else the whole text with whitespace collapsed. Results are capped at
// 500 characters.
func BestReason(text string) string {
	text = decodeText([]byte(text))

	if loc := responseMarkerRe.FindStringIndex(text); loc != nil {
		var lines []string
		for _, ln := range strings.Split(text[loc[1]:], "\n") {
			if ln = strings.TrimSpace(ln); ln != "" {
				lines = append(lines, ln)
			}
			if len(lines) == 3 {
				break
			}
		}
		if r := truncate(strings.Join(lines, " ")); r != "" {
			return r
		}
	}

	if m := smtpReplyLineRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		if r := truncate(strings.TrimSpace(m[len(m)-1][1])); r != "" {
			return r
		}
	}

	return truncate(strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " ")))
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxReasonLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxReasonLen])
}
