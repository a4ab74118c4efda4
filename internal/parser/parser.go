// Package parser turns raw RFC 5322 messages into the typed part tree the
// bounce classifier walks.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/outreach-mailer/internal/email"
)

// snippetLen is the preview length in characters.
const snippetLen = 200

// maxDepth bounds multipart nesting.
const maxDepth = 32

var whitespaceRe = regexp.MustCompile(`\s+`)

// Parse parses a raw message into an email.Message. Transfer encodings are
// decoded and text is converted to UTF-8 where the charset is known.
// Unknown charsets or encodings are tolerated and the raw bytes are kept.
func Parse(raw []byte) (*email.Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && (entity == nil || !isRecoverable(err)) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if err != nil {
		slog.Warn("message has unsupported charset or encoding", "error", err)
	}

	h := mail.Header{Header: entity.Header}
	result := &email.Message{
		From: h.Get("From"),
	}
	if subject, err := h.Subject(); err == nil {
		result.Subject = subject
	} else {
		result.Subject = h.Get("Subject")
	}
	if id, err := h.MessageID(); err == nil {
		result.ID = id
	}

	root, err := parseEntity(entity, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message body: %w", err)
	}
	result.Root = root
	result.Snippet = snippet(root)

	return result, nil
}

// Unparsed wraps a message Parse rejected. It has no part tree; the
// snippet is a whitespace-collapsed preview of the raw bytes, so
// classification yields nothing or at most heuristic outcomes.
func Unparsed(raw []byte) *email.Message {
	return &email.Message{Snippet: preview(raw)}
}

// parseEntity builds the part for one entity, descending into multipart
// bodies. Broken nested parts are logged and skipped.
func parseEntity(e *message.Entity, depth int) (*email.Part, error) {
	mediaType, _, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	part := &email.Part{MIMEType: strings.ToLower(mediaType)}

	if mr := e.MultipartReader(); mr != nil {
		if depth >= maxDepth {
			slog.Warn("multipart nesting too deep, skipping", "depth", depth)
			return part, nil
		}
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil && (child == nil || !isRecoverable(err)) {
				slog.Warn("failed to read next part", "content_type", mediaType, "error", err)
				break
			}

			cp, err := parseEntity(child, depth+1)
			if err != nil {
				slog.Warn("failed to parse nested part", "content_type", mediaType, "error", err)
				continue
			}
			part.Parts = append(part.Parts, cp)
		}
		return part, nil
	}

	body, err := io.ReadAll(e.Body)
	if err != nil {
		if len(body) == 0 {
			return nil, fmt.Errorf("failed to read %s body: %w", mediaType, err)
		}
		slog.Warn("truncated part body", "content_type", mediaType, "error", err)
	}
	part.Body = body
	return part, nil
}

// isRecoverable reports errors after which go-message still returns a usable
// entity carrying the undecoded body.
func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// snippet previews the first plain-text part with whitespace collapsed.
func snippet(root *email.Part) string {
	stack := []*email.Part{root}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p.Kind() == email.KindPlainText && len(p.Body) > 0 {
			return preview(p.Body)
		}
		for i := len(p.Parts) - 1; i >= 0; i-- {
			stack = append(stack, p.Parts[i])
		}
	}
	return ""
}

func preview(b []byte) string {
	s := strings.ToValidUTF8(string(b), "")
	s = strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
	if utf8.RuneCountInString(s) > snippetLen {
		s = string([]rune(s)[:snippetLen])
	}
	return s
}
