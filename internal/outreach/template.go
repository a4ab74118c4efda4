package outreach

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/shineum/outreach-mailer/internal/lead"
)

// Default message templates.
const (
	DefaultSubject = "{{.Company}} — quick question"
	DefaultBody    = "Hi {{.FirstName}},\n\nQuick question about {{.Company}}...\n\nRegards,\nYour Name\n"
)

// TemplateData is the value the message templates are executed against.
type TemplateData struct {
	LeadID    string
	Email     string
	FirstName string
	Company   string
}

// Templates renders the subject and body for a lead.
type Templates struct {
	subject *template.Template
	body    *template.Template
}

// ParseTemplates compiles the subject and body templates. Empty strings
// select the defaults. Both are trial-rendered so a bad field reference
// fails at startup rather than on the first lead.
func ParseTemplates(subject, body string) (*Templates, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if body == "" {
		body = DefaultBody
	}

	st, err := template.New("subject").Option("missingkey=error").Parse(subject)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	bt, err := template.New("body").Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}

	t := &Templates{subject: st, body: bt}
	if _, _, err := t.Render(lead.Lead{}); err != nil {
		return nil, err
	}
	return t, nil
}

// Render executes both templates for l.
func (t *Templates) Render(l lead.Lead) (subject, body string, err error) {
	data := TemplateData{
		LeadID:    l.LeadID,
		Email:     l.Email,
		FirstName: l.FirstName,
		Company:   l.Company,
	}

	var sb, bb bytes.Buffer
	if err := t.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := t.body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return sb.String(), bb.String(), nil
}
