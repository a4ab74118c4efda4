package outreach

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/outreach-mailer/internal/email"
	"github.com/shineum/outreach-mailer/internal/lead"
)

var ist = mustLocation("Asia/Kolkata")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// memStore is an in-memory lead table that applies updates by row.
type memStore struct {
	mu       sync.Mutex
	leads    []lead.Lead
	writes   [][]lead.Update
	readErr  error
	writeErr error
}

func newMemStore(leads ...lead.Lead) *memStore {
	for i := range leads {
		leads[i].Row = i + 2
	}
	return &memStore{leads: leads}
}

func (s *memStore) ReadAll(context.Context) ([]lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := make([]lead.Lead, len(s.leads))
	copy(out, s.leads)
	return out, nil
}

func (s *memStore) Write(_ context.Context, updates []lead.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, updates)
	for _, u := range updates {
		for i := range s.leads {
			if s.leads[i].Row == u.Row {
				s.leads[i] = u.Apply(s.leads[i])
			}
		}
	}
	return nil
}

func (s *memStore) byID(id string) lead.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.LeadID == id {
			return l
		}
	}
	panic(fmt.Sprintf("no lead %s", id))
}

// recordingProvider records sent messages and fails for listed recipients.
type recordingProvider struct {
	mu      sync.Mutex
	sent    []*email.Email
	failFor map[string]error
	onSend  func()
}

func (p *recordingProvider) Send(_ context.Context, msg *email.Email) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onSend != nil {
		p.onSend()
	}
	if err := p.failFor[msg.To]; err != nil {
		return "", &email.TransportError{Op: "send", Provider: "fake", Err: err}
	}
	p.sent = append(p.sent, msg)
	return "msg-" + uuid.NewString()[:8], nil
}

func (p *recordingProvider) Name() string { return "fake" }

func (p *recordingProvider) recipients() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, m := range p.sent {
		out = append(out, m.To)
	}
	return out
}

// fakeMailbox serves canned messages by id.
type fakeMailbox struct {
	ids       []string
	messages  map[string]*email.Message
	searchErr error
	fetchErr  map[string]error
	searched  []email.SearchQuery
	closed    int
}

func (m *fakeMailbox) Search(_ context.Context, q email.SearchQuery) ([]string, error) {
	m.searched = append(m.searched, q)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.ids, nil
}

func (m *fakeMailbox) Fetch(_ context.Context, id string) (*email.Message, error) {
	if err := m.fetchErr[id]; err != nil {
		return nil, err
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, errors.New("no such message")
	}
	return msg, nil
}

func (m *fakeMailbox) Close() error {
	m.closed++
	return nil
}

// fakeClock advances only when the scheduler sleeps.
type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	cancel func(call int) bool
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	if c.cancel != nil && c.cancel(len(c.slept)) {
		return context.Canceled
	}
	c.now = c.now.Add(d)
	return nil
}

func pendingLead(id, addr, first, company string) lead.Lead {
	return lead.Lead{LeadID: id, Email: addr, FirstName: first, Company: company, Status: lead.StatusPending}
}

func sentLead(id, addr string) lead.Lead {
	return lead.Lead{
		LeadID:     id,
		Email:      addr,
		Status:     lead.StatusSent,
		SentAt:     "2026-10-15T23:00:00+05:30",
		GmailMsgID: "gm-" + id,
	}
}

func testSettings() Settings {
	tmpl, err := ParseTemplates("", "")
	if err != nil {
		panic(err)
	}
	return Settings{
		Location:  ist,
		Curfew:    Clock{Hour: 3},
		Pacing:    90 * time.Second,
		From:      "me@acme.io",
		Templates: tmpl,
		Query: email.SearchQuery{
			Senders:       []string{"mailer-daemon", "postmaster"},
			Subjects:      []string{"Undeliverable"},
			NewerThanDays: 2,
			MaxResults:    500,
		},
	}
}

// dsnMessage builds a multipart/report bounce for one recipient.
func dsnMessage(id, recipient, status, diagnostic string) *email.Message {
	dsn := fmt.Sprintf("Reporting-MTA: dns; mx.example.net\n\nFinal-Recipient: rfc822; %s\nAction: failed\nStatus: %s\n", recipient, status)
	if diagnostic != "" {
		dsn += "Diagnostic-Code: " + diagnostic + "\n"
	}
	return &email.Message{
		ID:      id,
		Subject: "Delivery Status Notification (Failure)",
		From:    "mailer-daemon@googlemail.com",
		Root: &email.Part{
			MIMEType: "multipart/report",
			Parts: []*email.Part{
				{MIMEType: "text/plain", Body: []byte("Your message could not be delivered.")},
				{MIMEType: "message/delivery-status", Body: []byte(dsn)},
			},
		},
	}
}
