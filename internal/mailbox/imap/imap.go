// Package imap implements mailbox.Mailbox over an IMAP4rev1/rev2 server
// using go-imap v2.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/shineum/outreach-mailer/internal/email"
	"github.com/shineum/outreach-mailer/internal/parser"
)

// Config holds the IMAP account settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// ImplicitTLS dials TLS directly (port 993); otherwise STARTTLS is required.
	ImplicitTLS bool
	Folder      string
	TLSConfig   *tls.Config
}

// session is the part of an authenticated, folder-selected IMAP connection
// the mailbox uses.
type session interface {
	Search(criteria *imap.SearchCriteria) ([]imap.UID, error)
	FetchRaw(uid imap.UID) ([]byte, error)
	Logout() error
}

// Mailbox opens one session lazily and reuses it until Close.
type Mailbox struct {
	mu   sync.Mutex
	cfg  Config
	dial func(Config) (session, error)
	sess session
	now  func() time.Time
}

// New returns a Mailbox for cfg. No connection is made until the first
// Search or Fetch.
func New(cfg Config) *Mailbox {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &Mailbox{cfg: cfg, dial: dialSession, now: time.Now}
}

// Search runs UID SEARCH for bounce notifications and returns message UIDs
// oldest first, keeping the most recent q.MaxResults.
func (m *Mailbox) Search(ctx context.Context, q email.SearchQuery) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return nil, &email.TransportError{Op: "search", Provider: "imap", Err: err}
	}

	uids, err := s.Search(buildCriteria(q, m.now()))
	if err != nil {
		return nil, &email.TransportError{Op: "search", Provider: "imap", Err: err}
	}

	uids = mostRecent(uids, q.MaxResults)
	ids := make([]string, len(uids))
	for i, uid := range uids {
		ids[i] = strconv.FormatUint(uint64(uid), 10)
	}

	slog.Debug("imap search complete", "folder", m.cfg.Folder, "matches", len(ids))
	return ids, nil
}

// Fetch downloads the full message without setting \Seen and parses it.
// The returned message's ID is the UID string it was fetched by.
func (m *Mailbox) Fetch(ctx context.Context, id string) (*email.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return nil, fmt.Errorf("invalid message id %q", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return nil, &email.TransportError{Op: "fetch", Provider: "imap", Err: err}
	}

	raw, err := s.FetchRaw(imap.UID(n))
	if err != nil {
		return nil, &email.TransportError{Op: "fetch", Provider: "imap", Err: err}
	}

	// A message that cannot be parsed is still returned so the caller can
	// move on to the rest of the mailbox.
	msg, err := parser.Parse(raw)
	if err != nil {
		slog.Warn("unparseable message, classifying raw text only", "uid", id, "error", err)
		msg = parser.Unparsed(raw)
	}
	msg.ID = id
	return msg, nil
}

// Close logs out of the open session, if any. A later Search or Fetch
// opens a new one.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return nil
	}
	err := m.sess.Logout()
	m.sess = nil
	return err
}

// session requires m.mu.
func (m *Mailbox) session() (session, error) {
	if m.sess != nil {
		return m.sess, nil
	}
	s, err := m.dial(m.cfg)
	if err != nil {
		return nil, err
	}
	m.sess = s
	return s, nil
}

// buildCriteria ANDs a SINCE date with an OR over FROM sender and SUBJECT
// terms. IMAP SINCE compares dates only, so the cutoff is the calendar day
// NewerThanDays before now.
func buildCriteria(q email.SearchQuery, now time.Time) *imap.SearchCriteria {
	var terms []imap.SearchCriteria
	for _, s := range q.Senders {
		terms = append(terms, imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: s}},
		})
	}
	for _, s := range q.Subjects {
		terms = append(terms, imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: s}},
		})
	}

	criteria := orAll(terms)
	if q.NewerThanDays > 0 {
		y, mo, d := now.AddDate(0, 0, -q.NewerThanDays).Date()
		criteria.Since = time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	}
	return &criteria
}

// orAll folds terms right into nested ORs: a OR (b OR (c ...)).
func orAll(terms []imap.SearchCriteria) imap.SearchCriteria {
	switch len(terms) {
	case 0:
		return imap.SearchCriteria{}
	case 1:
		return terms[0]
	}
	acc := terms[len(terms)-1]
	for i := len(terms) - 2; i >= 0; i-- {
		acc = imap.SearchCriteria{Or: [][2]imap.SearchCriteria{{terms[i], acc}}}
	}
	return acc
}

// mostRecent orders uids ascending and keeps the last limit of them when
// limit > 0.
func mostRecent(uids []imap.UID, limit int) []imap.UID {
	slices.Sort(uids)
	if limit > 0 && len(uids) > limit {
		return uids[len(uids)-limit:]
	}
	return uids
}

// clientSession adapts an imapclient.Client with the folder selected.
type clientSession struct {
	client *imapclient.Client
}

func dialSession(cfg Config) (session, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	opts := &imapclient.Options{TLSConfig: cfg.TLSConfig}

	var (
		client *imapclient.Client
		err    error
	)
	if cfg.ImplicitTLS {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("login as %s: %w", cfg.Username, err)
	}
	if _, err := client.Select(cfg.Folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting %s: %w", cfg.Folder, err)
	}

	slog.Info("imap session opened", "addr", addr, "folder", cfg.Folder)
	return &clientSession{client: client}, nil
}

func (s *clientSession) Search(criteria *imap.SearchCriteria) ([]imap.UID, error) {
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}
	return data.AllUIDs(), nil
}

func (s *clientSession) FetchRaw(uid imap.UID) ([]byte, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	cmd := s.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		if err := cmd.Close(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting UID %d: %w", uid, err)
	}
	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("UID %d: no body returned", uid)
	}

	if err := cmd.Close(); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *clientSession) Logout() error {
	err := s.client.Logout().Wait()
	if cerr := s.client.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}
