package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/outreach-mailer/internal/email"
	"github.com/shineum/outreach-mailer/internal/lead"
	"github.com/shineum/outreach-mailer/internal/leadstore"
	"github.com/shineum/outreach-mailer/internal/provider"
)

// leadIDHeader tags each outbound message with its lead.
const leadIDHeader = "X-Lead-ID"

// SendReport summarises one send run.
type SendReport struct {
	Candidates    int
	Attempted     int
	Sent          int
	Failed        int
	Deferred      int
	CurfewReached bool
	Interrupted   bool
	HardStop      time.Time
}

// Scheduler mails PENDING leads one at a time, pacing sends and stopping
// before the curfew.
type Scheduler struct {
	store    leadstore.Store
	provider provider.Provider
	settings Settings
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// NewScheduler creates a Scheduler.
func NewScheduler(store leadstore.Store, p provider.Provider, settings Settings) *Scheduler {
	return &Scheduler{
		store:    store,
		provider: p,
		settings: settings,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Run performs one send run. Every attempted lead is written before the
// next is attempted; a store error ends the run. Cancelling ctx stops the
// run at the next pacing wait and is not an error.
func (s *Scheduler) Run(ctx context.Context) (SendReport, error) {
	loc := s.settings.Location
	start := s.now().In(loc)
	report := SendReport{HardStop: HardStop(start, s.settings.Curfew, loc)}

	leads, err := s.store.ReadAll(ctx)
	if err != nil {
		return report, fmt.Errorf("read leads: %w", err)
	}

	var pending []lead.Lead
	for _, l := range leads {
		if l.Status == lead.StatusPending {
			pending = append(pending, l)
		}
	}
	report.Candidates = len(pending)

	slog.Info("send run started",
		"candidates", report.Candidates,
		"hard_stop", report.HardStop.Format(time.RFC3339),
		"pacing", s.settings.Pacing,
		"provider", s.provider.Name(),
	)

	for i, l := range pending {
		if ctx.Err() != nil {
			report.Interrupted = true
			report.Deferred = len(pending) - i
			break
		}

		now := s.now().In(loc)
		if now.Add(s.settings.Pacing).After(report.HardStop) {
			report.CurfewReached = true
			report.Deferred = len(pending) - i
			slog.Info("curfew reached, deferring remaining leads",
				"deferred", report.Deferred,
				"hard_stop", report.HardStop.Format(time.RFC3339),
			)
			break
		}

		update, done := s.sendOne(ctx, l)
		if !done {
			report.Interrupted = true
			report.Deferred = len(pending) - i
			break
		}
		report.Attempted++
		if status, _ := update.Get(lead.FieldStatus); status == string(lead.StatusSent) {
			report.Sent++
		} else {
			report.Failed++
		}

		// The outcome is flushed even when ctx was cancelled mid-send.
		if err := s.store.Write(context.WithoutCancel(ctx), []lead.Update{update}); err != nil {
			return report, fmt.Errorf("write lead %s (row %d): %w", l.LeadID, l.Row, err)
		}

		if i == len(pending)-1 {
			break
		}
		if err := s.sleep(ctx, s.settings.Pacing); err != nil {
			report.Interrupted = true
			report.Deferred = len(pending) - i - 1
			break
		}
	}

	if report.Interrupted {
		slog.Warn("send run interrupted", "deferred", report.Deferred)
	}
	return report, nil
}

// sendOne renders and sends one lead's message and returns the row update
// recording the outcome. done is false when the send was cut short by ctx;
// the lead then stays PENDING and nothing is written.
func (s *Scheduler) sendOne(ctx context.Context, l lead.Lead) (update lead.Update, done bool) {
	subject, body, err := s.settings.Templates.Render(l)
	if err != nil {
		slog.Error("render failed", "lead_id", l.LeadID, "row", l.Row, "error", err)
		return lead.SendFailed(l, s.now().In(s.settings.Location), err), true
	}

	msg := &email.Email{
		From:     s.settings.From,
		To:       l.Email,
		Subject:  subject,
		TextBody: body,
		Headers:  map[string]string{leadIDHeader: l.LeadID},
	}

	messageID, err := s.provider.Send(ctx, msg)
	at := s.now().In(s.settings.Location)
	if err != nil && cancelled(ctx, err) {
		slog.Warn("send cancelled, lead left pending", "lead_id", l.LeadID, "row", l.Row, "error", err)
		return lead.Update{}, false
	}
	if err != nil {
		slog.Warn("send failed",
			"lead_id", l.LeadID,
			"row", l.Row,
			"provider", s.provider.Name(),
			"error", err,
		)
		return lead.SendFailed(l, at, sendCause(err)), true
	}

	slog.Info("lead mailed",
		"lead_id", l.LeadID,
		"row", l.Row,
		"provider", s.provider.Name(),
		"message_id", messageID,
	)
	return lead.Sent(l, at, messageID), true
}

// cancelled reports whether err is ctx's own cancellation rather than a
// rejection by the transport.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// sendCause strips the transport wrapper so the recorded reason is the
// underlying failure.
func sendCause(err error) error {
	var te *email.TransportError
	if errors.As(err, &te) && te.Err != nil {
		return te.Err
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
