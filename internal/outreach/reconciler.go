package outreach

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/outreach-mailer/internal/bounce"
	"github.com/shineum/outreach-mailer/internal/email"
	"github.com/shineum/outreach-mailer/internal/lead"
	"github.com/shineum/outreach-mailer/internal/leadstore"
	"github.com/shineum/outreach-mailer/internal/mailbox"
)

// VerifyReport summarises one verify run.
type VerifyReport struct {
	Checked        int
	Verified       int
	Failed         int
	BounceMessages int
	Outcomes       int
}

// Reconciler moves every SENT lead to VERIFIED or FAILED based on the bounce
// notifications found in the mailbox.
type Reconciler struct {
	store    leadstore.Store
	mailbox  mailbox.Mailbox
	settings Settings
	now      func() time.Time
	classify func(*email.Message) []bounce.Outcome
}

// NewReconciler creates a Reconciler.
func NewReconciler(store leadstore.Store, mb mailbox.Mailbox, settings Settings) *Reconciler {
	return &Reconciler{
		store:    store,
		mailbox:  mb,
		settings: settings,
		now:      time.Now,
		classify: bounce.Classify,
	}
}

// Run performs one verify run. Search and fetch errors abort the run before
// anything is written; all lead updates go out in a single store write.
func (r *Reconciler) Run(ctx context.Context) (VerifyReport, error) {
	var report VerifyReport

	leads, err := r.store.ReadAll(ctx)
	if err != nil {
		return report, fmt.Errorf("read leads: %w", err)
	}

	var sent []lead.Lead
	for _, l := range leads {
		if l.Status == lead.StatusSent {
			sent = append(sent, l)
		}
	}
	report.Checked = len(sent)
	if len(sent) == 0 {
		slog.Info("verify run: no SENT leads")
		return report, nil
	}

	failures, err := r.collectFailures(ctx, &report)
	if err != nil {
		return report, err
	}

	at := r.now().In(r.settings.Location)
	updates := make([]lead.Update, 0, len(sent))
	for _, l := range sent {
		if f, ok := failures.Lookup(l.Email); ok {
			updates = append(updates, lead.Bounced(l, at, f.Status, f.Reason))
			report.Failed++
			slog.Info("lead bounced",
				"lead_id", l.LeadID,
				"row", l.Row,
				"bounce_code", f.Status,
			)
			continue
		}
		updates = append(updates, lead.Verified(l, at))
		report.Verified++
	}

	if err := r.store.Write(ctx, updates); err != nil {
		return report, fmt.Errorf("write verify results: %w", err)
	}

	slog.Info("verify run finished",
		"checked", report.Checked,
		"verified", report.Verified,
		"failed", report.Failed,
		"bounce_messages", report.BounceMessages,
	)
	return report, nil
}

// collectFailures searches, fetches and classifies bounce messages in the
// order the mailbox returns them.
func (r *Reconciler) collectFailures(ctx context.Context, report *VerifyReport) (*bounce.FailureSet, error) {
	q := r.settings.Query
	slog.Info("searching for bounces", "query", q.String())

	ids, err := r.mailbox.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search bounces: %w", err)
	}
	report.BounceMessages = len(ids)

	failures := bounce.NewFailureSet()
	for _, id := range ids {
		msg, err := r.mailbox.Fetch(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetch bounce %s: %w", id, err)
		}

		outcomes := r.classify(msg)
		report.Outcomes += len(outcomes)
		for _, o := range outcomes {
			if failures.Record(o) {
				slog.Debug("permanent bounce recorded",
					"message_id", id,
					"email", o.Email,
					"status", o.Status,
				)
			}
		}
	}
	return failures, nil
}
