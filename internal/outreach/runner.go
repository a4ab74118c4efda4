package outreach

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shineum/outreach-mailer/internal/email"
	"github.com/shineum/outreach-mailer/internal/leadstore"
	"github.com/shineum/outreach-mailer/internal/mailbox"
	"github.com/shineum/outreach-mailer/internal/provider"
)

// Runner serialises the send and verify jobs over one store. It is the
// single writer: a job triggered while the other is running waits for it.
type Runner struct {
	mu         sync.Mutex
	scheduler  *Scheduler
	reconciler *Reconciler
	mailbox    mailbox.Mailbox
	provider   provider.Provider
	settings   Settings
}

// NewRunner wires a scheduler and reconciler over the shared store. mb may
// be nil when only the send job is used.
func NewRunner(store leadstore.Store, p provider.Provider, mb mailbox.Mailbox, settings Settings) *Runner {
	r := &Runner{
		scheduler: NewScheduler(store, p, settings),
		mailbox:   mb,
		provider:  p,
		settings:  settings,
	}
	if mb != nil {
		r.reconciler = NewReconciler(store, mb, settings)
	}
	return r
}

// RunSend runs the send job under the writer lock.
func (r *Runner) RunSend(ctx context.Context) (SendReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	report, err := r.scheduler.Run(ctx)
	if err != nil {
		slog.Error("send run failed", "error", err)
	} else {
		slog.Info("send run finished",
			"candidates", report.Candidates,
			"sent", report.Sent,
			"failed", report.Failed,
			"deferred", report.Deferred,
			"curfew_reached", report.CurfewReached,
			"duration", time.Since(started).Round(time.Second),
		)
	}

	r.notify(ctx, "send", sendSummary(report, err))
	return report, err
}

// RunVerify runs the verify job under the writer lock and releases the
// mailbox session afterwards.
func (r *Runner) RunVerify(ctx context.Context) (VerifyReport, error) {
	if r.reconciler == nil {
		return VerifyReport{}, fmt.Errorf("verify: no mailbox configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	report, err := r.reconciler.Run(ctx)
	if cerr := r.mailbox.Close(); cerr != nil {
		slog.Warn("closing mailbox", "error", cerr)
	}
	if err != nil {
		slog.Error("verify run failed", "error", err)
	}

	r.notify(ctx, "verify", verifySummary(report, err))
	return report, err
}

// notify mails a run summary to each admin. Failures are logged only.
func (r *Runner) notify(ctx context.Context, job, body string) {
	if len(r.settings.Admins) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	subject := fmt.Sprintf("[outreach] %s run %s", job, time.Now().In(r.settings.Location).Format("2006-01-02 15:04"))
	for _, admin := range r.settings.Admins {
		msg := &email.Email{
			From:     r.settings.From,
			To:       admin,
			Subject:  subject,
			TextBody: body,
		}
		if _, err := r.provider.Send(ctx, msg); err != nil {
			slog.Warn("admin summary not delivered", "to", admin, "job", job, "error", err)
		}
	}
}

func sendSummary(rep SendReport, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Send run summary\n\n")
	fmt.Fprintf(&b, "Candidates: %d\n", rep.Candidates)
	fmt.Fprintf(&b, "Attempted:  %d\n", rep.Attempted)
	fmt.Fprintf(&b, "Sent:       %d\n", rep.Sent)
	fmt.Fprintf(&b, "Failed:     %d\n", rep.Failed)
	fmt.Fprintf(&b, "Deferred:   %d\n", rep.Deferred)
	if !rep.HardStop.IsZero() {
		fmt.Fprintf(&b, "Hard stop:  %s\n", rep.HardStop.Format(time.RFC3339))
	}
	if rep.CurfewReached {
		b.WriteString("\nCurfew reached; remaining leads stay PENDING.\n")
	}
	if rep.Interrupted {
		b.WriteString("\nRun interrupted before completion.\n")
	}
	if err != nil {
		fmt.Fprintf(&b, "\nError: %v\n", err)
	}
	return b.String()
}

func verifySummary(rep VerifyReport, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verify run summary\n\n")
	fmt.Fprintf(&b, "Checked:         %d\n", rep.Checked)
	fmt.Fprintf(&b, "Verified:        %d\n", rep.Verified)
	fmt.Fprintf(&b, "Failed:          %d\n", rep.Failed)
	fmt.Fprintf(&b, "Bounce messages: %d\n", rep.BounceMessages)
	if err != nil {
		fmt.Fprintf(&b, "\nError: %v\nNo leads were updated.\n", err)
	}
	return b.String()
}
