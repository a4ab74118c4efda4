// Package daemon triggers the send and verify jobs on a daily cron schedule.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shineum/outreach-mailer/internal/outreach"
)

// Jobs is the pair of runs the daemon triggers. *outreach.Runner satisfies it.
type Jobs interface {
	RunSend(ctx context.Context) (outreach.SendReport, error)
	RunVerify(ctx context.Context) (outreach.VerifyReport, error)
}

// Schedule is the daily trigger time of each job in Location.
type Schedule struct {
	SendAt   outreach.Clock
	VerifyAt outreach.Clock
	Location *time.Location
}

// Daemon runs the jobs from a cron scheduler until its context ends.
type Daemon struct {
	jobs     Jobs
	cron     *cron.Cron
	sendID   cron.EntryID
	verifyID cron.EntryID

	// ctx is set by Run before the scheduler starts and handed to each job.
	ctx context.Context
}

// New registers both jobs. A job still running when its next trigger fires
// is skipped rather than queued.
func New(jobs Jobs, s Schedule) (*Daemon, error) {
	if s.Location == nil {
		s.Location = time.Local
	}
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	d := &Daemon{
		jobs: jobs,
		cron: cron.New(
			cron.WithLocation(s.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx: context.Background(),
	}

	var err error
	if d.sendID, err = d.cron.AddFunc(dailyExpr(s.SendAt), d.runSend); err != nil {
		return nil, fmt.Errorf("schedule send job: %w", err)
	}
	if d.verifyID, err = d.cron.AddFunc(dailyExpr(s.VerifyAt), d.runVerify); err != nil {
		return nil, fmt.Errorf("schedule verify job: %w", err)
	}
	return d, nil
}

// Run starts the scheduler and blocks until ctx is cancelled. A job in
// flight sees the cancellation and Run waits for it to return.
func (d *Daemon) Run(ctx context.Context) error {
	d.ctx = ctx
	d.cron.Start()

	now := time.Now()
	slog.Info("daemon started",
		"next_send", d.cron.Entry(d.sendID).Schedule.Next(now),
		"next_verify", d.cron.Entry(d.verifyID).Schedule.Next(now),
	)

	<-ctx.Done()
	slog.Info("daemon stopping, waiting for running job")
	<-d.cron.Stop().Done()
	return nil
}

func (d *Daemon) runSend() {
	slog.Info("send job triggered")
	// Runner logs and reports the outcome.
	_, _ = d.jobs.RunSend(d.ctx)
}

func (d *Daemon) runVerify() {
	slog.Info("verify job triggered")
	_, _ = d.jobs.RunVerify(d.ctx)
}

// dailyExpr is the five-field cron expression for c every day.
func dailyExpr(c outreach.Clock) string {
	return fmt.Sprintf("%d %d * * *", c.Minute, c.Hour)
}
