package outreach

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/outreach-mailer/internal/email"
	"github.com/shineum/outreach-mailer/internal/lead"
)

func newTestScheduler(store *memStore, p *recordingProvider, clock *fakeClock) *Scheduler {
	s := NewScheduler(store, p, testSettings())
	s.now = clock.Now
	s.sleep = clock.Sleep
	return s
}

func TestHardStop(t *testing.T) {
	t.Parallel()

	curfew := Clock{Hour: 3}
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "evening rolls to next morning",
			now:  time.Date(2026, 10, 16, 23, 0, 0, 0, ist),
			want: time.Date(2026, 10, 17, 3, 0, 0, 0, ist),
		},
		{
			name: "after midnight stays same day",
			now:  time.Date(2026, 10, 17, 1, 30, 0, 0, ist),
			want: time.Date(2026, 10, 17, 3, 0, 0, 0, ist),
		},
		{
			name: "exactly at curfew rolls forward",
			now:  time.Date(2026, 10, 17, 3, 0, 0, 0, ist),
			want: time.Date(2026, 10, 18, 3, 0, 0, 0, ist),
		},
		{
			name: "instant given in UTC",
			now:  time.Date(2026, 10, 16, 17, 30, 0, 0, time.UTC), // 23:00 IST
			want: time.Date(2026, 10, 17, 3, 0, 0, 0, ist),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HardStop(tt.now, curfew, ist)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
			assert.True(t, got.After(tt.now))
		})
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	c, err := ParseClock("03:00")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 3}, c)
	assert.Equal(t, "03:00", c.String())

	c, err = ParseClock("23:45")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 23, Minute: 45}, c)

	for _, bad := range []string{"", "3am", "24:00", "12:60"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestScheduler_SendsAllPendingWithPacing(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		pendingLead("L1", "ann@a.com", "Ann", "Acme"),
		pendingLead("L2", "bo@b.com", "Bo", "Beta"),
		pendingLead("L3", "cy@c.com", "Cy", "Gamma"),
	)
	p := &recordingProvider{}
	clock := &fakeClock{now: time.Date(2026, 10, 16, 23, 0, 0, 0, ist)}

	report, err := newTestScheduler(store, p, clock).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 3, report.Sent)
	assert.Zero(t, report.Deferred)
	assert.False(t, report.CurfewReached)
	assert.Equal(t, []string{"ann@a.com", "bo@b.com", "cy@c.com"}, p.recipients())

	// Paced between leads, not after the last one.
	assert.Equal(t, []time.Duration{90 * time.Second, 90 * time.Second}, clock.slept)

	// One write per lead, each a single-row update.
	require.Len(t, store.writes, 3)
	for _, w := range store.writes {
		assert.Len(t, w, 1)
	}

	l2 := store.byID("L2")
	assert.Equal(t, lead.StatusSent, l2.Status)
	assert.Equal(t, "2026-10-16T23:01:30+05:30", l2.SentAt)
	assert.NotEmpty(t, l2.GmailMsgID)
	assert.Empty(t, l2.BounceReason)
}

func TestScheduler_MessageContent(t *testing.T) {
	t.Parallel()

	store := newMemStore(pendingLead("L1", "ann@a.com", "Ann", "Acme"))
	p := &recordingProvider{}
	clock := &fakeClock{now: time.Date(2026, 10, 16, 23, 0, 0, 0, ist)}

	_, err := newTestScheduler(store, p, clock).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, p.sent, 1)

	msg := p.sent[0]
	assert.Equal(t, "me@acme.io", msg.From)
	assert.Equal(t, "Acme — quick question", msg.Subject)
	assert.Equal(t, "Hi Ann,\n\nQuick question about Acme...\n\nRegards,\nYour Name\n", msg.TextBody)
	assert.Equal(t, map[string]string{"X-Lead-ID": "L1"}, msg.Headers)
}

func TestScheduler_OnlyPendingLeads(t *testing.T) {
	t.Parallel()

	done := sentLead("L1", "old@a.com")
	verified := sentLead("L2", "ok@b.com")
	verified.Status = lead.StatusVerified
	store := newMemStore(done, verified, pendingLead("L3", "new@c.com", "N", "C"))
	p := &recordingProvider{}
	clock := &fakeClock{now: time.Date(2026, 10, 16, 23, 0, 0, 0, ist)}

	report, err := newTestScheduler(store, p, clock).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, []string{"new@c.com"}, p.recipients())
	assert.Equal(t, done.SentAt, store.byID("L1").SentAt)
	assert.Equal(t, lead.StatusSent, store.byID("L1").Status)
	assert.Equal(t, lead.StatusVerified, store.byID("L2").Status)
	require.Len(t, store.writes, 1)
	assert.Equal(t, 4, store.writes[0][0].Row)
}

func TestScheduler_CurfewDefersRemaining(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		pendingLead("L1", "a@a.com", "A", "A"),
		pendingLead("L2", "b@b.com", "B", "B"),
		pendingLead("L3", "c@c.com", "C", "C"),
		pendingLead("L4", "d@d.com", "D", "D"),
	)
	p := &recordingProvider{}
	clock := &fakeClock{now: time.Date(2026, 10, 17, 2, 57, 0, 0, ist)}

	report, err := newTestScheduler(store, p, clock).Run(context.Background())
	require.NoError(t, err)

	// 02:57 and 02:58:30 fit (the second lands exactly on 03:00); 03:00 does not.
	assert.True(t, report.HardStop.Equal(time.Date(2026, 10, 17, 3, 0, 0, 0, ist)))
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 2, report.Deferred)
	assert.True(t, report.CurfewReached)
	assert.Equal(t, []string{"a@a.com", "b@b.com"}, p.recipients())
	assert.Equal(t, lead.StatusPending, store.byID("L3").Status)
	assert.Equal(t, lead.StatusPending, store.byID("L4").Status)
	assert.Empty(t, store.byID("L4").SentAt)
}

func TestScheduler_NothingSentInsideCurfewWindow(t *testing.T) {
	t.Parallel()

	store := newMemStore(pendingLead("L1", "a@a.com", "A", "A"))
	p := &recordingProvider{}
	clock := &fakeClock{now: time.Date(2026, 10, 17, 2, 59, 0, 0, ist)}

	report, err := newTestScheduler(store, p, clock).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Attempted)
	assert.Equal(t, 1, report.Deferred)
	assert.True(t, report.CurfewReached)
	assert.Empty(t, store.writes)
}

func TestScheduler_SendFailureRecordedAndRunContinues(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		pendingLead("L1", "a@a.com", "A", "A"),
		pendingLead("L2", "bad@b.com", "B", "B"),
		pendingLead("L3", "c@c.com", "C", "C"),
	)
	p := &recordingProvider{failFor: map[string]error{"bad@b.com": errors.New("mailbox unavailable")}}
	clock := &fakeClock{now: time.Date(2026, 10, 16, 23, 0, 0, 0, ist)}

	report, err := newTestScheduler(store, p, clock).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Failed)

	failed := store.byID("L2")
	assert.Equal(t, lead.StatusFailed, failed.Status)
	assert.Equal(t, "2026-10-16T23:01:30+05:30", failed.SentAt)
	assert.Empty(t, failed.GmailMsgID)
	assert.Empty(t, failed.BounceCode)
	assert.Equal(t, "send_error: mailbox unavailable", failed.BounceReason)
	assert.Equal(t, lead.StatusSent, store.byID("L3").Status)
}

func TestScheduler_StoreWriteFailureIsFatal(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		pendingLead("L1", "a@a.com", "A", "A"),
		pendingLead("L2", "b@b.com", "B", "B"),
	)
	store.writeErr = errors.New("file locked")
	p := &recordingProvider{}
	clock := &fakeClock{now: time.Date(2026, 10, 16, 23, 0, 0, 0, ist)}

	report, err := newTestScheduler(store, p, clock).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "file locked")
	assert.Equal(t, 1, report.Attempted)
	assert.Len(t, p.sent, 1)
}

func TestScheduler_StoreReadFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.readErr = errors.New("no such file")
	clock := &fakeClock{now: time.Date(2026, 10, 16, 23, 0, 0, 0, ist)}

	_, err := newTestScheduler(store, &recordingProvider{}, clock).Run(context.Background())
	assert.ErrorContains(t, err, "no such file")
}

func TestScheduler_CancelDuringPacing(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		pendingLead("L1", "a@a.com", "A", "A"),
		pendingLead("L2", "b@b.com", "B", "B"),
		pendingLead("L3", "c@c.com", "C", "C"),
	)
	p := &recordingProvider{}
	clock := &fakeClock{
		now:    time.Date(2026, 10, 16, 23, 0, 0, 0, ist),
		cancel: func(call int) bool { return call == 1 },
	}

	report, err := newTestScheduler(store, p, clock).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 2, report.Deferred)
	assert.Equal(t, lead.StatusSent, store.byID("L1").Status)
	assert.Equal(t, lead.StatusPending, store.byID("L2").Status)
}

func TestScheduler_WritesOutcomeWhenCancelledMidSend(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	store := newMemStore(
		pendingLead("L1", "a@a.com", "A", "A"),
		pendingLead("L2", "b@b.com", "B", "B"),
	)
	p := &recordingProvider{onSend: cancel}
	clock := &fakeClock{now: time.Date(2026, 10, 16, 23, 0, 0, 0, ist)}
	s := newTestScheduler(store, p, clock)
	s.sleep = sleepContext

	report, err := s.Run(ctx)
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, lead.StatusSent, store.byID("L1").Status)
	assert.Equal(t, lead.StatusPending, store.byID("L2").Status)
}

func TestScheduler_CancelledSendLeavesLeadPending(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	store := newMemStore(
		pendingLead("L1", "a@a.com", "A", "A"),
		pendingLead("L2", "b@b.com", "B", "B"),
	)
	p := &recordingProvider{
		onSend:  cancel,
		failFor: map[string]error{"a@a.com": fmt.Errorf("backoff: %w", context.Canceled)},
	}
	clock := &fakeClock{now: time.Date(2026, 10, 16, 23, 0, 0, 0, ist)}

	report, err := newTestScheduler(store, p, clock).Run(ctx)
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.Equal(t, 0, report.Attempted)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, report.Deferred)
	assert.Empty(t, store.writes)
	assert.Equal(t, lead.StatusPending, store.byID("L1").Status)
	assert.Empty(t, store.byID("L1").BounceReason)
}

func TestScheduler_CanceledErrorWithLiveContextIsFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore(pendingLead("L1", "a@a.com", "A", "A"))
	p := &recordingProvider{failFor: map[string]error{"a@a.com": context.Canceled}}
	clock := &fakeClock{now: time.Date(2026, 10, 16, 23, 0, 0, 0, ist)}

	report, err := newTestScheduler(store, p, clock).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Interrupted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, lead.StatusFailed, store.byID("L1").Status)
}

func TestSendCause(t *testing.T) {
	t.Parallel()

	inner := errors.New("550 rejected")
	assert.Equal(t, inner, sendCause(&email.TransportError{Op: "send", Err: inner}))
	assert.Equal(t, inner, sendCause(inner))
}
