package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"AgentArena/internal/domain"
	"AgentArena/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReporter struct {
	mu    sync.Mutex
	calls []string

	recordFunc func(context.Context, domain.MatchOutcome) error
}

func (r *stubReporter) RecordMatchOutcome(ctx context.Context, outcome domain.MatchOutcome) error {
	r.mu.Lock()
	r.calls = append(r.calls, outcome.MatchID)
	r.mu.Unlock()
	if r.recordFunc != nil {
		return r.recordFunc(ctx, outcome)
	}
	return nil
}

// completedMatch plays a match to the end with the outcome notifier unset so
// only the outbox row remains.
func completedMatch(t *testing.T) (*harness, domain.Match) {
	t.Helper()
	h := newHarness(t)
	h.svc.Outcomes = nil
	ctx := context.Background()
	m := h.startMatch(t)
	for r := 1; r <= m.TotalRounds; r++ {
		round, answer := h.currentAnswer(t, "agent-a", m.ID)
		_, err := h.svc.SubmitAnswer(ctx, "agent-a", m.ID, round, answer)
		require.NoError(t, err)
		_, err = h.svc.SubmitAnswer(ctx, "agent-b", m.ID, round, "wrong")
		require.NoError(t, err)
	}
	return h, m
}

func TestNotifyOutcomeMarksDelivered(t *testing.T) {
	h, m := completedMatch(t)
	reporter := &stubReporter{}
	svc := &OutcomeService{Outbox: h.store, Reporter: reporter, Now: h.clock.Now}

	queued := h.outbox(t, m.ID)
	svc.NotifyOutcome(context.Background(), queued.Outcome)

	got := h.outbox(t, m.ID)
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, []string{m.ID}, reporter.calls)

	svc.NotifyOutcome(context.Background(), queued.Outcome)
	assert.Len(t, reporter.calls, 1, "delivered outcome sent again")

	h.clock.Advance(time.Hour)
	n, err := svc.RedeliverDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, reporter.calls, 1)
}

func TestRedeliverDueRetriesWithBackoff(t *testing.T) {
	h, m := completedMatch(t)
	ctx := context.Background()
	failing := true
	reporter := &stubReporter{recordFunc: func(context.Context, domain.MatchOutcome) error {
		if failing {
			return errors.New("stats service returned 503")
		}
		return nil
	}}
	svc := &OutcomeService{Outbox: h.store, Reporter: reporter, Now: h.clock.Now}

	queued := h.outbox(t, m.ID)
	svc.NotifyOutcome(ctx, queued.Outcome)

	got := h.outbox(t, m.ID)
	assert.Nil(t, got.DeliveredAt)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "stats service returned 503", got.LastError)
	assert.Equal(t, h.clock.Now().Add(time.Minute), got.NextAttemptAt)

	n, err := svc.RedeliverDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, reporter.calls, 1)

	h.clock.Advance(time.Minute)
	n, err = svc.RedeliverDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	got = h.outbox(t, m.ID)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, h.clock.Now().Add(2*time.Minute), got.NextAttemptAt)

	failing = false
	h.clock.Advance(2 * time.Minute)
	n, err = svc.RedeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got = h.outbox(t, m.ID)
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, []string{m.ID, m.ID, m.ID}, reporter.calls)

	stored, err := h.store.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchCompleted, stored.Status)
}

func TestRedeliverBackoff(t *testing.T) {
	assert.Equal(t, time.Minute, RedeliverBackoff(0))
	assert.Equal(t, time.Minute, RedeliverBackoff(1))
	assert.Equal(t, 2*time.Minute, RedeliverBackoff(2))
	assert.Equal(t, 32*time.Minute, RedeliverBackoff(6))
	assert.Equal(t, time.Hour, RedeliverBackoff(7))
	assert.Equal(t, time.Hour, RedeliverBackoff(40))
}

func TestOutcomeServiceWithoutReporter(t *testing.T) {
	svc := &OutcomeService{Outbox: memory.New()}
	svc.NotifyOutcome(context.Background(), domain.MatchOutcome{MatchID: "m1"})
	n, err := svc.RedeliverDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
