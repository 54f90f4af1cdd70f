package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"AgentArena/internal/domain"
	"AgentArena/internal/metrics"
)

type OutcomeStore interface {
	GetOutcome(ctx context.Context, matchID string) (domain.OutcomeDelivery, error)
	ListDueOutcomes(ctx context.Context, now time.Time, limit int) ([]domain.OutcomeDelivery, error)
	MarkOutcomeDelivered(ctx context.Context, matchID string, when time.Time) error
	// MarkOutcomeFailed bumps the attempt counter and schedules the next try.
	MarkOutcomeFailed(ctx context.Context, matchID, lastErr string, next time.Time) error
}

// OutcomeReporter is the stats/reward collaborator. It must treat the match id
// as an idempotency key; a delivery may be repeated.
type OutcomeReporter interface {
	RecordMatchOutcome(ctx context.Context, outcome domain.MatchOutcome) error
}

const (
	defaultRedeliverBatch = 50
	maxRedeliverBackoff   = time.Hour
)

// OutcomeService delivers completed-match outcomes from the outbox.
type OutcomeService struct {
	Outbox   OutcomeStore
	Reporter OutcomeReporter
	Logger   *slog.Logger
	Now      func() time.Time

	BatchSize int
}

// NotifyOutcome makes the first delivery attempt. Failures stay queued for
// RedeliverDue. Outcomes the outbox already shows as delivered are skipped.
func (s *OutcomeService) NotifyOutcome(ctx context.Context, outcome domain.MatchOutcome) {
	if s.Reporter == nil {
		return
	}
	if d, err := s.Outbox.GetOutcome(ctx, outcome.MatchID); err == nil && d.DeliveredAt != nil {
		s.logger().Debug("outcomes: already delivered", "match_id", outcome.MatchID)
		return
	}
	if err := s.deliver(ctx, outcome, 0); err != nil {
		s.logger().Warn("outcomes: delivery failed", "err", err, "match_id", outcome.MatchID)
	}
}

// RedeliverDue retries every queued outcome whose next attempt is due. It
// returns how many were delivered.
func (s *OutcomeService) RedeliverDue(ctx context.Context) (int, error) {
	if s.Reporter == nil {
		return 0, nil
	}
	limit := s.BatchSize
	if limit <= 0 {
		limit = defaultRedeliverBatch
	}
	due, err := s.Outbox.ListDueOutcomes(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list due outcomes: %w", err)
	}

	delivered := 0
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := s.deliver(ctx, d.Outcome, d.Attempts); err != nil {
			s.logger().Warn("outcomes: redelivery failed", "err", err, "match_id", d.Outcome.MatchID, "attempts", d.Attempts+1)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		s.logger().Info("outcomes: redelivered", "count", delivered)
	}
	return delivered, nil
}

func (s *OutcomeService) deliver(ctx context.Context, outcome domain.MatchOutcome, attempts int) error {
	sendErr := s.Reporter.RecordMatchOutcome(ctx, outcome)
	metrics.OutcomeDelivery(sendErr == nil)
	now := s.now()
	if sendErr == nil {
		if err := s.Outbox.MarkOutcomeDelivered(ctx, outcome.MatchID, now); err != nil {
			s.logger().Error("outcomes: mark delivered failed", "err", err, "match_id", outcome.MatchID)
		}
		return nil
	}

	next := now.Add(RedeliverBackoff(attempts + 1))
	if err := s.Outbox.MarkOutcomeFailed(ctx, outcome.MatchID, sendErr.Error(), next); err != nil {
		s.logger().Error("outcomes: mark failed failed", "err", err, "match_id", outcome.MatchID)
	}
	return sendErr
}

// RedeliverBackoff is the wait after the given number of failed attempts:
// one minute doubling per attempt, capped at an hour.
func RedeliverBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 7 {
		return maxRedeliverBackoff
	}
	d := time.Minute << (attempts - 1)
	if d > maxRedeliverBackoff {
		return maxRedeliverBackoff
	}
	return d
}

func (s *OutcomeService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *OutcomeService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
