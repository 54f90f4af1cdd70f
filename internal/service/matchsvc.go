package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"AgentArena/internal/domain"
	"AgentArena/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type MatchStore interface {
	CreateMatch(ctx context.Context, m domain.Match) (domain.Match, error)
	GetMatch(ctx context.Context, matchID string) (domain.Match, error)
	FindOpenMatch(ctx context.Context, f domain.OpenMatchFilter) (domain.Match, error)
	ListMatchesForAgent(ctx context.Context, agentID string, limit int) ([]domain.Match, error)
	// UpdateMatch stores m if the stored row still has m.Version and status
	// expected. A lost race returns domain.ErrConflict.
	UpdateMatch(ctx context.Context, m domain.Match, expected domain.MatchStatus) (domain.Match, error)
	GetSubmission(ctx context.Context, matchID, agentID string, roundNumber int) (domain.Submission, error)
	// ApplySubmission records sub and stores m in one transaction, conditional
	// on m.Version, status in_progress and current round sub.RoundNumber. A
	// non-nil outcome is queued for delivery in the same transaction.
	ApplySubmission(ctx context.Context, sub domain.Submission, m domain.Match, outcome *domain.MatchOutcome) (domain.Match, error)
	GetRound(ctx context.Context, matchID string, roundNumber int) (domain.Round, error)
	ListRounds(ctx context.Context, matchID string) ([]domain.Round, error)
	// PutRound inserts r unless the round already has a question, and returns
	// whichever round is stored.
	PutRound(ctx context.Context, r domain.Round) (domain.Round, error)
	CancelPendingBefore(ctx context.Context, before, now time.Time) (int, error)
}

type WeightClassChecker interface {
	CheckWeightClass(ctx context.Context, agentID string) (domain.WeightClass, error)
}

type QuestionSource interface {
	NextQuestion(ctx context.Context, category string, exclude []string) (domain.Question, error)
	Grade(ctx context.Context, questionID, answer string) (bool, error)
}

type OutcomeNotifier interface {
	NotifyOutcome(ctx context.Context, outcome domain.MatchOutcome)
}

const defaultConflictRetries = 3

type MatchService struct {
	Matches   MatchStore
	Agents    WeightClassChecker
	Questions QuestionSource
	Outcomes  OutcomeNotifier
	Scoring   domain.Scoring
	Logger    *slog.Logger

	// ConflictRetries bounds fresh-read retries after a lost optimistic
	// update. Zero means the default; negative disables retries.
	ConflictRetries int

	Now   func() time.Time
	NewID func() string
}

type CreateMatchParams struct {
	GameType    domain.GameType
	WeightClass domain.WeightClass
	Category    string
	PrizePool   int64
}

func (s *MatchService) CreateMatch(ctx context.Context, agentID string, p CreateMatchParams) (m domain.Match, err error) {
	ctx, span := startSpan(ctx, "MatchService.CreateMatch", attribute.String("agent.id", agentID))
	defer func() { endSpan(span, err) }()

	if !p.GameType.Valid() {
		return domain.Match{}, domain.ErrInvalidGameType
	}
	if p.WeightClass == "" {
		p.WeightClass = domain.WeightOpen
	}
	fields := map[string]string{}
	if !p.WeightClass.Valid() {
		fields["weight_class"] = "must be one of lightweight, middleweight, heavyweight, open"
	}
	category := strings.TrimSpace(strings.ToLower(p.Category))
	if category == "" {
		category = domain.DefaultCategory
	}
	if len(category) > 64 {
		fields["category"] = "must be at most 64 characters"
	}
	if p.PrizePool < 0 {
		fields["prize_pool"] = "must be >= 0"
	}
	if len(fields) > 0 {
		return domain.Match{}, domain.NewValidationError(fields)
	}

	now := s.now()
	m = domain.Match{
		ID:           s.newID(),
		Status:       domain.MatchPending,
		GameType:     p.GameType,
		WeightClass:  p.WeightClass,
		Category:     category,
		CreatedBy:    agentID,
		Participants: []string{agentID},
		CurrentRound: 1,
		TotalRounds:  p.GameType.DefaultRounds(),
		Scores:       map[string]int64{},
		PrizePool:    p.PrizePool,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m, err = s.Matches.CreateMatch(ctx, m)
	if err != nil {
		return domain.Match{}, err
	}

	metrics.MatchTransition(string(m.GameType), string(m.Status))
	s.logger().Info("match created", "match_id", m.ID, "agent_id", agentID, "game_type", m.GameType, "weight_class", m.WeightClass)
	return m, nil
}

func (s *MatchService) JoinMatch(ctx context.Context, agentID, matchID string) (joined domain.Match, err error) {
	ctx, span := startSpan(ctx, "MatchService.JoinMatch", attribute.String("agent.id", agentID), attribute.String("match.id", matchID))
	defer func() { endSpan(span, err) }()

	var agentClass domain.WeightClass
	err = s.withRetry(ctx, "join", func() error {
		m, err := s.Matches.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if m.Status != domain.MatchPending {
			return domain.ErrNotFound
		}
		if m.HasParticipant(agentID) {
			return domain.ErrSelfJoin
		}
		if m.WeightClass != domain.WeightOpen {
			if agentClass == "" {
				agentClass, err = s.Agents.CheckWeightClass(ctx, agentID)
				if err != nil {
					return err
				}
			}
			if !m.WeightClass.Admits(agentClass) {
				return domain.ErrWeightClassMismatch
			}
		}
		if len(m.Participants) >= m.GameType.MaxParticipants() {
			return domain.ErrMatchFull
		}

		now := s.now()
		next := m.Clone()
		next.Participants = append(next.Participants, agentID)
		next.UpdatedAt = now
		if len(next.Participants) == next.GameType.MaxParticipants() {
			next.Status = domain.MatchInProgress
			next.CurrentRound = 1
			next.StartedAt = &now
			next.RoundStartedAt = &now
		}

		joined, err = s.Matches.UpdateMatch(ctx, next, domain.MatchPending)
		return err
	})
	if err != nil {
		return domain.Match{}, err
	}

	metrics.MatchTransition(string(joined.GameType), string(joined.Status))
	s.logger().Info("match joined", "match_id", joined.ID, "agent_id", agentID, "status", joined.Status)
	return joined, nil
}

// FindOpenMatch returns the newest pending match the agent could join. The
// second result is false when nothing matches.
func (s *MatchService) FindOpenMatch(ctx context.Context, agentID string, gameType domain.GameType, weightClass domain.WeightClass) (domain.Match, bool, error) {
	if gameType != "" && !gameType.Valid() {
		return domain.Match{}, false, domain.ErrInvalidGameType
	}
	if weightClass != "" && !weightClass.Valid() {
		return domain.Match{}, false, domain.NewValidationError(map[string]string{"weight_class": "must be one of lightweight, middleweight, heavyweight, open"})
	}

	m, err := s.Matches.FindOpenMatch(ctx, domain.OpenMatchFilter{
		ExcludeAgentID: agentID,
		GameType:       gameType,
		WeightClass:    weightClass,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Match{}, false, nil
		}
		return domain.Match{}, false, err
	}
	return m, true, nil
}

// GetMatch returns a match the agent takes part in. Pending matches are
// visible to everyone so they can be inspected before joining.
func (s *MatchService) GetMatch(ctx context.Context, agentID, matchID string) (domain.Match, error) {
	m, err := s.Matches.GetMatch(ctx, matchID)
	if err != nil {
		return domain.Match{}, err
	}
	if m.Status != domain.MatchPending && !m.HasParticipant(agentID) {
		return domain.Match{}, domain.ErrNotParticipant
	}
	return m, nil
}

func (s *MatchService) ListMatches(ctx context.Context, agentID string, limit int) ([]domain.Match, error) {
	return s.Matches.ListMatchesForAgent(ctx, agentID, limit)
}

// CancelMatch abandons a pending match. Only its creator may do so.
func (s *MatchService) CancelMatch(ctx context.Context, agentID, matchID string) (cancelled domain.Match, err error) {
	ctx, span := startSpan(ctx, "MatchService.CancelMatch", attribute.String("agent.id", agentID), attribute.String("match.id", matchID))
	defer func() { endSpan(span, err) }()

	err = s.withRetry(ctx, "cancel", func() error {
		m, err := s.Matches.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if !m.HasParticipant(agentID) {
			return domain.ErrNotParticipant
		}
		if m.CreatedBy != agentID {
			return domain.ErrForbidden
		}
		if m.Status != domain.MatchPending {
			return domain.ErrMatchNotPending
		}
		next := m.Clone()
		next.Status = domain.MatchCancelled
		next.UpdatedAt = s.now()
		cancelled, err = s.Matches.UpdateMatch(ctx, next, domain.MatchPending)
		return err
	})
	if err != nil {
		return domain.Match{}, err
	}

	metrics.MatchTransition(string(cancelled.GameType), string(cancelled.Status))
	s.logger().Info("match cancelled", "match_id", cancelled.ID, "agent_id", agentID)
	return cancelled, nil
}

// ExpirePendingMatches cancels matches that stayed pending for longer than ttl.
func (s *MatchService) ExpirePendingMatches(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	now := s.now()
	n, err := s.Matches.CancelPendingBefore(ctx, now.Add(-ttl), now)
	if err != nil {
		return 0, fmt.Errorf("expire pending matches: %w", err)
	}
	if n > 0 {
		s.logger().Info("expired pending matches", "count", n, "ttl", ttl.String())
	}
	return n, nil
}

func (s *MatchService) withRetry(ctx context.Context, op string, fn func() error) error {
	retries := s.ConflictRetries
	if retries == 0 {
		retries = defaultConflictRetries
	}
	if retries < 0 {
		retries = 0
	}
	for attempt := 0; ; attempt++ {
		err := fn()
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if attempt >= retries {
			s.logger().Warn("optimistic update retries exhausted", "op", op, "attempts", attempt+1)
			return domain.ErrConflict
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		metrics.ConflictRetry(op)
	}
}

func (s *MatchService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MatchService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *MatchService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *MatchService) scoring() domain.Scoring {
	if s.Scoring == (domain.Scoring{}) {
		return domain.DefaultScoring
	}
	return s.Scoring
}
