package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"AgentArena/internal/domain"
	"AgentArena/internal/metrics"

	"go.opentelemetry.io/otel/attribute"
)

const maxAnswerLen = 2000

// SubmitAnswer scores one answer for the caller's current round. Resending an
// identical answer for a round returns the recorded result unchanged.
func (s *MatchService) SubmitAnswer(ctx context.Context, agentID, matchID string, roundNumber int, answer string) (result domain.SubmissionResult, err error) {
	ctx, span := startSpan(ctx, "MatchService.SubmitAnswer",
		attribute.String("agent.id", agentID),
		attribute.String("match.id", matchID),
		attribute.Int("round.number", roundNumber),
	)
	defer func() { endSpan(span, err) }()

	answer = strings.TrimSpace(answer)
	fields := map[string]string{}
	if roundNumber < 1 {
		fields["round_number"] = "must be >= 1"
	}
	if answer == "" {
		fields["answer"] = "required"
	} else if utf8.RuneCountInString(answer) > maxAnswerLen {
		fields["answer"] = "must be at most 2000 characters"
	}
	if len(fields) > 0 {
		return domain.SubmissionResult{}, domain.NewValidationError(fields)
	}

	var (
		outcome *domain.MatchOutcome
		sub     domain.Submission
	)
	err = s.withRetry(ctx, "submit", func() error {
		outcome = nil
		m, err := s.Matches.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if !m.HasParticipant(agentID) {
			return domain.ErrNotParticipant
		}

		prior, err := s.Matches.GetSubmission(ctx, m.ID, agentID, roundNumber)
		switch {
		case err == nil:
			if prior.AnswerText != answer {
				return domain.ErrDuplicateSubmission
			}
			result = replayResult(m, prior, agentID)
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		if m.Status != domain.MatchInProgress {
			return domain.ErrMatchNotActive
		}
		if roundNumber != m.CurrentRound {
			return domain.ErrRoundMismatch
		}

		round, err := s.ensureRound(ctx, m)
		if err != nil {
			return err
		}
		correct, err := s.Questions.Grade(ctx, round.QuestionID, answer)
		if err != nil {
			if errors.Is(err, domain.ErrCollaboratorUnavailable) {
				return err
			}
			return domain.Unavailable("grade answer", err)
		}

		now := s.now()
		responseMs := domain.ResponseTime(m.RoundStartedAt, now)
		bonus, points := s.scoring().Points(correct, responseMs)
		sub = domain.Submission{
			MatchID:        m.ID,
			AgentID:        agentID,
			RoundNumber:    roundNumber,
			QuestionID:     round.QuestionID,
			AnswerText:     answer,
			Correct:        correct,
			SubmittedAt:    now,
			ResponseTimeMs: responseMs,
			SpeedBonus:     bonus,
			PointsAwarded:  points,
		}

		next := m.Clone()
		next.Scores[agentID] += points
		next.RoundSubmitters = append(next.RoundSubmitters, agentID)
		next.UpdatedAt = now
		if roundComplete(next) {
			next.CurrentRound++
			next.RoundSubmitters = nil
			next.RoundStartedAt = &now
			if next.CurrentRound > next.TotalRounds {
				o := finalize(&next, now)
				outcome = &o
			}
		}

		saved, err := s.Matches.ApplySubmission(ctx, sub, next, outcome)
		if errors.Is(err, domain.ErrDuplicateSubmission) {
			// A concurrent retry of this same answer won; re-read and replay it.
			return domain.ErrConflict
		}
		if err != nil {
			return err
		}
		result = submissionResult(saved, sub, agentID)
		return nil
	})
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	if result.Replayed {
		metrics.SubmissionReplayed()
		return result, nil
	}

	metrics.SubmissionRecorded(sub.Correct, sub.ResponseTimeMs)
	s.logger().Info("answer submitted",
		"match_id", matchID,
		"agent_id", agentID,
		"round", roundNumber,
		"correct", sub.Correct,
		"points", sub.PointsAwarded,
		"next_round", result.NextRound,
	)
	if outcome != nil {
		metrics.MatchTransition(string(outcome.GameType), string(domain.MatchCompleted))
		metrics.MatchResult(string(outcome.GameType), outcome.Draw)
		s.logger().Info("match completed", "match_id", outcome.MatchID, "winner_id", outcome.WinnerID, "draw", outcome.Draw)
		s.notifyOutcome(ctx, *outcome)
	}
	return result, nil
}

// roundComplete reports whether every participant has answered the current
// round.
func roundComplete(m domain.Match) bool {
	for _, id := range m.Participants {
		if !m.HasSubmitted(id) {
			return false
		}
	}
	return true
}

// finalize moves m to completed and returns the outcome to report.
func finalize(m *domain.Match, now time.Time) domain.MatchOutcome {
	winnerID, draw := domain.Winner(m.Participants, m.Scores)
	m.Status = domain.MatchCompleted
	m.WinnerID = winnerID
	m.CompletedAt = &now
	m.RoundStartedAt = nil

	return domain.MatchOutcome{
		MatchID:     m.ID,
		GameType:    m.GameType,
		WinnerID:    winnerID,
		Draw:        draw,
		Scores:      finalScores(*m),
		PrizePool:   m.PrizePool,
		CompletedAt: now,
	}
}

// notifyOutcome hands the outcome to the stats collaborator without waiting.
// The outbox row written with the final submission covers failed deliveries.
func (s *MatchService) notifyOutcome(ctx context.Context, outcome domain.MatchOutcome) {
	if s.Outcomes == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go s.Outcomes.NotifyOutcome(ctx, outcome)
}

func submissionResult(m domain.Match, sub domain.Submission, agentID string) domain.SubmissionResult {
	return domain.SubmissionResult{
		MatchID:        m.ID,
		RoundNumber:    sub.RoundNumber,
		Correct:        sub.Correct,
		ResponseTimeMs: sub.ResponseTimeMs,
		SpeedBonus:     sub.SpeedBonus,
		PointsAwarded:  sub.PointsAwarded,
		TotalScore:     m.Scores[agentID],
		OpponentScore:  opponentScore(m, agentID),
		NextRound:      m.CurrentRound,
		MatchCompleted: m.Status == domain.MatchCompleted,
		WinnerID:       m.WinnerID,
		Draw:           m.Status == domain.MatchCompleted && m.WinnerID == "",
	}
}

func replayResult(m domain.Match, prior domain.Submission, agentID string) domain.SubmissionResult {
	r := submissionResult(m, prior, agentID)
	r.Replayed = true
	return r
}

// opponentScore is the best score among the other participants.
func opponentScore(m domain.Match, agentID string) int64 {
	var best int64
	for _, id := range m.Participants {
		if id == agentID {
			continue
		}
		if s := m.Scores[id]; s > best {
			best = s
		}
	}
	return best
}
