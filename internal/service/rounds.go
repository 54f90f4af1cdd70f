package service

import (
	"context"
	"errors"

	"AgentArena/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// GetCurrentRound tells a participant what to do next: wait for an opponent,
// answer the active round's question, or read the final result.
func (s *MatchService) GetCurrentRound(ctx context.Context, agentID, matchID string) (view domain.RoundView, err error) {
	ctx, span := startSpan(ctx, "MatchService.GetCurrentRound", attribute.String("agent.id", agentID), attribute.String("match.id", matchID))
	defer func() { endSpan(span, err) }()

	m, err := s.Matches.GetMatch(ctx, matchID)
	if err != nil {
		return domain.RoundView{}, err
	}
	if !m.HasParticipant(agentID) {
		return domain.RoundView{}, domain.ErrNotParticipant
	}

	view = domain.RoundView{MatchID: m.ID}
	switch m.Status {
	case domain.MatchPending:
		view.Status = domain.RoundWaiting
	case domain.MatchCancelled:
		view.Status = domain.RoundCancelled
	case domain.MatchCompleted:
		view.Status = domain.RoundCompleted
		view.TotalRounds = m.TotalRounds
		view.WinnerID = m.WinnerID
		view.Draw = m.WinnerID == ""
		view.FinalScores = finalScores(m)
	case domain.MatchInProgress:
		round, err := s.ensureRound(ctx, m)
		if err != nil {
			return domain.RoundView{}, err
		}
		view.Status = domain.RoundActive
		view.RoundNumber = m.CurrentRound
		view.TotalRounds = m.TotalRounds
		view.Answered = m.HasSubmitted(agentID)
		view.Question = &domain.QuestionView{
			ID:               round.QuestionID,
			Prompt:           round.Prompt,
			Category:         round.Category,
			TimeLimitSeconds: round.TimeLimitSeconds,
		}
	}
	return view, nil
}

// ensureRound returns the question pinned to the match's current round,
// drawing and pinning one on first use. Concurrent first draws converge on
// whichever insert landed first.
func (s *MatchService) ensureRound(ctx context.Context, m domain.Match) (domain.Round, error) {
	r, err := s.Matches.GetRound(ctx, m.ID, m.CurrentRound)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Round{}, err
	}

	previous, err := s.Matches.ListRounds(ctx, m.ID)
	if err != nil {
		return domain.Round{}, err
	}
	exclude := make([]string, 0, len(previous))
	for _, p := range previous {
		exclude = append(exclude, p.QuestionID)
	}

	q, err := s.Questions.NextQuestion(ctx, m.Category, exclude)
	if err != nil {
		if errors.Is(err, domain.ErrCollaboratorUnavailable) {
			return domain.Round{}, err
		}
		return domain.Round{}, domain.Unavailable("next question", err)
	}

	category := q.Category
	if category == "" {
		category = m.Category
	}
	return s.Matches.PutRound(ctx, domain.Round{
		MatchID:          m.ID,
		RoundNumber:      m.CurrentRound,
		QuestionID:       q.ID,
		Prompt:           q.Prompt,
		Category:         category,
		TimeLimitSeconds: q.TimeLimitSeconds,
		ServedAt:         s.now(),
	})
}

func finalScores(m domain.Match) map[string]int64 {
	out := make(map[string]int64, len(m.Participants))
	for _, id := range m.Participants {
		out[id] = m.Scores[id]
	}
	return out
}
