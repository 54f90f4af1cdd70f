// Package memory is an in-process store with the same optimistic-update
// contract as the Postgres store. It backs local runs and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"AgentArena/internal/domain"
)

type subKey struct {
	matchID string
	agentID string
	round   int
}

type roundKey struct {
	matchID string
	round   int
}

type Store struct {
	mu sync.Mutex

	matches     map[string]domain.Match
	submissions map[subKey]domain.Submission
	rounds      map[roundKey]domain.Round
	outbox      map[string]domain.OutcomeDelivery

	agents  map[string]domain.Agent
	apiKeys map[string]domain.APIKey
}

func New() *Store {
	return &Store{
		matches:     map[string]domain.Match{},
		submissions: map[subKey]domain.Submission{},
		rounds:      map[roundKey]domain.Round{},
		outbox:      map[string]domain.OutcomeDelivery{},
		agents:      map[string]domain.Agent{},
		apiKeys:     map[string]domain.APIKey{},
	}
}

func (s *Store) CreateMatch(ctx context.Context, m domain.Match) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[m.ID]; ok {
		return domain.Match{}, domain.ErrConflict
	}
	m = m.Clone()
	m.Version = 1
	s.matches[m.ID] = m
	return m.Clone(), nil
}

func (s *Store) GetMatch(ctx context.Context, matchID string) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) FindOpenMatch(ctx context.Context, f domain.OpenMatchFilter) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  domain.Match
		found bool
	)
	for _, m := range s.matches {
		if m.Status != domain.MatchPending || m.HasParticipant(f.ExcludeAgentID) {
			continue
		}
		if f.GameType != "" && m.GameType != f.GameType {
			continue
		}
		if f.WeightClass != "" && m.WeightClass != f.WeightClass {
			continue
		}
		if !found || m.CreatedAt.After(best.CreatedAt) || (m.CreatedAt.Equal(best.CreatedAt) && m.ID > best.ID) {
			best, found = m, true
		}
	}
	if !found {
		return domain.Match{}, domain.ErrNotFound
	}
	return best.Clone(), nil
}

func (s *Store) ListMatchesForAgent(ctx context.Context, agentID string, limit int) ([]domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.Match{}
	for _, m := range s.matches {
		if m.HasParticipant(agentID) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateMatch(ctx context.Context, m domain.Match, expected domain.MatchStatus) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.matches[m.ID]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	if cur.Version != m.Version || cur.Status != expected {
		return domain.Match{}, domain.ErrConflict
	}
	m = m.Clone()
	m.Version++
	s.matches[m.ID] = m
	return m.Clone(), nil
}

func (s *Store) GetSubmission(ctx context.Context, matchID, agentID string, roundNumber int) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[subKey{matchID, agentID, roundNumber}]
	if !ok {
		return domain.Submission{}, domain.ErrNotFound
	}
	return sub, nil
}

func (s *Store) ApplySubmission(ctx context.Context, sub domain.Submission, m domain.Match, outcome *domain.MatchOutcome) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subKey{sub.MatchID, sub.AgentID, sub.RoundNumber}
	if _, ok := s.submissions[key]; ok {
		return domain.Match{}, domain.ErrDuplicateSubmission
	}
	cur, ok := s.matches[m.ID]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	if cur.Version != m.Version || cur.Status != domain.MatchInProgress || cur.CurrentRound != sub.RoundNumber {
		return domain.Match{}, domain.ErrConflict
	}

	s.submissions[key] = sub
	m = m.Clone()
	m.Version++
	s.matches[m.ID] = m
	if outcome != nil {
		s.outbox[outcome.MatchID] = domain.OutcomeDelivery{
			Outcome:       cloneOutcome(*outcome),
			NextAttemptAt: outcome.CompletedAt.Add(time.Minute),
		}
	}
	return m.Clone(), nil
}

func (s *Store) GetRound(ctx context.Context, matchID string, roundNumber int) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundKey{matchID, roundNumber}]
	if !ok {
		return domain.Round{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListRounds(ctx context.Context, matchID string) ([]domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.Round{}
	for k, r := range s.rounds {
		if k.matchID == matchID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNumber < out[j].RoundNumber })
	return out, nil
}

func (s *Store) PutRound(ctx context.Context, r domain.Round) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := roundKey{r.MatchID, r.RoundNumber}
	if existing, ok := s.rounds[key]; ok {
		return existing, nil
	}
	s.rounds[key] = r
	return r, nil
}

func (s *Store) CancelPendingBefore(ctx context.Context, before, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, m := range s.matches {
		if m.Status != domain.MatchPending || !m.CreatedAt.Before(before) {
			continue
		}
		m.Status = domain.MatchCancelled
		m.UpdatedAt = now
		m.Version++
		s.matches[id] = m
		n++
	}
	return n, nil
}

func (s *Store) ListDueOutcomes(ctx context.Context, now time.Time, limit int) ([]domain.OutcomeDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.OutcomeDelivery{}
	for _, d := range s.outbox {
		if d.DeliveredAt == nil && !d.NextAttemptAt.After(now) {
			d.Outcome = cloneOutcome(d.Outcome)
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkOutcomeDelivered(ctx context.Context, matchID string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.outbox[matchID]
	if !ok {
		return domain.ErrNotFound
	}
	d.Attempts++
	d.LastError = ""
	d.DeliveredAt = &when
	s.outbox[matchID] = d
	return nil
}

func (s *Store) MarkOutcomeFailed(ctx context.Context, matchID, lastErr string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.outbox[matchID]
	if !ok {
		return domain.ErrNotFound
	}
	if d.DeliveredAt != nil {
		return nil
	}
	d.Attempts++
	d.LastError = lastErr
	d.NextAttemptAt = next
	s.outbox[matchID] = d
	return nil
}

func (s *Store) GetOutcome(ctx context.Context, matchID string) (domain.OutcomeDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.outbox[matchID]
	if !ok {
		return domain.OutcomeDelivery{}, domain.ErrNotFound
	}
	d.Outcome = cloneOutcome(d.Outcome)
	return d, nil
}

func (s *Store) CreateAgent(ctx context.Context, a domain.Agent) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[a.ID]; ok {
		return domain.Agent{}, domain.ErrConflict
	}
	s.agents[a.ID] = a
	return a, nil
}

func (s *Store) GetAgentByID(ctx context.Context, id string) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return domain.Agent{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, k domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apiKeys[k.ID]; ok {
		return domain.ErrConflict
	}
	k.Permissions = slices.Clone(k.Permissions)
	s.apiKeys[k.ID] = k
	return nil
}

func (s *Store) GetAPIKey(ctx context.Context, keyID string) (domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[keyID]
	if !ok {
		return domain.APIKey{}, domain.ErrNotFound
	}
	k.Permissions = slices.Clone(k.Permissions)
	return k, nil
}

func cloneOutcome(o domain.MatchOutcome) domain.MatchOutcome {
	scores := make(map[string]int64, len(o.Scores))
	for k, v := range o.Scores {
		scores[k] = v
	}
	o.Scores = scores
	return o
}
