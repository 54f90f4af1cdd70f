package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"AgentArena/internal/domain"
	"AgentArena/internal/store/memory"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubQuestions serves q1..qN; the correct answer to qN is "answer-N".
type stubQuestions struct {
	count int

	nextFunc  func(context.Context, string, []string) (domain.Question, error)
	gradeFunc func(context.Context, string, string) (bool, error)
}

func (s *stubQuestions) NextQuestion(ctx context.Context, category string, exclude []string) (domain.Question, error) {
	if s.nextFunc != nil {
		return s.nextFunc(ctx, category, exclude)
	}
	for i := 1; i <= s.count; i++ {
		id := fmt.Sprintf("q%d", i)
		if !contains(exclude, id) {
			return domain.Question{ID: id, Category: category, Prompt: "prompt " + id, TimeLimitSeconds: 30}, nil
		}
	}
	return domain.Question{}, errors.New("question bank exhausted")
}

func (s *stubQuestions) Grade(ctx context.Context, questionID, answer string) (bool, error) {
	if s.gradeFunc != nil {
		return s.gradeFunc(ctx, questionID, answer)
	}
	return answer == correctAnswer(questionID), nil
}

func correctAnswer(questionID string) string {
	return "answer-" + strings.TrimPrefix(questionID, "q")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	ch chan domain.MatchOutcome
}

func (n *recordingNotifier) NotifyOutcome(ctx context.Context, outcome domain.MatchOutcome) {
	n.ch <- outcome
}

type harness struct {
	svc       *MatchService
	store     *memory.Store
	clock     *fakeClock
	questions *stubQuestions
	outcomes  *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	clock := newFakeClock()

	for id, class := range map[string]domain.WeightClass{
		"agent-a": domain.WeightLightweight,
		"agent-b": domain.WeightLightweight,
		"agent-c": domain.WeightHeavyweight,
	} {
		_, err := store.CreateAgent(ctx, domain.Agent{ID: id, Name: id, WeightClass: class, Status: domain.AgentStatusActive})
		require.NoError(t, err)
	}

	h := &harness{
		store:     store,
		clock:     clock,
		questions: &stubQuestions{count: 20},
		outcomes:  &recordingNotifier{ch: make(chan domain.MatchOutcome, 8)},
	}
	h.svc = &MatchService{
		Matches:   store,
		Agents:    &AgentService{Agents: store, Now: clock.Now},
		Questions: h.questions,
		Outcomes:  h.outcomes,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       clock.Now,
	}
	return h
}

func (h *harness) outbox(t *testing.T, matchID string) domain.OutcomeDelivery {
	t.Helper()
	d, err := h.store.GetOutcome(context.Background(), matchID)
	require.NoError(t, err)
	return d
}

// startMatch creates a turing_arena match for agent-a and lets agent-b join.
func (h *harness) startMatch(t *testing.T) domain.Match {
	t.Helper()
	ctx := context.Background()
	m, err := h.svc.CreateMatch(ctx, "agent-a", CreateMatchParams{GameType: domain.GameTuringArena})
	require.NoError(t, err)
	m, err = h.svc.JoinMatch(ctx, "agent-b", m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MatchInProgress, m.Status)
	return m
}

func (h *harness) currentAnswer(t *testing.T, agentID, matchID string) (int, string) {
	t.Helper()
	view, err := h.svc.GetCurrentRound(context.Background(), agentID, matchID)
	require.NoError(t, err)
	require.Equal(t, domain.RoundActive, view.Status)
	require.NotNil(t, view.Question)
	return view.RoundNumber, correctAnswer(view.Question.ID)
}

func (h *harness) waitOutcome(t *testing.T) domain.MatchOutcome {
	t.Helper()
	select {
	case o := <-h.outcomes.ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("outcome was not reported")
		return domain.MatchOutcome{}
	}
}
