package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"AgentArena/internal/auth"
	"AgentArena/internal/domain"
	"AgentArena/internal/service"
	"AgentArena/internal/store/memory"
)

type fixedQuestions struct{}

func (fixedQuestions) NextQuestion(ctx context.Context, category string, exclude []string) (domain.Question, error) {
	n := len(exclude) + 1
	return domain.Question{
		ID:               fmt.Sprintf("q%d", n),
		Prompt:           fmt.Sprintf("question %d", n),
		Category:         category,
		TimeLimitSeconds: 30,
	}, nil
}

func (fixedQuestions) Grade(ctx context.Context, questionID, answer string) (bool, error) {
	return answer == "right", nil
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	store   *memory.Store
	agents  *service.AgentService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.New()
	agents := &service.AgentService{Agents: store}
	matches := &service.MatchService{
		Matches:   store,
		Agents:    agents,
		Questions: fixedQuestions{},
		Now:       func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	return &testServer{
		t:       t,
		handler: NewRouter(RouterOpts{Agents: agents, Matches: matches}),
		store:   store,
		agents:  agents,
	}
}

func (s *testServer) agent(name string, class domain.WeightClass) (string, string) {
	s.t.Helper()
	_, raw, _, err := auth.GenerateAPIKey()
	if err != nil {
		s.t.Fatalf("GenerateAPIKey: %v", err)
	}
	a, err := s.agents.EnsureAgentWithKey(context.Background(), name, class, raw)
	if err != nil {
		s.t.Fatalf("EnsureAgentWithKey: %v", err)
	}
	return a.ID, raw
}

func (s *testServer) do(method, path, key, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[errorEnvelope](t, rr).Error.Code
}

func TestMatchesRequireAPIKey(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodGet, "/v1/matches", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "unauthenticated" {
		t.Fatalf("expected unauthenticated, got %q", code)
	}

	rr = s.do(http.MethodGet, "/v1/matches", "aak_bogus.secret", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed key, got %d", rr.Code)
	}
}

func TestMatchesCreateRequiresPlayPermission(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	keyID, raw, secret, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	a, err := s.store.CreateAgent(ctx, domain.Agent{ID: "3b0f6c1e-0a57-4c7c-9a55-4f7d5a1d2e90", Name: "spectator", WeightClass: domain.WeightOpen, Status: domain.AgentStatusActive})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := s.store.CreateAPIKey(ctx, domain.APIKey{ID: keyID, AgentID: a.ID, Hash: hash, Permissions: []domain.Permission{domain.PermMatchesRead}}); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	rr := s.do(http.MethodPost, "/v1/matches", raw, `{"game_type":"turing_arena"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = s.do(http.MethodGet, "/v1/agents/me", raw, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for read, got %d", rr.Code)
	}
	me := decodeBody[agentResponse](t, rr)
	if me.Agent.ID != a.ID || len(me.Permissions) != 1 {
		t.Fatalf("unexpected agent response: %+v", me)
	}
}

func TestMatchesCreateValidation(t *testing.T) {
	s := newTestServer(t)
	_, key := s.agent("alpha", domain.WeightOpen)

	rr := s.do(http.MethodPost, "/v1/matches", key, `{"game_type":"chess"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "invalid_game_type" {
		t.Fatalf("expected invalid_game_type, got %q", code)
	}

	rr = s.do(http.MethodPost, "/v1/matches", key, `{"game_type":"turing_arena","prize_pool":-5}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	env := decodeBody[errorEnvelope](t, rr)
	if env.Error.Code != "validation_error" || env.Error.Fields["prize_pool"] == "" {
		t.Fatalf("unexpected error: %+v", env.Error)
	}

	rr = s.do(http.MethodPost, "/v1/matches", key, `{"game_type":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rr.Code)
	}
}

func TestMatchesUnknownIDIsNotFound(t *testing.T) {
	s := newTestServer(t)
	_, key := s.agent("alpha", domain.WeightOpen)

	for _, path := range []string{
		"/v1/matches/not-a-uuid",
		"/v1/matches/6f1d1f3e-8d3f-4a8e-9c59-1d4b5c4c2b10",
		"/v1/matches/6f1d1f3e-8d3f-4a8e-9c59-1d4b5c4c2b10/round",
	} {
		rr := s.do(http.MethodGet, path, key, "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}

func TestMatchesFullLifecycle(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.agent("alice", domain.WeightOpen)
	bobID, bob := s.agent("bob", domain.WeightOpen)

	rr := s.do(http.MethodPost, "/v1/matches", alice, `{"game_type":"turing_arena","category":"Logic","prize_pool":100}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	m := decodeBody[matchResponse](t, rr).Match
	if m.Status != domain.MatchPending || m.Category != "logic" || m.TotalRounds != 5 {
		t.Fatalf("unexpected match: %+v", m)
	}

	rr = s.do(http.MethodGet, "/v1/matches/"+m.ID+"/round", alice, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("round: expected 200, got %d", rr.Code)
	}
	if v := decodeBody[domain.RoundView](t, rr); v.Status != domain.RoundWaiting {
		t.Fatalf("expected waiting, got %q", v.Status)
	}

	rr = s.do(http.MethodPost, "/v1/matches/"+m.ID+"/join", alice, "")
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "self_join" {
		t.Fatalf("self join: got %d", rr.Code)
	}

	rr = s.do(http.MethodGet, "/v1/matches/open?game_type=turing_arena", bob, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("open: expected 200, got %d", rr.Code)
	}
	open := decodeBody[openMatchResponse](t, rr)
	if open.Match == nil || open.Match.ID != m.ID {
		t.Fatalf("expected open match %s, got %+v", m.ID, open.Match)
	}

	rr = s.do(http.MethodPost, "/v1/matches/"+m.ID+"/join", bob, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("join: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if joined := decodeBody[matchResponse](t, rr).Match; joined.Status != domain.MatchInProgress {
		t.Fatalf("expected in_progress, got %q", joined.Status)
	}

	rr = s.do(http.MethodGet, "/v1/matches/open?game_type=turing_arena", bob, "")
	if open := decodeBody[openMatchResponse](t, rr); open.Match != nil {
		t.Fatalf("expected no open match, got %+v", open.Match)
	}

	rr = s.do(http.MethodPost, "/v1/matches/"+m.ID+"/submissions", alice, `{"round_number":2,"answer":"right"}`)
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "round_mismatch" {
		t.Fatalf("expected round_mismatch, got %d", rr.Code)
	}

	for round := 1; round <= 5; round++ {
		rr = s.do(http.MethodGet, "/v1/matches/"+m.ID+"/round", bob, "")
		v := decodeBody[domain.RoundView](t, rr)
		if v.Status != domain.RoundActive || v.RoundNumber != round || v.Question == nil {
			t.Fatalf("round %d: unexpected view %+v", round, v)
		}

		body := fmt.Sprintf(`{"round_number":%d,"answer":"right"}`, round)
		rr = s.do(http.MethodPost, "/v1/matches/"+m.ID+"/submissions", alice, body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("round %d alice: expected 201, got %d: %s", round, rr.Code, rr.Body.String())
		}

		rr = s.do(http.MethodPost, "/v1/matches/"+m.ID+"/submissions", alice, body)
		if rr.Code != http.StatusOK || !decodeBody[domain.SubmissionResult](t, rr).Replayed {
			t.Fatalf("round %d alice replay: got %d", round, rr.Code)
		}

		rr = s.do(http.MethodPost, "/v1/matches/"+m.ID+"/submissions", bob, fmt.Sprintf(`{"round_number":%d,"answer":"wrong"}`, round))
		if rr.Code != http.StatusCreated {
			t.Fatalf("round %d bob: expected 201, got %d: %s", round, rr.Code, rr.Body.String())
		}
		res := decodeBody[domain.SubmissionResult](t, rr)
		if res.Correct {
			t.Fatalf("round %d bob: wrong answer scored correct", round)
		}
		if round == 5 && (!res.MatchCompleted || res.WinnerID != aliceID) {
			t.Fatalf("expected alice to win, got %+v", res)
		}
	}

	rr = s.do(http.MethodGet, "/v1/matches/"+m.ID, bob, "")
	final := decodeBody[matchResponse](t, rr).Match
	if final.Status != domain.MatchCompleted || final.WinnerID != aliceID || final.Scores[bobID] != 0 {
		t.Fatalf("unexpected final match: %+v", final)
	}

	rr = s.do(http.MethodPost, "/v1/matches/"+m.ID+"/submissions", bob, `{"round_number":6,"answer":"late"}`)
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "match_not_active" {
		t.Fatalf("expected match_not_active, got %d", rr.Code)
	}

	if _, err := s.store.GetOutcome(context.Background(), m.ID); err != nil {
		t.Fatalf("expected outcome queued for %s", m.ID)
	}

	rr = s.do(http.MethodGet, "/v1/matches?limit=5", alice, "")
	if list := decodeBody[matchesResponse](t, rr); len(list.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(list.Matches))
	}
}

func TestMatchesCancelAndOutsiderAccess(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.agent("alice", domain.WeightOpen)
	_, bob := s.agent("bob", domain.WeightOpen)
	_, carol := s.agent("carol", domain.WeightOpen)

	rr := s.do(http.MethodPost, "/v1/matches", alice, `{"game_type":"consensus_game"}`)
	m := decodeBody[matchResponse](t, rr).Match

	rr = s.do(http.MethodGet, "/v1/matches/"+m.ID, carol, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("pending match should be visible, got %d", rr.Code)
	}

	rr = s.do(http.MethodPost, "/v1/matches/"+m.ID+"/cancel", bob, "")
	if rr.Code != http.StatusForbidden || errorCode(t, rr) != "not_participant" {
		t.Fatalf("expected not_participant, got %d", rr.Code)
	}

	rr = s.do(http.MethodPost, "/v1/matches/"+m.ID+"/cancel", alice, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if c := decodeBody[matchResponse](t, rr).Match; c.Status != domain.MatchCancelled {
		t.Fatalf("expected cancelled, got %q", c.Status)
	}

	rr = s.do(http.MethodPost, "/v1/matches/"+m.ID+"/join", bob, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("join cancelled: expected 404, got %d", rr.Code)
	}

	rr = s.do(http.MethodGet, "/v1/matches/"+m.ID, carol, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("cancelled match should be hidden from outsiders, got %d", rr.Code)
	}
}

func TestMatchesWeightClassMismatch(t *testing.T) {
	s := newTestServer(t)
	_, heavy := s.agent("heavy", domain.WeightHeavyweight)
	_, light := s.agent("light", domain.WeightLightweight)

	rr := s.do(http.MethodPost, "/v1/matches", heavy, `{"game_type":"inference_race","weight_class":"heavyweight"}`)
	m := decodeBody[matchResponse](t, rr).Match

	rr = s.do(http.MethodPost, "/v1/matches/"+m.ID+"/join", light, "")
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "weight_class_mismatch" {
		t.Fatalf("expected weight_class_mismatch, got %d", rr.Code)
	}
}
