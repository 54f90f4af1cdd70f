package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"AgentArena/internal/domain"
	"AgentArena/internal/service"

	"github.com/google/uuid"
)

type createMatchRequest struct {
	GameType    string `json:"game_type"`
	WeightClass string `json:"weight_class"`
	Category    string `json:"category"`
	PrizePool   int64  `json:"prize_pool"`
}

func (req createMatchRequest) params() service.CreateMatchParams {
	return service.CreateMatchParams{
		GameType:    domain.GameType(strings.TrimSpace(strings.ToLower(req.GameType))),
		WeightClass: domain.WeightClass(strings.TrimSpace(strings.ToLower(req.WeightClass))),
		Category:    req.Category,
		PrizePool:   req.PrizePool,
	}
}

type submitAnswerRequest struct {
	RoundNumber int    `json:"round_number"`
	Answer      string `json:"answer"`
}

type matchResponse struct {
	Match domain.Match `json:"match"`
}

type openMatchResponse struct {
	Match *domain.Match `json:"match"`
}

type matchesResponse struct {
	Matches []domain.Match `json:"matches"`
}

func (a *api) handleMatchesCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := CurrentPrincipal(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthenticated)
		return
	}

	var req createMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	m, err := a.matchSvc.CreateMatch(r.Context(), p.AgentID, req.params())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, matchResponse{Match: m})
}

func (a *api) handleMatchesList(w http.ResponseWriter, r *http.Request) {
	p, ok := CurrentPrincipal(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthenticated)
		return
	}

	limit := 25
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	out, err := a.matchSvc.ListMatches(r.Context(), p.AgentID, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, matchesResponse{Matches: out})
}

func (a *api) handleMatchesOpen(w http.ResponseWriter, r *http.Request) {
	p, ok := CurrentPrincipal(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthenticated)
		return
	}

	q := r.URL.Query()
	gameType := domain.GameType(strings.TrimSpace(strings.ToLower(q.Get("game_type"))))
	weightClass := domain.WeightClass(strings.TrimSpace(strings.ToLower(q.Get("weight_class"))))

	m, found, err := a.matchSvc.FindOpenMatch(r.Context(), p.AgentID, gameType, weightClass)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !found {
		WriteJSON(w, http.StatusOK, openMatchResponse{})
		return
	}
	WriteJSON(w, http.StatusOK, openMatchResponse{Match: &m})
}

func (a *api) handleMatchesGet(w http.ResponseWriter, r *http.Request) {
	p, matchID, ok := a.matchRequest(w, r)
	if !ok {
		return
	}

	m, err := a.matchSvc.GetMatch(r.Context(), p.AgentID, matchID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, matchResponse{Match: m})
}

func (a *api) handleMatchesJoin(w http.ResponseWriter, r *http.Request) {
	p, matchID, ok := a.matchRequest(w, r)
	if !ok {
		return
	}

	m, err := a.matchSvc.JoinMatch(r.Context(), p.AgentID, matchID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, matchResponse{Match: m})
}

func (a *api) handleMatchesCancel(w http.ResponseWriter, r *http.Request) {
	p, matchID, ok := a.matchRequest(w, r)
	if !ok {
		return
	}

	m, err := a.matchSvc.CancelMatch(r.Context(), p.AgentID, matchID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, matchResponse{Match: m})
}

func (a *api) handleMatchesRound(w http.ResponseWriter, r *http.Request) {
	p, matchID, ok := a.matchRequest(w, r)
	if !ok {
		return
	}

	view, err := a.matchSvc.GetCurrentRound(r.Context(), p.AgentID, matchID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func (a *api) handleMatchesSubmit(w http.ResponseWriter, r *http.Request) {
	p, matchID, ok := a.matchRequest(w, r)
	if !ok {
		return
	}

	var req submitAnswerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	res, err := a.matchSvc.SubmitAnswer(r.Context(), p.AgentID, matchID, req.RoundNumber, req.Answer)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	WriteJSON(w, status, res)
}

// matchRequest returns the caller and the {id} path value. Ids that are not
// uuids cannot name a match.
func (a *api) matchRequest(w http.ResponseWriter, r *http.Request) (domain.Principal, string, bool) {
	p, ok := CurrentPrincipal(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthenticated)
		return domain.Principal{}, "", false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, domain.ErrNotFound)
		return domain.Principal{}, "", false
	}
	return p, id.String(), true
}
