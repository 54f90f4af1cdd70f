package httpapi

import (
	"net/http"

	"AgentArena/internal/domain"
)

type agentResponse struct {
	Agent       domain.Agent        `json:"agent"`
	Permissions []domain.Permission `json:"permissions"`
}

func (a *api) handleAgentsMe(w http.ResponseWriter, r *http.Request) {
	p, ok := CurrentPrincipal(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthenticated)
		return
	}

	agent, err := a.agentSvc.GetAgent(r.Context(), p.AgentID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, agentResponse{Agent: agent, Permissions: p.Permissions})
}
