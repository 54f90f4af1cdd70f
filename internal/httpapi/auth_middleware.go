package httpapi

import (
	"context"
	"net/http"
	"strings"

	"AgentArena/internal/domain"
)

type authCtxKey int

const authPrincipalKey authCtxKey = iota

// requirePermission authenticates the API key on the request and checks that
// it carries perm.
func (a *api) requirePermission(perm domain.Permission, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := apiKeyFromRequest(r)
		if credential == "" {
			WriteDomainError(w, domain.ErrUnauthenticated)
			return
		}

		p, err := a.agentSvc.Authenticate(r.Context(), credential)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if !p.Can(perm) {
			WriteDomainError(w, domain.ErrForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), authPrincipalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func CurrentPrincipal(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(authPrincipalKey).(domain.Principal)
	return p, ok
}

func apiKeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
