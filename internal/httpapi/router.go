package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"AgentArena/internal/domain"
	"AgentArena/internal/metrics"
	"AgentArena/internal/service"
)

type RouterOpts struct {
	Logger *slog.Logger
	IsProd bool

	DBPing func(context.Context) error

	Agents  *service.AgentService
	Matches *service.MatchService
}

func NewRouter(opts RouterOpts) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api := &api{
		logger:   logger,
		isProd:   opts.IsProd,
		dbPing:   opts.DBPing,
		agentSvc: opts.Agents,
		matchSvc: opts.Matches,
	}

	publicMux := http.NewServeMux()
	apiMux := http.NewServeMux()

	publicMux.HandleFunc("GET /healthz", api.handleHealthz)
	publicMux.Handle("GET /metrics", metrics.Handler())

	if api.agentSvc == nil || api.matchSvc == nil {
		apiMux.HandleFunc("/v1/", handleNotImplemented)
	} else {
		read := func(h http.HandlerFunc) http.HandlerFunc { return api.requirePermission(domain.PermMatchesRead, h) }
		play := func(h http.HandlerFunc) http.HandlerFunc { return api.requirePermission(domain.PermMatchesPlay, h) }

		apiMux.HandleFunc("GET /v1/agents/me", read(api.handleAgentsMe))

		apiMux.HandleFunc("POST /v1/matches", play(api.handleMatchesCreate))
		apiMux.HandleFunc("GET /v1/matches", read(api.handleMatchesList))
		apiMux.HandleFunc("GET /v1/matches/open", read(api.handleMatchesOpen))
		apiMux.HandleFunc("GET /v1/matches/{id}", read(api.handleMatchesGet))
		apiMux.HandleFunc("POST /v1/matches/{id}/join", play(api.handleMatchesJoin))
		apiMux.HandleFunc("POST /v1/matches/{id}/cancel", play(api.handleMatchesCancel))
		apiMux.HandleFunc("GET /v1/matches/{id}/round", read(api.handleMatchesRound))
		apiMux.HandleFunc("POST /v1/matches/{id}/submissions", play(api.handleMatchesSubmit))
	}

	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Handler only reports the match; ServeHTTP is what sets path values.
		_, pattern := apiMux.Handler(r)
		if pattern == "" {
			handleV1NotFound(w, r)
			return
		}
		metrics.SetRoute(r.Context(), pattern)
		apiMux.ServeHTTP(w, r)
	})

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/v1" {
			apiHandler.ServeHTTP(w, r)
			return
		}
		if _, pattern := publicMux.Handler(r); pattern != "" {
			metrics.SetRoute(r.Context(), pattern)
		}
		publicMux.ServeHTTP(w, r)
	})

	var h http.Handler = root
	h = metrics.InstrumentHandler(h)
	h = RequestLogger(logger)(h)
	h = RequestID()(h)
	h = Recoverer(logger, opts.IsProd)(h)
	return h
}

func handleNotImplemented(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotImplemented, "not_implemented", "not implemented")
}

func handleV1NotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "not_found", "not found")
}

type api struct {
	logger *slog.Logger
	isProd bool

	dbPing func(context.Context) error

	agentSvc *service.AgentService
	matchSvc *service.MatchService
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if a.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
		if err := a.dbPing(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db down"))
			return
		}
	}

	_, _ = w.Write([]byte("ok"))
}
