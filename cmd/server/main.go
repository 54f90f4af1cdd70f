package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"AgentArena/internal/config"
	"AgentArena/internal/content"
	"AgentArena/internal/domain"
	"AgentArena/internal/httpapi"
	"AgentArena/internal/outcomes"
	"AgentArena/internal/service"
	"AgentArena/internal/store/memory"
	"AgentArena/internal/store/postgres"
	"AgentArena/internal/telemetry"
	"AgentArena/internal/worker"
)

const serviceName = "agent-arena"

type stores struct {
	matches service.MatchStore
	agents  service.AgentsStore
	outbox  service.OutcomeStore
	dbPing  func(context.Context) error
	close   func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		logger.Error("telemetry setup failed", "err", err)
		os.Exit(1)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("store setup failed", "err", err)
		os.Exit(1)
	}
	defer st.close()

	questions, err := newQuestionSource(cfg, logger)
	if err != nil {
		logger.Error("question source setup failed", "err", err)
		os.Exit(1)
	}

	agentSvc := &service.AgentService{Agents: st.agents, Logger: logger}
	outcomeSvc := &service.OutcomeService{Outbox: st.outbox, Logger: logger}
	if cfg.OutcomeURL != "" {
		reporter, err := outcomes.NewWebhookReporter(ctx, outcomes.WebhookConfig{
			URL:          cfg.OutcomeURL,
			TokenURL:     cfg.OutcomeTokenURL,
			ClientID:     cfg.OutcomeClientID,
			ClientSecret: cfg.OutcomeClientSecret,
		})
		if err != nil {
			logger.Error("outcome reporter setup failed", "err", err)
			os.Exit(1)
		}
		outcomeSvc.Reporter = reporter
	} else {
		logger.Info("outcome reporting disabled", "reason", "APP_OUTCOME_URL not set")
	}

	matchSvc := &service.MatchService{
		Matches:         st.matches,
		Agents:          agentSvc,
		Questions:       questions,
		Outcomes:        outcomeSvc,
		Scoring:         cfg.Scoring(),
		Logger:          logger,
		ConflictRetries: cfg.MatchConflictRetries(),
	}

	if cfg.BootstrapAgentKey != "" {
		a, err := agentSvc.EnsureAgentWithKey(ctx, cfg.BootstrapAgentName, domain.WeightClass(cfg.BootstrapAgentWeightClass), cfg.BootstrapAgentKey)
		if err != nil {
			logger.Error("bootstrap agent failed", "err", err)
			os.Exit(1)
		}
		logger.Info("bootstrap agent ready", "agent_id", a.ID, "name", a.Name)
	}

	jobs, err := worker.Start(ctx, worker.Config{
		OutcomeSweepInterval: cfg.OutcomeSweepInterval,
		PendingMatchTTL:      cfg.PendingMatchTTL,
	}, outcomeSvc, matchSvc, logger)
	if err != nil {
		logger.Error("worker start failed", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewRouter(httpapi.RouterOpts{
			Logger:  logger,
			IsProd:  cfg.IsProd(),
			DBPing:  st.dbPing,
			Agents:  agentSvc,
			Matches: matchSvc,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-stop:
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := jobs.Shutdown(); err != nil {
		logger.Warn("worker shutdown failed", "err", err)
	}
	cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", "err", err)
	}
	if exitCode != 0 {
		st.close()
		os.Exit(exitCode)
	}
}

// openStores connects to Postgres when a DSN is configured. Without one the
// server keeps everything in memory, which only dev and test allow.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.DBDSN == "" {
		logger.Warn("APP_DB_DSN not set; using in-memory store")
		mem := memory.New()
		return stores{matches: mem, agents: mem, outbox: mem, close: func() {}}, nil
	}

	if cfg.DBMigrate {
		if err := postgres.Migrate(cfg.DBDSN); err != nil {
			return stores{}, err
		}
		logger.Info("database migrations applied")
	}

	pool, err := postgres.Open(ctx, cfg.DBDSN)
	if err != nil {
		return stores{}, fmt.Errorf("db open: %w", err)
	}
	return stores{
		matches: postgres.NewMatchesStore(pool),
		agents:  postgres.NewAgentsStore(pool),
		outbox:  postgres.NewOutboxStore(pool),
		dbPing:  pool.Ping,
		close:   pool.Close,
	}, nil
}

func newQuestionSource(cfg config.Config, logger *slog.Logger) (service.QuestionSource, error) {
	if cfg.ContentURL != "" {
		logger.Info("using content service", "url", cfg.ContentURL)
		return content.NewClient(cfg.ContentURL), nil
	}

	var (
		bank *content.Bank
		err  error
	)
	if cfg.QuestionBank != "" {
		bank, err = content.LoadBank(cfg.QuestionBank)
	} else {
		bank, err = content.DefaultBank()
	}
	if err != nil {
		return nil, err
	}
	logger.Info("question bank loaded", "path", cfg.QuestionBank, "questions", bank.Len())
	return bank, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
