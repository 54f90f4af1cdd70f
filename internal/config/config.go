package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"AgentArena/internal/domain"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string `env:"APP_ENV" envDefault:"dev"`
	Addr     string `env:"APP_ADDR" envDefault:"127.0.0.1:8080"`
	LogLevel string `env:"APP_LOG_LEVEL"`

	DBDSN     string `env:"APP_DB_DSN"`
	DBMigrate bool   `env:"APP_DB_MIGRATE" envDefault:"true"`

	ScoreBasePoints   int64         `env:"APP_SCORE_BASE_POINTS" envDefault:"100"`
	ScoreBonusCeiling int64         `env:"APP_SCORE_BONUS_CEILING" envDefault:"30"`
	ConflictRetries   int           `env:"APP_CONFLICT_RETRIES" envDefault:"3"`
	PendingMatchTTL   time.Duration `env:"APP_PENDING_MATCH_TTL" envDefault:"30m"`

	OutcomeURL           string        `env:"APP_OUTCOME_URL"`
	OutcomeTokenURL      string        `env:"APP_OUTCOME_TOKEN_URL"`
	OutcomeClientID      string        `env:"APP_OUTCOME_CLIENT_ID"`
	OutcomeClientSecret  string        `env:"APP_OUTCOME_CLIENT_SECRET"`
	OutcomeSweepInterval time.Duration `env:"APP_OUTCOME_SWEEP_INTERVAL" envDefault:"1m"`

	ContentURL   string `env:"APP_CONTENT_URL"`
	QuestionBank string `env:"APP_QUESTION_BANK"`

	OTelEndpoint string `env:"APP_OTEL_ENDPOINT"`

	BootstrapAgentName        string `env:"APP_BOOTSTRAP_AGENT_NAME" envDefault:"house-agent"`
	BootstrapAgentKey         string `env:"APP_BOOTSTRAP_AGENT_KEY"`
	BootstrapAgentWeightClass string `env:"APP_BOOTSTRAP_AGENT_WEIGHT_CLASS" envDefault:"open"`
}

// Load reads the process environment, filling gaps from ./.env when present.
func Load() (Config, error) {
	environ := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}
	if err := loadDotEnvFile(".env", environ); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}
	return LoadFromEnv(environ)
}

func LoadFromEnv(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}

	if cfg.ScoreBasePoints <= 0 {
		return Config{}, errors.New("APP_SCORE_BASE_POINTS: must be > 0")
	}
	if cfg.ScoreBonusCeiling < 0 {
		return Config{}, errors.New("APP_SCORE_BONUS_CEILING: must be >= 0")
	}
	if cfg.ConflictRetries < 0 {
		return Config{}, errors.New("APP_CONFLICT_RETRIES: must be >= 0")
	}
	if cfg.PendingMatchTTL < 0 {
		return Config{}, errors.New("APP_PENDING_MATCH_TTL: must be >= 0")
	}
	if cfg.OutcomeSweepInterval <= 0 {
		return Config{}, errors.New("APP_OUTCOME_SWEEP_INTERVAL: must be > 0")
	}

	for name, raw := range map[string]string{
		"APP_OUTCOME_URL":       cfg.OutcomeURL,
		"APP_OUTCOME_TOKEN_URL": cfg.OutcomeTokenURL,
		"APP_CONTENT_URL":       cfg.ContentURL,
	} {
		if raw == "" {
			continue
		}
		if err := checkHTTPURL(raw); err != nil {
			return Config{}, fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.OutcomeClientID != "" && cfg.OutcomeTokenURL == "" {
		return Config{}, errors.New("APP_OUTCOME_TOKEN_URL: required when APP_OUTCOME_CLIENT_ID is set")
	}
	if cfg.ContentURL != "" && cfg.QuestionBank != "" {
		return Config{}, errors.New("APP_CONTENT_URL and APP_QUESTION_BANK are mutually exclusive")
	}

	cfg.BootstrapAgentName = strings.TrimSpace(cfg.BootstrapAgentName)
	if !domain.WeightClass(cfg.BootstrapAgentWeightClass).Valid() {
		return Config{}, errors.New("APP_BOOTSTRAP_AGENT_WEIGHT_CLASS: must be one of lightweight, middleweight, heavyweight, open")
	}

	if cfg.IsProd() {
		if cfg.DBDSN == "" {
			return Config{}, errors.New("APP_DB_DSN: required in prod")
		}
		if cfg.OutcomeURL == "" {
			return Config{}, errors.New("APP_OUTCOME_URL: required in prod")
		}
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

// MatchConflictRetries converts APP_CONFLICT_RETRIES to the engine's
// convention, where zero selects the built-in default and negative disables
// retries.
func (c Config) MatchConflictRetries() int {
	if c.ConflictRetries == 0 {
		return -1
	}
	return c.ConflictRetries
}

func (c Config) Scoring() domain.Scoring {
	return domain.Scoring{BasePoints: c.ScoreBasePoints, BonusCeiling: c.ScoreBonusCeiling}
}

// loadDotEnvFile copies keys from path into environ without overriding keys
// that are already set.
func loadDotEnvFile(path string, environ map[string]string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	for k, v := range values {
		if v == "" {
			continue
		}
		if _, ok := environ[k]; ok {
			continue
		}
		environ[k] = v
	}
	return nil
}

func checkHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return errors.New("must be an absolute URL")
	}
	switch parsed.Scheme {
	case "http", "https":
		return nil
	default:
		return errors.New("scheme must be http or https")
	}
}
