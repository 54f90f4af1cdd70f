package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"AgentArena/internal/auth"
	"AgentArena/internal/domain"

	"github.com/google/uuid"
)

type AgentsStore interface {
	CreateAgent(ctx context.Context, a domain.Agent) (domain.Agent, error)
	GetAgentByID(ctx context.Context, id string) (domain.Agent, error)
	CreateAPIKey(ctx context.Context, k domain.APIKey) error
	GetAPIKey(ctx context.Context, keyID string) (domain.APIKey, error)
}

// AgentService resolves API keys to agents. Agent registration lives outside
// this engine; EnsureAgentWithKey only seeds a known agent for local play.
type AgentService struct {
	Agents AgentsStore
	Logger *slog.Logger
	Now    func() time.Time
}

func (s *AgentService) Authenticate(ctx context.Context, credential string) (domain.Principal, error) {
	keyID, secret, ok := auth.ParseAPIKey(credential)
	if !ok {
		return domain.Principal{}, domain.ErrUnauthenticated
	}

	key, err := s.Agents.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Principal{}, domain.ErrUnauthenticated
		}
		return domain.Principal{}, err
	}
	if key.RevokedAt != nil {
		return domain.Principal{}, domain.ErrUnauthenticated
	}

	ok, err = auth.VerifySecret(key.Hash, secret)
	if err != nil {
		return domain.Principal{}, err
	}
	if !ok {
		return domain.Principal{}, domain.ErrUnauthenticated
	}

	a, err := s.Agents.GetAgentByID(ctx, key.AgentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Principal{}, domain.ErrUnauthenticated
		}
		return domain.Principal{}, err
	}
	if a.Status == domain.AgentStatusDisabled {
		return domain.Principal{}, domain.ErrForbidden
	}

	return domain.Principal{AgentID: a.ID, Permissions: key.Permissions}, nil
}

func (s *AgentService) GetAgent(ctx context.Context, agentID string) (domain.Agent, error) {
	return s.Agents.GetAgentByID(ctx, agentID)
}

// CheckWeightClass reports the agent's class for join admission.
func (s *AgentService) CheckWeightClass(ctx context.Context, agentID string) (domain.WeightClass, error) {
	a, err := s.Agents.GetAgentByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrUnauthenticated
		}
		return "", domain.Unavailable("agent weight class", err)
	}
	if a.WeightClass == "" {
		return domain.WeightOpen, nil
	}
	return a.WeightClass, nil
}

// EnsureAgentWithKey makes sure rawKey authenticates as an agent. When the
// key id is unknown a new agent named name is created for it.
func (s *AgentService) EnsureAgentWithKey(ctx context.Context, name string, class domain.WeightClass, rawKey string) (domain.Agent, error) {
	keyID, secret, ok := auth.ParseAPIKey(rawKey)
	if !ok {
		return domain.Agent{}, domain.NewValidationError(map[string]string{"api_key": "must look like aak_<uuid>.<secret>"})
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Agent{}, domain.NewValidationError(map[string]string{"name": "required"})
	}
	if class == "" {
		class = domain.WeightOpen
	}
	if !class.Valid() {
		return domain.Agent{}, domain.NewValidationError(map[string]string{"weight_class": "must be one of lightweight, middleweight, heavyweight, open"})
	}

	existing, err := s.Agents.GetAPIKey(ctx, keyID)
	if err == nil {
		return s.Agents.GetAgentByID(ctx, existing.AgentID)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Agent{}, err
	}

	hash, err := auth.HashSecret(secret)
	if err != nil {
		return domain.Agent{}, err
	}

	now := s.now()
	a, err := s.Agents.CreateAgent(ctx, domain.Agent{
		ID:          uuid.NewString(),
		Name:        name,
		WeightClass: class,
		Status:      domain.AgentStatusActive,
		CreatedAt:   now,
	})
	if err != nil {
		return domain.Agent{}, err
	}
	if err := s.Agents.CreateAPIKey(ctx, domain.APIKey{
		ID:          keyID,
		AgentID:     a.ID,
		Hash:        hash,
		Permissions: domain.DefaultPermissions,
		CreatedAt:   now,
	}); err != nil {
		return domain.Agent{}, err
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("agent provisioned", "agent_id", a.ID, "name", a.Name, "weight_class", a.WeightClass)
	return a, nil
}

func (s *AgentService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
