package postgres

import (
	"context"
	"errors"
	"fmt"

	"AgentArena/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AgentsStore struct {
	pool *pgxpool.Pool
}

func NewAgentsStore(pool *pgxpool.Pool) *AgentsStore {
	return &AgentsStore{pool: pool}
}

func (s *AgentsStore) CreateAgent(ctx context.Context, a domain.Agent) (domain.Agent, error) {
	const q = `
		INSERT INTO agents (id, name, weight_class, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.pool.Exec(ctx, q, a.ID, a.Name, a.WeightClass, a.Status, a.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.Agent{}, domain.ErrConflict
		}
		return domain.Agent{}, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

func (s *AgentsStore) GetAgentByID(ctx context.Context, id string) (domain.Agent, error) {
	const q = `
		SELECT id, name, weight_class, status, created_at
		FROM agents
		WHERE id = $1
	`
	var (
		a      domain.Agent
		idUUID pgtype.UUID
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(&idUUID, &a.Name, &a.WeightClass, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isBadID(err) {
			return domain.Agent{}, domain.ErrNotFound
		}
		return domain.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	a.ID = uuidOrEmpty(idUUID)
	return a, nil
}

func (s *AgentsStore) CreateAPIKey(ctx context.Context, k domain.APIKey) error {
	perms := make([]string, 0, len(k.Permissions))
	for _, p := range k.Permissions {
		perms = append(perms, string(p))
	}
	const q = `
		INSERT INTO agent_api_keys (id, agent_id, secret_hash, permissions, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.pool.Exec(ctx, q, k.ID, k.AgentID, k.Hash, perms, k.CreatedAt, k.RevokedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *AgentsStore) GetAPIKey(ctx context.Context, keyID string) (domain.APIKey, error) {
	const q = `
		SELECT id, agent_id, secret_hash, permissions, created_at, revoked_at
		FROM agent_api_keys
		WHERE id = $1
	`
	var (
		k       domain.APIKey
		idUUID  pgtype.UUID
		agentID pgtype.UUID
		perms   pgtype.FlatArray[string]
		revoked pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, q, keyID).Scan(&idUUID, &agentID, &k.Hash, &perms, &k.CreatedAt, &revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isBadID(err) {
			return domain.APIKey{}, domain.ErrNotFound
		}
		return domain.APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	k.ID = uuidOrEmpty(idUUID)
	k.AgentID = uuidOrEmpty(agentID)
	for _, p := range textArrayOrEmpty(perms) {
		k.Permissions = append(k.Permissions, domain.Permission(p))
	}
	k.RevokedAt = timestamptzPtr(revoked)
	return k, nil
}
