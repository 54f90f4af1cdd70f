package domain

import (
	"slices"
	"time"
)

type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusDisabled AgentStatus = "disabled"
)

type Permission string

const (
	PermMatchesPlay Permission = "matches:play"
	PermMatchesRead Permission = "matches:read"
)

var DefaultPermissions = []Permission{PermMatchesPlay, PermMatchesRead}

type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	WeightClass WeightClass `json:"weight_class"`
	Status      AgentStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

type APIKey struct {
	ID          string
	AgentID     string
	Hash        string
	Permissions []Permission
	CreatedAt   time.Time
	RevokedAt   *time.Time
}

// Principal is the authenticated caller of the engine.
type Principal struct {
	AgentID     string
	Permissions []Permission
}

func (p Principal) Can(perm Permission) bool {
	return slices.Contains(p.Permissions, perm)
}
