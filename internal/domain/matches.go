package domain

import (
	"slices"
	"time"
)

type GameType string

const (
	GameTuringArena    GameType = "turing_arena"
	GameInferenceRace  GameType = "inference_race"
	GameConsensusGame  GameType = "consensus_game"
	GameSurvivalRounds GameType = "survival_rounds"
)

func (g GameType) Valid() bool {
	switch g {
	case GameTuringArena, GameInferenceRace, GameConsensusGame, GameSurvivalRounds:
		return true
	}
	return false
}

// DefaultRounds is the number of rounds a new match of this type is seeded with.
func (g GameType) DefaultRounds() int {
	switch g {
	case GameTuringArena:
		return 5
	case GameConsensusGame:
		return 7
	case GameInferenceRace:
		return 10
	case GameSurvivalRounds:
		return 12
	}
	return 0
}

// MaxParticipants is the seat count at which a pending match starts. Every
// mode is head-to-head for now; the round completion rule already handles N.
func (g GameType) MaxParticipants() int {
	return 2
}

type WeightClass string

const (
	WeightLightweight  WeightClass = "lightweight"
	WeightMiddleweight WeightClass = "middleweight"
	WeightHeavyweight  WeightClass = "heavyweight"
	WeightOpen         WeightClass = "open"
)

func (w WeightClass) Valid() bool {
	switch w {
	case WeightLightweight, WeightMiddleweight, WeightHeavyweight, WeightOpen:
		return true
	}
	return false
}

// Admits reports whether an agent of class agent may join a match of class w.
func (w WeightClass) Admits(agent WeightClass) bool {
	return w == WeightOpen || w == agent
}

type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
	MatchCancelled  MatchStatus = "cancelled"
)

const DefaultCategory = "general"

type Match struct {
	ID              string           `json:"id"`
	Status          MatchStatus      `json:"status"`
	GameType        GameType         `json:"game_type"`
	WeightClass     WeightClass      `json:"weight_class"`
	Category        string           `json:"category"`
	CreatedBy       string           `json:"created_by"`
	Participants    []string         `json:"participants"`
	CurrentRound    int              `json:"current_round"`
	TotalRounds     int              `json:"total_rounds"`
	Scores          map[string]int64 `json:"scores"`
	RoundSubmitters []string         `json:"-"`
	WinnerID        string           `json:"winner_id,omitempty"`
	PrizePool       int64            `json:"prize_pool"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	RoundStartedAt  *time.Time       `json:"round_started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Version         int64            `json:"-"`
}

func (m Match) HasParticipant(agentID string) bool {
	return slices.Contains(m.Participants, agentID)
}

func (m Match) HasSubmitted(agentID string) bool {
	return slices.Contains(m.RoundSubmitters, agentID)
}

// Clone returns a deep copy so callers can stage changes without aliasing the
// slices and map of the stored value.
func (m Match) Clone() Match {
	out := m
	out.Participants = slices.Clone(m.Participants)
	out.RoundSubmitters = slices.Clone(m.RoundSubmitters)
	out.Scores = make(map[string]int64, len(m.Scores))
	for k, v := range m.Scores {
		out.Scores[k] = v
	}
	out.StartedAt = cloneTime(m.StartedAt)
	out.RoundStartedAt = cloneTime(m.RoundStartedAt)
	out.CompletedAt = cloneTime(m.CompletedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	tt := *t
	return &tt
}

type OpenMatchFilter struct {
	ExcludeAgentID string
	GameType       GameType
	WeightClass    WeightClass
}

type Submission struct {
	MatchID        string    `json:"match_id"`
	AgentID        string    `json:"agent_id"`
	RoundNumber    int       `json:"round_number"`
	QuestionID     string    `json:"question_id"`
	AnswerText     string    `json:"answer"`
	Correct        bool      `json:"correct"`
	SubmittedAt    time.Time `json:"submitted_at"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	SpeedBonus     int64     `json:"speed_bonus"`
	PointsAwarded  int64     `json:"points_awarded"`
}

// Round pins the question served for one round of a match.
type Round struct {
	MatchID          string    `json:"match_id"`
	RoundNumber      int       `json:"round_number"`
	QuestionID       string    `json:"question_id"`
	Prompt           string    `json:"prompt"`
	Category         string    `json:"category"`
	TimeLimitSeconds int       `json:"time_limit_seconds"`
	ServedAt         time.Time `json:"served_at"`
}

type Question struct {
	ID               string `json:"id" yaml:"id"`
	Category         string `json:"category" yaml:"category"`
	Prompt           string `json:"prompt" yaml:"prompt"`
	TimeLimitSeconds int    `json:"time_limit_seconds" yaml:"time_limit_seconds"`
}

type RoundStatus string

const (
	RoundWaiting   RoundStatus = "waiting"
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
	RoundCancelled RoundStatus = "cancelled"
)

type QuestionView struct {
	ID               string `json:"id"`
	Prompt           string `json:"prompt"`
	Category         string `json:"category"`
	TimeLimitSeconds int    `json:"time_limit_seconds"`
}

type RoundView struct {
	MatchID     string           `json:"match_id"`
	Status      RoundStatus      `json:"status"`
	RoundNumber int              `json:"round_number,omitempty"`
	TotalRounds int              `json:"total_rounds,omitempty"`
	Question    *QuestionView    `json:"question,omitempty"`
	Answered    bool             `json:"answered,omitempty"`
	WinnerID    string           `json:"winner_id,omitempty"`
	Draw        bool             `json:"draw,omitempty"`
	FinalScores map[string]int64 `json:"final_scores,omitempty"`
}

type SubmissionResult struct {
	MatchID        string `json:"match_id"`
	RoundNumber    int    `json:"round_number"`
	Correct        bool   `json:"correct"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	SpeedBonus     int64  `json:"speed_bonus"`
	PointsAwarded  int64  `json:"points_awarded"`
	TotalScore     int64  `json:"total_score"`
	OpponentScore  int64  `json:"opponent_score"`
	NextRound      int    `json:"next_round"`
	MatchCompleted bool   `json:"match_completed"`
	WinnerID       string `json:"winner_id,omitempty"`
	Draw           bool   `json:"draw,omitempty"`
	Replayed       bool   `json:"replayed,omitempty"`
}

// MatchOutcome is what the stats/reward collaborator receives once per match.
type MatchOutcome struct {
	MatchID     string           `json:"match_id"`
	GameType    GameType         `json:"game_type"`
	WinnerID    string           `json:"winner_id,omitempty"`
	Draw        bool             `json:"draw"`
	Scores      map[string]int64 `json:"scores"`
	PrizePool   int64            `json:"prize_pool"`
	CompletedAt time.Time        `json:"completed_at"`
}

type OutcomeDelivery struct {
	Outcome       MatchOutcome
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	DeliveredAt   *time.Time
}
