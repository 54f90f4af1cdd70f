package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AgentArena/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MatchesStore struct {
	pool *pgxpool.Pool
}

func NewMatchesStore(pool *pgxpool.Pool) *MatchesStore {
	return &MatchesStore{pool: pool}
}

const matchColumns = `
	id, status, game_type, weight_class, category, created_by, participants,
	current_round, total_rounds, scores, round_submitters, winner_id, prize_pool,
	created_at, updated_at, started_at, round_started_at, completed_at, version
`

func scanMatch(row pgx.Row) (domain.Match, error) {
	var (
		m            domain.Match
		id           pgtype.UUID
		submitters   pgtype.FlatArray[string]
		winner       pgtype.Text
		started      pgtype.Timestamptz
		roundStarted pgtype.Timestamptz
		completed    pgtype.Timestamptz
	)
	err := row.Scan(
		&id,
		&m.Status,
		&m.GameType,
		&m.WeightClass,
		&m.Category,
		&m.CreatedBy,
		&m.Participants,
		&m.CurrentRound,
		&m.TotalRounds,
		&m.Scores,
		&submitters,
		&winner,
		&m.PrizePool,
		&m.CreatedAt,
		&m.UpdatedAt,
		&started,
		&roundStarted,
		&completed,
		&m.Version,
	)
	if err != nil {
		return domain.Match{}, err
	}
	m.ID = uuidOrEmpty(id)
	m.RoundSubmitters = textArrayOrEmpty(submitters)
	m.WinnerID = textOrEmpty(winner)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	m.StartedAt = timestamptzPtr(started)
	m.RoundStartedAt = timestamptzPtr(roundStarted)
	m.CompletedAt = timestamptzPtr(completed)
	if m.Scores == nil {
		m.Scores = map[string]int64{}
	}
	return m, nil
}

func submitters(m domain.Match) []string {
	if m.RoundSubmitters == nil {
		return []string{}
	}
	return m.RoundSubmitters
}

func (s *MatchesStore) CreateMatch(ctx context.Context, m domain.Match) (domain.Match, error) {
	const q = `
		INSERT INTO matches (
			id, status, game_type, weight_class, category, created_by, participants,
			current_round, total_rounds, scores, round_submitters, prize_pool,
			created_at, updated_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)
		RETURNING ` + matchColumns

	created, err := scanMatch(s.pool.QueryRow(ctx, q,
		m.ID, m.Status, m.GameType, m.WeightClass, m.Category, m.CreatedBy, m.Participants,
		m.CurrentRound, m.TotalRounds, m.Scores, submitters(m), m.PrizePool,
		m.CreatedAt, m.UpdatedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Match{}, domain.ErrConflict
		}
		return domain.Match{}, fmt.Errorf("insert match: %w", err)
	}
	return created, nil
}

func (s *MatchesStore) GetMatch(ctx context.Context, matchID string) (domain.Match, error) {
	q := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(s.pool.QueryRow(ctx, q, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isBadID(err) {
			return domain.Match{}, domain.ErrNotFound
		}
		return domain.Match{}, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

func (s *MatchesStore) FindOpenMatch(ctx context.Context, f domain.OpenMatchFilter) (domain.Match, error) {
	q := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE status = 'pending'
		  AND NOT ($1 = ANY(participants))
		  AND ($2 = '' OR game_type = $2)
		  AND ($3 = '' OR weight_class = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	m, err := scanMatch(s.pool.QueryRow(ctx, q, f.ExcludeAgentID, string(f.GameType), string(f.WeightClass)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Match{}, domain.ErrNotFound
		}
		return domain.Match{}, fmt.Errorf("find open match: %w", err)
	}
	return m, nil
}

func (s *MatchesStore) ListMatchesForAgent(ctx context.Context, agentID string, limit int) ([]domain.Match, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	q := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE participants @> ARRAY[$1]::text[]
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	out := []domain.Match{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}

const updateMatch = `
	UPDATE matches
	SET status = $2,
	    participants = $3,
	    current_round = $4,
	    scores = $5,
	    round_submitters = $6,
	    winner_id = $7,
	    updated_at = $8,
	    started_at = $9,
	    round_started_at = $10,
	    completed_at = $11,
	    version = version + 1
	WHERE id = $1 AND version = $12 AND status = $13
`

func updateArgs(m domain.Match, expected domain.MatchStatus) []any {
	return []any{
		m.ID, m.Status, m.Participants, m.CurrentRound, m.Scores, submitters(m),
		nullIfEmpty(m.WinnerID), m.UpdatedAt, m.StartedAt, m.RoundStartedAt, m.CompletedAt,
		m.Version, expected,
	}
}

func (s *MatchesStore) UpdateMatch(ctx context.Context, m domain.Match, expected domain.MatchStatus) (domain.Match, error) {
	updated, err := scanMatch(s.pool.QueryRow(ctx, updateMatch+` RETURNING `+matchColumns, updateArgs(m, expected)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Match{}, domain.ErrConflict
		}
		return domain.Match{}, fmt.Errorf("update match: %w", err)
	}
	return updated, nil
}

func (s *MatchesStore) GetSubmission(ctx context.Context, matchID, agentID string, roundNumber int) (domain.Submission, error) {
	const q = `
		SELECT match_id, agent_id, round_number, question_id, answer_text, correct,
		       submitted_at, response_time_ms, speed_bonus, points_awarded
		FROM match_submissions
		WHERE match_id = $1 AND agent_id = $2 AND round_number = $3
	`
	var (
		sub     domain.Submission
		matchPK pgtype.UUID
	)
	err := s.pool.QueryRow(ctx, q, matchID, agentID, roundNumber).Scan(
		&matchPK,
		&sub.AgentID,
		&sub.RoundNumber,
		&sub.QuestionID,
		&sub.AnswerText,
		&sub.Correct,
		&sub.SubmittedAt,
		&sub.ResponseTimeMs,
		&sub.SpeedBonus,
		&sub.PointsAwarded,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isBadID(err) {
			return domain.Submission{}, domain.ErrNotFound
		}
		return domain.Submission{}, fmt.Errorf("get submission: %w", err)
	}
	sub.MatchID = uuidOrEmpty(matchPK)
	sub.SubmittedAt = sub.SubmittedAt.UTC()
	return sub, nil
}

// ApplySubmission writes the submission, the match and any outcome in one
// transaction. The match update only lands if the row is still at m.Version,
// in progress and on the submission's round.
func (s *MatchesStore) ApplySubmission(ctx context.Context, sub domain.Submission, m domain.Match, outcome *domain.MatchOutcome) (domain.Match, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Match{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertSubmission = `
		INSERT INTO match_submissions (
			match_id, agent_id, round_number, question_id, answer_text, correct,
			submitted_at, response_time_ms, speed_bonus, points_awarded
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.Exec(ctx, insertSubmission,
		sub.MatchID, sub.AgentID, sub.RoundNumber, sub.QuestionID, sub.AnswerText, sub.Correct,
		sub.SubmittedAt, sub.ResponseTimeMs, sub.SpeedBonus, sub.PointsAwarded,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.Match{}, domain.ErrDuplicateSubmission
		}
		return domain.Match{}, fmt.Errorf("insert submission: %w", err)
	}

	args := append(updateArgs(m, domain.MatchInProgress), sub.RoundNumber)
	updated, err := scanMatch(tx.QueryRow(ctx, updateMatch+` AND current_round = $14 RETURNING `+matchColumns, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Match{}, domain.ErrConflict
		}
		return domain.Match{}, fmt.Errorf("update match: %w", err)
	}

	if outcome != nil {
		if err := insertOutcome(ctx, tx, *outcome); err != nil {
			return domain.Match{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Match{}, fmt.Errorf("commit tx: %w", err)
	}
	return updated, nil
}

const roundColumns = `match_id, round_number, question_id, prompt, category, time_limit_seconds, served_at`

func scanRound(row pgx.Row) (domain.Round, error) {
	var (
		r  domain.Round
		id pgtype.UUID
	)
	if err := row.Scan(&id, &r.RoundNumber, &r.QuestionID, &r.Prompt, &r.Category, &r.TimeLimitSeconds, &r.ServedAt); err != nil {
		return domain.Round{}, err
	}
	r.MatchID = uuidOrEmpty(id)
	r.ServedAt = r.ServedAt.UTC()
	return r, nil
}

func (s *MatchesStore) GetRound(ctx context.Context, matchID string, roundNumber int) (domain.Round, error) {
	q := `SELECT ` + roundColumns + ` FROM match_rounds WHERE match_id = $1 AND round_number = $2`
	r, err := scanRound(s.pool.QueryRow(ctx, q, matchID, roundNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isBadID(err) {
			return domain.Round{}, domain.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("get round: %w", err)
	}
	return r, nil
}

func (s *MatchesStore) ListRounds(ctx context.Context, matchID string) ([]domain.Round, error) {
	q := `SELECT ` + roundColumns + ` FROM match_rounds WHERE match_id = $1 ORDER BY round_number`
	rows, err := s.pool.Query(ctx, q, matchID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	out := []domain.Round{}
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return out, nil
}

func (s *MatchesStore) PutRound(ctx context.Context, r domain.Round) (domain.Round, error) {
	const q = `
		INSERT INTO match_rounds (match_id, round_number, question_id, prompt, category, time_limit_seconds, served_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (match_id, round_number) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, q, r.MatchID, r.RoundNumber, r.QuestionID, r.Prompt, r.Category, r.TimeLimitSeconds, r.ServedAt); err != nil {
		return domain.Round{}, fmt.Errorf("insert round: %w", err)
	}
	return s.GetRound(ctx, r.MatchID, r.RoundNumber)
}

func (s *MatchesStore) CancelPendingBefore(ctx context.Context, before, now time.Time) (int, error) {
	const q = `
		UPDATE matches
		SET status = 'cancelled', updated_at = $2, version = version + 1
		WHERE status = 'pending' AND created_at < $1
	`
	tag, err := s.pool.Exec(ctx, q, before, now)
	if err != nil {
		return 0, fmt.Errorf("cancel pending matches: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
