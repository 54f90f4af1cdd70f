package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"AgentArena/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// outcomeRetryDelay keeps a fresh outbox row away from the sweeper while the
// first delivery attempt is in flight.
const outcomeRetryDelay = time.Minute

type OutboxStore struct {
	pool *pgxpool.Pool
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

func insertOutcome(ctx context.Context, tx pgx.Tx, o domain.MatchOutcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	const q = `
		INSERT INTO match_outcomes (match_id, payload, next_attempt_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (match_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, q, o.MatchID, payload, o.CompletedAt.Add(outcomeRetryDelay)); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (s *OutboxStore) GetOutcome(ctx context.Context, matchID string) (domain.OutcomeDelivery, error) {
	const q = `
		SELECT payload, attempts, last_error, next_attempt_at, delivered_at
		FROM match_outcomes
		WHERE match_id = $1
	`
	d, err := scanOutcome(s.pool.QueryRow(ctx, q, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isBadID(err) {
			return domain.OutcomeDelivery{}, domain.ErrNotFound
		}
		return domain.OutcomeDelivery{}, fmt.Errorf("get outcome: %w", err)
	}
	return d, nil
}

func scanOutcome(row pgx.Row) (domain.OutcomeDelivery, error) {
	var (
		d         domain.OutcomeDelivery
		payload   []byte
		lastError pgtype.Text
		delivered pgtype.Timestamptz
	)
	if err := row.Scan(&payload, &d.Attempts, &lastError, &d.NextAttemptAt, &delivered); err != nil {
		return domain.OutcomeDelivery{}, err
	}
	if err := json.Unmarshal(payload, &d.Outcome); err != nil {
		return domain.OutcomeDelivery{}, fmt.Errorf("decode outcome: %w", err)
	}
	d.LastError = textOrEmpty(lastError)
	d.DeliveredAt = timestamptzPtr(delivered)
	d.NextAttemptAt = d.NextAttemptAt.UTC()
	return d, nil
}

func (s *OutboxStore) ListDueOutcomes(ctx context.Context, now time.Time, limit int) ([]domain.OutcomeDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT payload, attempts, last_error, next_attempt_at, delivered_at
		FROM match_outcomes
		WHERE delivered_at IS NULL AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due outcomes: %w", err)
	}
	defer rows.Close()

	out := []domain.OutcomeDelivery{}
	for rows.Next() {
		d, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

func (s *OutboxStore) MarkOutcomeDelivered(ctx context.Context, matchID string, when time.Time) error {
	const q = `
		UPDATE match_outcomes
		SET delivered_at = $2, attempts = attempts + 1, last_error = NULL
		WHERE match_id = $1
	`
	tag, err := s.pool.Exec(ctx, q, matchID, when)
	if err != nil {
		return fmt.Errorf("mark outcome delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *OutboxStore) MarkOutcomeFailed(ctx context.Context, matchID, lastErr string, next time.Time) error {
	const q = `
		UPDATE match_outcomes
		SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
		WHERE match_id = $1 AND delivered_at IS NULL
	`
	if _, err := s.pool.Exec(ctx, q, matchID, lastErr, next); err != nil {
		return fmt.Errorf("mark outcome failed: %w", err)
	}
	return nil
}
