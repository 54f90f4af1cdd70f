// Package outcomes reports completed matches to the stats/reward service.
package outcomes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"AgentArena/internal/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type WebhookReporter struct {
	url         string
	tokenSource oauth2.TokenSource
	client      *http.Client
}

type WebhookConfig struct {
	URL          string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// NewWebhookReporter posts outcomes to cfg.URL. When a client id is set each
// request carries a bearer token from the OAuth2 client-credentials flow.
func NewWebhookReporter(ctx context.Context, cfg WebhookConfig) (*WebhookReporter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("outcome webhook url required")
	}
	r := &WebhookReporter{
		url:    cfg.URL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	if cfg.ClientID != "" {
		if cfg.TokenURL == "" {
			return nil, fmt.Errorf("outcome token url required with client id")
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		r.tokenSource = cc.TokenSource(ctx)
	}
	return r, nil
}

func (r *WebhookReporter) RecordMatchOutcome(ctx context.Context, outcome domain.MatchOutcome) error {
	body, err := json.Marshal(outcomePayload{
		MatchID:     outcome.MatchID,
		GameType:    string(outcome.GameType),
		WinnerID:    winnerID(outcome),
		Draw:        outcome.Draw,
		Scores:      outcome.Scores,
		PrizePool:   outcome.PrizePool,
		CompletedAt: outcome.CompletedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal outcome payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build outcome request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Idempotency-Key", outcome.MatchID)
	if r.tokenSource != nil {
		tok, err := r.tokenSource.Token()
		if err != nil {
			return fmt.Errorf("outcome access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send outcome: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the collaborator already has this match.
	if (resp.StatusCode >= 200 && resp.StatusCode < 300) || resp.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	rawBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("outcome webhook failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(rawBody)))
}

type outcomePayload struct {
	MatchID     string           `json:"match_id"`
	GameType    string           `json:"game_type"`
	WinnerID    *string          `json:"winner_id"`
	Draw        bool             `json:"draw"`
	Scores      map[string]int64 `json:"scores"`
	PrizePool   int64            `json:"prize_pool"`
	CompletedAt time.Time        `json:"completed_at"`
}

// winnerID is null on the wire for a draw.
func winnerID(o domain.MatchOutcome) *string {
	if o.Draw || o.WinnerID == "" {
		return nil
	}
	id := o.WinnerID
	return &id
}
