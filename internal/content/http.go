package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"AgentArena/internal/domain"

	"github.com/tidwall/gjson"
)

const maxResponseBytes = 1 << 20

// Client talks to a remote content service:
//
//	GET  {base}/questions/next?category=..&exclude=id,id
//	POST {base}/questions/{id}/grade   {"answer": ".."}
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) NextQuestion(ctx context.Context, category string, exclude []string) (domain.Question, error) {
	q := url.Values{}
	q.Set("category", category)
	if len(exclude) > 0 {
		q.Set("exclude", strings.Join(exclude, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/questions/next?"+q.Encode(), nil)
	if err != nil {
		return domain.Question{}, fmt.Errorf("build request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return domain.Question{}, err
	}

	// Accept both {"question": {...}} and a bare question object.
	doc := gjson.ParseBytes(body)
	if doc.Get("question").Exists() {
		doc = doc.Get("question")
	}
	out := domain.Question{
		ID:               doc.Get("id").String(),
		Category:         doc.Get("category").String(),
		Prompt:           doc.Get("prompt").String(),
		TimeLimitSeconds: int(doc.Get("time_limit_seconds").Int()),
	}
	if out.ID == "" || out.Prompt == "" {
		return domain.Question{}, fmt.Errorf("content service returned a question without id or prompt")
	}
	return out, nil
}

func (c *Client) Grade(ctx context.Context, questionID, answer string) (bool, error) {
	payload, err := json.Marshal(map[string]string{"answer": answer})
	if err != nil {
		return false, fmt.Errorf("encode grade request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/questions/"+url.PathEscape(questionID)+"/grade", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return false, err
	}
	correct := gjson.GetBytes(body, "correct")
	if !correct.Exists() {
		return false, fmt.Errorf("content service grade response missing correct")
	}
	return correct.Bool(), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read content response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, fmt.Errorf("content service %s: %s", resp.Status, msg)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("content service returned invalid json")
	}
	return body, nil
}
