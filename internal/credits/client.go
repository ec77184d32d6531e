package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// Client talks to the external credit ledger over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type ledgerRequest struct {
	UserID         string `json:"user_id"`
	JobID          string `json:"job_id"`
	Units          int    `json:"units"`
	IdempotencyKey string `json:"idempotency_key"`
}

type ledgerResponse struct {
	Balance int    `json:"balance"`
	Error   string `json:"error,omitempty"`
}

func (c *Client) Reserve(ctx context.Context, userID, jobID string, units int, idempotencyKey string) (int, error) {
	resp, err := c.post(ctx, "/v1/credits/reserve", ledgerRequest{
		UserID:         userID,
		JobID:          jobID,
		Units:          units,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reserve credits: %w", err)
	}
	return resp.Balance, nil
}

func (c *Client) Release(ctx context.Context, userID, jobID string, units int, idempotencyKey string) error {
	if _, err := c.post(ctx, "/v1/credits/release", ledgerRequest{
		UserID:         userID,
		JobID:          jobID,
		Units:          units,
		IdempotencyKey: idempotencyKey,
	}); err != nil {
		return fmt.Errorf("failed to release credits: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body ledgerRequest) (*ledgerResponse, error) {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger url: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger response: %w", err)
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		return nil, domain.ErrInsufficientCredits
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger responded with status %d: %s", resp.StatusCode, raw)
	}

	var parsed ledgerResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode ledger response: %w", err)
	}

	return &parsed, nil
}
