package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPProvider submits manifests to the compute service over HTTP. The
// service answers synchronously with an execution handle and reports
// per-group outcomes later through the callback endpoint it was given.
type HTTPProvider struct {
	baseURL     string
	callbackURL string
	httpClient  *http.Client
}

func NewHTTPProvider(baseURL, callbackURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL:     baseURL,
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type executionRequest struct {
	JobID       string   `json:"job_id"`
	Mode        string   `json:"mode"`
	Keys        []string `json:"keys"`
	CallbackURL string   `json:"callback_url"`
}

type executionResponse struct {
	ExecutionID string `json:"execution_id"`
	Error       string `json:"error,omitempty"`
}

func (p *HTTPProvider) Dispatch(ctx context.Context, jobID string, manifest Manifest) (string, error) {
	endpoint, err := url.JoinPath(p.baseURL, "/v1/executions")
	if err != nil {
		return "", fmt.Errorf("failed to build provider url: %w", err)
	}

	payload, err := json.Marshal(executionRequest{
		JobID:       jobID,
		Mode:        manifest.Mode,
		Keys:        manifest.Keys,
		CallbackURL: p.callbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("provider responded with status %d: %s", resp.StatusCode, raw)
	}

	var parsed executionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode provider response: %w", err)
	}
	if parsed.ExecutionID == "" {
		return "", fmt.Errorf("provider returned no execution id: %s", raw)
	}

	return parsed.ExecutionID, nil
}
