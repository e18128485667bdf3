package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Header names understood by the guard API.
const (
	actorHeader       = "X-Actor-ID"
	idempotencyHeader = "Idempotency-Key"
)

// HTTPClient wraps http.Client for the guard endpoints.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Health calls GET /healthz.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

// Evaluate posts r to /v1/guard/evaluate and decodes the decision. A replayed
// response carries the completed body rather than a decision, so only the
// status code is meaningful for it.
func (c *HTTPClient) Evaluate(ctx context.Context, r Request) (int, Decision, error) {
	hdr := http.Header{actorHeader: {r.ActorID}}
	if r.IdempotencyKey != "" {
		hdr.Set(idempotencyHeader, r.IdempotencyKey)
	}
	status, body, replayed, err := c.post(ctx, "/v1/guard/evaluate", hdr, r)
	if err != nil {
		return 0, Decision{}, err
	}
	var d Decision
	if replayed {
		d.Code = "IDEMPOTENT_REPLAY"
		return status, d, nil
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return status, Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	return status, d, nil
}

// Complete reports that the mutation behind an allowed decision was executed.
func (c *HTTPClient) Complete(ctx context.Context, actor string, d Decision) error {
	payload := map[string]any{
		"idempotencyKey": d.IdempotencyKey,
		"decisionId":     d.DecisionID,
		"response":       map[string]any{"status": "executed", "decisionId": d.DecisionID},
	}
	status, _, _, err := c.post(ctx, "/v1/guard/complete", http.Header{actorHeader: {actor}}, payload)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("complete returned status %d", status)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, hdr http.Header, body any) (int, []byte, bool, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = hdr
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, false, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, false, err
	}
	return resp.StatusCode, out, resp.Header.Get("Idempotent-Replayed") != "", nil
}
