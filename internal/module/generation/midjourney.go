package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/naigate/server/internal/shared/errors"
)

// MJClient relays task-based requests to a Midjourney-compatible backend.
// Unlike the NovelAI flow there is no container to unpack: the backend
// speaks JSON and responses are passed through verbatim.
type MJClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewMJClient creates a relay client. An empty baseURL leaves the feature
// disabled.
func NewMJClient(baseURL, apiKey string, timeout time.Duration) *MJClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &MJClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a backend is configured.
func (c *MJClient) Enabled() bool {
	return c.baseURL != ""
}

// Imagine submits a generation task and returns the backend's JSON reply.
func (c *MJClient) Imagine(ctx context.Context, prompt string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/mj/submit/imagine", body)
}

// FetchTask polls a previously submitted task.
func (c *MJClient) FetchTask(ctx context.Context, taskID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/mj/task/"+taskID+"/fetch", nil)
}

func (c *MJClient) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Backend(http.StatusBadGateway, fmt.Sprintf("midjourney backend unreachable: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Backend(http.StatusBadGateway, fmt.Sprintf("read backend response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Backend(resp.StatusCode,
			fmt.Sprintf("upstream error %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
	}

	if !json.Valid(respBody) {
		return nil, apperrors.Internal(
			fmt.Sprintf("upstream returned non-JSON data: %s", truncate(string(respBody), 100)), nil)
	}
	return json.RawMessage(respBody), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
