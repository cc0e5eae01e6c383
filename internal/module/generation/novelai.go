package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	apperrors "github.com/naigate/server/internal/shared/errors"
)

// UpstreamImage is a successful upstream response body together with its
// claimed content type, kept for extraction diagnostics.
type UpstreamImage struct {
	Body        []byte
	ContentType string
}

// NovelAIClient calls the NovelAI direct image-generation endpoint. All
// calls go through a circuit breaker so a failing upstream sheds load fast
// instead of holding connections for the full timeout.
type NovelAIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*UpstreamImage]
	logger  *zap.Logger
}

// NewNovelAIClient creates a client for the given backend.
func NewNovelAIClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *NovelAIClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &NovelAIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*UpstreamImage](gobreaker.Settings{
		Name:    "novelai",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("upstream circuit state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// Generate posts the payload and returns the raw response bytes. Upstream
// failures come back as *apperrors.AppError with the upstream status passed
// through; nothing is retried here.
func (c *NovelAIClient) Generate(ctx context.Context, payload *novelaiPayload) (*UpstreamImage, error) {
	img, err := c.breaker.Execute(func() (*UpstreamImage, error) {
		return c.generate(ctx, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperrors.Backend(http.StatusBadGateway, "image backend temporarily unavailable")
	}
	return img, err
}

func (c *NovelAIClient) generate(ctx context.Context, payload *novelaiPayload) (*UpstreamImage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/ai/generate-image"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Backend(http.StatusBadGateway, fmt.Sprintf("image backend unreachable: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Backend(http.StatusBadGateway, fmt.Sprintf("read backend response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("novelai error response",
			zap.Int("status", resp.StatusCode),
			zap.Int("body_bytes", len(respBody)))
		return nil, apperrors.Backend(resp.StatusCode, upstreamErrorMessage(respBody, resp.StatusCode))
	}

	return &UpstreamImage{
		Body:        respBody,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// upstreamErrorMessage surfaces the backend's own message verbatim where it
// can be recovered, falling back to a generic status line.
func upstreamErrorMessage(body []byte, status int) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	if len(body) > 0 && len(body) <= 512 {
		return string(body)
	}
	return fmt.Sprintf("backend returned status %d", status)
}
