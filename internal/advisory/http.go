package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPClient talks to an advisory completion endpoint over HTTP. It implements
// Client and is normally wrapped by ResilientClient, which owns retries and
// caching; this type performs exactly one attempt per Invoke.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPClient creates an advisory backend client. timeout bounds a single
// HTTP round trip.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("advisory_http"),
	}
}

type completionRequest struct {
	ModelID     string  `json:"model_id"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type completionResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Invoke posts the request and returns the completion text. Failures are
// mapped onto the package error classes so the resilience layer can decide
// which are retryable.
func (c *HTTPClient) Invoke(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(completionRequest{
		ModelID:     req.ModelID,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrServiceError, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrServiceError, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrServiceError, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrServiceError, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", ErrServiceError, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: status %d: %s", ErrServiceError, resp.StatusCode, truncateBody(payload))
	}

	var out completionResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrServiceError, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrServiceError, out.Error)
	}
	return out.Text, nil
}

// Close satisfies Client. The underlying transport is shared and left open.
func (c *HTTPClient) Close() error { return nil }

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
