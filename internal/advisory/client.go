// Package advisory wraps the external natural-language advisory service with
// caching, retry, prompt budgeting and cost accounting. Every pipeline stage
// that consults the advisory service calls through this package and treats any
// invoke failure as "advisory unavailable", falling back to its deterministic
// path.
package advisory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// Request describes one advisory invocation.
type Request struct {
	Prompt      string
	ModelID     string
	Temperature float64
	MaxTokens   int
}

// Client is the advisory service boundary. Implementations must be safe for
// concurrent use.
type Client interface {
	Invoke(ctx context.Context, req Request) (string, error)
	Close() error
}

// Failure classes surfaced by advisory clients.
var (
	ErrRateLimited  = errors.New("advisory: rate limited")
	ErrTimeout      = errors.New("advisory: timeout")
	ErrServiceError = errors.New("advisory: service error")
)

// DisabledClient stands in when no advisory endpoint is configured. Every
// invocation fails with ErrServiceError immediately, so callers run on their
// deterministic fallback without retry delays.
type DisabledClient struct{}

func (DisabledClient) Invoke(context.Context, Request) (string, error) {
	return "", fmt.Errorf("%w: advisory endpoint not configured", ErrServiceError)
}

func (DisabledClient) Close() error { return nil }

// IsUnavailable reports whether err represents any advisory failure class.
// Callers recover from these locally via their deterministic fallback.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrServiceError)
}

// isTransient reports whether err warrants a retry.
func isTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}

// CacheKey derives the deterministic cache key for a request: a hex SHA-256
// over prompt, model id and temperature.
func CacheKey(prompt, modelID string, temperature float64) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0x1f})
	h.Write([]byte(modelID))
	h.Write([]byte{0x1f})
	h.Write([]byte(strconv.FormatFloat(temperature, 'g', -1, 64)))
	return hex.EncodeToString(h.Sum(nil))
}

// EstimateTokens approximates the token count of text. Four characters per
// token is the conventional estimate for English prose.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
