package advisory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/pkg/metrics"
)

// Options configures the resilience layer around an advisory client.
type Options struct {
	ModelID           string
	Temperature       float64
	MaxTokens         int
	PromptTokenBudget int
	CallTimeout       time.Duration
	CacheTTL          time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64
	// Prices are per 1,000 estimated tokens.
	PromptPricePer1K     decimal.Decimal
	CompletionPricePer1K decimal.Decimal
}

// DefaultOptions returns a conservative resilience configuration.
func DefaultOptions() Options {
	return Options{
		ModelID:              "advisor-large",
		Temperature:          0.2,
		MaxTokens:            2048,
		PromptTokenBudget:    6000,
		CallTimeout:          60 * time.Second,
		CacheTTL:             time.Hour,
		MaxRetries:           3,
		RetryBaseDelay:       500 * time.Millisecond,
		RetryMaxDelay:        10 * time.Second,
		BackoffMultiplier:    2.0,
		PromptPricePer1K:     decimal.RequireFromString("0.003"),
		CompletionPricePer1K: decimal.RequireFromString("0.015"),
	}
}

// ResilientClient wraps an advisory Client with TTL caching, prompt budgeting,
// retry with exponential backoff and jitter, and cumulative cost accounting.
// It is safe for concurrent use and meant to be constructed once per process.
type ResilientClient struct {
	inner  Client
	store  Store
	opts   Options
	logger *zap.Logger

	costMu    sync.Mutex
	totalCost decimal.Decimal
	calls     int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewResilientClient builds the resilience layer around inner using store as
// the shared response cache.
func NewResilientClient(inner Client, store Store, opts Options, logger *zap.Logger) *ResilientClient {
	if opts.BackoffMultiplier <= 1 {
		opts.BackoffMultiplier = 2.0
	}
	return &ResilientClient{
		inner:     inner,
		store:     store,
		opts:      opts,
		logger:    logger.Named("advisory"),
		totalCost: decimal.Zero,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Ask invokes the advisory service with the configured model and sampling
// settings. It is the entry point used by pipeline stages.
func (c *ResilientClient) Ask(ctx context.Context, prompt string) (string, error) {
	return c.Invoke(ctx, Request{
		Prompt:      prompt,
		ModelID:     c.opts.ModelID,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
}

// Invoke satisfies Client. The cache key is derived from the request before
// truncation so identical requests hit the cache regardless of budget.
func (c *ResilientClient) Invoke(ctx context.Context, req Request) (string, error) {
	key := CacheKey(req.Prompt, req.ModelID, req.Temperature)

	if entry, ok, err := c.store.Get(ctx, key); err != nil {
		c.logger.Warn("advisory cache read failed", zap.Error(err))
	} else if ok {
		metrics.AdvisoryCalls.WithLabelValues("cache_hit").Inc()
		return entry.ResponseText, nil
	}

	req.Prompt = TruncateToBudget(req.Prompt, c.opts.PromptTokenBudget)

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.AdvisoryRetries.Inc()
			delay := c.retryDelay(attempt - 1)
			c.logger.Debug("retrying advisory call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				metrics.AdvisoryCalls.WithLabelValues("failed").Inc()
				return "", fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		start := time.Now()
		text, err := c.inner.Invoke(callCtx, req)
		cancel()
		metrics.AdvisoryLatency.Observe(time.Since(start).Seconds())

		if err == nil {
			c.recordCost(req.Prompt, text)
			entry := Entry{
				ResponseText: text,
				StoredAt:     time.Now(),
				TTLSeconds:   int64(c.opts.CacheTTL.Seconds()),
			}
			if serr := c.store.Set(ctx, key, entry); serr != nil {
				c.logger.Warn("advisory cache write failed", zap.Error(serr))
			}
			metrics.AdvisoryCalls.WithLabelValues("ok").Inc()
			return text, nil
		}

		lastErr = classify(err)
		if !isTransient(lastErr) {
			break
		}
	}

	metrics.AdvisoryCalls.WithLabelValues("failed").Inc()
	c.logger.Warn("advisory call failed after retries",
		zap.Int("max_retries", c.opts.MaxRetries),
		zap.Error(lastErr))
	return "", lastErr
}

// Close shuts down the wrapped client. The cache store is an injected
// capability and stays owned by the caller.
func (c *ResilientClient) Close() error {
	return c.inner.Close()
}

// TotalCost returns the cumulative estimated spend across all successful calls.
func (c *ResilientClient) TotalCost() decimal.Decimal {
	c.costMu.Lock()
	defer c.costMu.Unlock()
	return c.totalCost
}

// Calls returns the number of successful external invocations.
func (c *ResilientClient) Calls() int64 {
	c.costMu.Lock()
	defer c.costMu.Unlock()
	return c.calls
}

func (c *ResilientClient) recordCost(prompt, completion string) {
	promptTokens := EstimateTokens(prompt)
	completionTokens := EstimateTokens(completion)
	metrics.AdvisoryTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	metrics.AdvisoryTokens.WithLabelValues("completion").Add(float64(completionTokens))

	per1k := decimal.NewFromInt(1000)
	cost := c.opts.PromptPricePer1K.Mul(decimal.NewFromInt(int64(promptTokens))).Div(per1k).
		Add(c.opts.CompletionPricePer1K.Mul(decimal.NewFromInt(int64(completionTokens))).Div(per1k))

	c.costMu.Lock()
	c.totalCost = c.totalCost.Add(cost)
	c.calls++
	c.costMu.Unlock()
}

// retryDelay computes exponential backoff with ±10% jitter, capped at the
// configured maximum.
func (c *ResilientClient) retryDelay(attempt int) time.Duration {
	delay := float64(c.opts.RetryBaseDelay) * math.Pow(c.opts.BackoffMultiplier, float64(attempt))
	if delay > float64(c.opts.RetryMaxDelay) {
		delay = float64(c.opts.RetryMaxDelay)
	}
	c.rngMu.Lock()
	jitter := delay * 0.1 * (2*c.rng.Float64() - 1)
	c.rngMu.Unlock()
	return time.Duration(delay + jitter)
}

// classify maps arbitrary transport errors onto the advisory failure taxonomy.
func classify(err error) error {
	switch {
	case IsUnavailable(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrServiceError, err)
	}
}

// TruncateToBudget drops whole lines from the end of prompt until its
// estimated token count fits budget, keeping the longest possible prefix.
func TruncateToBudget(prompt string, budget int) string {
	if budget <= 0 || EstimateTokens(prompt) <= budget {
		return prompt
	}
	lines := strings.Split(prompt, "\n")
	total := 0
	keep := 0
	for i, line := range lines {
		cost := EstimateTokens(line) + 1 // separator
		if total+cost > budget {
			break
		}
		total += cost
		keep = i + 1
	}
	if keep == 0 {
		// The first line alone exceeds the budget; keep as long a character
		// prefix of it as the budget allows rather than sending nothing.
		max := budget*4 - 3
		if max < 1 {
			max = 1
		}
		if max > len(lines[0]) {
			max = len(lines[0])
		}
		return lines[0][:max]
	}
	return strings.Join(lines[:keep], "\n")
}
