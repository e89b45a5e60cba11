package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hydrosense/hydrochat/pkg/provider/llm"
)

// ErrAllFailed is returned when every provider in a [Chain] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// ChainConfig configures the per-provider circuit breaker created for each
// entry in a [Chain].
type ChainConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// chainEntry pairs a provider with its dedicated circuit breaker.
type chainEntry struct {
	provider llm.Provider
	breaker  *CircuitBreaker
}

// Chain implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary
// fails or its breaker is open, the next healthy fallback is tried in
// registration order.
//
// Chain is safe for concurrent use once assembled. AddFallback must not be
// called concurrently with Complete.
type Chain struct {
	entries []chainEntry
	cfg     ChainConfig
}

// Compile-time interface assertion.
var _ llm.Provider = (*Chain)(nil)

// NewChain creates a [Chain] with primary as the preferred backend.
// Additional fallbacks are registered via [Chain.AddFallback].
func NewChain(primary llm.Provider, cfg ChainConfig) *Chain {
	cbCfg := cfg.CircuitBreaker
	cbCfg.Name = primary.Name()
	return &Chain{
		entries: []chainEntry{
			{provider: primary, breaker: NewCircuitBreaker(cbCfg)},
		},
		cfg: cfg,
	}
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order
// they are added, after the primary.
func (c *Chain) AddFallback(provider llm.Provider) {
	cbCfg := c.cfg.CircuitBreaker
	cbCfg.Name = provider.Name()
	c.entries = append(c.entries, chainEntry{
		provider: provider,
		breaker:  NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of providers in the chain.
func (c *Chain) Len() int {
	return len(c.entries)
}

// Complete sends the request to the first healthy provider and returns its
// response. Circuit-open providers are skipped; any other failure moves on
// to the next entry. Returns [ErrAllFailed] wrapped with the last error if
// every provider fails.
func (c *Chain) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]

		var resp *llm.Response
		err := entry.breaker.Execute(func() error {
			var innerErr error
			resp, innerErr = entry.provider.Complete(ctx, req)
			return innerErr
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.provider.Name())
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.provider.Name(), "error", err)
		}

		// A dead context dooms every remaining entry too.
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// Name identifies the chain by its primary provider.
func (c *Chain) Name() string {
	if len(c.entries) == 0 {
		return "chain"
	}
	return c.entries[0].provider.Name()
}
