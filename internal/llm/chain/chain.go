// Package chain runs an ordered list of providers with per-provider retry budgets.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"radar-backend/internal/analysis"
	"radar-backend/internal/llm"
	"radar-backend/internal/shared/metrics"
	"radar-backend/internal/shared/telemetry"
)

// Entry is one provider in priority order.
type Entry struct {
	Provider   llm.Provider
	MaxRetries int
	Backoff    []time.Duration
	Timeout    time.Duration
}

// Outcome is a successful chain call.
type Outcome struct {
	Result   analysis.Result
	Provider string
	Calls    int
}

// ExhaustedError is returned when every provider failed.
type ExhaustedError struct {
	Last     *llm.Error
	Provider string
	Calls    int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted after %d calls: %v", e.Calls, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Chain is immutable once built.
type Chain struct {
	entries []Entry
	sleep   func(context.Context, time.Duration) error
}

// Option customizes a Chain.
type Option func(*Chain)

// WithSleep replaces the backoff sleeper.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Chain) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New validates and copies entries.
func New(entries []Entry, opts ...Option) (*Chain, error) {
	if len(entries) == 0 {
		return nil, errors.New("chain: at least one provider is required")
	}
	copied := make([]Entry, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.Provider == nil {
			return nil, fmt.Errorf("chain: entry %d has no provider", i)
		}
		if e.MaxRetries < 0 {
			return nil, fmt.Errorf("chain: %s has negative max retries", e.Provider.Name())
		}
		if seen[e.Provider.Name()] {
			return nil, fmt.Errorf("chain: provider %s listed twice", e.Provider.Name())
		}
		seen[e.Provider.Name()] = true
		e.Backoff = append([]time.Duration(nil), e.Backoff...)
		copied[i] = e
	}
	c := &Chain{entries: copied, sleep: sleepCtx}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Primary is the name of the first provider.
func (c *Chain) Primary() string { return c.entries[0].Provider.Name() }

// Providers lists provider names in order.
func (c *Chain) Providers() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Provider.Name()
	}
	return out
}

// Analyze runs the chain from the first provider.
func (c *Chain) Analyze(ctx context.Context, text string) (Outcome, error) {
	return c.AnalyzeFrom(ctx, text, "")
}

// AnalyzeFrom runs the chain starting at the named provider. An unknown or empty name
// starts at the top.
func (c *Chain) AnalyzeFrom(ctx context.Context, text, start string) (Outcome, error) {
	from := 0
	for i, e := range c.entries {
		if e.Provider.Name() == start {
			from = i
			break
		}
	}

	calls := 0
	var last *llm.Error
	for _, entry := range c.entries[from:] {
		name := entry.Provider.Name()
		for try := 0; try <= entry.MaxRetries; try++ {
			if try > 0 {
				if err := c.sleep(ctx, backoffFor(entry.Backoff, try-1)); err != nil {
					return Outcome{}, err
				}
			}
			calls++
			result, err := c.call(ctx, entry, text)
			if err == nil {
				metrics.IncProviderCall(name, "ok")
				return Outcome{Result: result, Provider: name, Calls: calls}, nil
			}
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			last = llm.Classify(name, err)
			metrics.IncProviderCall(name, last.Kind.String())
			telemetry.Warn("chain.provider.failed", map[string]any{
				"provider": name,
				"kind":     last.Kind.String(),
				"try":      try + 1,
				"error":    last.Error(),
			})
			if !last.Retryable() {
				break
			}
		}
	}
	return Outcome{}, &ExhaustedError{Last: last, Provider: last.Provider, Calls: calls}
}

func (c *Chain) call(ctx context.Context, entry Entry, text string) (analysis.Result, error) {
	if entry.Timeout <= 0 {
		return entry.Provider.Analyze(ctx, text)
	}
	callCtx, cancel := context.WithTimeout(ctx, entry.Timeout)
	defer cancel()
	result, err := entry.Provider.Analyze(callCtx, text)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return analysis.Result{}, llm.NewError(entry.Provider.Name(), llm.KindTimeout, err)
	}
	return result, err
}

func backoffFor(steps []time.Duration, i int) time.Duration {
	if len(steps) == 0 {
		return 0
	}
	if i >= len(steps) {
		i = len(steps) - 1
	}
	return steps[i]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
