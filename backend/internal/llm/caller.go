package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	apperrors "termsai/backend/pkg/errors"
	"termsai/backend/pkg/logger"
)

const (
	maxRetries   = 3
	initialDelay = 1 * time.Second
	maxDelay     = 8 * time.Second
)

// Caller wraps a Backend with a retry policy and rate-limit failover.
// A 429 does not wait out the backoff: the selector is switched to the next
// distinct backup model and the call restarts, with total failover hops
// bounded by the backup list length so simultaneous rate limiting on every
// backup cannot recurse forever.
type Caller struct {
	backend  Backend
	selector *Selector
	logger   *zap.Logger
	sleep    func(time.Duration)
}

// NewCaller creates a resilient caller over the given backend and selector
func NewCaller(backend Backend, selector *Selector) *Caller {
	return &Caller{
		backend:  backend,
		selector: selector,
		logger:   logger.Get(),
		sleep:    time.Sleep,
	}
}

// Call performs a non-streaming completion with retries. callContext names
// the operation for error wrapping.
func (c *Caller) Call(ctx context.Context, messages []Message, callContext string) (string, error) {
	return c.call(ctx, messages, callContext, len(c.selector.Backups()))
}

func (c *Caller) call(ctx context.Context, messages []Message, callContext string, hops int) (string, error) {
	delay := initialDelay
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		model := c.selector.Current()
		text, err := c.backend.Complete(ctx, model, messages, true)
		if err == nil {
			return text, nil
		}

		if isRateLimited(err) && hops > 0 {
			if next, ok := c.selector.NextBackup(model); ok {
				c.logger.Warn("rate limited, switching to backup model",
					zap.String("model", model),
					zap.String("backup", next),
				)
				c.selector.Set(next)
				return c.call(ctx, messages, callContext, hops-1)
			}
		}

		lastErr = err
		if attempt < maxRetries {
			c.logger.Warn("LLM request failed, retrying",
				zap.String("context", callContext),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			c.sleep(delay)
			if delay *= 2; delay > maxDelay {
				delay = maxDelay
			}
		}
	}

	return "", apperrors.NewLLMCallFailed(callContext, maxRetries, lastErr)
}

// CallStream performs a streaming completion with retries around stream
// establishment. The returned sequence is forward-only and not restartable;
// a mid-stream failure surfaces as a terminal Fragment.Err.
func (c *Caller) CallStream(ctx context.Context, messages []Message, callContext string) (<-chan Fragment, error) {
	return c.callStream(ctx, messages, callContext, len(c.selector.Backups()))
}

func (c *Caller) callStream(ctx context.Context, messages []Message, callContext string, hops int) (<-chan Fragment, error) {
	delay := initialDelay
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		model := c.selector.Current()
		fragments, err := c.backend.Stream(ctx, model, messages)
		if err == nil {
			return fragments, nil
		}

		if isRateLimited(err) && hops > 0 {
			if next, ok := c.selector.NextBackup(model); ok {
				c.logger.Warn("rate limited, switching to backup model",
					zap.String("model", model),
					zap.String("backup", next),
				)
				c.selector.Set(next)
				return c.callStream(ctx, messages, callContext, hops-1)
			}
		}

		lastErr = err
		if attempt < maxRetries {
			c.logger.Warn("LLM stream failed, retrying",
				zap.String("context", callContext),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			c.sleep(delay)
			if delay *= 2; delay > maxDelay {
				delay = maxDelay
			}
		}
	}

	return nil, apperrors.NewLLMCallFailed(callContext, maxRetries, lastErr)
}

// isRateLimited detects the HTTP 429 signal that triggers model failover
func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return strings.Contains(err.Error(), "429")
}
