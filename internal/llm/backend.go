package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/HexSleeves/guesscard/internal/buffer"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

// Backend wraps a Client with the per-call policy every agent relies on:
// a hard timeout, bounded exponential backoff on rate limiting, and optional
// client-side pacing.
type Backend struct {
	model       Model
	client      Client
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	limiter     *rate.Limiter
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Backend.
type Option func(*Backend)

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithRetry sets how many attempts a rate-limited call gets and the first
// backoff delay. Delays double on each attempt.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(b *Backend) {
		if maxAttempts > 0 {
			b.maxAttempts = maxAttempts
		}
		if baseDelay >= 0 {
			b.baseDelay = baseDelay
		}
	}
}

// WithLimiter overrides the client-side pacing derived from the model.
func WithLimiter(l *rate.Limiter) Option {
	return func(b *Backend) { b.limiter = l }
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Backend) { b.sleep = fn }
}

// NewBackend wraps client with the policy for model.
func NewBackend(model Model, client Client, opts ...Option) *Backend {
	b := &Backend{
		model:       model,
		client:      client,
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       sleepCtx,
	}
	if model.MinInterval > 0 {
		b.limiter = rate.NewLimiter(rate.Every(model.MinInterval), 1)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Model() Model             { return b.model }
func (b *Backend) Dialect() buffer.Dialect  { return b.model.Dialect }
func (b *Backend) Metadata() map[string]any { return b.model.Metadata() }

// Complete sends prompt to the provider. Rate-limited calls are retried with
// exponential backoff; timeouts and every other failure are returned as-is.
func (b *Backend) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := b.baseDelay << (attempt - 1)
			if err := b.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		text, err := b.call(ctx, prompt)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("%s: giving up after %d attempts: %w", b.model.ID, b.maxAttempts, lastErr)
}

type completion struct {
	text string
	err  error
}

func (b *Backend) call(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan completion, 1)
	go func() {
		text, err := b.client.Complete(callCtx, prompt)
		done <- completion{text: text, err: err}
	}()

	select {
	case c := <-done:
		if c.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s: %w after %s", b.model.ID, ErrTimeout, b.timeout)
		}
		return c.text, c.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%s: %w after %s", b.model.ID, ErrTimeout, b.timeout)
	}
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
