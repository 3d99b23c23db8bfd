// Package coordinator wraps the transport with in-flight request
// deduplication and bounded exponential-backoff retry.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bseorders/orderwatch/internal/metrics"
	"github.com/bseorders/orderwatch/internal/scrape"
	"github.com/bseorders/orderwatch/internal/transport"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 1000 * time.Millisecond
)

// Sender issues a single request. Implemented by transport.Client.
type Sender interface {
	Send(ctx context.Context, method, path string, body any) (*transport.Response, error)
}

// Config controls retry behavior.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// Coordinator collapses concurrent identical requests into one
// underlying call and retries retryable failures sequentially. The
// in-flight registry is scoped to the Coordinator instance; once a call
// settles its key is released and a later identical call dials fresh.
type Coordinator struct {
	sender Sender
	cfg    Config
	logger *zap.Logger
	group  singleflight.Group

	// sleep waits out the backoff delay; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Coordinator around sender.
func New(sender Sender, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Coordinator{
		sender: sender,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Execute runs one logical request. Callers that arrive while an
// identical request is outstanding attach to its outcome instead of
// issuing a second network call; every waiter observes the same success
// or failure.
func (c *Coordinator) Execute(ctx context.Context, method, path string, body any) (*transport.Response, error) {
	key, err := requestKey(method, path, body)
	if err != nil {
		return nil, err
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.executeWithRetry(ctx, method, path, body)
	})
	if shared {
		metrics.ObserveSharedInflight()
		c.logger.Debug("attached to in-flight request", zap.String("key", key))
	}
	if err != nil {
		return nil, err
	}
	resp, ok := v.(*transport.Response)
	if !ok {
		return nil, fmt.Errorf("unexpected in-flight result type %T", v)
	}
	return resp, nil
}

func (c *Coordinator) executeWithRetry(ctx context.Context, method, path string, body any) (*transport.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.Backoff(attempt)
			c.logger.Debug("retrying request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
			metrics.ObserveRetry()
		}

		resp, err := c.sender.Send(ctx, method, path, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if rateLimited := asRateLimited(err); rateLimited != nil {
			return nil, rateLimited
		}
		if !scrape.Retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// Backoff returns the delay taken before the given attempt: the base
// delay doubled once per additional attempt (attempt 2 waits the base,
// attempt 3 waits twice the base).
func (c *Coordinator) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return c.cfg.BackoffBase << (attempt - 2)
}

// requestKey canonicalizes a request's identity. encoding/json emits
// map keys in sorted order, so equivalent bodies produce equal keys.
func requestKey(method, path string, body any) (string, error) {
	if body == nil {
		return method + " " + path, nil
	}
	canonical, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("canonicalize request body: %w", err)
	}
	return method + " " + path + "\n" + string(canonical), nil
}

// asRateLimited converts a 429 response into its APIError form; the
// server's suggested delay belongs to the caller, never to the retry
// loop.
func asRateLimited(err error) *scrape.APIError {
	var te *scrape.TransportError
	if !errors.As(err, &te) {
		return nil
	}
	if te.Kind != scrape.TransportHTTPStatus || te.StatusCode != 429 {
		return nil
	}
	return &scrape.APIError{
		Kind:       scrape.APIRateLimited,
		StatusCode: te.StatusCode,
		Message:    te.Body,
		RetryAfter: te.RetryAfter,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
