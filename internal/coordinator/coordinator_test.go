package coordinator

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bseorders/orderwatch/internal/scrape"
	"github.com/bseorders/orderwatch/internal/transport"
)

// scriptedSender returns the queued outcomes in order, then repeats the
// last one.
type scriptedSender struct {
	mu       sync.Mutex
	calls    atomic.Int64
	outcomes []outcome
	// block, when set, holds every call until released.
	block chan struct{}
}

type outcome struct {
	resp *transport.Response
	err  error
}

func (s *scriptedSender) Send(ctx context.Context, method, path string, body any) (*transport.Response, error) {
	n := s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := int(n) - 1
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	o := s.outcomes[idx]
	return o.resp, o.err
}

func ok() outcome {
	return outcome{resp: &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{}`)}}
}

func serverError() outcome {
	return outcome{err: &scrape.TransportError{Kind: scrape.TransportHTTPStatus, StatusCode: 500, Body: "boom"}}
}

func newTestCoordinator(s Sender) *Coordinator {
	c := New(s, Config{MaxAttempts: 3, BackoffBase: time.Millisecond}, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestExecute_PassesThroughSuccess(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{outcomes: []outcome{ok()}}
	c := newTestCoordinator(sender)

	resp, err := c.Execute(context.Background(), http.MethodGet, "/api/health", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(1), sender.calls.Load())
}

func TestExecute_RetriesServerErrorsThenSucceeds(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{outcomes: []outcome{serverError(), serverError(), ok()}}
	c := newTestCoordinator(sender)

	resp, err := c.Execute(context.Background(), http.MethodGet, "/api/status", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(3), sender.calls.Load())
}

func TestExecute_ExhaustionReturnsLastError(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{outcomes: []outcome{serverError()}}
	c := newTestCoordinator(sender)

	_, err := c.Execute(context.Background(), http.MethodGet, "/api/status", nil)
	var te *scrape.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 500, te.StatusCode)
	require.Equal(t, "boom", te.Body)
	require.Equal(t, int64(3), sender.calls.Load())
}

func TestExecute_NeverRetriesClientErrors(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{outcomes: []outcome{
		{err: &scrape.TransportError{Kind: scrape.TransportHTTPStatus, StatusCode: 400}},
	}}
	c := newTestCoordinator(sender)

	_, err := c.Execute(context.Background(), http.MethodPost, "/api/scrape", map[string]any{"date": "2024-05-01"})
	require.Error(t, err)
	require.Equal(t, int64(1), sender.calls.Load())
}

func TestExecute_NeverRetriesValidationErrors(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{outcomes: []outcome{
		{err: &scrape.APIError{Kind: scrape.APIMalformedResponse, Message: "missing field"}},
	}}
	c := newTestCoordinator(sender)

	_, err := c.Execute(context.Background(), http.MethodGet, "/api/status", nil)
	var ae *scrape.APIError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, scrape.APIMalformedResponse, ae.Kind)
	require.Equal(t, int64(1), sender.calls.Load())
}

func TestExecute_RateLimitedConvertsWithoutRetry(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{outcomes: []outcome{
		{err: &scrape.TransportError{
			Kind:       scrape.TransportHTTPStatus,
			StatusCode: 429,
			Body:       "slow down",
			RetryAfter: 30 * time.Second,
		}},
	}}
	c := newTestCoordinator(sender)

	_, err := c.Execute(context.Background(), http.MethodGet, "/api/status", nil)
	var ae *scrape.APIError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, scrape.APIRateLimited, ae.Kind)
	require.Equal(t, 30*time.Second, ae.RetryAfter)
	require.Equal(t, int64(1), sender.calls.Load())
}

func TestExecute_RetriesNetworkFailures(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{outcomes: []outcome{
		{err: &scrape.TransportError{Kind: scrape.TransportNetworkUnreachable}},
		{err: &scrape.TransportError{Kind: scrape.TransportTimeout}},
		ok(),
	}}
	c := newTestCoordinator(sender)

	_, err := c.Execute(context.Background(), http.MethodGet, "/api/health", nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), sender.calls.Load())
}

func TestExecute_ConcurrentIdenticalRequestsShareOneCall(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{outcomes: []outcome{ok()}, block: make(chan struct{})}
	c := newTestCoordinator(sender)

	const waiters = 8
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Execute(context.Background(), http.MethodGet, "/api/status", nil)
		}(i)
	}

	// Let every goroutine reach Execute before the first call settles.
	require.Eventually(t, func() bool {
		return sender.calls.Load() >= 1
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(sender.block)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), sender.calls.Load())
}

func TestExecute_DifferentBodiesDoNotShare(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{outcomes: []outcome{ok()}}
	c := newTestCoordinator(sender)

	_, err := c.Execute(context.Background(), http.MethodPost, "/api/scrape", map[string]any{"date": "2024-05-01"})
	require.NoError(t, err)
	_, err = c.Execute(context.Background(), http.MethodPost, "/api/scrape", map[string]any{"date": "2024-05-02"})
	require.NoError(t, err)
	require.Equal(t, int64(2), sender.calls.Load())
}

func TestExecute_KeyReleasedAfterSettle(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{outcomes: []outcome{ok()}}
	c := newTestCoordinator(sender)

	_, err := c.Execute(context.Background(), http.MethodGet, "/api/status", nil)
	require.NoError(t, err)
	_, err = c.Execute(context.Background(), http.MethodGet, "/api/status", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), sender.calls.Load())
}

func TestRequestKey_CanonicalizesEquivalentBodies(t *testing.T) {
	t.Parallel()

	a, err := requestKey(http.MethodPost, "/api/scrape", map[string]any{"date": "2024-05-01", "mode": "full"})
	require.NoError(t, err)
	b, err := requestKey(http.MethodPost, "/api/scrape", map[string]any{"mode": "full", "date": "2024-05-01"})
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := requestKey(http.MethodPost, "/api/scrape", map[string]any{"date": "2024-05-02"})
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	t.Parallel()

	c := New(&scriptedSender{outcomes: []outcome{ok()}}, Config{BackoffBase: time.Second}, nil)

	require.Equal(t, time.Duration(0), c.Backoff(1))
	require.Equal(t, time.Second, c.Backoff(2))
	require.Equal(t, 2*time.Second, c.Backoff(3))
	require.Equal(t, 4*time.Second, c.Backoff(4))
}
