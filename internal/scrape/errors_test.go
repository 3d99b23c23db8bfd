package scrape

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryable_TransportFailures(t *testing.T) {
	t.Parallel()

	require.True(t, Retryable(&TransportError{Kind: TransportTimeout}))
	require.True(t, Retryable(&TransportError{Kind: TransportNetworkUnreachable}))
	require.True(t, Retryable(&TransportError{Kind: TransportHTTPStatus, StatusCode: 500}))
	require.True(t, Retryable(&TransportError{Kind: TransportHTTPStatus, StatusCode: 503}))
}

func TestRetryable_NeverRetriesClientErrors(t *testing.T) {
	t.Parallel()

	require.False(t, Retryable(&TransportError{Kind: TransportHTTPStatus, StatusCode: 400}))
	require.False(t, Retryable(&TransportError{Kind: TransportHTTPStatus, StatusCode: 404}))
	require.False(t, Retryable(&TransportError{Kind: TransportHTTPStatus, StatusCode: 429}))
	require.False(t, Retryable(&APIError{Kind: APIMalformedResponse}))
	require.False(t, Retryable(&APIError{Kind: APIInvalidInput}))
	require.False(t, Retryable(errors.New("opaque")))
	require.False(t, Retryable(nil))
}

func TestRetryable_SeesThroughWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("get status: %w", &TransportError{Kind: TransportTimeout})
	require.True(t, Retryable(wrapped))
}

func TestTransportError_Messages(t *testing.T) {
	t.Parallel()

	require.Equal(t, "request timed out", (&TransportError{Kind: TransportTimeout}).Error())
	require.Contains(t, (&TransportError{Kind: TransportHTTPStatus, StatusCode: 502}).Error(), "502")
}

func TestPollError_Messages(t *testing.T) {
	t.Parallel()

	require.Contains(t, (&PollError{Kind: PollTimeout}).Error(), "tick budget")
	require.Equal(t, "analysis cancelled", (&PollError{Kind: PollCancelled}).Error())
	require.Equal(t, "scraper crashed", (&PollError{Kind: PollJobReportedFailure, Message: "scraper crashed"}).Error())
}
