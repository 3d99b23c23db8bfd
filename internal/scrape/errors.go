package scrape

import (
	"errors"
	"fmt"
	"time"
)

// TransportErrorKind classifies failures at the HTTP layer.
type TransportErrorKind string

// Transport error kinds.
const (
	TransportTimeout            TransportErrorKind = "timeout"
	TransportNetworkUnreachable TransportErrorKind = "network_unreachable"
	TransportHTTPStatus         TransportErrorKind = "http_status"
)

// TransportError is returned by the transport for a failed request.
// HTTPStatus errors carry the status code and the (sanitized) response
// body; a 429 additionally carries the server's suggested Retry-After.
type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case TransportTimeout:
		return "request timed out"
	case TransportNetworkUnreachable:
		return fmt.Sprintf("network unreachable: %v", e.Err)
	default:
		return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIErrorKind classifies application-level failures.
type APIErrorKind string

// API error kinds.
const (
	APIMalformedResponse APIErrorKind = "malformed_response"
	APIInvalidInput      APIErrorKind = "invalid_input"
	APIRateLimited       APIErrorKind = "rate_limited"
	APIUpstream          APIErrorKind = "upstream"
)

// APIError is an application-level failure: a response that decoded but
// is missing required fields, input rejected before any network call, a
// 429 with its suggested delay, or an upstream failure message.
type APIError struct {
	Kind       APIErrorKind
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	switch e.Kind {
	case APIMalformedResponse:
		return fmt.Sprintf("malformed response: %s", e.Message)
	case APIInvalidInput:
		return e.Message
	case APIRateLimited:
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	default:
		if e.Message == "" {
			return fmt.Sprintf("upstream error (status %d)", e.StatusCode)
		}
		return e.Message
	}
}

// PollErrorKind classifies terminal poll loop failures.
type PollErrorKind string

// Poll error kinds.
const (
	PollTimeout            PollErrorKind = "timeout"
	PollCancelled          PollErrorKind = "cancelled"
	PollJobReportedFailure PollErrorKind = "job_reported_failure"
)

// PollError is the terminal error produced by the poll loop.
type PollError struct {
	Kind    PollErrorKind
	Message string
}

func (e *PollError) Error() string {
	switch e.Kind {
	case PollTimeout:
		return "polling tick budget exhausted before the job finished"
	case PollCancelled:
		return "analysis cancelled"
	default:
		return e.Message
	}
}

// Retryable reports whether err may be retried by the request
// coordinator: network-level failures, timeouts, and 5xx responses.
// Application-level errors and 4xx responses (including 429) never
// retry.
func Retryable(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch te.Kind {
	case TransportTimeout, TransportNetworkUnreachable:
		return true
	case TransportHTTPStatus:
		return te.StatusCode >= 500
	}
	return false
}
