// Package transport issues single HTTP requests against the job API.
// It owns timeouts, header policy, and JSON decoding; it never retries
// and never deduplicates. Those concerns live in the coordinator.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bseorders/orderwatch/internal/metrics"
	"github.com/bseorders/orderwatch/internal/sanitize"
	"github.com/bseorders/orderwatch/internal/scrape"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 10 << 20
)

// Config controls client behavior.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Response is the decoded outcome of a 2xx request. Body holds the
// sanitized payload bytes; Decoded holds the sanitized JSON value when
// the server declared a JSON content type, nil otherwise.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Decoded    any
	RetryAfter time.Duration
}

// Client issues individual requests with a fixed per-request timeout.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client. A zero Timeout falls back to 30s.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: newHTTPTransport(),
		},
		logger: logger,
	}
}

// Send issues one HTTP request and decodes the response. Map, slice,
// and string bodies pass through the sanitizer boundary before
// encoding. Non-2xx statuses return a TransportError carrying the code
// and sanitized body; a 429's Retry-After header is surfaced as a
// suggested delay, but Send itself never sleeps.
func (c *Client) Send(ctx context.Context, method, path string, body any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(sanitize.Value(body))
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRequest(method, path, 0, time.Since(start))
		return nil, classifyDialError(err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.ObserveRequest(method, path, 0, time.Since(start))
		return nil, classifyDialError(err)
	}
	metrics.ObserveRequest(method, path, resp.StatusCode, time.Since(start))

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &scrape.TransportError{
			Kind:       scrape.TransportHTTPStatus,
			StatusCode: resp.StatusCode,
			Body:       errorBody(raw),
			RetryAfter: retryAfter,
		}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		RetryAfter: retryAfter,
	}
	if isJSON(resp.Header.Get("Content-Type")) && len(raw) > 0 {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, &scrape.APIError{
				Kind:       scrape.APIMalformedResponse,
				StatusCode: resp.StatusCode,
				Message:    "response body is not valid JSON",
			}
		}
		out.Decoded = sanitize.Value(decoded)
		clean, err := json.Marshal(out.Decoded)
		if err != nil {
			return nil, fmt.Errorf("re-encode sanitized body: %w", err)
		}
		out.Body = clean
	} else {
		out.Body = []byte(sanitize.String(string(raw)))
	}
	return out, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
}

func classifyDialError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &scrape.TransportError{Kind: scrape.TransportTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &scrape.TransportError{Kind: scrape.TransportTimeout, Err: err}
	}
	return &scrape.TransportError{Kind: scrape.TransportNetworkUnreachable, Err: err}
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// errorBody extracts a readable failure message from an error response.
// JSON bodies with an "error" field collapse to that field's value.
func errorBody(raw []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Error != "" {
			return sanitize.String(payload.Error)
		}
		if payload.Message != "" {
			return sanitize.String(payload.Message)
		}
	}
	text := sanitize.String(string(raw))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
