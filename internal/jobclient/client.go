// Package jobclient exposes typed operations against the scrape job
// API. Every operation validates the decoded response shape before
// returning; a response missing a required field fails closed with a
// MalformedResponse error, which is never retried.
package jobclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/bseorders/orderwatch/internal/scrape"
	"github.com/bseorders/orderwatch/internal/transport"
)

// API paths.
const (
	pathHealth  = "/api/health"
	pathScrape  = "/api/scrape"
	pathStatus  = "/api/status"
	pathResults = "/api/results"
	pathStop    = "/api/stop"
)

// Jobs may not target dates before the exchange archive begins.
var minTargetDate = time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrResultsNotReady reports that the job finished but the result
// payload is not materialized yet. Callers re-poll on their own
// schedule; it is not a hard failure.
var ErrResultsNotReady = errors.New("results not ready")

// Executor runs one logical request with dedup and retry applied.
// Implemented by coordinator.Coordinator.
type Executor interface {
	Execute(ctx context.Context, method, path string, body any) (*transport.Response, error)
}

// Client issues typed operations against the job API.
type Client struct {
	exec   Executor
	clock  scrape.Clock
	logger *zap.Logger
}

// New constructs a Client.
func New(exec Executor, clock scrape.Clock, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{exec: exec, clock: clock, logger: logger}
}

// CheckHealth reads the health endpoint. A failure means degraded
// service for the caller; it does not block other operations.
func (c *Client) CheckHealth(ctx context.Context) (*scrape.HealthStatus, error) {
	resp, err := c.exec.Execute(ctx, http.MethodGet, pathHealth, nil)
	if err != nil {
		return nil, convertErr(err)
	}
	var payload struct {
		Status    *string `json:"status"`
		Message   string  `json:"message"`
		Timestamp string  `json:"timestamp"`
	}
	if err := decode(resp, &payload); err != nil {
		return nil, err
	}
	if payload.Status == nil {
		return nil, malformed("health response missing status")
	}
	return &scrape.HealthStatus{
		Status:    *payload.Status,
		Message:   payload.Message,
		Timestamp: payload.Timestamp,
	}, nil
}

// StartJob validates the target date locally and, on acceptance, asks
// the server to start a scrape run for it. Dates outside
// [2010-01-01, today] are rejected without any network call.
func (c *Client) StartJob(ctx context.Context, date string) (*scrape.Job, error) {
	if err := c.validateDate(date); err != nil {
		return nil, err
	}
	resp, err := c.exec.Execute(ctx, http.MethodPost, pathScrape, map[string]any{"date": date})
	if err != nil {
		return nil, convertErr(err)
	}
	var payload struct {
		Message *string `json:"message"`
		JobID   string  `json:"job_id"`
	}
	if err := decode(resp, &payload); err != nil {
		return nil, err
	}
	if payload.Message == nil {
		return nil, malformed("start response missing message")
	}
	c.logger.Info("job started",
		zap.String("date", date),
		zap.String("job_id", payload.JobID),
		zap.String("message", *payload.Message),
	)
	return &scrape.Job{
		ID:         payload.JobID,
		TargetDate: date,
		State:      scrape.JobStateRunning,
	}, nil
}

// GetStatus reads one status snapshot for the job. Progress is clamped
// into [0, 100]; a missing message defaults to the empty string.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*scrape.StatusSnapshot, error) {
	resp, err := c.exec.Execute(ctx, http.MethodGet, withJobID(pathStatus, jobID), nil)
	if err != nil {
		return nil, convertErr(err)
	}
	var payload struct {
		IsRunning          *bool             `json:"is_running"`
		Progress           *int              `json:"progress"`
		Message            *string           `json:"message"`
		Error              string            `json:"error"`
		TotalAnnouncements int               `json:"total_announcements"`
		StartedAt          string            `json:"started_at"`
		FinishedAt         string            `json:"finished_at"`
		Results            *scrape.ResultSet `json:"results"`
	}
	if err := decode(resp, &payload); err != nil {
		return nil, err
	}
	if payload.IsRunning == nil {
		return nil, malformed("status response missing is_running")
	}
	snapshot := &scrape.StatusSnapshot{
		IsRunning:          *payload.IsRunning,
		Error:              payload.Error,
		TotalAnnouncements: payload.TotalAnnouncements,
		StartedAt:          payload.StartedAt,
		FinishedAt:         payload.FinishedAt,
		Results:            payload.Results,
	}
	if payload.Progress != nil {
		snapshot.Progress = clampProgress(*payload.Progress)
	}
	if payload.Message != nil {
		snapshot.Message = *payload.Message
	}
	return snapshot, nil
}

// GetResults fetches the terminal result payload. A 202 status or a
// success flag other than true means the job reported done but results
// are not materialized yet; that surfaces as ErrResultsNotReady.
func (c *Client) GetResults(ctx context.Context, jobID string) (*scrape.ResultSet, error) {
	resp, err := c.exec.Execute(ctx, http.MethodGet, withJobID(pathResults, jobID), nil)
	if err != nil {
		return nil, convertErr(err)
	}
	if resp.StatusCode == http.StatusAccepted {
		return nil, ErrResultsNotReady
	}
	var payload struct {
		Success            *bool              `json:"success"`
		Date               string             `json:"date"`
		TotalAnnouncements int                `json:"total_announcements"`
		TotalAwards        int                `json:"total_awards"`
		TotalValueCrores   float64            `json:"total_value_crores"`
		Orders             *[]scrape.Order    `json:"orders"`
		Statistics         *scrape.Statistics `json:"statistics"`
		Message            string             `json:"message"`
	}
	if err := decode(resp, &payload); err != nil {
		return nil, err
	}
	if payload.Success == nil {
		return nil, malformed("results response missing success")
	}
	if !*payload.Success {
		return nil, ErrResultsNotReady
	}
	if payload.Orders == nil {
		return nil, malformed("results response missing orders")
	}
	return &scrape.ResultSet{
		Date:               payload.Date,
		TotalAnnouncements: payload.TotalAnnouncements,
		TotalAwards:        payload.TotalAwards,
		TotalValueCrores:   payload.TotalValueCrores,
		Orders:             *payload.Orders,
		Statistics:         payload.Statistics,
		Message:            payload.Message,
	}, nil
}

// StopJob asks the server to stop the job. It is best-effort: failures
// are reported to the caller for logging but never escalate.
func (c *Client) StopJob(ctx context.Context, jobID string) error {
	var body any
	if jobID != "" {
		body = map[string]any{"job_id": jobID}
	}
	resp, err := c.exec.Execute(ctx, http.MethodPost, pathStop, body)
	if err != nil {
		return convertErr(err)
	}
	var payload struct {
		Message *string `json:"message"`
	}
	if err := decode(resp, &payload); err != nil {
		return err
	}
	if payload.Message == nil {
		return malformed("stop response missing message")
	}
	return nil
}

func (c *Client) validateDate(date string) error {
	parsed, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return &scrape.APIError{
			Kind:    scrape.APIInvalidInput,
			Message: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", date),
		}
	}
	if parsed.Before(minTargetDate) {
		return &scrape.APIError{
			Kind:    scrape.APIInvalidInput,
			Message: "date cannot be before 2010-01-01",
		}
	}
	now := c.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if parsed.After(today) {
		return &scrape.APIError{
			Kind:    scrape.APIInvalidInput,
			Message: "date cannot be in the future",
		}
	}
	return nil
}

func withJobID(path, jobID string) string {
	if jobID == "" {
		return path
	}
	return path + "?job_id=" + url.QueryEscape(jobID)
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func decode(resp *transport.Response, dst any) error {
	if len(resp.Body) == 0 || resp.Decoded == nil {
		return malformed("response body is not JSON")
	}
	if err := json.Unmarshal(resp.Body, dst); err != nil {
		return malformed(fmt.Sprintf("response shape mismatch: %v", err))
	}
	return nil
}

func malformed(msg string) error {
	return &scrape.APIError{Kind: scrape.APIMalformedResponse, Message: msg}
}

// convertErr maps transport failures carrying an HTTP status into the
// application-level Upstream form; timeouts and network failures pass
// through unchanged.
func convertErr(err error) error {
	var ae *scrape.APIError
	if errors.As(err, &ae) {
		return err
	}
	var te *scrape.TransportError
	if errors.As(err, &te) && te.Kind == scrape.TransportHTTPStatus {
		return &scrape.APIError{
			Kind:       scrape.APIUpstream,
			StatusCode: te.StatusCode,
			Message:    te.Body,
		}
	}
	return err
}
