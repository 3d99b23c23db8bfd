// Package scrape defines core types shared across subsystems.
package scrape

import "time"

// JobState represents the lifecycle state of a remote scrape job as
// observed by this client.
type JobState string

// Job states tracked by the poll loop.
const (
	JobStateNotStarted JobState = "not_started"
	JobStateRunning    JobState = "running"
	JobStateSucceeded  JobState = "succeeded"
	JobStateFailed     JobState = "failed"
	JobStateCancelled  JobState = "cancelled"
)

// Job identifies one backend analysis run. The ID is assigned by the
// server on start and may be empty when the server tracks a single
// implicit job.
type Job struct {
	ID         string   `json:"id"`
	TargetDate string   `json:"target_date"`
	State      JobState `json:"state"`
}

// StatusSnapshot is a point-in-time read of a job, produced by the
// server on each status poll. It is immutable once received and
// superseded by the next snapshot.
type StatusSnapshot struct {
	IsRunning          bool       `json:"is_running"`
	Progress           int        `json:"progress"`
	Message            string     `json:"message"`
	Error              string     `json:"error,omitempty"`
	TotalAnnouncements int        `json:"total_announcements,omitempty"`
	StartedAt          string     `json:"started_at,omitempty"`
	FinishedAt         string     `json:"finished_at,omitempty"`
	Results            *ResultSet `json:"results,omitempty"`
}

// OrderValue is one monetary figure extracted from an announcement PDF.
type OrderValue struct {
	Value         float64 `json:"value"`
	Unit          string  `json:"unit"`
	Formatted     string  `json:"formatted"`
	ValueInCrores float64 `json:"value_in_crores"`
}

// Order is one detected order-award announcement. Free-text fields have
// already passed the sanitizer boundary by the time an Order reaches a
// caller.
type Order struct {
	Page             int          `json:"page"`
	AnnouncementNum  int          `json:"announcement_num"`
	Company          string       `json:"company"`
	RawCompany       string       `json:"raw_company,omitempty"`
	Title            string       `json:"title"`
	Summary          string       `json:"summary"`
	PDFLink          string       `json:"pdf_link"`
	OrderValues      []OrderValue `json:"order_values,omitempty"`
	TotalValueCrores float64      `json:"total_value_crores"`
	PDFExtract       string       `json:"pdf_extract,omitempty"`
}

// Statistics buckets orders by extracted value, as reported by the
// server alongside the result set.
type Statistics struct {
	HighValueCount   int `json:"high_value_count"`
	MediumValueCount int `json:"medium_value_count"`
	LowValueCount    int `json:"low_value_count"`
	NoValueCount     int `json:"no_value_count"`
}

// ResultSet is the terminal payload of a completed job. Orders keep the
// server's detection order; the client never reorders them.
type ResultSet struct {
	Date               string      `json:"date"`
	TotalAnnouncements int         `json:"total_announcements"`
	TotalAwards        int         `json:"total_awards"`
	TotalValueCrores   float64     `json:"total_value_crores"`
	Orders             []Order     `json:"orders"`
	Statistics         *Statistics `json:"statistics,omitempty"`
	Message            string      `json:"message,omitempty"`
}

// HealthStatus is the response of the health endpoint.
type HealthStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
