package stub

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestServer(cfg Config) (*Server, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, time.May, 15, 9, 0, 0, 0, time.UTC)}
	return NewServer(cfg, clock, nil), clock
}

func do(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func startJob(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/scrape", map[string]string{"date": "2024-05-01"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	return resp.JobID
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(Config{})
	rec := do(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "healthy")
}

func TestStartScrape_ValidatesDate(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(Config{})

	rec := do(t, s, http.MethodPost, "/api/scrape", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/scrape", map[string]string{"date": "01/05/2024"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartScrape_RejectsConcurrentJob(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(Config{JobDuration: time.Minute})
	startJob(t, s)

	rec := do(t, s, http.MethodPost, "/api/scrape", map[string]string{"date": "2024-05-02"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	s, clock := newTestServer(Config{JobDuration: time.Minute})
	jobID := startJob(t, s)

	clock.Advance(30 * time.Second)
	rec := do(t, s, http.MethodGet, "/api/status?job_id="+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		IsRunning bool `json:"is_running"`
		Progress  int  `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.True(t, status.IsRunning)
	require.Equal(t, 50, status.Progress)

	rec = do(t, s, http.MethodGet, "/api/results?job_id="+jobID, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	clock.Advance(31 * time.Second)
	rec = do(t, s, http.MethodGet, "/api/status?job_id="+jobID, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.False(t, status.IsRunning)
	require.Equal(t, 100, status.Progress)

	rec = do(t, s, http.MethodGet, "/api/results?job_id="+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results struct {
		Success     bool   `json:"success"`
		Date        string `json:"date"`
		TotalAwards int    `json:"total_awards"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.True(t, results.Success)
	require.Equal(t, "2024-05-01", results.Date)
	require.Positive(t, results.TotalAwards)
}

func TestResultsLag_ReportsAcceptedUntilMaterialized(t *testing.T) {
	t.Parallel()

	s, clock := newTestServer(Config{JobDuration: time.Minute, ResultsLag: 10 * time.Second})
	jobID := startJob(t, s)

	clock.Advance(time.Minute + 5*time.Second)
	rec := do(t, s, http.MethodGet, "/api/results?job_id="+jobID, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	clock.Advance(10 * time.Second)
	rec = do(t, s, http.MethodGet, "/api/results?job_id="+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStop(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(Config{JobDuration: time.Minute})
	jobID := startJob(t, s)

	rec := do(t, s, http.MethodPost, "/api/stop", map[string]string{"job_id": jobID})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/status?job_id="+jobID, nil)
	var status struct {
		IsRunning bool   `json:"is_running"`
		Error     string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.False(t, status.IsRunning)
	require.NotEmpty(t, status.Error)

	rec = do(t, s, http.MethodGet, "/api/results?job_id="+jobID, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStop_UnknownJob(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(Config{})
	rec := do(t, s, http.MethodPost, "/api/stop", map[string]string{"job_id": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus_UnknownJob(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(Config{})
	rec := do(t, s, http.MethodGet, "/api/status?job_id=missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(Config{APIKey: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
