// Package stub hosts a local simulation of the scrape backend. It
// implements the same HTTP contract the client speaks, with jobs that
// progress on a timer, so the client can be exercised end to end
// without touching the real exchange site.
package stub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bseorders/orderwatch/internal/scrape"
)

// Config controls the simulated backend.
type Config struct {
	// APIKey, when non-empty, is required in the X-API-Key header.
	APIKey string
	// JobDuration is how long a simulated scrape takes to finish.
	JobDuration time.Duration
	// ResultsLag delays result materialization after the job reports
	// done, to exercise the not-ready path.
	ResultsLag time.Duration
}

// Server is the simulated backend. One scrape job runs at a time,
// mirroring the real service.
type Server struct {
	router chi.Router
	clock  scrape.Clock
	logger *zap.Logger
	cfg    Config

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	id         string
	targetDate string
	startedAt  time.Time
	stopped    bool
	stoppedAt  time.Time
}

// NewServer constructs the stub with middleware and routes.
func NewServer(cfg Config, clock scrape.Clock, logger *zap.Logger) *Server {
	if cfg.JobDuration <= 0 {
		cfg.JobDuration = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		clock:  clock,
		logger: logger,
		cfg:    cfg,
		jobs:   make(map[string]*job),
	}

	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if cfg.APIKey != "" {
		r.Use(s.apiKeyMiddleware)
	}

	r.Get("/api/health", s.health)
	r.Post("/api/scrape", s.startScrape)
	r.Get("/api/status", s.status)
	r.Get("/api/results", s.results)
	r.Post("/api/stop", s.stop)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"message":   "BSE scraper backend is running",
		"timestamp": s.clock.Now().Format(time.RFC3339),
	})
}

func (s *Server) startScrape(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Date == "" {
		s.writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	target, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if s.phaseLocked(j) == phaseRunning {
			s.writeError(w, http.StatusConflict, "a scrape job is already running")
			return
		}
	}
	j := &job{
		id:         uuid.NewString(),
		targetDate: req.Date,
		startedAt:  s.clock.Now(),
	}
	s.jobs[j.id] = j
	s.logger.Info("stub job started",
		zap.String("job_id", j.id),
		zap.String("date", j.targetDate),
	)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"message":       "scrape started",
		"date":          j.targetDate,
		"readable_date": target.Format("02 January 2006"),
		"job_id":        j.id,
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookup(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	s.mu.Lock()
	phase := s.phaseLocked(j)
	progress := s.progressLocked(j)
	started := j.startedAt
	stoppedAt := j.stoppedAt
	s.mu.Unlock()

	payload := map[string]any{
		"is_running": phase == phaseRunning,
		"progress":   progress,
		"error":      "",
		"started_at": started.Format(time.RFC3339),
	}
	switch phase {
	case phaseRunning:
		payload["message"] = fmt.Sprintf("scraping announcements (%d%%)", progress)
	case phaseStopped:
		payload["message"] = "scrape stopped by request"
		payload["error"] = "job was stopped"
		payload["finished_at"] = stoppedAt.Format(time.RFC3339)
	default:
		res := s.resultSet(j)
		payload["message"] = "scrape complete"
		payload["finished_at"] = started.Add(s.cfg.JobDuration).Format(time.RFC3339)
		payload["total_announcements"] = res.TotalAnnouncements
		if phase == phaseDone {
			payload["results"] = res
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) results(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookup(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no results available")
		return
	}

	s.mu.Lock()
	phase := s.phaseLocked(j)
	s.mu.Unlock()

	switch phase {
	case phaseRunning, phaseFinishing:
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"message": "scrape still in progress",
		})
	case phaseStopped:
		s.writeError(w, http.StatusInternalServerError, "job was stopped before completion")
	default:
		s.writeJSON(w, http.StatusOK, resultsPayload{
			Success:   true,
			ResultSet: s.resultSet(j),
		})
	}
}

// resultsPayload adds the wire-level success flag around the result
// set.
type resultsPayload struct {
	Success bool `json:"success"`
	*scrape.ResultSet
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[req.JobID]
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if s.phaseLocked(j) == phaseRunning {
		j.stopped = true
		j.stoppedAt = s.clock.Now()
		s.logger.Info("stub job stopped", zap.String("job_id", j.id))
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "stop requested",
		"job_id":  j.id,
	})
}

type phase int

const (
	phaseRunning phase = iota
	// phaseFinishing means the job reported done but results are not
	// materialized yet.
	phaseFinishing
	phaseDone
	phaseStopped
)

func (s *Server) phaseLocked(j *job) phase {
	if j.stopped {
		return phaseStopped
	}
	elapsed := s.clock.Now().Sub(j.startedAt)
	switch {
	case elapsed < s.cfg.JobDuration:
		return phaseRunning
	case elapsed < s.cfg.JobDuration+s.cfg.ResultsLag:
		return phaseFinishing
	default:
		return phaseDone
	}
}

func (s *Server) progressLocked(j *job) int {
	elapsed := s.clock.Now().Sub(j.startedAt)
	p := int(elapsed * 100 / s.cfg.JobDuration)
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}

// lookup resolves the job_id query parameter.
func (s *Server) lookup(r *http.Request) (*job, bool) {
	id := r.URL.Query().Get("job_id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		// The real backend tracks a singleton job; fall back to the
		// most recent one.
		var latest *job
		for _, j := range s.jobs {
			if latest == nil || j.startedAt.After(latest.startedAt) {
				latest = j
			}
		}
		return latest, latest != nil
	}
	j, ok := s.jobs[id]
	return j, ok
}

// resultSet fabricates a plausible payload for a finished job.
func (s *Server) resultSet(j *job) *scrape.ResultSet {
	orders := []scrape.Order{
		{
			Page:            1,
			AnnouncementNum: 3,
			Company:         "Titagarh Rail Systems Ltd",
			RawCompany:      "TITAGARH RAIL SYSTEMS LTD.-$",
			Title:           "Receipt of Order",
			Summary:         "Order for supply of 20 rakes received from Indian Railways.",
			PDFLink:         "https://www.bseindia.com/xml-data/corpfiling/AttachLive/sample.pdf",
			OrderValues: []scrape.OrderValue{
				{Value: 450, Unit: "crores", Formatted: "Rs. 450 crores", ValueInCrores: 450},
			},
			TotalValueCrores: 450,
			PDFExtract:       "The company has received an order valued at Rs. 450 crores.",
		},
		{
			Page:            2,
			AnnouncementNum: 17,
			Company:         "KEC International Ltd",
			RawCompany:      "KEC INTERNATIONAL LTD.-$",
			Title:           "Award of Contract",
			Summary:         "New orders across transmission and distribution business.",
			PDFLink:         "No PDF available",
			OrderValues:     []scrape.OrderValue{},
		},
	}
	return &scrape.ResultSet{
		Date:               j.targetDate,
		TotalAnnouncements: 42,
		TotalAwards:        len(orders),
		TotalValueCrores:   450,
		Orders:             orders,
		Statistics: &scrape.Statistics{
			HighValueCount:   1,
			MediumValueCount: 0,
			LowValueCount:    0,
			NoValueCount:     1,
		},
		Message: "scrape complete",
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != s.cfg.APIKey {
			s.writeError(w, http.StatusForbidden, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
