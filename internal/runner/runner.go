// Package runner is the high-level facade: start a scrape for a date,
// poll it to completion, and surface progress along the way.
package runner

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/bseorders/orderwatch/internal/poll"
	"github.com/bseorders/orderwatch/internal/progress"
	"github.com/bseorders/orderwatch/internal/scrape"
)

// JobAPI is the full job client surface the runner drives.
type JobAPI interface {
	CheckHealth(ctx context.Context) (*scrape.HealthStatus, error)
	StartJob(ctx context.Context, date string) (*scrape.Job, error)
	GetStatus(ctx context.Context, jobID string) (*scrape.StatusSnapshot, error)
	GetResults(ctx context.Context, jobID string) (*scrape.ResultSet, error)
	StopJob(ctx context.Context, jobID string) error
}

// Runner orchestrates one analysis at a time. Cancel aborts whichever
// run is currently active.
type Runner struct {
	client JobAPI
	cfg    poll.Config
	clock  scrape.Clock
	logger *zap.Logger
	sinks  []progress.Sink

	mu   sync.Mutex
	loop *poll.Loop
}

// New constructs a Runner. Sinks observe every run the Runner starts.
func New(client JobAPI, cfg poll.Config, clock scrape.Clock, logger *zap.Logger, sinks ...progress.Sink) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		client: client,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		sinks:  sinks,
	}
}

// CheckHealth probes the backend without starting a job.
func (r *Runner) CheckHealth(ctx context.Context) (*scrape.HealthStatus, error) {
	return r.client.CheckHealth(ctx)
}

// RunAnalysis starts a scrape job for the given YYYY-MM-DD date and
// polls it until it settles. Date validation failures surface before
// any polling begins. The optional onProgress callback sees every
// progress event; a panicking callback is isolated and logged, never
// fatal to the run.
func (r *Runner) RunAnalysis(ctx context.Context, date string, onProgress func(progress.Event)) (*scrape.ResultSet, error) {
	job, err := r.client.StartJob(ctx, date)
	if err != nil {
		return nil, err
	}
	r.logger.Info("scrape job started",
		zap.String("job_id", job.ID),
		zap.String("date", date),
	)

	sinks := r.sinks
	if onProgress != nil {
		cb := progress.SinkFunc(func(_ context.Context, evt progress.Event) error {
			onProgress(evt)
			return nil
		})
		sinks = append(append([]progress.Sink(nil), r.sinks...), cb)
	}

	loop := poll.New(r.client, job.ID, r.cfg, r.clock, r.logger, sinks...)
	r.mu.Lock()
	r.loop = loop
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.loop == loop {
			r.loop = nil
		}
		r.mu.Unlock()
	}()

	return loop.Run(ctx)
}

// Cancel aborts the active run, if any, requesting a best-effort stop
// of the remote job. Calling Cancel with no run in flight is a no-op.
func (r *Runner) Cancel() {
	r.mu.Lock()
	loop := r.loop
	r.mu.Unlock()
	if loop != nil {
		loop.Cancel()
	}
}
