// Package poll drives the job status poll loop: a state machine that
// turns periodic status snapshots into exactly one terminal outcome.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/bseorders/orderwatch/internal/jobclient"
	"github.com/bseorders/orderwatch/internal/metrics"
	"github.com/bseorders/orderwatch/internal/progress"
	"github.com/bseorders/orderwatch/internal/scrape"
)

// State is the loop's lifecycle state. Polling is the only
// non-terminal state after a run begins.
type State string

// Loop states.
const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timed_out"
)

// Defaults and tick interval bounds.
const (
	defaultInterval = 2000 * time.Millisecond
	minInterval     = 1000 * time.Millisecond
	maxInterval     = 10000 * time.Millisecond
	defaultMaxTicks = 300
)

// StatusClient is the subset of the job client the loop drives.
type StatusClient interface {
	GetStatus(ctx context.Context, jobID string) (*scrape.StatusSnapshot, error)
	GetResults(ctx context.Context, jobID string) (*scrape.ResultSet, error)
	StopJob(ctx context.Context, jobID string) error
}

// Config controls loop behavior.
type Config struct {
	// Interval between ticks; clamped to [1s, 10s].
	Interval time.Duration
	// Jitter, when positive, randomizes each tick around Interval.
	Jitter time.Duration
	// MaxTicks bounds total wait; exceeding it ends the run in
	// StateTimedOut regardless of per-request timeouts.
	MaxTicks int
}

// Loop polls one job until it reaches a terminal state. A Loop runs at
// most once; its pending timer is released on every terminal
// transition.
type Loop struct {
	client StatusClient
	jobID  string
	cfg    Config
	sinks  []progress.Sink
	logger *zap.Logger
	clock  scrape.Clock

	cancelOnce sync.Once
	cancelCh   chan struct{}

	mu    sync.Mutex
	state State
}

// New constructs a Loop for the given job.
func New(client StatusClient, jobID string, cfg Config, clock scrape.Clock, logger *zap.Logger, sinks ...progress.Sink) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Interval < minInterval {
		cfg.Interval = minInterval
	}
	if cfg.Interval > maxInterval {
		cfg.Interval = maxInterval
	}
	if cfg.MaxTicks <= 0 {
		cfg.MaxTicks = defaultMaxTicks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Loop{
		client:   client,
		jobID:    jobID,
		cfg:      cfg,
		sinks:    sinks,
		logger:   logger,
		clock:    clock,
		cancelCh: make(chan struct{}),
		state:    StateIdle,
	}
}

// State returns the loop's current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Cancel requests the job be stopped and moves the loop to
// StateCancelled. The stop request is best-effort; no further status
// polls happen after cancellation. Safe to call from any goroutine and
// more than once.
func (l *Loop) Cancel() {
	l.cancelOnce.Do(func() {
		if l.transitionTo(StateCancelled) {
			l.logger.Info("poll loop cancelled", zap.String("job_id", l.jobID))
		}
		close(l.cancelCh)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := l.client.StopJob(ctx, l.jobID); err != nil {
				l.logger.Warn("stop request failed", zap.String("job_id", l.jobID), zap.Error(err))
			}
		}()
	})
}

// Run polls until the job reaches a terminal state and returns exactly
// one outcome: the result set on success, or an error describing the
// failure. Context cancellation behaves like Cancel without the stop
// request.
func (l *Loop) Run(ctx context.Context) (*scrape.ResultSet, error) {
	if !l.transitionFrom(StateIdle, StatePolling) {
		return nil, l.terminalError()
	}
	l.emit(ctx, progress.Event{
		JobID: l.jobID,
		TS:    l.clock.Now(),
		Stage: progress.StageJobStart,
	})

	var ticker *jitterbug.Ticker
	if l.cfg.Jitter > 0 {
		ticker = jitterbug.New(l.cfg.Interval, &jitterbug.Norm{Stdev: l.cfg.Jitter})
		defer ticker.Stop()
	}

	for tick := 0; ; tick++ {
		if err := l.checkCancelled(ctx); err != nil {
			return nil, l.cancelled(ctx, err)
		}
		if tick >= l.cfg.MaxTicks {
			l.transitionTo(StateTimedOut)
			l.emit(ctx, progress.Event{
				JobID: l.jobID,
				TS:    l.clock.Now(),
				Stage: progress.StageJobTimedOut,
			})
			return nil, &scrape.PollError{Kind: scrape.PollTimeout}
		}

		metrics.ObservePollTick()
		snapshot, err := l.client.GetStatus(ctx, l.jobID)
		if err != nil {
			// Status failures already went through the coordinator's
			// retry; the loop fails fast instead of re-polling.
			return nil, l.fail(ctx, err)
		}

		l.emit(ctx, progress.Event{
			JobID:     l.jobID,
			TS:        l.clock.Now(),
			Stage:     progress.StageJobTick,
			IsRunning: snapshot.IsRunning,
			Progress:  snapshot.Progress,
			Message:   snapshot.Message,
			Note:      snapshot.Error,
		})

		if snapshot.IsRunning {
			if err := l.wait(ctx, ticker); err != nil {
				return nil, l.cancelled(ctx, err)
			}
			continue
		}

		if snapshot.Error != "" {
			return nil, l.fail(ctx, &scrape.PollError{
				Kind:    scrape.PollJobReportedFailure,
				Message: snapshot.Error,
			})
		}
		if snapshot.Results != nil {
			return l.succeed(ctx, snapshot.Results)
		}

		results, err := l.client.GetResults(ctx, l.jobID)
		switch {
		case errors.Is(err, jobclient.ErrResultsNotReady):
			// Job reported done but results are not materialized yet;
			// keep polling within the same tick budget.
			if err := l.wait(ctx, ticker); err != nil {
				return nil, l.cancelled(ctx, err)
			}
		case err != nil:
			return nil, l.fail(ctx, err)
		default:
			return l.succeed(ctx, results)
		}
	}
}

func (l *Loop) succeed(ctx context.Context, results *scrape.ResultSet) (*scrape.ResultSet, error) {
	if !l.transitionTo(StateSucceeded) {
		return nil, l.terminalError()
	}
	l.emit(ctx, progress.Event{
		JobID:    l.jobID,
		TS:       l.clock.Now(),
		Stage:    progress.StageJobDone,
		Progress: 100,
	})
	return results, nil
}

func (l *Loop) fail(ctx context.Context, err error) error {
	if !l.transitionTo(StateFailed) {
		return l.terminalError()
	}
	l.emit(ctx, progress.Event{
		JobID: l.jobID,
		TS:    l.clock.Now(),
		Stage: progress.StageJobError,
		Note:  err.Error(),
	})
	return err
}

// cancelled emits the terminal cancellation event exactly once per run.
func (l *Loop) cancelled(ctx context.Context, err error) error {
	l.emit(ctx, progress.Event{
		JobID: l.jobID,
		TS:    l.clock.Now(),
		Stage: progress.StageJobCancelled,
	})
	return err
}

// checkCancelled reports cancellation without blocking.
func (l *Loop) checkCancelled(ctx context.Context) error {
	select {
	case <-l.cancelCh:
		return &scrape.PollError{Kind: scrape.PollCancelled}
	case <-ctx.Done():
		l.transitionTo(StateCancelled)
		return &scrape.PollError{Kind: scrape.PollCancelled}
	default:
		return nil
	}
}

// wait blocks for one tick interval. Cancellation wakes it immediately
// and releases the pending timer.
func (l *Loop) wait(ctx context.Context, ticker *jitterbug.Ticker) error {
	var tickCh <-chan time.Time
	if ticker != nil {
		tickCh = ticker.C
	} else {
		timer := time.NewTimer(l.cfg.Interval)
		defer timer.Stop()
		tickCh = timer.C
	}
	select {
	case <-l.cancelCh:
		return &scrape.PollError{Kind: scrape.PollCancelled}
	case <-ctx.Done():
		l.transitionTo(StateCancelled)
		return &scrape.PollError{Kind: scrape.PollCancelled}
	case <-tickCh:
		return nil
	}
}

// transitionTo moves to a terminal state unless one was already
// entered; terminal states have no outgoing transitions.
func (l *Loop) transitionTo(next State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateIdle, StatePolling:
		l.state = next
		return true
	default:
		return false
	}
}

func (l *Loop) transitionFrom(from, next State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from {
		return false
	}
	l.state = next
	return true
}

func (l *Loop) terminalError() error {
	switch l.State() {
	case StateCancelled:
		return &scrape.PollError{Kind: scrape.PollCancelled}
	case StateTimedOut:
		return &scrape.PollError{Kind: scrape.PollTimeout}
	default:
		return &scrape.PollError{Kind: scrape.PollJobReportedFailure, Message: "poll loop already finished"}
	}
}

// emit fans the event out to every sink. A sink that fails or panics
// is logged and skipped; observers can never abort the loop.
func (l *Loop) emit(ctx context.Context, evt progress.Event) {
	if err := evt.Validate(); err != nil {
		l.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	for _, sink := range l.sinks {
		if sink == nil {
			continue
		}
		l.observeOne(ctx, sink, evt)
	}
}

func (l *Loop) observeOne(ctx context.Context, sink progress.Sink, evt progress.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("progress sink panicked", zap.Any("panic", r))
		}
	}()
	if err := sink.Observe(ctx, evt); err != nil {
		l.logger.Warn("progress sink failed", zap.Error(err))
	}
}
