package sinks

import (
	"context"

	"github.com/bseorders/orderwatch/internal/metrics"
	"github.com/bseorders/orderwatch/internal/progress"
)

// PrometheusSink mirrors progress events into the Prometheus
// collectors.
type PrometheusSink struct{}

// NewPrometheusSink initializes the collectors and returns the sink.
func NewPrometheusSink() *PrometheusSink {
	metrics.Init()
	return &PrometheusSink{}
}

// Observe records the event's progress and terminal outcome.
func (s *PrometheusSink) Observe(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageJobTick:
		metrics.SetJobProgress(evt.Progress)
	case progress.StageJobDone:
		metrics.SetJobProgress(100)
		metrics.ObserveJob("succeeded")
	case progress.StageJobError:
		metrics.ObserveJob("failed")
	case progress.StageJobCancelled:
		metrics.ObserveJob("cancelled")
	case progress.StageJobTimedOut:
		metrics.ObserveJob("timed_out")
	}
	return nil
}
