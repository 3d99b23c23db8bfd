// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/bseorders/orderwatch/internal/progress"
)

// LogSink emits structured logs for progress streams. It is the
// default observer for CLI runs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Observe logs the event using structured fields.
func (s *LogSink) Observe(_ context.Context, evt progress.Event) error {
	s.logger.Info("progress event",
		zap.String("job_id", evt.JobID),
		zap.String("stage", string(evt.Stage)),
		zap.Bool("is_running", evt.IsRunning),
		zap.Int("progress", evt.Progress),
		zap.String("message", evt.Message),
		zap.String("note", evt.Note),
	)
	return nil
}
