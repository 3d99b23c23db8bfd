package progress

import "context"

// Sink observes progress events. Implementations must tolerate being
// called from the poll loop goroutine; a failing or panicking sink
// never aborts the loop.
type Sink interface {
	Observe(ctx context.Context, evt Event) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, evt Event) error

// Observe calls f.
func (f SinkFunc) Observe(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}
