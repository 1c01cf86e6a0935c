package progress

import "context"

// Sink receives batches from a Hub. Consume must respect ctx; a slow sink
// holds back the others.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is what the page walker reports to.
type Emitter interface {
	Emit(evt Event)
}

// SinkFunc adapts a function to a Sink with a no-op Close.
type SinkFunc func(ctx context.Context, batch []Event) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

// Close does nothing.
func (SinkFunc) Close(context.Context) error {
	return nil
}
