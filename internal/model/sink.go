package model

import "context"

// FlowSink defines a destination for flushed flows.
type FlowSink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Deliver sends each event independently and returns one error slot per event.
	// A failure for one event must not prevent delivery of the others.
	Deliver(ctx context.Context, events []IngestEvent) []error

	// Close releases the sink's connections.
	Close() error
}
