package model

import "context"

// Aggregator defines the common interface for an aggregation engine.
type Aggregator interface {
	// Start launches the aggregator's processing workers and flusher.
	Start(ctx context.Context)

	// Stop gracefully shuts down the aggregator, flushing what is left.
	Stop()

	// Input returns the channel to which packets should be sent for processing.
	Input() chan<- *PacketInfo
}
