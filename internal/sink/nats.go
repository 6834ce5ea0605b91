package sink

import (
	"context"
	"time"

	"AegisNet/internal/model"
)

const natsFlushTimeout = 2 * time.Second

// Publisher is the part of probe.Publisher the NATS sink needs.
type Publisher interface {
	Publish(ev model.IngestEvent) error
	Flush(timeout time.Duration) error
	Close() error
}

// NATSSink publishes flows on the flow subject.
type NATSSink struct {
	pub Publisher
}

var _ model.FlowSink = (*NATSSink)(nil)

// NewNATSSink wraps a connected publisher.
func NewNATSSink(pub Publisher) *NATSSink {
	return &NATSSink{pub: pub}
}

// Name identifies the sink in logs and metrics.
func (s *NATSSink) Name() string { return "nats" }

// Deliver publishes every event, then waits for the server to acknowledge the
// batch. If that fails every published event is reported as transient.
func (s *NATSSink) Deliver(ctx context.Context, events []model.IngestEvent) []error {
	errs := make([]error, len(events))
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		errs[i] = s.pub.Publish(ev)
	}

	timeout := natsFlushTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = max(time.Until(dl), time.Millisecond)
	}
	if err := s.pub.Flush(timeout); err != nil {
		for i := range errs {
			if errs[i] == nil {
				errs[i] = err
			}
		}
	}
	return errs
}

// Close drains the publisher.
func (s *NATSSink) Close() error {
	return s.pub.Close()
}
