package probe

import (
	"context"
	"fmt"
	"log/slog"

	"AegisNet/internal/config"
	"AegisNet/internal/metrics"
	"AegisNet/internal/model"

	"github.com/nats-io/nats.go"
)

// IngestHandler processes one decoded flow event.
type IngestHandler func(ctx context.Context, ev model.IngestEvent) error

// Subscriber is responsible for subscribing to a NATS subject and feeding flows to a handler.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	handler IngestHandler
	metrics *metrics.Metrics
	logger  *slog.Logger
	ctx     context.Context
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.NATSConfig, m *metrics.Metrics, logger *slog.Logger) (*Subscriber, error) {
	logger = logger.With("component", "nats-subscriber")
	nc, err := connect(cfg, "aegisnet-inference", logger)
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc, subject: cfg.Subject, metrics: m, logger: logger}, nil
}

// Start subscribes to the configured subject. Messages are handled one at a
// time on the subscription's goroutine, preserving per-source order.
func (s *Subscriber) Start(ctx context.Context, handler IngestHandler) error {
	s.ctx = ctx
	s.handler = handler
	sub, err := s.nc.Subscribe(s.subject, s.handleMsg)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("Subscribed, waiting for flows", "subject", s.subject)
	return nil
}

func (s *Subscriber) handleMsg(msg *nats.Msg) {
	ev, err := DecodeIngestEvent(msg.Data)
	if err != nil {
		s.metrics.NATSMessages.WithLabelValues("undecodable").Inc()
		s.logger.Debug("dropping undecodable flow message", "error", err, "bytes", len(msg.Data))
		return
	}
	err = s.handler(s.ctx, ev)
	s.metrics.NATSMessages.WithLabelValues(model.Kind(err)).Inc()
	if err != nil {
		s.logger.Debug("flow message rejected", "error", err, "src", ev.Meta.SrcIP, "agent", ev.Meta.AgentID)
	}
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() error {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS connection closed")
	}
	return nil
}
