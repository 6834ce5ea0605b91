// Package probe carries flows between capture agents and the inference
// service over NATS.
package probe

import (
	"fmt"
	"log/slog"
	"time"

	"AegisNet/internal/config"
	"AegisNet/internal/model"

	"github.com/nats-io/nats.go"
)

// connect opens a NATS connection that keeps reconnecting and logs state changes.
func connect(cfg config.NATSConfig, name string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("Connected to NATS server", "url", cfg.URL)
	return nc, nil
}

// Publisher is responsible for publishing flow events to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSConfig, logger *slog.Logger) (*Publisher, error) {
	logger = logger.With("component", "nats-publisher")
	nc, err := connect(cfg, "aegisnet-probe", logger)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

// Publish serializes an IngestEvent to the protobuf wire format and publishes it.
// Failures are transient: the connection reconnects on its own.
func (p *Publisher) Publish(ev model.IngestEvent) error {
	if err := p.nc.Publish(p.subject, EncodeIngestEvent(ev)); err != nil {
		return fmt.Errorf("%w: nats publish: %v", model.ErrTransient, err)
	}
	return nil
}

// Flush waits until the server has acknowledged everything published so far.
func (p *Publisher) Flush(timeout time.Duration) error {
	if err := p.nc.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("%w: nats flush: %v", model.ErrTransient, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.logger.Info("NATS connection drained and closed")
	return err
}
