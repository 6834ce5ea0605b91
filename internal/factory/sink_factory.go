package factory

import (
	"context"
	"fmt"
	"log/slog"

	"AegisNet/internal/config"
	"AegisNet/internal/model"
	"AegisNet/internal/probe"
	"AegisNet/internal/sink"
	"AegisNet/internal/snapshot"
)

// SinkFactory builds one flow sink from its definition.
type SinkFactory func(ctx context.Context, cfg *config.Config, def config.SinkDef, logger *slog.Logger) (model.FlowSink, error)

// registry holds the mapping of sink types to their factory functions.
var registry = make(map[string]SinkFactory)

// RegisterSink registers a new sink type with its factory function.
func RegisterSink(name string, factory SinkFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("sink type '%s' already registered", name))
	}
	registry[name] = factory
}

func init() {
	RegisterSink("http", func(_ context.Context, _ *config.Config, def config.SinkDef, logger *slog.Logger) (model.FlowSink, error) {
		return sink.NewHTTPSink(def.HTTP, logger)
	})
	RegisterSink("nats", func(_ context.Context, cfg *config.Config, _ config.SinkDef, logger *slog.Logger) (model.FlowSink, error) {
		pub, err := probe.NewPublisher(cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		return sink.NewNATSSink(pub), nil
	})
	RegisterSink("clickhouse", func(ctx context.Context, _ *config.Config, def config.SinkDef, logger *slog.Logger) (model.FlowSink, error) {
		return sink.NewClickHouseSink(ctx, def.ClickHouse, logger)
	})
	RegisterSink("file", func(_ context.Context, _ *config.Config, def config.SinkDef, logger *slog.Logger) (model.FlowSink, error) {
		return snapshot.NewWriter(def.File.RootPath, logger)
	})
}

// CreateSinks builds every enabled sink of the probe configuration. On failure
// the sinks created so far are closed.
func CreateSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]model.FlowSink, error) {
	var sinks []model.FlowSink
	for _, def := range cfg.Probe.Sinks {
		if !def.Enabled {
			continue
		}
		factory, ok := registry[def.Type]
		if !ok {
			closeAll(sinks)
			return nil, fmt.Errorf("unknown sink type: '%s'", def.Type)
		}
		s, err := factory(ctx, cfg, def, logger)
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("error creating sink '%s': %w", def.Type, err)
		}
		logger.Info("Flow sink enabled", "sink", s.Name())
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no enabled flow sink configured")
	}
	return sinks, nil
}

func closeAll(sinks []model.FlowSink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}
