package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"AegisNet/internal/config"
	"AegisNet/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_records (
    Timestamp   DateTime64(3),
    AgentID     String,
    SrcIP       String,
    DstIP       String,
    Process     String,
    SrcPort     UInt16,
    DstPort     UInt16,
    Protocol    UInt8,
    BytesIn     UInt64,
    BytesOut    UInt64,
    Packets     UInt64,
    Duration    Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (SrcIP, Timestamp);
`

// ClickHouseSink archives flushed flows in the flow_records table.
type ClickHouseSink struct {
	conn   driver.Conn
	logger *slog.Logger
}

var _ model.FlowSink = (*ClickHouseSink)(nil)

// NewClickHouseSink connects to ClickHouse and ensures the table exists.
func NewClickHouseSink(ctx context.Context, cfg config.ClickHouseConfig, logger *slog.Logger) (*ClickHouseSink, error) {
	conn, err := connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger = logger.With("component", "clickhouse-sink")
	logger.Info("Connected to ClickHouse and ensured table exists", "host", cfg.Host, "database", cfg.Database)
	return &ClickHouseSink{conn: conn, logger: logger}, nil
}

func connect(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Name identifies the sink in logs and metrics.
func (s *ClickHouseSink) Name() string { return "clickhouse" }

// Deliver inserts the events as one batch. Rows the driver refuses fail on
// their own; a failed send fails every appended row as transient.
func (s *ClickHouseSink) Deliver(ctx context.Context, events []model.IngestEvent) []error {
	errs := make([]error, len(events))
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO flow_records")
	if err != nil {
		return fill(errs, fmt.Errorf("%w: prepare batch: %v", model.ErrTransient, err))
	}

	appended := 0
	for i, ev := range events {
		if err := batch.Append(row(ev)...); err != nil {
			errs[i] = fmt.Errorf("%w: append flow: %v", model.ErrMalformed, err)
			continue
		}
		appended++
	}
	if appended == 0 {
		_ = batch.Abort()
		return errs
	}

	if err := batch.Send(); err != nil {
		sendErr := fmt.Errorf("%w: send batch: %v", model.ErrTransient, err)
		for i := range errs {
			if errs[i] == nil {
				errs[i] = sendErr
			}
		}
		return errs
	}
	s.logger.Debug("Wrote flows to ClickHouse", "rows", appended)
	return errs
}

func row(ev model.IngestEvent) []any {
	ts, ok := ev.Meta.Time()
	if !ok {
		ts = time.Now()
	}
	f := ev.Features
	return []any{
		ts,
		ev.Meta.AgentID,
		ev.Meta.SrcIP,
		ev.Meta.DstIP,
		ev.Meta.Process,
		uint16(f[model.FeatureSrcPort]),
		uint16(f[model.FeatureDstPort]),
		uint8(f[model.FeatureProtocol]),
		uint64(f[model.FeatureBytesIn]),
		uint64(f[model.FeatureBytesOut]),
		uint64(f[model.FeaturePackets]),
		f[model.FeatureDuration],
	}
}

func fill(errs []error, err error) []error {
	for i := range errs {
		errs[i] = err
	}
	return errs
}

// Close closes the ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
