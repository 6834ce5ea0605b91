package flowaggregator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"AegisNet/internal/config"
	"AegisNet/internal/metrics"
	"AegisNet/internal/model"
)

const finalFlushTimeout = 5 * time.Second

// Options configures a FlowAggregator.
type Options struct {
	AgentID       string
	NumWorkers    int
	QueueSize     int
	NumShards     uint32
	FlushInterval time.Duration
	FlowTTL       time.Duration
	MaxFlush      int
	// CaptureClock flushes against the newest packet timestamp seen instead
	// of the wall clock. Set it when replaying a capture file.
	CaptureClock bool
}

// OptionsFromConfig maps the probe section of the configuration.
func OptionsFromConfig(agentID string, cfg config.ProbeConfig) Options {
	return Options{
		AgentID:       agentID,
		NumWorkers:    cfg.NumWorkers,
		QueueSize:     cfg.SizeOfPacketChannel,
		NumShards:     cfg.NumShards,
		FlushInterval: cfg.FlushInterval,
		FlowTTL:       cfg.FlowTTL,
		MaxFlush:      cfg.MaxFlush,
	}
}

// FlowAggregator turns packets into flows with a worker pool and periodically
// flushes snapshots to its sinks.
type FlowAggregator struct {
	opts    Options
	table   *Table
	input   chan *model.PacketInfo
	sinks   []model.FlowSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	latest  atomic.Int64 // newest accepted packet, unix nanoseconds

	workers  sync.WaitGroup
	flusher  sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

var _ model.Aggregator = (*FlowAggregator)(nil)

// NewFlowAggregator creates a FlowAggregator delivering to the given sinks.
func NewFlowAggregator(opts Options, sinks []model.FlowSink, m *metrics.Metrics, logger *slog.Logger) *FlowAggregator {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.FlowTTL <= 0 {
		opts.FlowTTL = 30 * time.Second
	}
	if opts.MaxFlush <= 0 {
		opts.MaxFlush = 200
	}
	fa := &FlowAggregator{
		opts:    opts,
		table:   NewTable(opts.NumShards, opts.FlowTTL, opts.MaxFlush),
		input:   make(chan *model.PacketInfo, opts.QueueSize),
		sinks:   sinks,
		metrics: m,
		logger:  logger.With("component", "flowaggregator"),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if opts.CaptureClock {
		fa.now = fa.captureNow
	}
	return fa
}

// captureNow is the newest packet timestamp observed, or the wall clock
// before the first packet.
func (fa *FlowAggregator) captureNow() time.Time {
	if v := fa.latest.Load(); v != 0 {
		return time.Unix(0, v)
	}
	return time.Now()
}

// Input returns the channel to which packets should be sent for processing.
func (fa *FlowAggregator) Input() chan<- *model.PacketInfo {
	return fa.input
}

// Table exposes the underlying flow table.
func (fa *FlowAggregator) Table() *Table {
	return fa.table
}

// Observe folds a packet into the table. Rejected packets are counted and dropped.
func (fa *FlowAggregator) Observe(p *model.PacketInfo) {
	if !fa.table.Observe(p) {
		fa.metrics.PacketsDropped.Inc()
		return
	}
	fa.metrics.PacketsObserved.Inc()

	ts := p.Timestamp.UnixNano()
	for {
		cur := fa.latest.Load()
		if ts <= cur || fa.latest.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// Flush evicts expired flows and returns the snapshots to emit.
func (fa *FlowAggregator) Flush(now time.Time) []model.FlowRecord {
	snapshots, evicted := fa.table.Flush(now)
	fa.metrics.FlowsEvicted.Add(float64(evicted))
	fa.metrics.FlowsFlushed.Add(float64(len(snapshots)))
	fa.metrics.ActiveFlows.Set(float64(fa.table.Len()))
	return snapshots
}

// Start launches the aggregator worker pool and the flushing ticker.
func (fa *FlowAggregator) Start(ctx context.Context) {
	fa.workers.Add(fa.opts.NumWorkers)
	for i := 0; i < fa.opts.NumWorkers; i++ {
		go fa.worker()
	}

	fa.flusher.Add(1)
	go fa.runFlusher(ctx)
}

// Stop closes the input, drains the workers and performs a final flush.
func (fa *FlowAggregator) Stop() {
	fa.stopOnce.Do(func() {
		close(fa.input)
		fa.workers.Wait()
		close(fa.stop)
		fa.flusher.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		defer cancel()
		fa.flushAndDeliver(ctx, fa.now())
	})
}

// worker is a single worker that reads from the input channel and processes packets.
func (fa *FlowAggregator) worker() {
	defer fa.workers.Done()
	for packetInfo := range fa.input {
		fa.Observe(packetInfo)
	}
}

// runFlusher periodically flushes the table until Stop or context cancellation.
func (fa *FlowAggregator) runFlusher(ctx context.Context) {
	defer fa.flusher.Done()
	ticker := time.NewTicker(fa.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fa.flushAndDeliver(ctx, fa.now())
		case <-ctx.Done():
			return
		case <-fa.stop:
			return
		}
	}
}

func (fa *FlowAggregator) flushAndDeliver(ctx context.Context, now time.Time) {
	snapshots := fa.Flush(now)
	if len(snapshots) == 0 {
		return
	}

	events := make([]model.IngestEvent, len(snapshots))
	for i, rec := range snapshots {
		events[i] = model.NewIngestEvent(fa.opts.AgentID, rec, now)
	}

	for _, sink := range fa.sinks {
		errs := sink.Deliver(ctx, events)
		failed := 0
		for i := range events {
			var err error
			if i < len(errs) {
				err = errs[i]
			}
			fa.metrics.FlowDeliveries.WithLabelValues(sink.Name(), model.Kind(err)).Inc()
			if err != nil {
				failed++
				fa.logger.Debug("flow delivery failed", "sink", sink.Name(), "src", events[i].Meta.SrcIP,
					"dst", events[i].Meta.DstIP, "error", err)
			}
		}
		if failed > 0 {
			fa.logger.Warn("flow deliveries failed", "sink", sink.Name(), "failed", failed, "total", len(events))
		}
	}

	fa.logger.Info("flushed flows", "flushed", len(snapshots), "active_flows", fa.table.Len())
}
