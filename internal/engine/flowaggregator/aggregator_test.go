package flowaggregator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"AegisNet/internal/metrics"
	"AegisNet/internal/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name string
	fail func(model.IngestEvent) error

	mu     sync.Mutex
	events []model.IngestEvent
}

func (s *recordingSink) Name() string { return s.name }
func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Deliver(_ context.Context, events []model.IngestEvent) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := make([]error, len(events))
	for i, ev := range events {
		if s.fail != nil {
			if errs[i] = s.fail(ev); errs[i] != nil {
				continue
			}
		}
		s.events = append(s.events, ev)
	}
	return errs
}

func (s *recordingSink) received() []model.IngestEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.IngestEvent(nil), s.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFlowAggregator_FlushDeliversToSinks(t *testing.T) {
	sink := &recordingSink{name: "recording"}
	m := metrics.New()
	fa := NewFlowAggregator(Options{
		AgentID:       "agent-1",
		NumWorkers:    4,
		FlushInterval: 20 * time.Millisecond,
		FlowTTL:       time.Minute,
	}, []model.FlowSink{sink}, m, discardLogger())

	fa.Start(context.Background())
	fa.Input() <- pkt("192.168.0.1", 53, 17, 100, time.Now())
	fa.Input() <- nil

	require.Eventually(t, func() bool { return len(sink.received()) > 0 }, 2*time.Second, 10*time.Millisecond)
	fa.Stop()

	ev := sink.received()[0]
	assert.Equal(t, "agent-1", ev.Meta.AgentID)
	assert.Equal(t, "192.168.0.1", ev.Meta.SrcIP)
	assert.Equal(t, "10.0.0.9", ev.Meta.DstIP)
	require.NotNil(t, ev.Meta.Timestamp)
	assert.Equal(t, 100.0, ev.Features[model.FeatureBytesOut])
	assert.Equal(t, 53.0, ev.Features[model.FeatureDstPort])
	assert.Equal(t, 17.0, ev.Features[model.FeatureProtocol])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsObserved))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsDropped))
}

func TestFlowAggregator_StopPerformsFinalFlush(t *testing.T) {
	sink := &recordingSink{name: "recording"}
	fa := NewFlowAggregator(Options{
		NumWorkers:    2,
		FlushInterval: time.Hour,
		FlowTTL:       time.Minute,
	}, []model.FlowSink{sink}, metrics.New(), discardLogger())

	fa.Start(context.Background())
	for i := 0; i < 3; i++ {
		fa.Input() <- pkt("10.0.0.5", uint16(8000+i), 6, 60, time.Now())
	}
	fa.Stop()
	fa.Stop()

	assert.Len(t, sink.received(), 3)
}

func TestFlowAggregator_DeliveryFailuresIsolated(t *testing.T) {
	flaky := &recordingSink{name: "flaky", fail: func(ev model.IngestEvent) error {
		if ev.Features[model.FeatureDstPort] == 8001 {
			return fmt.Errorf("%w: connection refused", model.ErrTransient)
		}
		return nil
	}}
	healthy := &recordingSink{name: "healthy"}
	m := metrics.New()
	fa := NewFlowAggregator(Options{FlowTTL: time.Minute}, []model.FlowSink{flaky, healthy}, m, discardLogger())

	now := time.Now()
	for i := 0; i < 3; i++ {
		fa.Observe(pkt("10.0.0.5", uint16(8000+i), 6, 60, now))
	}
	fa.flushAndDeliver(context.Background(), now)

	assert.Len(t, flaky.received(), 2)
	assert.Len(t, healthy.received(), 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlowDeliveries.WithLabelValues("flaky", "transient")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FlowDeliveries.WithLabelValues("flaky", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FlowDeliveries.WithLabelValues("healthy", "ok")))
}

func TestFlowAggregator_ExpiredFlowsNotDelivered(t *testing.T) {
	sink := &recordingSink{name: "recording"}
	m := metrics.New()
	fa := NewFlowAggregator(Options{FlowTTL: 30 * time.Second}, []model.FlowSink{sink}, m, discardLogger())

	now := time.Now()
	fa.Observe(pkt("10.0.0.5", 80, 6, 60, now.Add(-time.Minute)))
	fa.Observe(pkt("10.0.0.6", 80, 6, 60, now))
	fa.flushAndDeliver(context.Background(), now)

	require.Len(t, sink.received(), 1)
	assert.Equal(t, "10.0.0.6", sink.received()[0].Meta.SrcIP)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlowsEvicted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveFlows))
}

func TestFlowAggregator_ReplayOldCapture(t *testing.T) {
	recorded := time.Now().Add(-2 * time.Minute)

	run := func(captureClock bool) []model.IngestEvent {
		sink := &recordingSink{name: "recording"}
		fa := NewFlowAggregator(Options{
			NumWorkers:    2,
			FlushInterval: time.Hour,
			FlowTTL:       30 * time.Second,
			CaptureClock:  captureClock,
		}, []model.FlowSink{sink}, metrics.New(), discardLogger())
		fa.Start(context.Background())
		for i := 0; i < 50; i++ {
			fa.Input() <- pkt("10.0.0.5", uint16(1000+i), 6, 60, recorded.Add(time.Duration(i)*10*time.Millisecond))
		}
		fa.Stop()
		return sink.received()
	}

	events := run(true)
	require.Len(t, events, 50)
	for _, ev := range events {
		ts, ok := ev.Meta.Time()
		require.True(t, ok)
		assert.WithinDuration(t, recorded.Add(490*time.Millisecond), ts, time.Millisecond)
	}

	// Against the wall clock the whole capture is already past its TTL.
	assert.Empty(t, run(false))
}

func TestFlowAggregator_CaptureClockFollowsNewestPacket(t *testing.T) {
	fa := NewFlowAggregator(Options{CaptureClock: true}, nil, metrics.New(), discardLogger())
	assert.WithinDuration(t, time.Now(), fa.now(), time.Second)

	base := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	fa.Observe(pkt("10.0.0.5", 80, 6, 60, base.Add(time.Second)))
	fa.Observe(pkt("10.0.0.5", 81, 6, 60, base))
	fa.Observe(pkt("10.0.0.5", 82, 1, 60, base.Add(time.Hour))) // rejected, ICMP
	assert.True(t, base.Add(time.Second).Equal(fa.now()))
}
