// Package pipeline wires scoring, classification, the result log and the
// event bus into the ingestion path shared by every entry point.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"AegisNet/internal/classifier"
	"AegisNet/internal/eventbus"
	"AegisNet/internal/metrics"
	"AegisNet/internal/model"
	"AegisNet/internal/resultlog"
	"AegisNet/internal/scoring"
)

// SuspiciousThreshold is the score above which a flow is flagged suspicious.
const SuspiciousThreshold = 0.05

// IsSuspicious applies SuspiciousThreshold.
func IsSuspicious(score float64) bool {
	return score > SuspiciousThreshold
}

// Result is the outcome of ingesting one flow.
type Result struct {
	AnomalyScore float64              `json:"anomaly_score"`
	IsSuspicious bool                 `json:"is_suspicious"`
	Threat       *model.ThreatVerdict `json:"threat"`
}

// BatchItem is the outcome of scoring one flow of a batch.
type BatchItem struct {
	Index        int     `json:"index"`
	AnomalyScore float64 `json:"anomaly_score"`
	IsSuspicious bool    `json:"is_suspicious"`
	Err          error   `json:"-"`
}

// Pipeline scores flows and fans the results out. It is safe for concurrent callers.
type Pipeline struct {
	scorer     scoring.Scorer
	classifier *classifier.Classifier
	log        *resultlog.Log
	bus        *eventbus.Bus
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Pipeline from its collaborators.
func New(scorer scoring.Scorer, cls *classifier.Classifier, log *resultlog.Log, bus *eventbus.Bus,
	m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		scorer:     scorer,
		classifier: cls,
		log:        log,
		bus:        bus,
		metrics:    m,
		logger:     logger.With("component", "pipeline"),
		now:        time.Now,
	}
}

// Scorer returns the scorer the pipeline was built with.
func (p *Pipeline) Scorer() scoring.Scorer {
	return p.scorer
}

// Ingest scores ev, updates the classifier, records the result and publishes it.
// A scoring failure leaves no trace in the log or the classifier.
func (p *Pipeline) Ingest(ctx context.Context, ev model.IngestEvent) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()

	score, err := p.scorer.Score(ev.Features)
	if err != nil {
		p.metrics.IngestTotal.WithLabelValues("ingest", model.Kind(err)).Inc()
		return Result{}, err
	}

	suspicious := IsSuspicious(score)
	threat := p.classifier.Update(ev.Meta, ev.Features, score)

	p.record(resultlog.FlowSnapshot{
		Features: ev.Features.Clone(),
		AgentID:  ev.Meta.AgentID,
		SrcIP:    ev.Meta.SrcIP,
		DstIP:    ev.Meta.DstIP,
		Process:  ev.Meta.Process,
	}, score, suspicious, threat)

	p.metrics.IngestTotal.WithLabelValues("ingest", "ok").Inc()
	p.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	if threat != nil {
		p.metrics.Verdicts.WithLabelValues(threat.Label).Inc()
		p.logger.Info("threat verdict", "label", threat.Label, "confidence", threat.Confidence,
			"reason", threat.Reason, "src", ev.Meta.SrcIP, "agent", ev.Meta.AgentID, "score", score)
	}

	return Result{AnomalyScore: score, IsSuspicious: suspicious, Threat: threat}, nil
}

// Score scores a bare feature vector and records it without classification.
func (p *Pipeline) Score(ctx context.Context, fv model.FeatureVector) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	score, err := p.scorer.Score(fv)
	p.metrics.IngestTotal.WithLabelValues("score", model.Kind(err)).Inc()
	if err != nil {
		return Result{}, err
	}
	suspicious := IsSuspicious(score)
	p.record(resultlog.FlowSnapshot{Features: fv.Clone()}, score, suspicious, nil)
	return Result{AnomalyScore: score, IsSuspicious: suspicious}, nil
}

// ScoreBatch scores each vector independently. Results keep input order and
// carry their own error; valid items are recorded.
func (p *Pipeline) ScoreBatch(ctx context.Context, fvs []model.FeatureVector) ([]BatchItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scored := p.scorer.ScoreBatch(fvs)
	items := make([]BatchItem, len(fvs))
	for i := range fvs {
		var r scoring.BatchResult
		if i < len(scored) {
			r = scored[i]
		} else {
			r.Err = scoring.ErrNotLoaded
		}
		p.metrics.IngestTotal.WithLabelValues("score_bulk", model.Kind(r.Err)).Inc()
		items[i] = BatchItem{Index: i, Err: r.Err}
		if r.Err != nil {
			continue
		}
		items[i].AnomalyScore = r.Score
		items[i].IsSuspicious = IsSuspicious(r.Score)
		p.record(resultlog.FlowSnapshot{Features: fvs[i].Clone()}, r.Score, items[i].IsSuspicious, nil)
	}
	return items, nil
}

func (p *Pipeline) record(flow resultlog.FlowSnapshot, score float64, suspicious bool, threat *model.ThreatVerdict) {
	if suspicious {
		p.metrics.Suspicious.Inc()
	}
	entry := resultlog.NewEntry(p.now(), flow, score, suspicious, threat)
	p.log.Append(entry)
	p.metrics.ResultLogEntries.Set(float64(p.log.Len()))
	p.bus.Publish(eventbus.ResultEvent(entry))
}
