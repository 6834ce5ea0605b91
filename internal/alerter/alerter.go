// Package alerter batches threat verdicts from the event bus into periodic
// notification digests.
package alerter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"AegisNet/internal/config"
	"AegisNet/internal/eventbus"
	"AegisNet/internal/metrics"
	"AegisNet/internal/model"
	"AegisNet/internal/resultlog"

	"github.com/gomarkdown/markdown"
)

// maxPending bounds the verdicts held between two digests.
const maxPending = 500

// Alerter collects results carrying a threat verdict and periodically sends a
// digest of them through the notifier.
type Alerter struct {
	bus           *eventbus.Bus
	notifier      model.Notifier
	analyzer      model.Analyzer // nil disables AI analysis
	checkInterval time.Duration
	minConfidence float64
	aiTimeout     time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger

	mu      sync.Mutex
	pending []resultlog.Entry
	skipped int

	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewAlerter creates a new Alerter. analyzer may be nil.
func NewAlerter(cfg config.AlerterConfig, bus *eventbus.Bus, notifier model.Notifier, analyzer model.Analyzer, m *metrics.Metrics, logger *slog.Logger) (*Alerter, error) {
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("invalid check_interval for alerter: %s", cfg.CheckInterval)
	}
	if notifier == nil {
		return nil, errors.New("alerter requires a notifier")
	}
	if !cfg.AIAnalysis.Enabled {
		analyzer = nil
	}
	timeout := cfg.AIAnalysis.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Alerter{
		bus:           bus,
		notifier:      notifier,
		analyzer:      analyzer,
		checkInterval: cfg.CheckInterval,
		minConfidence: cfg.MinConfidence,
		aiTimeout:     timeout,
		metrics:       m,
		logger:        logger.With("component", "alerter"),
		stopChan:      make(chan struct{}),
	}, nil
}

// Start subscribes to the bus and begins the periodic digest loop.
func (a *Alerter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	sub := a.bus.Subscribe()

	a.wg.Add(2)
	go a.collect(ctx, sub)
	go a.run(ctx)
	a.logger.Info("Alerter started", "check_interval", a.checkInterval, "min_confidence", a.minConfidence, "ai_analysis", a.analyzer != nil)
}

// Stop ends collection and sends a last digest of whatever is pending.
func (a *Alerter) Stop() {
	a.stopOnce.Do(func() {
		a.logger.Info("Stopping Alerter...")
		close(a.stopChan)
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), a.aiTimeout+10*time.Second)
		defer cancel()
		a.evaluate(ctx)
	})
}

func (a *Alerter) run(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.evaluate(ctx)
		case <-a.stopChan:
			return
		}
	}
}

// collect consumes bus events until ctx ends or the bus closes. A dropped
// subscription is replaced; the connected history is ignored so verdicts are
// only reported once.
func (a *Alerter) collect(ctx context.Context, sub *eventbus.Subscription) {
	defer a.wg.Done()
	defer func() { a.bus.Unsubscribe(sub) }()

	for {
		ev, err := sub.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, eventbus.ErrDropped):
			a.logger.Warn("Alerter fell behind the event bus, resubscribing")
			sub = a.bus.Subscribe()
			continue
		default:
			return
		}

		if ev.Type != eventbus.EventResult || ev.Entry == nil {
			continue
		}
		if t := ev.Entry.Threat; t != nil && t.Confidence >= a.minConfidence {
			a.add(*ev.Entry)
		}
	}
}

func (a *Alerter) add(e resultlog.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) >= maxPending {
		a.skipped++
		return
	}
	a.pending = append(a.pending, e)
}

func (a *Alerter) take() ([]resultlog.Entry, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, skipped := a.pending, a.skipped
	a.pending, a.skipped = nil, 0
	return entries, skipped
}

// evaluate sends one digest of the pending verdicts, if there are any.
func (a *Alerter) evaluate(ctx context.Context) {
	entries, skipped := a.take()
	if len(entries) == 0 {
		return
	}
	total := len(entries) + skipped
	a.logger.Info("Alerter evaluation completed", "verdicts", total)

	digest := buildDigest(entries, skipped)
	body := string(markdown.ToHTML([]byte(digest), nil, nil))

	if analysis, err := a.analyze(ctx, digest); err != nil {
		a.metrics.Alerts.WithLabelValues("ai_error").Inc()
		a.logger.Warn("Failed to get AI analysis", "error", err)
	} else if analysis != "" {
		body += "<hr><h2>AI-Powered Analysis</h2>" + string(markdown.ToHTML([]byte(analysis), nil, nil))
	}

	subject := fmt.Sprintf("AegisNet Threat Digest (%d verdicts)", total)
	if err := a.notifier.Send(ctx, subject, body); err != nil {
		a.metrics.Alerts.WithLabelValues("failed").Inc()
		a.logger.Error("Failed to send threat digest", "error", err)
		return
	}
	a.metrics.Alerts.WithLabelValues("sent").Inc()
	a.logger.Info("Threat digest sent", "verdicts", total)
}

func (a *Alerter) analyze(ctx context.Context, digest string) (string, error) {
	if a.analyzer == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.aiTimeout)
	defer cancel()
	return a.analyzer.AnalyzeVerdicts(ctx, digest)
}

// buildDigest renders the verdicts as markdown: a per-label summary followed by
// one table row per verdict.
func buildDigest(entries []resultlog.Entry, skipped int) string {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Threat.Label]++
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})

	var b strings.Builder
	b.WriteString("# AegisNet Threat Digest\n\n")
	fmt.Fprintf(&b, "%d verdict(s) since the last check.\n\n", len(entries)+skipped)
	for _, l := range labels {
		fmt.Fprintf(&b, "- **%s**: %d\n", l, counts[l])
	}
	if skipped > 0 {
		fmt.Fprintf(&b, "- %d more not listed\n", skipped)
	}

	b.WriteString("\n| Time | Label | Confidence | Source | Destination | Score | Reason |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "| %s | %s | %.2f | %s | %s | %.4f | %s |\n",
			e.Time.UTC().Format(time.RFC3339),
			e.Threat.Label,
			e.Threat.Confidence,
			orDash(e.Flow.SrcIP),
			orDash(e.Flow.DstIP),
			e.Score,
			strings.ReplaceAll(e.Threat.Reason, "|", "/"),
		)
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
