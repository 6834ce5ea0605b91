// Package classifier correlates scored flows per source address over a rolling
// window and raises explainable threat verdicts.
package classifier

import (
	"fmt"
	"sync"
	"time"

	"AegisNet/internal/config"
	"AegisNet/internal/metrics"
	"AegisNet/internal/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Verdict labels.
const (
	LabelPortScan     = "Port Scan Suspected"
	LabelHostSweep    = "Host Sweep / Lateral Movement"
	LabelExfiltration = "Data Exfiltration Suspected"
	LabelFlood        = "Traffic Spike / Flood Suspected"
	LabelAnomalous    = "Anomalous Activity"
)

// Rule thresholds. A rule fires when its window metric reaches the minimum and
// the flow's score is strictly above the rule's score floor.
const (
	PortScanMinPorts  = 30
	HostSweepMinHosts = 20
	ExfilMinBytesOut  = 50_000_000
	FloodMinPackets   = 50_000

	windowScoreFloor  = 0.03
	volumeScoreFloor  = 0.02
	genericScoreFloor = 0.08
)

const (
	DefaultWindow     = 30 * time.Second
	DefaultIdleTTL    = 2 * time.Minute
	DefaultMaxSources = 100000
)

type windowEntry struct {
	at       time.Time
	dstHost  string
	dstPort  int
	bytesOut float64
	packets  float64
}

type sourceWindow struct {
	entries []windowEntry
}

// prune keeps only the entries at or after cutoff. The whole queue is scanned
// so entries that arrived out of order are dropped too.
func (w *sourceWindow) prune(cutoff time.Time) {
	kept := w.entries[:0]
	for _, e := range w.entries {
		if !e.at.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	clear(w.entries[len(kept):])
	w.entries = kept
}

// Stats is a point-in-time view of the classifier state.
type Stats struct {
	Sources int `json:"sources"`
	Entries int `json:"entries"`
}

// Classifier keeps a rolling window of flows per source address. A single
// mutex serializes evaluation, so updates are applied in ingestion order.
type Classifier struct {
	window  time.Duration
	now     func() time.Time
	metrics *metrics.Metrics

	mu      sync.Mutex
	sources *expirable.LRU[string, *sourceWindow]
}

// New creates a Classifier. Sources idle for longer than IdleTTL are
// forgotten and at most MaxSources windows are kept. Expiry runs on a
// background goroutine that lives as long as the process, so a service
// creates one Classifier at startup.
func New(cfg config.ClassifierConfig, m *metrics.Metrics) *Classifier {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.IdleTTL < cfg.Window {
		cfg.IdleTTL = max(cfg.Window, DefaultIdleTTL)
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = DefaultMaxSources
	}

	c := &Classifier{
		window:  cfg.Window,
		now:     time.Now,
		metrics: m,
	}
	c.sources = expirable.NewLRU[string, *sourceWindow](cfg.MaxSources, func(string, *sourceWindow) {
		m.ClassifierEvicted.Inc()
	}, cfg.IdleTTL)
	return c
}

// Window returns the rolling window length.
func (c *Classifier) Window() time.Duration {
	return c.window
}

// Update records the flow in its source's window and evaluates the rules in
// priority order. It returns nil when no rule fires.
func (c *Classifier) Update(meta model.FlowMeta, features model.FeatureVector, score float64) *model.ThreatVerdict {
	if meta.SrcIP == "" || meta.DstIP == "" {
		if score > genericScoreFloor {
			return &model.ThreatVerdict{
				Label:      LabelAnomalous,
				Confidence: 0.35,
				Reason:     "High anomaly score without IP context",
			}
		}
		return nil
	}

	now, ok := meta.Time()
	if !ok {
		now = c.now()
	}
	entry := windowEntry{
		at:       now,
		dstHost:  meta.DstIP,
		dstPort:  int(features[model.FeatureDstPort]),
		bytesOut: features[model.FeatureBytesOut],
		packets:  features[model.FeaturePackets],
	}

	c.mu.Lock()
	w, found := c.sources.Get(meta.SrcIP)
	if !found {
		w = &sourceWindow{}
	}
	w.entries = append(w.entries, entry)
	w.prune(now.Add(-c.window))
	c.sources.Add(meta.SrcIP, w)

	ports := make(map[int]struct{})
	hosts := make(map[string]struct{})
	var bytesOut, packets float64
	for _, e := range w.entries {
		if e.dstPort > 0 {
			ports[e.dstPort] = struct{}{}
		}
		if e.dstHost != "" {
			hosts[e.dstHost] = struct{}{}
		}
		bytesOut += e.bytesOut
		packets += e.packets
	}
	tracked := c.sources.Len()
	c.mu.Unlock()

	c.metrics.ClassifierSources.Set(float64(tracked))
	return c.evaluate(meta.SrcIP, len(ports), len(hosts), bytesOut, packets, score)
}

func (c *Classifier) evaluate(src string, ports, hosts int, bytesOut, packets, score float64) *model.ThreatVerdict {
	secs := int(c.window.Seconds())
	switch {
	case ports >= PortScanMinPorts && score > windowScoreFloor:
		return &model.ThreatVerdict{
			Label:      LabelPortScan,
			Confidence: 0.75,
			Reason:     fmt.Sprintf("%d dst ports in %ds from %s", ports, secs, src),
		}
	case hosts >= HostSweepMinHosts && score > windowScoreFloor:
		return &model.ThreatVerdict{
			Label:      LabelHostSweep,
			Confidence: 0.70,
			Reason:     fmt.Sprintf("%d dst hosts in %ds from %s", hosts, secs, src),
		}
	case bytesOut >= ExfilMinBytesOut && score > volumeScoreFloor:
		return &model.ThreatVerdict{
			Label:      LabelExfiltration,
			Confidence: 0.70,
			Reason:     fmt.Sprintf("%d bytes_out in %ds from %s", int64(bytesOut), secs, src),
		}
	case packets >= FloodMinPackets && score > volumeScoreFloor:
		return &model.ThreatVerdict{
			Label:      LabelFlood,
			Confidence: 0.65,
			Reason:     fmt.Sprintf("%d packets in %ds from %s", int64(packets), secs, src),
		}
	case score > genericScoreFloor:
		return &model.ThreatVerdict{
			Label:      LabelAnomalous,
			Confidence: 0.50,
			Reason:     "High reconstruction error",
		}
	}
	return nil
}

// Stats reports the number of tracked sources and queued window entries.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var st Stats
	for _, w := range c.sources.Values() {
		st.Sources++
		st.Entries += len(w.entries)
	}
	return st
}

// entriesFor returns a copy of a source's window, for tests.
func (c *Classifier) entriesFor(src string) []windowEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.sources.Peek(src)
	if !ok {
		return nil
	}
	return append([]windowEntry(nil), w.entries...)
}
