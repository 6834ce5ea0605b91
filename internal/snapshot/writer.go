// Package snapshot archives each flush of the flow aggregator to disk.
package snapshot

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"AegisNet/internal/model"
)

const (
	flowsFile   = "flows.dat"
	summaryFile = "summary.json"
	dirLayout   = "20060102T150405.000000000Z"
)

// SummaryData holds the metadata for one flush snapshot.
type SummaryData struct {
	AgentID      string `json:"agent_id"`
	TotalFlows   int    `json:"total_flows"`
	TotalBytes   uint64 `json:"total_bytes"`
	TotalPackets uint64 `json:"total_packets"`
	Timestamp    string `json:"timestamp"`
}

// Writer is a flow sink that writes every flush into its own timestamped
// directory: the events gob-encoded in flows.dat next to a summary.json.
type Writer struct {
	rootPath string
	now      func() time.Time
	logger   *slog.Logger
}

var _ model.FlowSink = (*Writer)(nil)

// NewWriter creates a snapshot writer rooted at rootPath.
func NewWriter(rootPath string, logger *slog.Logger) (*Writer, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("snapshot writer requires a root path")
	}
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot root: %w", err)
	}
	return &Writer{rootPath: rootPath, now: time.Now, logger: logger.With("component", "snapshot-writer")}, nil
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "file" }

// Deliver writes the batch as one snapshot. A failed write fails every event.
func (w *Writer) Deliver(_ context.Context, events []model.IngestEvent) []error {
	errs := make([]error, len(events))
	if len(events) == 0 {
		return errs
	}
	dir, err := w.Write(events)
	if err != nil {
		err = fmt.Errorf("%w: %v", model.ErrTransient, err)
		for i := range errs {
			errs[i] = err
		}
		return errs
	}
	w.logger.Debug("Snapshot written", "dir", dir, "flows", len(events))
	return errs
}

// Write stores events in a new snapshot directory and returns its path.
func (w *Writer) Write(events []model.IngestEvent) (string, error) {
	ts := w.now().UTC()
	dir := filepath.Join(w.rootPath, ts.Format(dirLayout))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if err := writeGob(filepath.Join(dir, flowsFile), events); err != nil {
		return "", err
	}

	summary := SummaryData{TotalFlows: len(events), Timestamp: ts.Format(time.RFC3339)}
	for _, ev := range events {
		summary.AgentID = ev.Meta.AgentID
		summary.TotalBytes += uint64(ev.Features[model.FeatureBytesIn] + ev.Features[model.FeatureBytesOut])
		summary.TotalPackets += uint64(ev.Features[model.FeaturePackets])
	}
	f, err := os.Create(filepath.Join(dir, summaryFile))
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer f.Close()

	jsonEncoder := json.NewEncoder(f)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return "", fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return dir, nil
}

func writeGob(path string, events []model.IngestEvent) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", path, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(events); err != nil {
		return fmt.Errorf("failed to encode flows to gob for file '%s': %w", path, err)
	}
	return nil
}

// ReadFlows decodes the events of one snapshot directory.
func ReadFlows(dir string) ([]model.IngestEvent, error) {
	f, err := os.Open(filepath.Join(dir, flowsFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var events []model.IngestEvent
	if err := gob.NewDecoder(f).Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return events, nil
}

// Close is a no-op; every snapshot is closed once written.
func (w *Writer) Close() error { return nil }
