// Package resultlog keeps a bounded, most-recent-first history of scoring results.
package resultlog

import (
	"sync"
	"time"

	"AegisNet/internal/model"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of entries retained when none is configured.
const DefaultCapacity = 64

// FlowSnapshot is the flow as it was scored, enriched with its metadata.
type FlowSnapshot struct {
	Features model.FeatureVector `json:"features"`
	AgentID  string              `json:"agent_id,omitempty"`
	SrcIP    string              `json:"src_ip,omitempty"`
	DstIP    string              `json:"dst_ip,omitempty"`
	Process  string              `json:"process,omitempty"`
}

// Entry is one scoring result.
type Entry struct {
	ID           string               `json:"id"`
	Time         time.Time            `json:"time"`
	Flow         FlowSnapshot         `json:"flow"`
	Score        float64              `json:"anomaly_score"`
	IsSuspicious bool                 `json:"is_suspicious"`
	Threat       *model.ThreatVerdict `json:"threat"`
}

// NewEntry stamps a result with a fresh id and the given time.
func NewEntry(now time.Time, flow FlowSnapshot, score float64, suspicious bool, threat *model.ThreatVerdict) Entry {
	return Entry{
		ID:           uuid.NewString(),
		Time:         now,
		Flow:         flow,
		Score:        score,
		IsSuspicious: suspicious,
		Threat:       threat,
	}
}

// Log is a fixed-capacity ring. Appending to a full log overwrites the oldest entry.
type Log struct {
	mu    sync.RWMutex
	buf   []Entry
	next  int
	count int
}

// New creates a Log holding at most capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]Entry, capacity)}
}

// Append adds an entry in constant time.
func (l *Log) Append(e Entry) {
	l.mu.Lock()
	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
	l.mu.Unlock()
}

// Recent returns up to limit entries, newest first. A non-positive limit returns all.
func (l *Log) Recent(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		idx := (l.next - 1 - i + len(l.buf)) % len(l.buf)
		out[i] = l.buf[idx]
	}
	return out
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Cap returns the capacity of the log.
func (l *Log) Cap() int {
	return len(l.buf)
}
