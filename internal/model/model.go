package model

import (
	"math"
	"net/netip"
	"time"
)

// FiveTuple identifies a directional flow.
type FiveTuple struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8 // e.g., TCP, UDP
}

// Valid reports whether both endpoints carry an address.
func (ft FiveTuple) Valid() bool {
	return ft.SrcIP.IsValid() && ft.DstIP.IsValid()
}

// Direction tells the aggregator which byte counter a packet feeds.
type Direction uint8

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// PacketInfo holds the metadata extracted from a single packet.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	Length    int
	Direction Direction
	Process   string
}

// MinFlowDuration is the floor applied to the duration of a flushed flow.
const MinFlowDuration = time.Millisecond

// FlowRecord is a point-in-time copy of an aggregated flow.
type FlowRecord struct {
	Key       FiveTuple
	FirstSeen time.Time
	LastSeen  time.Time
	BytesIn   uint64
	BytesOut  uint64
	Packets   uint64
	Process   string
}

// Duration returns last-seen minus first-seen, never less than MinFlowDuration.
func (r FlowRecord) Duration() time.Duration {
	d := r.LastSeen.Sub(r.FirstSeen)
	if d < MinFlowDuration {
		return MinFlowDuration
	}
	return d
}

// Features converts the record into the scorer's feature vector.
func (r FlowRecord) Features() FeatureVector {
	return FeatureVector{
		FeatureBytesIn:  float64(r.BytesIn),
		FeatureBytesOut: float64(r.BytesOut),
		FeaturePackets:  float64(r.Packets),
		FeatureDuration: r.Duration().Seconds(),
		FeatureSrcPort:  float64(r.Key.SrcPort),
		FeatureDstPort:  float64(r.Key.DstPort),
		FeatureProtocol: float64(r.Key.Protocol),
	}
}

const (
	FeatureBytesIn  = "bytes_in"
	FeatureBytesOut = "bytes_out"
	FeaturePackets  = "packets"
	FeatureDuration = "duration"
	FeatureSrcPort  = "src_port"
	FeatureDstPort  = "dst_port"
	FeatureProtocol = "protocol"
)

// FeatureNames is the canonical feature order.
var FeatureNames = []string{
	FeatureBytesIn,
	FeatureBytesOut,
	FeaturePackets,
	FeatureDuration,
	FeatureSrcPort,
	FeatureDstPort,
	FeatureProtocol,
}

// FeatureVector maps feature names to values.
type FeatureVector map[string]float64

// Get returns the named feature and whether it is present.
func (fv FeatureVector) Get(name string) (float64, bool) {
	v, ok := fv[name]
	return v, ok
}

// Clone returns an independent copy.
func (fv FeatureVector) Clone() FeatureVector {
	out := make(FeatureVector, len(fv))
	for k, v := range fv {
		out[k] = v
	}
	return out
}

// FlowMeta is the optional context attached to an ingested flow.
type FlowMeta struct {
	AgentID   string   `json:"agent_id,omitempty"`
	SrcIP     string   `json:"src_ip,omitempty"`
	DstIP     string   `json:"dst_ip,omitempty"`
	Process   string   `json:"process,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"` // epoch seconds
}

// Time converts the epoch-seconds timestamp, if any.
func (m FlowMeta) Time() (time.Time, bool) {
	if m.Timestamp == nil || *m.Timestamp <= 0 || math.IsNaN(*m.Timestamp) || math.IsInf(*m.Timestamp, 0) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(*m.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// EpochSeconds converts t into the float representation used on the wire.
func EpochSeconds(t time.Time) *float64 {
	v := float64(t.UnixNano()) / 1e9
	return &v
}

// IngestEvent is a single flow submitted for scoring.
type IngestEvent struct {
	Meta     FlowMeta      `json:"meta"`
	Features FeatureVector `json:"features"`
}

// NewIngestEvent builds the event a probe sends for a flushed flow.
func NewIngestEvent(agentID string, rec FlowRecord, now time.Time) IngestEvent {
	return IngestEvent{
		Meta: FlowMeta{
			AgentID:   agentID,
			SrcIP:     addrString(rec.Key.SrcIP),
			DstIP:     addrString(rec.Key.DstIP),
			Process:   rec.Process,
			Timestamp: EpochSeconds(now),
		},
		Features: rec.Features(),
	}
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

// ThreatVerdict is an explainable classification of recent activity from a source.
type ThreatVerdict struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}
