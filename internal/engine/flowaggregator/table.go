package flowaggregator

import (
	"encoding/binary"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"AegisNet/internal/model"
)

const defaultShardCount = 256

// Shard is a part of a sharded map, containing its own map and a mutex.
type Shard struct {
	flows map[model.FiveTuple]*model.FlowRecord
	mu    sync.RWMutex
}

// Table holds the live flows keyed by their 5-tuple. Shard locks are held only
// around map operations.
type Table struct {
	shards     []*Shard
	shardCount uint32
	ttl        time.Duration
	maxFlush   int
}

// NewTable creates a sharded flow table. Zero values fall back to defaults.
func NewTable(shardCount uint32, ttl time.Duration, maxFlush int) *Table {
	if shardCount == 0 {
		shardCount = defaultShardCount
	}
	t := &Table{
		shards:     make([]*Shard, shardCount),
		shardCount: shardCount,
		ttl:        ttl,
		maxFlush:   maxFlush,
	}
	for i := range t.shards {
		t.shards[i] = &Shard{flows: make(map[model.FiveTuple]*model.FlowRecord)}
	}
	return t
}

// getShard returns the appropriate shard for a given key.
func (t *Table) getShard(key model.FiveTuple) *Shard {
	var buf [16 + 16 + 2 + 2 + 1]byte
	b := buf[:0]
	b = append(b, key.SrcIP.AsSlice()...)
	b = append(b, key.DstIP.AsSlice()...)
	b = binary.BigEndian.AppendUint16(b, key.SrcPort)
	b = binary.BigEndian.AppendUint16(b, key.DstPort)
	b = append(b, key.Protocol)

	hasher := fnv.New32a()
	hasher.Write(b)
	return t.shards[hasher.Sum32()%t.shardCount]
}

func acceptable(p *model.PacketInfo) bool {
	if p == nil || !p.FiveTuple.Valid() {
		return false
	}
	return p.FiveTuple.Protocol == 6 || p.FiveTuple.Protocol == 17
}

// Observe folds a packet into its flow, creating the flow on first sight.
// It reports false when the packet was dropped.
func (t *Table) Observe(p *model.PacketInfo) bool {
	if !acceptable(p) {
		return false
	}
	length := uint64(0)
	if p.Length > 0 {
		length = uint64(p.Length)
	}

	shard := t.getShard(p.FiveTuple)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	flow, ok := shard.flows[p.FiveTuple]
	if !ok {
		flow = &model.FlowRecord{
			Key:       p.FiveTuple,
			FirstSeen: p.Timestamp,
			LastSeen:  p.Timestamp,
		}
		shard.flows[p.FiveTuple] = flow
	}
	if p.Timestamp.After(flow.LastSeen) {
		flow.LastSeen = p.Timestamp
	}
	if p.Timestamp.Before(flow.FirstSeen) {
		flow.FirstSeen = p.Timestamp
	}
	flow.Packets++
	if p.Direction == model.DirectionInbound {
		flow.BytesIn += length
	} else {
		flow.BytesOut += length
	}
	if flow.Process == "" && p.Process != "" {
		flow.Process = p.Process
	}
	return true
}

// Flush evicts every flow whose last packet is older than now minus the TTL and
// returns snapshots of the survivors, most recently active first, capped at the
// table's flush limit. Surviving flows stay in the table.
func (t *Table) Flush(now time.Time) (snapshots []model.FlowRecord, evicted int) {
	cutoff := now.Add(-t.ttl)
	for _, shard := range t.shards {
		shard.mu.Lock()
		for key, flow := range shard.flows {
			if flow.LastSeen.Before(cutoff) {
				delete(shard.flows, key)
				evicted++
				continue
			}
			snapshots = append(snapshots, *flow)
		}
		shard.mu.Unlock()
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].LastSeen.After(snapshots[j].LastSeen)
	})
	if t.maxFlush > 0 && len(snapshots) > t.maxFlush {
		snapshots = snapshots[:t.maxFlush]
	}
	return snapshots, evicted
}

// Len returns the total number of live flows.
func (t *Table) Len() int {
	count := 0
	for _, shard := range t.shards {
		shard.mu.RLock()
		count += len(shard.flows)
		shard.mu.RUnlock()
	}
	return count
}

// Get returns a copy of the flow for a given key.
func (t *Table) Get(key model.FiveTuple) (model.FlowRecord, bool) {
	shard := t.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	if flow, ok := shard.flows[key]; ok {
		return *flow, true
	}
	return model.FlowRecord{}, false
}
