package probe

import (
	"fmt"
	"math"
	"sort"

	"AegisNet/internal/model"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the IngestEvent wire message.
//
//	message Feature { string name = 1; double value = 2; }
//	message IngestEvent {
//	  string agent_id = 1; string src_ip = 2; string dst_ip = 3;
//	  string process = 4; double timestamp = 5; repeated Feature features = 6;
//	}
const (
	fieldAgentID   protowire.Number = 1
	fieldSrcIP     protowire.Number = 2
	fieldDstIP     protowire.Number = 3
	fieldProcess   protowire.Number = 4
	fieldTimestamp protowire.Number = 5
	fieldFeature   protowire.Number = 6

	fieldFeatureName  protowire.Number = 1
	fieldFeatureValue protowire.Number = 2
)

// EncodeIngestEvent serializes ev in the protobuf wire format. Features are
// written in name order so equal events encode to equal bytes.
func EncodeIngestEvent(ev model.IngestEvent) []byte {
	var b []byte
	b = appendString(b, fieldAgentID, ev.Meta.AgentID)
	b = appendString(b, fieldSrcIP, ev.Meta.SrcIP)
	b = appendString(b, fieldDstIP, ev.Meta.DstIP)
	b = appendString(b, fieldProcess, ev.Meta.Process)
	if ev.Meta.Timestamp != nil {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*ev.Meta.Timestamp))
	}

	names := make([]string, 0, len(ev.Features))
	for name := range ev.Features {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var f []byte
		f = appendString(f, fieldFeatureName, name)
		f = protowire.AppendTag(f, fieldFeatureValue, protowire.Fixed64Type)
		f = protowire.AppendFixed64(f, math.Float64bits(ev.Features[name]))

		b = protowire.AppendTag(b, fieldFeature, protowire.BytesType)
		b = protowire.AppendBytes(b, f)
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// DecodeIngestEvent parses the protobuf wire format. Unknown fields are skipped;
// truncated or mistyped fields yield an error wrapping model.ErrMalformed.
func DecodeIngestEvent(data []byte) (model.IngestEvent, error) {
	ev := model.IngestEvent{Features: model.FeatureVector{}}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return model.IngestEvent{}, wireError(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num >= fieldAgentID && num <= fieldProcess && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return model.IngestEvent{}, wireError(protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case fieldAgentID:
				ev.Meta.AgentID = s
			case fieldSrcIP:
				ev.Meta.SrcIP = s
			case fieldDstIP:
				ev.Meta.DstIP = s
			case fieldProcess:
				ev.Meta.Process = s
			}
		case num == fieldTimestamp && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return model.IngestEvent{}, wireError(protowire.ParseError(n))
			}
			data = data[n:]
			ts := math.Float64frombits(v)
			ev.Meta.Timestamp = &ts
		case num == fieldFeature && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return model.IngestEvent{}, wireError(protowire.ParseError(n))
			}
			data = data[n:]
			name, value, err := decodeFeature(raw)
			if err != nil {
				return model.IngestEvent{}, err
			}
			ev.Features[name] = value
		case num <= fieldFeature:
			return model.IngestEvent{}, fmt.Errorf("%w: field %d has wire type %d", model.ErrMalformed, num, typ)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return model.IngestEvent{}, wireError(protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return ev, nil
}

func decodeFeature(data []byte) (string, float64, error) {
	var name string
	var value float64
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", 0, wireError(protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldFeatureName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", 0, wireError(protowire.ParseError(n))
			}
			name = s
			data = data[n:]
		case num == fieldFeatureValue && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return "", 0, wireError(protowire.ParseError(n))
			}
			value = math.Float64frombits(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", 0, wireError(protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if name == "" {
		return "", 0, fmt.Errorf("%w: feature without a name", model.ErrMalformed)
	}
	return name, value, nil
}

func wireError(err error) error {
	return fmt.Errorf("%w: %v", model.ErrMalformed, err)
}
