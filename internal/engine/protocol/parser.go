package protocol

import (
	"fmt"
	"net/netip"
	"time"

	"AegisNet/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParsePacket extracts the 5-tuple, length and timestamp of a decoded packet.
// Packets without an IP layer or a TCP/UDP transport yield an error wrapping
// model.ErrMalformed; callers drop them.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	if packet == nil {
		return nil, fmt.Errorf("nil packet: %w", model.ErrMalformed)
	}

	info := &model.PacketInfo{
		Timestamp: time.Now(), // overwritten by capture metadata when present
		Length:    len(packet.Data()),
		Direction: model.DirectionOutbound,
	}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		info.Timestamp = meta.Timestamp
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	var fiveTuple model.FiveTuple
	var ok bool

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		if fiveTuple.SrcIP, ok = netip.AddrFromSlice(ip.SrcIP.To4()); !ok {
			return nil, fmt.Errorf("bad IPv4 source: %w", model.ErrMalformed)
		}
		if fiveTuple.DstIP, ok = netip.AddrFromSlice(ip.DstIP.To4()); !ok {
			return nil, fmt.Errorf("bad IPv4 destination: %w", model.ErrMalformed)
		}
		fiveTuple.Protocol = uint8(ip.Protocol)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		if fiveTuple.SrcIP, ok = netip.AddrFromSlice(ip.SrcIP); !ok {
			return nil, fmt.Errorf("bad IPv6 source: %w", model.ErrMalformed)
		}
		if fiveTuple.DstIP, ok = netip.AddrFromSlice(ip.DstIP); !ok {
			return nil, fmt.Errorf("bad IPv6 destination: %w", model.ErrMalformed)
		}
		fiveTuple.SrcIP = fiveTuple.SrcIP.Unmap()
		fiveTuple.DstIP = fiveTuple.DstIP.Unmap()
	} else {
		return nil, fmt.Errorf("not an IP packet: %w", model.ErrMalformed)
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		fiveTuple.SrcPort = uint16(tcp.SrcPort)
		fiveTuple.DstPort = uint16(tcp.DstPort)
		fiveTuple.Protocol = uint8(layers.IPProtocolTCP)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		fiveTuple.SrcPort = uint16(udp.SrcPort)
		fiveTuple.DstPort = uint16(udp.DstPort)
		fiveTuple.Protocol = uint8(layers.IPProtocolUDP)
	} else {
		return nil, fmt.Errorf("not a TCP or UDP packet: %w", model.ErrMalformed)
	}

	info.FiveTuple = fiveTuple
	return info, nil
}
