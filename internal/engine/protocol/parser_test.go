package protocol

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"AegisNet/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func eth(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: t,
	}
}

func decode(data []byte, ts time.Time) gopacket.Packet {
	p := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	p.Metadata().Timestamp = ts
	p.Metadata().Length = len(data)
	p.Metadata().CaptureLength = len(data)
	return p
}

func TestParsePacket_IPv4TCP(t *testing.T) {
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 5}, DstIP: net.IP{10, 0, 0, 9},
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, eth(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload([]byte("hello")))

	ts := time.Unix(1700000000, 0)
	info, err := ParsePacket(decode(data, ts))
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), info.FiveTuple.SrcIP)
	assert.Equal(t, netip.MustParseAddr("10.0.0.9"), info.FiveTuple.DstIP)
	assert.Equal(t, uint16(40000), info.FiveTuple.SrcPort)
	assert.Equal(t, uint16(443), info.FiveTuple.DstPort)
	assert.Equal(t, uint8(6), info.FiveTuple.Protocol)
	assert.Equal(t, len(data), info.Length)
	assert.True(t, ts.Equal(info.Timestamp))
}

func TestParsePacket_IPv6UDP(t *testing.T) {
	ip := &layers.IPv6{
		Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP,
		SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::2"),
	}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, eth(layers.EthernetTypeIPv6), ip, udp, gopacket.Payload([]byte{1, 2, 3}))

	info, err := ParsePacket(decode(data, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("2001:db8::1"), info.FiveTuple.SrcIP)
	assert.Equal(t, netip.MustParseAddr("2001:db8::2"), info.FiveTuple.DstIP)
	assert.Equal(t, uint16(53), info.FiveTuple.DstPort)
	assert.Equal(t, uint8(17), info.FiveTuple.Protocol)
}

func TestParsePacket_Rejects(t *testing.T) {
	icmp := serialize(t, eth(layers.EthernetTypeIPv4),
		&layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4,
			SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}},
		&layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)},
	)
	arp := serialize(t, eth(layers.EthernetTypeARP), &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: []byte{0, 1, 2, 3, 4, 5}, SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress: []byte{0, 0, 0, 0, 0, 0}, DstProtAddress: []byte{10, 0, 0, 2},
	})

	for name, data := range map[string][]byte{"icmp": icmp, "arp": arp} {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePacket(decode(data, time.Now()))
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrMalformed))
		})
	}

	_, err := ParsePacket(nil)
	assert.True(t, errors.Is(err, model.ErrMalformed))
}
