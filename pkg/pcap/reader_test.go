package pcap

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"AegisNet/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xaa}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, ls...))
	return buf.Bytes()
}

func tcpFrame(t *testing.T, dstPort uint16) []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 5}, DstIP: net.IP{10, 0, 0, 9}}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: layers.TCPPort(dstPort), SYN: true, Window: 14600}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, tcp, gopacket.Payload(make([]byte, 20)))
}

func arpFrame(t *testing.T) []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: srcMAC, SourceProtAddress: []byte{10, 0, 0, 5},
		DstHwAddress: make([]byte, 6), DstProtAddress: []byte{10, 0, 0, 9}}
	return serialize(t, eth, arp)
}

func writeCapture(t *testing.T, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	base := time.Unix(1700000000, 0)
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestReader_ReadPackets(t *testing.T) {
	path := writeCapture(t, tcpFrame(t, 443), arpFrame(t), tcpFrame(t, 22))

	r, err := OpenFile(path, discard())
	require.NoError(t, err)
	defer r.Close()

	out := make(chan *model.PacketInfo, 8)
	st, err := r.ReadPackets(context.Background(), out)
	require.NoError(t, err)
	close(out)

	assert.Equal(t, Stats{Read: 3, Parsed: 2, Skipped: 1}, st)

	var got []*model.PacketInfo
	for p := range out {
		got = append(got, p)
	}
	require.Len(t, got, 2)
	assert.Equal(t, uint16(443), got[0].FiveTuple.DstPort)
	assert.Equal(t, uint16(22), got[1].FiveTuple.DstPort)
	assert.Equal(t, uint8(6), got[0].FiveTuple.Protocol)
	assert.Equal(t, "10.0.0.5", got[0].FiveTuple.SrcIP.String())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got[0].Timestamp.UTC())
	assert.Equal(t, len(tcpFrame(t, 443)), got[0].Length)
}

func TestReader_StopsOnCancel(t *testing.T) {
	path := writeCapture(t, tcpFrame(t, 1), tcpFrame(t, 2), tcpFrame(t, 3))
	r, err := OpenFile(path, discard())
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *model.PacketInfo) // never read
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	st, err := r.ReadPackets(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Read)
}

func TestOpenFile_Errors(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.pcap"), discard())
	assert.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not a capture file"), 0o600))
	_, err = OpenFile(junk, discard())
	assert.Error(t, err)
}
