package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}

	commonPorts = []layers.TCPPort{80, 443, 443, 443, 8080, 22}
)

type generator struct {
	w    *pcapgo.Writer
	rng  *rand.Rand
	now  time.Time
	step time.Duration
	n    int
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	packetCount := flag.Int("c", 1000, "Number of normal packets to generate")
	scanPorts := flag.Int("scan-ports", 60, "Number of ports the scanning host probes (0 disables the scan)")
	scanner := flag.String("scanner", "10.0.0.66", "Source address of the scanning host")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	scannerIP := net.ParseIP(*scanner).To4()
	if scannerIP == nil {
		log.Fatalf("Invalid scanner address: %s", *scanner)
	}

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	g := &generator{
		w:    pcapWriter,
		rng:  rand.New(rand.NewSource(*seed)),
		now:  time.Now().Add(-time.Minute),
		step: 5 * time.Millisecond,
	}

	log.Printf("Generating %d normal packets and a %d-port scan into %s...", *packetCount, *scanPorts, *outputFile)

	// A handful of clients talking to a handful of servers on common ports.
	clients := 20
	for i := 0; i < *packetCount; i++ {
		src := net.IP{192, 168, 1, byte(10 + g.rng.Intn(clients))}
		dst := net.IP{10, 0, 0, byte(1 + g.rng.Intn(5))}
		srcPort := layers.TCPPort(40000 + g.rng.Intn(64))
		dstPort := commonPorts[g.rng.Intn(len(commonPorts))]
		g.tcp(src, dst, srcPort, dstPort, g.rng.Intn(1400)+50, false)
	}

	// One host touching many ports on one target inside a few seconds.
	target := net.IP{10, 0, 0, 1}
	for p := 0; p < *scanPorts; p++ {
		g.tcp(scannerIP, target, 55555, layers.TCPPort(1+p), 0, true)
	}

	log.Printf("Successfully generated %d packets into %s.", g.n, *outputFile)
}

func (g *generator) tcp(src, dst net.IP, srcPort, dstPort layers.TCPPort, payloadSize int, syn bool) {
	ethLayer := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{
		SrcIP:    src,
		DstIP:    dst,
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
	}
	tcpLayer := &layers.TCP{
		SrcPort: srcPort,
		DstPort: dstPort,
		Seq:     g.rng.Uint32(),
		SYN:     syn,
		ACK:     !syn,
		PSH:     payloadSize > 0,
		Window:  14600,
	}
	if err := tcpLayer.SetNetworkLayerForChecksum(ipLayer); err != nil {
		log.Fatalf("Failed to set checksum layer: %v", err)
	}

	payload := make([]byte, payloadSize)
	g.rng.Read(payload)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, tcpLayer, gopacket.Payload(payload)); err != nil {
		log.Fatalf("Failed to serialize layers: %v", err)
	}

	g.now = g.now.Add(g.step)
	ci := gopacket.CaptureInfo{
		Timestamp:     g.now,
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	if err := g.w.WritePacket(ci, buf.Bytes()); err != nil {
		log.Fatalf("Failed to write packet: %v", err)
	}
	g.n++
}
