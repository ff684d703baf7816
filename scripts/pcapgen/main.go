package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/maziazy/Lemon/internal/groundtruth"
)

type service struct {
	port  uint16
	label string
	tls   bool
}

var services = []service{
	{80, "HTTP", false},
	{443, "TLS.Google", true},
	{22, "SSH", false},
	{25, "SMTP", false},
	{8080, "HTTP_Proxy", false},
}

type generator struct {
	w   *pcapgo.Writer
	rng *rand.Rand
	now time.Time
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	reportFile := flag.String("r", "ndpi_out.json", "Output DPI report path")
	flowCount := flag.Int("c", 100, "Number of flows to generate")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

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
		w:   pcapWriter,
		rng: rand.New(rand.NewSource(*seed)),
		now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	log.Printf("Generating %d flows into %s...", *flowCount, *outputFile)

	var report groundtruth.Report
	for i := 0; i < *flowCount; i++ {
		svc := services[g.rng.Intn(len(services))]
		client := endpoint{net.IP{10, 1, byte(i >> 8), byte(i)}, uint16(g.rng.Intn(65535-1024) + 1024)}
		server := endpoint{net.IP{192, 168, byte(g.rng.Intn(256)), byte(g.rng.Intn(254) + 1)}, svc.port}

		g.conversation(client, server, svc.tls)

		// ndpiReader does not keep the client on side A, so neither do we.
		entry := groundtruth.FlowEntry{
			Protocol:         "TCP",
			HostAName:        client.ip.String(),
			HostAPort:        client.port,
			HostBName:        server.ip.String(),
			HostBPort:        server.port,
			DetectedProtocol: svc.label,
		}
		if g.rng.Intn(2) == 0 {
			entry.HostAName, entry.HostBName = entry.HostBName, entry.HostAName
			entry.HostAPort, entry.HostBPort = entry.HostBPort, entry.HostAPort
		}
		report.KnownFlows = append(report.KnownFlows, entry)
	}

	out, err := os.Create(*reportFile)
	if err != nil {
		log.Fatalf("Failed to create report file: %v", err)
	}
	defer out.Close()

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		log.Fatalf("Failed to encode report: %v", err)
	}

	log.Printf("Successfully generated %d flows into %s and %s.", *flowCount, *outputFile, *reportFile)
}

type endpoint struct {
	ip   net.IP
	port uint16
}

// conversation writes a handshake, an optional TLS handshake and a two-sided
// exchange long enough to fill the early window.
func (g *generator) conversation(client, server endpoint, tls bool) {
	g.packet(client, server, layers.TCP{SYN: true}, 0)
	g.packet(server, client, layers.TCP{SYN: true, ACK: true}, 0)
	g.packet(client, server, layers.TCP{ACK: true}, 0)

	data := layers.TCP{PSH: true, ACK: true}
	if tls {
		g.packet(server, client, data, 1200+g.rng.Intn(3000))
		g.packet(client, server, data, 100+g.rng.Intn(300))
		g.packet(server, client, data, 50+g.rng.Intn(100))
		g.packet(client, server, data, 50+g.rng.Intn(100))
	}

	g.packet(client, server, data, 50+g.rng.Intn(1400))
	for n := 4 + g.rng.Intn(4); n > 0; n-- {
		g.packet(server, client, data, 50+g.rng.Intn(1400))
	}
	g.packet(client, server, data, 50+g.rng.Intn(200))
	g.packet(client, server, layers.TCP{FIN: true, ACK: true}, 0)
}

func (g *generator) packet(src, dst endpoint, tcpLayer layers.TCP, payloadSize int) {
	g.now = g.now.Add(time.Duration(g.rng.Intn(5000)+1) * time.Microsecond)

	ethLayer := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{
		SrcIP:    src.ip,
		DstIP:    dst.ip,
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
	}
	tcpLayer.SrcPort = layers.TCPPort(src.port)
	tcpLayer.DstPort = layers.TCPPort(dst.port)
	tcpLayer.Seq = g.rng.Uint32()
	tcpLayer.Ack = g.rng.Uint32()
	tcpLayer.Window = 14600
	tcpLayer.SetNetworkLayerForChecksum(ipLayer)

	payload := make([]byte, payloadSize)
	g.rng.Read(payload)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, &tcpLayer, gopacket.Payload(payload)); err != nil {
		log.Fatalf("Failed to serialize layers: %v", err)
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     g.now,
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	if err := g.w.WritePacket(ci, buf.Bytes()); err != nil {
		log.Fatalf("Failed to write packet: %v", err)
	}
}
