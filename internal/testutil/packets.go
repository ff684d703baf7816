// Package testutil builds synthetic Ethernet/IPv4/TCP frames and capture files
// for tests.
package testutil

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/maziazy/Lemon/internal/model"
)

// Endpoint is one side of a synthetic connection.
type Endpoint struct {
	IP   string
	Port uint16
}

// Frame is a raw captured frame with its timestamp.
type Frame struct {
	Timestamp time.Time
	Data      []byte
}

// TCPFrame serializes an Ethernet/IPv4/TCP frame from src to dst.
func TCPFrame(t testing.TB, src, dst Endpoint, flags model.TCPFlags, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src.IP).To4(),
		DstIP:    net.ParseIP(dst.IP).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.Port),
		DstPort: layers.TCPPort(dst.Port),
		Seq:     1,
		Window:  65535,
		FIN:     flags.Has(model.FlagFIN),
		SYN:     flags.Has(model.FlagSYN),
		RST:     flags.Has(model.FlagRST),
		PSH:     flags.Has(model.FlagPSH),
		ACK:     flags.Has(model.FlagACK),
		URG:     flags.Has(model.FlagURG),
		ECE:     flags.Has(model.FlagECE),
		CWR:     flags.Has(model.FlagCWR),
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("Failed to set network layer: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("Failed to serialize packet: %v", err)
	}
	return buf.Bytes()
}

// UDPFrame serializes an Ethernet/IPv4/UDP frame from src to dst.
func UDPFrame(t testing.TB, src, dst Endpoint, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src.IP).To4(),
		DstIP:    net.ParseIP(dst.IP).To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("Failed to set network layer: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("Failed to serialize packet: %v", err)
	}
	return buf.Bytes()
}

// Conversation produces the frames of one connection between a client and a
// server, stamped one millisecond apart.
type Conversation struct {
	t      testing.TB
	Client Endpoint
	Server Endpoint
	now    time.Time
	Frames []Frame
}

// NewConversation starts an empty conversation.
func NewConversation(t testing.TB, client, server Endpoint) *Conversation {
	return &Conversation{
		t:      t,
		Client: client,
		Server: server,
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (c *Conversation) add(data []byte) *Conversation {
	c.now = c.now.Add(time.Millisecond)
	c.Frames = append(c.Frames, Frame{Timestamp: c.now, Data: data})
	return c
}

// Handshake appends SYN, SYN+ACK and ACK.
func (c *Conversation) Handshake() *Conversation {
	c.add(TCPFrame(c.t, c.Client, c.Server, model.FlagSYN, nil))
	c.add(TCPFrame(c.t, c.Server, c.Client, model.FlagSYN|model.FlagACK, nil))
	return c.add(TCPFrame(c.t, c.Client, c.Server, model.FlagACK, nil))
}

// FromClient appends a client-to-server segment with n payload bytes.
func (c *Conversation) FromClient(n int) *Conversation {
	return c.add(TCPFrame(c.t, c.Client, c.Server, model.FlagPSH|model.FlagACK, make([]byte, n)))
}

// FromServer appends a server-to-client segment with n payload bytes.
func (c *Conversation) FromServer(n int) *Conversation {
	return c.add(TCPFrame(c.t, c.Server, c.Client, model.FlagPSH|model.FlagACK, make([]byte, n)))
}

// FromClientPayload appends a client-to-server segment with the given payload.
func (c *Conversation) FromClientPayload(payload []byte) *Conversation {
	return c.add(TCPFrame(c.t, c.Client, c.Server, model.FlagPSH|model.FlagACK, payload))
}

// FromServerPayload appends a server-to-client segment with the given payload.
func (c *Conversation) FromServerPayload(payload []byte) *Conversation {
	return c.add(TCPFrame(c.t, c.Server, c.Client, model.FlagPSH|model.FlagACK, payload))
}

// AckFromClient appends an empty client ACK.
func (c *Conversation) AckFromClient() *Conversation {
	return c.add(TCPFrame(c.t, c.Client, c.Server, model.FlagACK, nil))
}

// Raw appends an arbitrary frame.
func (c *Conversation) Raw(data []byte) *Conversation {
	return c.add(data)
}

// TLSRecord returns a TLS record header of the given content type followed by n
// filler bytes.
func TLSRecord(contentType byte, n int) []byte {
	b := make([]byte, 5+n)
	b[0] = contentType
	b[1] = 0x03
	b[2] = 0x03
	b[3] = byte(n >> 8)
	b[4] = byte(n)
	return b
}

// WritePcap writes frames to a new Ethernet pcap file at path.
func WritePcap(t testing.TB, path string, frames []Frame) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create pcap file: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("Failed to write pcap header: %v", err)
	}
	for _, fr := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     fr.Timestamp,
			CaptureLength: len(fr.Data),
			Length:        len(fr.Data),
		}
		if err := w.WritePacket(ci, fr.Data); err != nil {
			t.Fatalf("Failed to write packet: %v", err)
		}
	}
}
