package protocol

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/maziazy/Lemon/internal/model"
)

var (
	// ErrNotTCP is returned for frames that decode cleanly up to a layer other
	// than TCP, e.g. UDP, ARP or IP fragments.
	ErrNotTCP = errors.New("not a TCP/IP packet")
	// ErrMalformed is returned for frames whose link, network or TCP header
	// cannot be decoded.
	ErrMalformed = errors.New("malformed packet")
)

// Supported reports whether frames of the link type can be parsed.
func Supported(linkType layers.LinkType) bool {
	_, ok := firstLayer(linkType)
	return ok || isRawIP(linkType)
}

func firstLayer(linkType layers.LinkType) (gopacket.LayerType, bool) {
	switch linkType {
	case layers.LinkTypeEthernet:
		return layers.LayerTypeEthernet, true
	case layers.LinkTypeLinuxSLL:
		return layers.LayerTypeLinuxSLL, true
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return layers.LayerTypeLoopback, true
	}
	return gopacket.LayerTypeZero, false
}

func isRawIP(linkType layers.LinkType) bool {
	return linkType == layers.LinkTypeRaw || linkType == layers.LinkTypeIPv4 || linkType == layers.LinkTypeIPv6
}

// Parser decodes frames of one link type down to TCP. Higher layers are never
// decoded. A Parser reuses its layer buffers and is not safe for concurrent use.
type Parser struct {
	eth   layers.Ethernet
	dot1q layers.Dot1Q
	sll   layers.LinuxSLL
	loop  layers.Loopback
	ip4   layers.IPv4
	ip6   layers.IPv6
	tcp   layers.TCP

	// link is nil for raw IP captures, where each frame starts at ip4 or ip6.
	link    *gopacket.DecodingLayerParser
	raw4    *gopacket.DecodingLayerParser
	raw6    *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewParser creates a parser for frames of the given link type. Frames of an
// unsupported link type all parse as ErrNotTCP; check Supported first.
func NewParser(linkType layers.LinkType) *Parser {
	p := &Parser{decoded: make([]gopacket.LayerType, 0, 8)}
	p.raw4 = p.newDecoder(layers.LayerTypeIPv4)
	p.raw6 = p.newDecoder(layers.LayerTypeIPv6)
	if !isRawIP(linkType) {
		first, ok := firstLayer(linkType)
		if !ok {
			first = linkType.LayerType()
		}
		p.link = p.newDecoder(first)
	}
	return p
}

func (p *Parser) newDecoder(first gopacket.LayerType) *gopacket.DecodingLayerParser {
	dlp := gopacket.NewDecodingLayerParser(first,
		&p.eth, &p.dot1q, &p.sll, &p.loop, &p.ip4, &p.ip6, &p.tcp)
	dlp.IgnoreUnsupported = true
	return dlp
}

// ParsePacket decodes a single frame. See Parser for repeated use.
func ParsePacket(data []byte, linkType layers.LinkType, ts time.Time) (*model.PacketInfo, error) {
	return NewParser(linkType).Parse(data, ts)
}

// Parse decodes a raw frame and extracts the fields the extractor needs.
func (p *Parser) Parse(data []byte, ts time.Time) (*model.PacketInfo, error) {
	dlp := p.link
	if dlp == nil {
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
		}
		if data[0]>>4 == 6 {
			dlp = p.raw6
		} else {
			dlp = p.raw4
		}
	}

	if err := dlp.DecodeLayers(data, &p.decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var network gopacket.LayerType
	var transport bool
	for _, typ := range p.decoded {
		switch typ {
		case layers.LayerTypeIPv4, layers.LayerTypeIPv6:
			network = typ
		case layers.LayerTypeTCP:
			transport = true
		}
	}
	if !transport {
		return nil, ErrNotTCP
	}

	info := &model.PacketInfo{
		Timestamp: ts,
		Length:    len(data),
	}
	tcpHeaderLen := int(p.tcp.DataOffset) * 4

	var fiveTuple model.FiveTuple
	var payloadLen int
	switch network {
	case layers.LayerTypeIPv4:
		fiveTuple.SrcAddr, _ = netip.AddrFromSlice(p.ip4.SrcIP.To4())
		fiveTuple.DstAddr, _ = netip.AddrFromSlice(p.ip4.DstIP.To4())
		// Derived from the IP total length so that Ethernet padding and snap
		// length truncation do not distort the payload size.
		payloadLen = int(p.ip4.Length) - int(p.ip4.IHL)*4 - tcpHeaderLen
	case layers.LayerTypeIPv6:
		src, _ := netip.AddrFromSlice(p.ip6.SrcIP)
		dst, _ := netip.AddrFromSlice(p.ip6.DstIP)
		// IPv4-mapped addresses are named in their IPv4 form, as in DPI reports.
		fiveTuple.SrcAddr, fiveTuple.DstAddr = src.Unmap(), dst.Unmap()
		payloadLen = int(p.ip6.Length) - tcpHeaderLen
		if p.ip6.HopByHop != nil {
			payloadLen -= p.ip6.HopByHop.ActualLength
		}
	default:
		return nil, ErrNotTCP
	}
	if payloadLen < 0 {
		return nil, fmt.Errorf("%w: negative payload length %d", ErrMalformed, payloadLen)
	}

	fiveTuple.SrcPort = uint16(p.tcp.SrcPort)
	fiveTuple.DstPort = uint16(p.tcp.DstPort)
	fiveTuple.Protocol = model.ProtocolTCP

	info.FiveTuple = fiveTuple
	info.Flags = flagsOf(&p.tcp)
	info.PayloadLength = payloadLen
	info.Payload = p.tcp.Payload

	return info, nil
}

func flagsOf(tcp *layers.TCP) model.TCPFlags {
	var f model.TCPFlags
	if tcp.FIN {
		f |= model.FlagFIN
	}
	if tcp.SYN {
		f |= model.FlagSYN
	}
	if tcp.RST {
		f |= model.FlagRST
	}
	if tcp.PSH {
		f |= model.FlagPSH
	}
	if tcp.ACK {
		f |= model.FlagACK
	}
	if tcp.URG {
		f |= model.FlagURG
	}
	if tcp.ECE {
		f |= model.FlagECE
	}
	if tcp.CWR {
		f |= model.FlagCWR
	}
	return f
}
