package model

import (
	"net/netip"
	"strconv"
	"time"
)

// IP protocol numbers used by the extractor.
const (
	ProtocolTCP uint8 = 6
	ProtocolUDP uint8 = 17
)

// FiveTuple represents the 5-tuple of a network packet.
// It is a comparable value type and is used directly as a map key.
type FiveTuple struct {
	SrcAddr  netip.Addr
	DstAddr  netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Reverse returns the same 5-tuple seen from the other endpoint.
func (ft FiveTuple) Reverse() FiveTuple {
	return FiveTuple{
		SrcAddr:  ft.DstAddr,
		DstAddr:  ft.SrcAddr,
		SrcPort:  ft.DstPort,
		DstPort:  ft.SrcPort,
		Protocol: ft.Protocol,
	}
}

// String returns the flow name, e.g. "10.0.0.1:51000 > 93.184.216.34:443".
// The protocol is not part of the name; only TCP flows are named this way.
func (ft FiveTuple) String() string {
	return FlowName(ft.SrcAddr.String(), ft.SrcPort, ft.DstAddr.String(), ft.DstPort)
}

// FlowName builds the flow name from raw endpoint strings. It is shared by the
// ground-truth index, which receives endpoints as text from the DPI report.
func FlowName(src string, sport uint16, dst string, dport uint16) string {
	b := make([]byte, 0, len(src)+len(dst)+16)
	b = append(b, src...)
	b = append(b, ':')
	b = strconv.AppendUint(b, uint64(sport), 10)
	b = append(b, " > "...)
	b = append(b, dst...)
	b = append(b, ':')
	b = strconv.AppendUint(b, uint64(dport), 10)
	return string(b)
}

// TCPFlags is the set of control bits carried by a TCP segment.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

// Has reports whether every bit of f is set.
func (t TCPFlags) Has(f TCPFlags) bool {
	return t&f == f
}

// IsInitialSYN reports whether the segment opens a connection: SYN without ACK.
func (t TCPFlags) IsInitialSYN() bool {
	return t.Has(FlagSYN) && !t.Has(FlagACK)
}

// PacketInfo holds the metadata extracted from a single packet.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	Flags     TCPFlags
	// Length is the size of the captured frame.
	Length int
	// PayloadLength is the TCP payload size derived from the IP and TCP headers.
	PayloadLength int
	// Payload is the TCP payload as captured; it may be shorter than PayloadLength
	// when the capture was truncated by the snap length.
	Payload []byte
}
