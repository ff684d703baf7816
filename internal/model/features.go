package model

import (
	"strconv"
	"time"
)

// DefaultEarlyWindow is the number of early payload-bearing packets sampled per flow.
const DefaultEarlyWindow = 5

// UnknownLabel is the label of a flow that the DPI report does not know.
const UnknownLabel = "Unknown"

// Split holds a per-side counter and the combined value.
type Split struct {
	A  uint64
	B  uint64
	AB uint64
}

// Objectives tracks the two extraction goals of a flow. Both only ever go from
// false to true.
type Objectives struct {
	TalkPattern bool
	EarlyWindow bool
}

// Complete reports whether every objective has been reached.
func (o Objectives) Complete() bool {
	return o.TalkPattern && o.EarlyWindow
}

// Features is the feature accumulator of one flow.
type Features struct {
	FiveTuple   FiveTuple
	PacketSizes []int
	TalkBytes   Split
	TalkPackets Split
	Objectives  Objectives
}

// NewFeatures creates an empty accumulator for the flow identified by ft.
func NewFeatures(ft FiveTuple, window int) *Features {
	return &Features{
		FiveTuple:   ft,
		PacketSizes: make([]int, 0, window),
	}
}

// Essence is a completed feature vector together with its ground-truth label.
type Essence struct {
	Connection  string
	Features    Features
	Label       string
	CompletedAt time.Time
}

// Header returns the column names of the tabular output for an early window of n packets.
func Header(n int) []string {
	header := make([]string, 0, n+10)
	header = append(header, "connection")
	for i := 1; i <= n; i++ {
		header = append(header, "packet"+strconv.Itoa(i)+"size")
	}
	return append(header,
		"packet-count-A", "packet-count-B", "packet-count-A+B",
		"byte-count-A", "byte-count-B", "byte-count-A+B",
		"dport", "sport", "label",
	)
}

// Row returns the record as one output row, in the same order as Header.
func (e *Essence) Row() []string {
	f := &e.Features
	row := make([]string, 0, len(f.PacketSizes)+10)
	row = append(row, e.Connection)
	for _, size := range f.PacketSizes {
		row = append(row, strconv.Itoa(size))
	}
	return append(row,
		strconv.FormatUint(f.TalkPackets.A, 10),
		strconv.FormatUint(f.TalkPackets.B, 10),
		strconv.FormatUint(f.TalkPackets.AB, 10),
		strconv.FormatUint(f.TalkBytes.A, 10),
		strconv.FormatUint(f.TalkBytes.B, 10),
		strconv.FormatUint(f.TalkBytes.AB, 10),
		strconv.Itoa(int(f.FiveTuple.DstPort)),
		strconv.Itoa(int(f.FiveTuple.SrcPort)),
		e.Label,
	)
}
