// Package extractor reconstructs TCP flows from a packet stream, derives the
// feature vector of each flow and emits one labeled record per completed flow.
package extractor

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/maziazy/Lemon/internal/config"
	"github.com/maziazy/Lemon/internal/conntrack"
	"github.com/maziazy/Lemon/internal/engine/protocol"
	"github.com/maziazy/Lemon/internal/model"
	"go.uber.org/zap"
)

// Labeler resolves the ground-truth label of a flow from its two names.
type Labeler interface {
	Resolve(forward, reversed string) string
}

// Source is a pull-based packet source; Next returns io.EOF when exhausted.
type Source interface {
	Next() (time.Time, []byte, error)
	LinkType() layers.LinkType
}

// Stats counts what happened during a run.
type Stats struct {
	Packets         uint64 `json:"packets"`
	Malformed       uint64 `json:"malformed"`
	NonTCP          uint64 `json:"non_tcp"`
	FlowsAdmitted   uint64 `json:"flows_admitted"`
	FlowsEmitted    uint64 `json:"flows_emitted"`
	FlowsIncomplete uint64 `json:"flows_incomplete"`
	ReuseRejected   uint64 `json:"reuse_rejected"`
	PhaseAnomalies  uint64 `json:"phase_anomalies"`
	LabelsUnknown   uint64 `json:"labels_unknown"`
}

// Extractor owns the flow registry of one run. It is not safe for concurrent
// use; packets must be handed in one at a time, in capture order.
type Extractor struct {
	window int
	opts   conntrack.Options
	parser *protocol.Parser

	table   *flowTable
	labels  Labeler
	writers []model.Writer
	logger  *zap.Logger
	stats   Stats
}

// New creates an extractor for frames of the given link type.
func New(cfg config.ExtractorConfig, linkType layers.LinkType, labels Labeler, writers []model.Writer, logger *zap.Logger) *Extractor {
	window := cfg.EarlyWindow
	if window <= 0 {
		window = model.DefaultEarlyWindow
	}
	return &Extractor{
		window:  window,
		opts:    conntrack.NewOptions(cfg),
		parser:  protocol.NewParser(linkType),
		table:   newFlowTable(),
		labels:  labels,
		writers: writers,
		logger:  logger.With(zap.String("component", "extractor")),
	}
}

// Run pulls every packet from src and processes it, then drops the flows that
// did not complete. A record truncated at the end of the capture ends the run
// like a regular end of file.
func (e *Extractor) Run(src Source) (Stats, error) {
	for {
		ts, data, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			e.logger.Warn("Capture ends with a truncated record", zap.Uint64("packets", e.stats.Packets))
			break
		}
		if err != nil {
			return e.stats, fmt.Errorf("failed to read packet %d: %w", e.stats.Packets+1, err)
		}
		if err := e.OnPacket(ts, data); err != nil {
			return e.stats, err
		}
	}
	return e.Finish(), nil
}

// OnPacket processes one captured frame. Frames that cannot be parsed are
// skipped without touching any flow. The only error returned is a writer
// failure while emitting a completed flow.
func (e *Extractor) OnPacket(ts time.Time, data []byte) error {
	e.stats.Packets++

	info, err := e.parser.Parse(data, ts)
	if err != nil {
		if errors.Is(err, protocol.ErrNotTCP) {
			e.stats.NonTCP++
		} else {
			e.stats.Malformed++
			e.logger.Debug("Skipping malformed packet", zap.Uint64("packet", e.stats.Packets), zap.Error(err))
		}
		return nil
	}
	return e.Process(info)
}

// Process applies one parsed packet to its flow.
func (e *Extractor) Process(info *model.PacketInfo) error {
	key, f, ok := e.table.lookup(info.FiveTuple)
	if !ok {
		f, ok = e.admit(info)
		if !ok {
			return nil
		}
		key = info.FiveTuple
	}

	ev, err := f.conn.Next(info)
	if err != nil {
		// lookup guarantees the packet belongs to the flow.
		return fmt.Errorf("flow %s: %w", key, err)
	}

	e.trackTalk(f, ev)
	e.sample(f, info, ev)

	if !f.features.Objectives.Complete() {
		return nil
	}
	return e.emit(key, f, info.Timestamp)
}

// admit registers a new flow when the packet is an initial SYN for a tuple
// never seen in this run.
func (e *Extractor) admit(info *model.PacketInfo) (*flow, bool) {
	if !info.Flags.IsInitialSYN() {
		return nil, false
	}
	if e.table.wasEvicted(info.FiveTuple) {
		e.stats.ReuseRejected++
		e.logger.Debug("Ignoring SYN for a completed flow", zap.Stringer("flow", info.FiveTuple))
		return nil, false
	}

	f := &flow{
		conn:     conntrack.New(info.Timestamp, info.FiveTuple, e.opts),
		features: model.NewFeatures(info.FiveTuple, e.window),
	}
	e.table.admit(info.FiveTuple, f)
	e.stats.FlowsAdmitted++
	return f, true
}

// trackTalk records the talk pattern. Side A is snapshotted the first time a
// side-A-complete phase shows up, side B the first time the terminal phase
// does; later repetitions change nothing.
func (e *Extractor) trackTalk(f *flow, ev conntrack.Events) {
	feat := f.features
	if feat.Objectives.TalkPattern {
		return
	}

	if ev.Phase.SideAComplete() && !f.sideARecorded {
		feat.TalkBytes.A = ev.Counters.Bytes
		feat.TalkPackets.A = ev.Counters.Data
		f.sideARecorded = true
	}

	if ev.Phase.SideBComplete() {
		if !f.sideARecorded {
			// Side A is left at zero so B carries the whole exchange.
			e.stats.PhaseAnomalies++
			e.logger.Warn("Talk pattern completed without side A", zap.Stringer("flow", f.conn))
		}
		feat.TalkBytes.B = ev.Counters.Bytes - feat.TalkBytes.A
		feat.TalkPackets.B = ev.Counters.Data - feat.TalkPackets.A
		feat.TalkBytes.AB = ev.Counters.Bytes
		feat.TalkPackets.AB = ev.Counters.Data
		feat.Objectives.TalkPattern = true
	}
}

// sample appends the payload size of early packets. Encrypted flows are only
// sampled once the handshake is over, so the signature reflects application
// data rather than handshake records.
func (e *Extractor) sample(f *flow, info *model.PacketInfo, ev conntrack.Events) {
	feat := f.features
	if info.PayloadLength <= 0 || len(feat.PacketSizes) >= e.window {
		return
	}
	if ev.App == conntrack.AppSSL && ev.SSL != conntrack.SSLExchangeMessages {
		return
	}

	feat.PacketSizes = append(feat.PacketSizes, info.PayloadLength)
	if len(feat.PacketSizes) == e.window {
		feat.Objectives.EarlyWindow = true
	}
}

// emit labels the completed flow, hands it to every writer and evicts it.
func (e *Extractor) emit(key model.FiveTuple, f *flow, ts time.Time) error {
	name := key.String()
	rec := &model.Essence{
		Connection:  name,
		Features:    *f.features,
		Label:       e.labels.Resolve(name, key.Reverse().String()),
		CompletedAt: ts,
	}
	e.table.evict(key)
	e.stats.FlowsEmitted++
	if rec.Label == model.UnknownLabel {
		e.stats.LabelsUnknown++
	}

	e.logger.Debug("Flow completed",
		zap.String("flow", name),
		zap.String("label", rec.Label),
		zap.Duration("capture_time", ts.Sub(f.conn.Started())))

	for _, w := range e.writers {
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write flow %s to %s writer: %w", name, w.Name(), err)
		}
	}
	return nil
}

// Finish drops every flow that is still active, logging each one, and returns
// the final statistics.
func (e *Extractor) Finish() Stats {
	keys := make([]model.FiveTuple, 0, e.table.len())
	for key := range e.table.flows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return e.table.flows[keys[i]].conn.Started().Before(e.table.flows[keys[j]].conn.Started())
	})

	for _, key := range keys {
		f := e.table.flows[key]
		if ce := e.logger.Check(zap.DebugLevel, "Dropping incomplete flow"); ce != nil {
			name := key.String()
			ce.Write(
				zap.String("flow", name),
				zap.Bool("talk_pattern", f.features.Objectives.TalkPattern),
				zap.Bool("early_window", f.features.Objectives.EarlyWindow),
				zap.Int("packet_sizes", len(f.features.PacketSizes)),
				zap.String("label", e.labels.Resolve(name, key.Reverse().String())))
		}
		delete(e.table.flows, key)
	}
	e.stats.FlowsIncomplete += uint64(len(keys))

	if len(keys) > 0 {
		e.logger.Info("Incomplete flows dropped at end of capture", zap.Int("flows", len(keys)))
	}
	return e.stats
}

// Stats returns the statistics so far.
func (e *Extractor) Stats() Stats {
	return e.stats
}

// Active returns the number of flows currently tracked.
func (e *Extractor) Active() int {
	return e.table.len()
}
