package writer

import (
	"fmt"
	"time"

	"github.com/maziazy/Lemon/internal/config"
	"github.com/maziazy/Lemon/internal/factory"
	"github.com/maziazy/Lemon/internal/model"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// RunIDHeader carries the run identifier on every published message.
const RunIDHeader = "Lemon-Run-Id"

const defaultSubject = "lemon.essence"

func init() {
	factory.RegisterWriter("nats", func(def config.WriterDef, env factory.Env) (model.Writer, error) {
		return NewNATSWriter(def.NATS, env.RunID, env.Logger)
	})
}

// NATSWriter publishes one message per labeled flow.
type NATSWriter struct {
	nc        *nats.Conn
	subject   string
	runID     string
	published int
	logger    *zap.Logger
}

// NewNATSWriter connects to the NATS server.
func NewNATSWriter(cfg config.NATSConfig, runID string, logger *zap.Logger) (*NATSWriter, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = defaultSubject
	}

	nc, err := nats.Connect(url, nats.Name("lemon-extract"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}

	logger = logger.With(zap.String("component", "nats_writer"))
	logger.Info("Connected to NATS server", zap.String("url", url), zap.String("subject", subject))
	return &NATSWriter{nc: nc, subject: subject, runID: runID, logger: logger}, nil
}

// Write serializes the record to Protobuf and publishes it.
func (w *NATSWriter) Write(rec *model.Essence) error {
	data, err := EncodeEssence(rec)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(w.subject)
	msg.Header.Set(RunIDHeader, w.runID)
	msg.Data = data
	if err := w.nc.PublishMsg(msg); err != nil {
		return err
	}
	w.published++
	return nil
}

// Close flushes pending messages, then drains and closes the connection.
func (w *NATSWriter) Close() error {
	if err := w.nc.Flush(); err != nil {
		w.nc.Close()
		return fmt.Errorf("failed to flush nats connection: %w", err)
	}
	if err := w.nc.Drain(); err != nil {
		return err
	}
	w.logger.Info("NATS connection drained and closed", zap.Int("published", w.published))
	return nil
}

// Name returns "nats".
func (w *NATSWriter) Name() string {
	return "nats"
}

// EncodeEssence converts a record to a protobuf Struct and serializes it.
func EncodeEssence(rec *model.Essence) ([]byte, error) {
	f := &rec.Features
	sizes := make([]interface{}, len(f.PacketSizes))
	for i, s := range f.PacketSizes {
		sizes[i] = s
	}

	st, err := structpb.NewStruct(map[string]interface{}{
		"connection":   rec.Connection,
		"packet_sizes": sizes,
		"packet_count": map[string]interface{}{
			"a":  f.TalkPackets.A,
			"b":  f.TalkPackets.B,
			"ab": f.TalkPackets.AB,
		},
		"byte_count": map[string]interface{}{
			"a":  f.TalkBytes.A,
			"b":  f.TalkBytes.B,
			"ab": f.TalkBytes.AB,
		},
		"dport":        int(f.FiveTuple.DstPort),
		"sport":        int(f.FiveTuple.SrcPort),
		"label":        rec.Label,
		"completed_at": rec.CompletedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert record to protobuf: %w", err)
	}
	return proto.Marshal(st)
}
