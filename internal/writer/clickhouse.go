package writer

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/maziazy/Lemon/internal/config"
	"github.com/maziazy/Lemon/internal/factory"
	"github.com/maziazy/Lemon/internal/model"
	"go.uber.org/zap"
)

const (
	defaultTable     = "labeled_flows"
	defaultBatchSize = 1000
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    RunID         String,
    CompletedAt   DateTime64(6),
    Connection    String,
    PacketSizes   Array(UInt32),
    PacketCountA  UInt64,
    PacketCountB  UInt64,
    PacketCountAB UInt64,
    ByteCountA    UInt64,
    ByteCountB    UInt64,
    ByteCountAB   UInt64,
    DstPort       UInt16,
    SrcPort       UInt16,
    Label         LowCardinality(String)
) ENGINE = MergeTree()
ORDER BY (RunID, CompletedAt);
`

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func init() {
	factory.RegisterWriter("clickhouse", func(def config.WriterDef, env factory.Env) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse, env.RunID, env.Logger)
	})
}

// ClickHouseWriter inserts labeled flows into a ClickHouse table in batches.
type ClickHouseWriter struct {
	conn      driver.Conn
	table     string
	runID     string
	batchSize int
	pending   []*model.Essence
	written   int
	logger    *zap.Logger
}

// NewClickHouseWriter connects to ClickHouse and makes sure the table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, runID string, logger *zap.Logger) (*ClickHouseWriter, error) {
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name '%s'", table)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	logger = logger.With(zap.String("component", "clickhouse_writer"))
	logger.Info("Connected to ClickHouse", zap.String("table", table))

	return &ClickHouseWriter{
		conn:      conn,
		table:     table,
		runID:     runID,
		batchSize: batchSize,
		pending:   make([]*model.Essence, 0, batchSize),
		logger:    logger,
	}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Write queues the record and sends a batch once enough are pending.
func (w *ClickHouseWriter) Write(rec *model.Essence) error {
	w.pending = append(w.pending, rec)
	if len(w.pending) < w.batchSize {
		return nil
	}
	return w.flush()
}

func (w *ClickHouseWriter) flush() error {
	if len(w.pending) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, rec := range w.pending {
		f := &rec.Features
		sizes := make([]uint32, len(f.PacketSizes))
		for i, s := range f.PacketSizes {
			sizes[i] = uint32(s)
		}
		err = batch.Append(
			w.runID,
			rec.CompletedAt,
			rec.Connection,
			sizes,
			f.TalkPackets.A,
			f.TalkPackets.B,
			f.TalkPackets.AB,
			f.TalkBytes.A,
			f.TalkBytes.B,
			f.TalkBytes.AB,
			f.FiveTuple.DstPort,
			f.FiveTuple.SrcPort,
			rec.Label,
		)
		if err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.written += len(w.pending)
	w.logger.Debug("Wrote flows to ClickHouse", zap.Int("flows", len(w.pending)))
	w.pending = w.pending[:0]
	return nil
}

// Close sends the last partial batch and closes the connection.
func (w *ClickHouseWriter) Close() error {
	err := w.flush()
	if cerr := w.conn.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		w.logger.Info("ClickHouse writer closed", zap.Int("flows", w.written))
	}
	return err
}

// Name returns "clickhouse".
func (w *ClickHouseWriter) Name() string {
	return "clickhouse"
}
