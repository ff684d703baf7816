// Package manager runs one extraction: it opens the capture, the ground-truth
// report and the writers, drives the extractor over every packet and records
// the run summary.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/uuid"
	"github.com/maziazy/Lemon/internal/config"
	"github.com/maziazy/Lemon/internal/engine/extractor"
	"github.com/maziazy/Lemon/internal/engine/protocol"
	"github.com/maziazy/Lemon/internal/factory"
	"github.com/maziazy/Lemon/internal/groundtruth"
	"github.com/maziazy/Lemon/internal/model"
	"github.com/maziazy/Lemon/internal/summary"
	_ "github.com/maziazy/Lemon/internal/writer" // Registers the csv, clickhouse and nats writers
	"github.com/maziazy/Lemon/pkg/pcap"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options names the files of one run.
type Options struct {
	Input  string
	Output string
	// DPIReport overrides dpi.report when set.
	DPIReport string
}

// Result describes a finished run.
type Result struct {
	RunID       string
	Stats       extractor.Stats
	SummaryPath string
}

// Manager orchestrates a single extraction run.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewManager creates a new Manager.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// Run performs the extraction. Every input and output is opened before the
// first packet is processed, so an open failure leaves no partial work behind
// except the output file itself.
func (m *Manager) Run(ctx context.Context, opts Options) (*Result, error) {
	started := time.Now()
	runID := uuid.NewString()
	logger := m.logger.With(zap.String("run_id", runID))

	output := opts.Output
	if output == "" {
		output = m.cfg.Output.DefaultFile
	}
	report := opts.DPIReport
	if report == "" {
		report = m.cfg.DPI.Report
	}

	reader, err := pcap.Open(m.cfg.Capture.Engine, opts.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()
	if !protocol.Supported(reader.LinkType()) {
		return nil, fmt.Errorf("unsupported link type %s in capture '%s'", reader.LinkType(), opts.Input)
	}

	if m.cfg.DPI.ReaderPath != "" {
		if err := groundtruth.RunReader(ctx, m.cfg.DPI.ReaderPath, m.cfg.DPI.ReaderArgs, opts.Input, report, logger); err != nil {
			return nil, err
		}
	}

	labels, err := groundtruth.Load(report, m.cfg.DPI.IncludeUnknown, logger)
	if err != nil {
		return nil, err
	}

	writers, err := factory.Create(m.cfg.Output, factory.Env{
		OutputPath:  output,
		RunID:       runID,
		EarlyWindow: m.cfg.Extractor.EarlyWindow,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Extraction started",
		zap.String("input", opts.Input),
		zap.String("output", output),
		zap.Stringer("link_type", reader.LinkType()))

	ex := extractor.New(m.cfg.Extractor, reader.LinkType(), labels, writers, logger)
	stats, err := ex.Run(&ctxSource{ctx: ctx, src: reader})
	if err = multierr.Append(err, factory.CloseAll(writers)); err != nil {
		return nil, err
	}

	logger.Info("Extraction finished",
		zap.Uint64("packets", stats.Packets),
		zap.Uint64("malformed", stats.Malformed),
		zap.Uint64("non_tcp", stats.NonTCP),
		zap.Uint64("flows_admitted", stats.FlowsAdmitted),
		zap.Uint64("flows_emitted", stats.FlowsEmitted),
		zap.Uint64("flows_incomplete", stats.FlowsIncomplete),
		zap.Uint64("labels_unknown", stats.LabelsUnknown),
		zap.Duration("elapsed", time.Since(started)))

	res := &Result{RunID: runID, Stats: stats}
	if m.cfg.Summary.Path == "" {
		return res, nil
	}

	data := summary.Data{
		RunID:         runID,
		Input:         opts.Input,
		Output:        output,
		DPIReport:     report,
		DPIFlows:      labels.Len(),
		DPICollisions: len(labels.Warnings()),
		Stats:         stats,
	}
	if hasWriter(writers, "csv") {
		if data.OutputBLAKE3, err = summary.Digest(output); err != nil {
			return nil, fmt.Errorf("failed to digest output: %w", err)
		}
	}
	data.SetTimes(started, time.Now())

	if res.SummaryPath, err = summary.Write(data, m.cfg.Summary.Path); err != nil {
		return nil, err
	}
	logger.Info("Summary written", zap.String("path", res.SummaryPath))
	return res, nil
}

func hasWriter(writers []model.Writer, name string) bool {
	for _, w := range writers {
		if w.Name() == name {
			return true
		}
	}
	return false
}

// ctxSource stops a packet source once the context is done.
type ctxSource struct {
	ctx context.Context
	src extractor.Source
}

func (s *ctxSource) Next() (time.Time, []byte, error) {
	if err := s.ctx.Err(); err != nil {
		return time.Time{}, nil, err
	}
	return s.src.Next()
}

func (s *ctxSource) LinkType() layers.LinkType {
	return s.src.LinkType()
}
