// Package writer holds the sinks that persist labeled flows. Each registers
// itself with the factory under its type name.
package writer

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/maziazy/Lemon/internal/config"
	"github.com/maziazy/Lemon/internal/factory"
	"github.com/maziazy/Lemon/internal/model"
	"go.uber.org/zap"
)

func init() {
	factory.RegisterWriter("csv", func(def config.WriterDef, env factory.Env) (model.Writer, error) {
		return NewCSVWriter(env.OutputPath, env.EarlyWindow, env.Logger)
	})
}

// CSVWriter writes one row per labeled flow into a comma-separated file.
type CSVWriter struct {
	file   *os.File
	csv    *csv.Writer
	path   string
	rows   int
	logger *zap.Logger
}

// NewCSVWriter creates (or truncates) the output file and writes the header
// for an early window of the given size.
func NewCSVWriter(path string, window int, logger *zap.Logger) (*CSVWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	w := &CSVWriter{
		file:   file,
		csv:    csv.NewWriter(file),
		path:   path,
		logger: logger.With(zap.String("component", "csv_writer")),
	}
	if err := w.csv.Write(model.Header(window)); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return w, nil
}

// Write appends the record as one row.
func (w *CSVWriter) Write(rec *model.Essence) error {
	if err := w.csv.Write(rec.Row()); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Close flushes the buffered rows and closes the file.
func (w *CSVWriter) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush %s: %w", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.logger.Info("Dataset written", zap.String("path", w.path), zap.Int("rows", w.rows))
	return nil
}

// Name returns "csv".
func (w *CSVWriter) Name() string {
	return "csv"
}
