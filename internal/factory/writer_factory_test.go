package factory

import (
	"errors"
	"strings"
	"testing"

	"github.com/maziazy/Lemon/internal/config"
	"github.com/maziazy/Lemon/internal/model"
	"go.uber.org/zap"
)

type stubWriter struct {
	name   string
	closed *int
	err    error
}

func (s *stubWriter) Write(*model.Essence) error { return nil }
func (s *stubWriter) Name() string               { return s.name }
func (s *stubWriter) Close() error {
	*s.closed++
	return s.err
}

func TestCreate(t *testing.T) {
	closed := 0
	RegisterWriter("stub-ok", func(config.WriterDef, Env) (model.Writer, error) {
		return &stubWriter{name: "stub-ok", closed: &closed}, nil
	})
	RegisterWriter("stub-fail", func(config.WriterDef, Env) (model.Writer, error) {
		return nil, errors.New("connection refused")
	})
	env := Env{Logger: zap.NewNop()}

	writers, err := Create(config.OutputConfig{Writers: []config.WriterDef{
		{Type: "stub-ok", Enabled: true},
		{Type: "stub-fail", Enabled: false},
	}}, env)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(writers) != 1 {
		t.Fatalf("Expected disabled writers to be skipped, got %d writers", len(writers))
	}

	_, err = Create(config.OutputConfig{Writers: []config.WriterDef{
		{Type: "stub-ok", Enabled: true},
		{Type: "stub-fail", Enabled: true},
	}}, env)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("Expected the factory error, got %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected the writer opened before the failure to be closed, closed %d", closed)
	}

	if _, err := Create(config.OutputConfig{Writers: []config.WriterDef{{Type: "parquet", Enabled: true}}}, env); err == nil {
		t.Error("Expected an error for an unknown writer type")
	}
	if _, err := Create(config.OutputConfig{}, env); err == nil {
		t.Error("Expected an error when no writer is enabled")
	}
}

func TestCloseAll_CombinesErrors(t *testing.T) {
	closed := 0
	writers := []model.Writer{
		&stubWriter{name: "a", closed: &closed, err: errors.New("disk full")},
		&stubWriter{name: "b", closed: &closed},
		&stubWriter{name: "c", closed: &closed, err: errors.New("broken pipe")},
	}

	err := CloseAll(writers)
	if closed != 3 {
		t.Errorf("Expected every writer to be closed, closed %d", closed)
	}
	if err == nil || !strings.Contains(err.Error(), "disk full") || !strings.Contains(err.Error(), "broken pipe") {
		t.Errorf("Expected both close errors, got %v", err)
	}
}
