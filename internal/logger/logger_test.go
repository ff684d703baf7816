package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/maziazy/Lemon/internal/config"
	"go.uber.org/zap"
)

func TestNew_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "extract.log")
	log, err := New(config.LogConfig{Level: "warn", File: path, MaxSizeMB: 1, MaxFiles: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.Info("below the level")
	log.Warn("Duplicate flow in DPI report", zap.String("flow", "10.0.0.1:1 > 10.0.0.2:2"))
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Log file was not written: %v", err)
	}
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d: %s", len(lines), raw)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["level"] != "warn" || entry["flow"] != "10.0.0.1:1 > 10.0.0.2:2" {
		t.Errorf("Unexpected log entry %v", entry)
	}
}

func TestNew_UnknownLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "chatty"}); err == nil {
		t.Fatal("Expected an error for an unknown level")
	}

	log, err := New(config.LogConfig{Level: ""})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !log.Core().Enabled(zap.InfoLevel) || log.Core().Enabled(zap.DebugLevel) {
		t.Error("Expected an empty level to mean info")
	}
}
