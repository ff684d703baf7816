// Package summary records what an extraction run did in a summary.json file.
package summary

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/maziazy/Lemon/internal/engine/extractor"
	"github.com/zeebo/blake3"
)

// FileName is the name of the summary file inside the summary directory.
const FileName = "summary.json"

// Data holds the metadata of one run.
type Data struct {
	RunID          string          `json:"run_id"`
	Input          string          `json:"input"`
	Output         string          `json:"output"`
	DPIReport      string          `json:"dpi_report"`
	DPIFlows       int             `json:"dpi_flows"`
	DPICollisions  int             `json:"dpi_collisions"`
	Stats          extractor.Stats `json:"stats"`
	OutputBLAKE3   string          `json:"output_blake3,omitempty"`
	StartedAt      string          `json:"started_at"`
	FinishedAt     string          `json:"finished_at"`
	ElapsedSeconds float64         `json:"elapsed_seconds"`
}

// SetTimes fills the timestamps from the run boundaries.
func (d *Data) SetTimes(started, finished time.Time) {
	d.StartedAt = started.UTC().Format(time.RFC3339)
	d.FinishedAt = finished.UTC().Format(time.RFC3339)
	d.ElapsedSeconds = finished.Sub(started).Seconds()
}

// Write serializes the summary into dir, creating the directory if needed, and
// returns the path of the written file.
func Write(data Data, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create summary directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return "", fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return path, file.Close()
}

// Digest returns the hex BLAKE3 hash of a file's contents.
func Digest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := blake3.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
