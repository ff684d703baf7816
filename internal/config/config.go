package config

import (
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// SSL detection modes.
const (
	SSLDetectionPort      = "port"
	SSLDetectionSignature = "signature"
)

// Capture engines.
const (
	EngineGo      = "pcapgo"
	EngineLibpcap = "libpcap"
)

// ExtractorConfig holds the feature extraction policy.
type ExtractorConfig struct {
	EarlyWindow  int      `yaml:"early_window"`
	SSLPorts     []uint16 `yaml:"ssl_ports"`
	SSLDetection string   `yaml:"ssl_detection"`
}

// CaptureConfig selects how the capture file is read.
type CaptureConfig struct {
	Engine string `yaml:"engine"`
}

// DPIConfig describes where ground-truth labels come from.
type DPIConfig struct {
	Report         string   `yaml:"report"`
	IncludeUnknown bool     `yaml:"include_unknown"`
	ReaderPath     string   `yaml:"reader_path"`
	ReaderArgs     []string `yaml:"reader_args"`
}

// ClickHouseConfig holds the connection details for the ClickHouse writer.
type ClickHouseConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Table     string `yaml:"table"`
	BatchSize int    `yaml:"batch_size"`
}

// NATSConfig holds the connection details for the NATS writer.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// WriterDef defines a single output writer.
type WriterDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
}

// OutputConfig holds the configuration of the labeled dataset outputs.
type OutputConfig struct {
	DefaultFile string      `yaml:"default_file"`
	Writers     []WriterDef `yaml:"writers"`
}

// SummaryConfig controls the run summary file.
type SummaryConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds the logger configuration.
type LogConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Extractor ExtractorConfig `yaml:"extractor"`
	Capture   CaptureConfig   `yaml:"capture"`
	DPI       DPIConfig       `yaml:"dpi"`
	Output    OutputConfig    `yaml:"output"`
	Summary   SummaryConfig   `yaml:"summary"`
	Logging   LogConfig       `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Extractor: ExtractorConfig{
			EarlyWindow:  5,
			SSLPorts:     []uint16{443},
			SSLDetection: SSLDetectionPort,
		},
		Capture: CaptureConfig{
			Engine: EngineGo,
		},
		DPI: DPIConfig{
			Report: "ndpi_out.json",
		},
		Output: OutputConfig{
			DefaultFile: "essence.csv",
			Writers: []WriterDef{
				{Type: "csv", Enabled: true},
			},
		},
		Logging: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  3,
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of Default and returns it.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	if c.Extractor.EarlyWindow <= 0 {
		return fmt.Errorf("extractor.early_window must be positive, got %d", c.Extractor.EarlyWindow)
	}
	switch c.Extractor.SSLDetection {
	case SSLDetectionPort, SSLDetectionSignature:
	default:
		return fmt.Errorf("unknown extractor.ssl_detection '%s'", c.Extractor.SSLDetection)
	}
	switch c.Capture.Engine {
	case EngineGo, EngineLibpcap:
	default:
		return fmt.Errorf("unknown capture.engine '%s'", c.Capture.Engine)
	}
	if c.DPI.Report == "" {
		return fmt.Errorf("dpi.report must be set")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	return nil
}
