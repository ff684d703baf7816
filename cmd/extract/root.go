package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/maziazy/Lemon/internal/config"
	"github.com/maziazy/Lemon/internal/engine/manager"
	"github.com/maziazy/Lemon/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile   string
	dpiReport string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "extract <input-capture> [output-file]",
	Short: "Build a labeled flow dataset from a packet capture",
	Long: `extract reads a pcap or pcapng capture, reconstructs every TCP flow that
starts with a handshake, and writes one row per completed flow with its early
packet sizes, talk pattern and the application label found in an ndpiReader
JSON report.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runExtract,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "configuration file (yaml)")
	rootCmd.Flags().StringVar(&dpiReport, "dpi-report", "", "ndpiReader JSON report (overrides dpi.report)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error)")
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.LoadConfig(cfgFile); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func runExtract(cmd *cobra.Command, args []string) error {
	// Arguments are valid from here on; failures are not usage errors.
	cmd.SilenceUsage = true

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	opts := manager.Options{Input: args[0], DPIReport: dpiReport}
	if len(args) == 2 {
		opts.Output = args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := manager.NewManager(cfg, log).Run(ctx, opts)
	if err != nil {
		log.Error("Extraction failed", zap.Error(err))
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d flows written, %d incomplete flows dropped\n",
		res.Stats.FlowsEmitted, res.Stats.FlowsIncomplete)
	return nil
}
