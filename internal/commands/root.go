// Package commands holds the cobra command tree of the scanner binary.
package commands

import (
	"context"
	"fmt"

	"crossscanner/config"
	"crossscanner/internal/app"
	"crossscanner/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "scanner",
	Short: "EMA crossover scanner for Binance USDT-M futures",
	Long: `Scans futures symbols for short/long EMA crossovers on closed candles
and sends an alert for every new golden or dead cross.

Commands:
  scan      run one scan pass and print the result
  serve     HTTP API plus periodic scans
  monitor   live EMA monitor over the kline stream
  symbols   manage the stored symbol list`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ../config next to the binary)")
}

// setup loads the config, builds the logger and wires the application.
// The returned cleanup must be called once the command is done.
func setup(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ResolveSecrets(ctx, nil); err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}

	cleanup := func() {
		a.Close()
		_ = log.Sync()
	}
	log.Info("scanner initialized",
		zap.String("environment", cfg.Environment),
		zap.String("interval", cfg.Scan.Interval),
		zap.Int("emaShort", cfg.Scan.EMAShort),
		zap.Int("emaLong", cfg.Scan.EMALong),
	)
	return a, cleanup, nil
}
