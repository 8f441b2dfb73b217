// proptax - Property tax estimates under adjustable valuation ratios.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/proptax/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "proptax",
	Short: "Residential property tax estimator",
	Long: `proptax compares the property tax owed under the official valuation ratios
with the tax under adjusted ratios, from the command line or over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: built-in standalone profile)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(schedulesCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "proptax %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

// loadConfig reads --config, applies PROPTAX_* overrides and installs the
// default logger.
func loadConfig() (*domain.Config, error) {
	cfg, err := domain.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if debug {
		cfg.Logging.Level = "debug"
	}
	setupLogger(cfg.Logging)
	return cfg, nil
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
