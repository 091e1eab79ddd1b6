package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"femurmeasure/pkg/config"
)

var (
	configPath string
	verbose    bool
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "femurmeasure",
	Short: "Measure femur morphology from parametric surface meshes",
	Long: "femurmeasure fits shaft and neck axes to a femur surface mesh and derives\n" +
		"head diameter, neck-shaft angle, anteversion, lengths and widths.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "femurmeasure.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every measurement step")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Dump measurement records after computing them")
}

// loadConfig reads the configuration named by --config and applies the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Output.Verbose = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Output.Verbose {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
