package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "incidentd",
	Short: "Incident intelligence: change impact correlation and blast radius prediction",
	Long: `incidentd ingests service metrics and change events, tests whether a change
shifted latency, scores service health windows and predicts which dependents are
at risk when a service degrades.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults to $MIRADOR_INCIDENT_CONFIG)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(blastRadiusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadRuntime loads configuration and builds the logger shared by every command.
func loadRuntime() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		return nil, nil, err
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, utils.LogFile{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	return cfg, logger, nil
}
