package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/akhi19-dev/incident-agent/internal/config"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "incident-agent",
	Short:         "Select and run automation runbooks for incoming incidents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (default: $INCIDENT_AGENT_CONFIG)")
	rootCmd.AddCommand(serveCmd, syncCmd, indexCmd, selectCmd)
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("incident-agent failed", slog.Any("error", err))
		os.Exit(1)
	}
}
