package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/akhi19-dev/incident-agent/internal/models"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Record runbooks already present in the automation account and register change alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.syncSource(cmd.Context())
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run one indexing pass over unindexed runbooks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.indexer.IndexPending(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("indexing pass finished",
			slog.Int("indexed", summary.Indexed),
			slog.Int("skipped", summary.Skipped),
			slog.Int("failed", summary.Failed),
		)
		return nil
	},
}

var selectDescription string

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Print the runbook and action plans chosen for a description without executing anything",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if selectDescription == "" {
			return fmt.Errorf("--description is required")
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		selection, err := a.pipeline.Select(cmd.Context(), models.IncidentRequest{
			ShortDescription: selectDescription,
			Description:      selectDescription,
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(selection)
	},
}

func init() {
	selectCmd.Flags().StringVar(&selectDescription, "description", "", "incident description to select a runbook for")
}
