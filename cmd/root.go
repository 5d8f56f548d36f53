package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cinecard/cinecard/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cinecard",
	Short: "Movie metadata ingestion and card service",
	Long:  "Ingests movie metadata from TMDB, materializes artwork, serves cache-first cards and keeps the catalog fresh with a refresh queue and discovery runs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
