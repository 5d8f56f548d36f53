package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cinecard/cinecard/internal/discovery"
	"github.com/cinecard/cinecard/internal/model"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery pass over the TMDB lists",
	Long:  "Pages the popular, now playing and trending lists, skips movies already in the catalog and ingests up to --max-new new ones. A run log is always written.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sourceFlag, _ := cmd.Flags().GetString("source")
		maxNew, _ := cmd.Flags().GetInt("max-new")
		triggerFlag, _ := cmd.Flags().GetString("trigger")
		asJSON, _ := cmd.Flags().GetBool("json")

		if sourceFlag == "" {
			sourceFlag = cfg.Discovery.Source
		}
		source, err := discovery.ParseSource(sourceFlag)
		if err != nil {
			return err
		}
		trigger := model.RunTrigger(strings.ToLower(triggerFlag))
		if !trigger.Valid() {
			return eris.Errorf("unknown trigger %q", triggerFlag)
		}

		env, err := initEnv(cmd.Context(), "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		run, runErr := env.Discovery.Run(cmd.Context(), source, maxNew, trigger)
		if run == nil {
			return runErr
		}
		if asJSON {
			if err := writeJSON(os.Stdout, run); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(os.Stdout, "run %s (%s): checked=%d skipped=%d ingested=%d failed=%d in %dms\n",
				truncateID(run.ID), run.Source, run.Checked, run.Skipped, run.Ingested, run.Failed, run.DurationMS)
			if len(run.Titles) > 0 {
				fmt.Fprintln(os.Stdout, renderRunTitles(run.Titles))
			}
			for _, e := range run.Errors {
				fmt.Fprintf(os.Stderr, "error: %s\n", e)
			}
		}
		return runErr
	},
}

func init() {
	discoverCmd.Flags().String("source", "", "list source: popular, now_playing, trending or all (default from config)")
	discoverCmd.Flags().Int("max-new", 0, "max new movies to ingest (default from config)")
	discoverCmd.Flags().String("trigger", string(model.TriggerManual), "trigger recorded in the run log")
	discoverCmd.Flags().Bool("json", false, "print the run log as JSON")
	rootCmd.AddCommand(discoverCmd)
}
