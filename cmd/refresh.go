package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Drain and fill the refresh queue",
}

var refreshRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one batch of queued refreshes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Worker.RunBatch(cmd.Context())
		if res != nil {
			fmt.Fprintf(os.Stdout, "processed=%d succeeded=%d failed=%d dead_lettered=%d\n",
				res.Processed, res.Succeeded, res.Failed, res.DeadLettered)
		}
		return eris.Wrap(err, "refresh run")
	},
}

var refreshSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Enqueue refreshes for stale works",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Sweeper.Sweep(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "refresh sweep")
		}
		fmt.Fprintf(os.Stdout, "stale=%d enqueued=%d\n", res.Stale, res.Enqueued)
		return nil
	},
}

func init() {
	refreshCmd.AddCommand(refreshRunCmd)
	refreshCmd.AddCommand(refreshSweepCmd)
	rootCmd.AddCommand(refreshCmd)
}
