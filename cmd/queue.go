package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cinecard/cinecard/internal/model"
	"github.com/cinecard/cinecard/internal/refresh"
	"github.com/cinecard/cinecard/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the refresh queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List refresh queue items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter := store.QueueFilter{Status: model.QueueStatus(status), Limit: limit}
		switch filter.Status {
		case "", model.QueueQueued, model.QueueProcessing, model.QueueCompleted, model.QueueFailed:
		default:
			return eris.Errorf("unknown queue status %q", status)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		items, err := refresh.NewQueue(st).List(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "queue list")
		}
		if asJSON {
			return writeJSON(os.Stdout, items)
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No queue items found.")
			return nil
		}
		fmt.Fprintln(os.Stdout, renderQueueItems(items))
		return nil
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts by status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := refresh.NewQueue(st).Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "queue stats")
		}
		fmt.Fprintln(os.Stdout, renderCounts("STATUS", counts))
		return nil
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue <work-id|tmdb-id>",
	Short: "Return a dead-lettered or completed item to the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workID := args[0]
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			w, err := st.GetWorkByExternalID(ctx, id)
			if err != nil {
				return eris.Wrap(err, "queue requeue")
			}
			if w == nil {
				return eris.Errorf("no work with tmdb id %d", id)
			}
			workID = w.ID
		}

		ok, err := refresh.NewQueue(st).Requeue(ctx, workID)
		if err != nil {
			return eris.Wrap(err, "queue requeue")
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "No failed or completed item for work %s.\n", workID)
			return nil
		}
		fmt.Fprintf(os.Stdout, "requeued %s\n", workID)
		return nil
	},
}

func init() {
	queueListCmd.Flags().String("status", "", "filter by status (queued, processing, completed, failed)")
	queueListCmd.Flags().Int("limit", 50, "max number of items to display")
	queueListCmd.Flags().Bool("json", false, "print items as JSON")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueRequeueCmd)
	rootCmd.AddCommand(queueCmd)
}
