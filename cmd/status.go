package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cinecard/cinecard/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog, queue and discovery health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		lookback, _ := cmd.Flags().GetInt("lookback")
		asJSON, _ := cmd.Flags().GetBool("json")
		if lookback <= 0 {
			lookback = cfg.Monitor.LookbackWindowHours
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx, lookback)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if asJSON {
			return writeJSON(os.Stdout, snap)
		}
		formatStatus(os.Stdout, snap, monitoring.NewAlerter(cfg.Monitor).Evaluate(snap))
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("lookback", 0, "hours of run history to summarize (default from config)")
	statusCmd.Flags().Bool("json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}

func formatStatus(w io.Writer, snap *monitoring.Snapshot, alerts []monitoring.Alert) {
	fmt.Fprintln(w, renderCounts("WORKS", snap.Works))
	fmt.Fprintln(w, renderCounts("QUEUE", snap.Queue))

	rows := [][]string{
		{"runs", strconv.Itoa(snap.RunsTotal)},
		{"runs with errors", strconv.Itoa(snap.RunsWithErrors)},
		{"titles ingested", strconv.Itoa(snap.TitlesIngested)},
		{"titles failed", strconv.Itoa(snap.TitlesFailed)},
		{"failure rate", percent(snap.IngestFailRate)},
	}
	if snap.LoglineSpendUSD > 0 {
		rows = append(rows, []string{"logline spend", fmt.Sprintf("$%.4f", snap.LoglineSpendUSD)})
	}
	if snap.LastRun != nil {
		rows = append(rows, []string{"last run", formatTime(snap.LastRun.StartedAt) + " (" + snap.LastRun.Source + ")"})
	}
	fmt.Fprintln(w, renderTable(
		[]string{fmt.Sprintf("DISCOVERY (%dh)", snap.LookbackHours), ""},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	))

	for _, a := range alerts {
		fmt.Fprintf(w, "ALERT [%s] %s\n", a.Severity, a.Message)
	}
}
