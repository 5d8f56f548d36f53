package main

import (
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <tmdb-id>",
	Short: "Ingest one movie and print its card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseExternalID(args[0])
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		env, err := initEnv(cmd.Context(), "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.Ingest(cmd.Context(), id, force)
		if err != nil {
			return eris.Wrapf(err, "ingest %d", id)
		}
		return writeJSON(os.Stdout, res)
	},
}

var cardCmd = &cobra.Command{
	Use:   "card <tmdb-id>",
	Short: "Print the card for a movie, ingesting it on a cache miss",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseExternalID(args[0])
		if err != nil {
			return err
		}
		short, _ := cmd.Flags().GetBool("short")

		env, err := initEnv(cmd.Context(), "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.GetCard(cmd.Context(), id)
		if err != nil {
			return eris.Wrapf(err, "card %d", id)
		}
		if short {
			return writeJSON(os.Stdout, res.Short)
		}
		return writeJSON(os.Stdout, res)
	},
}

func init() {
	ingestCmd.Flags().Bool("force", false, "re-ingest even when the cached card is fresh")
	cardCmd.Flags().Bool("short", false, "print only the short card")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(cardCmd)
}

func parseExternalID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid tmdb id %q", s)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
