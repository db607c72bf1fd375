package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vidstash/vidstash/internal/history"
	"github.com/vidstash/vidstash/internal/output"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished downloads",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			store, err := history.Open(historyPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error opening history: %v\n", err)
				os.Exit(1)
			}
			defer store.Close()

			summary, err := store.Summarize()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading history: %v\n", err)
				os.Exit(1)
			}
			entries, err := store.Recent(limit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading history: %v\n", err)
				os.Exit(1)
			}

			output.PrintHeader(fmt.Sprintf("History: %d total, %d done, %d failed", summary.Total, summary.Done, summary.Failed))
			for _, e := range entries {
				when := e.Finished.Format("2006-01-02 15:04")
				if e.State == "done" {
					output.PrintSuccess(fmt.Sprintf("  %s %s %q %s %s", output.StyleSymbols["pass"], when, e.Title, output.StyleSymbols["arrow"], e.FinalPath))
				} else {
					output.PrintError(fmt.Sprintf("  %s %s %s [%s] %s", output.StyleSymbols["fail"], when, e.URL, e.ErrorKind, e.Error))
				}
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show")
	return cmd
}
