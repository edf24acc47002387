package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/marrasen/bidi/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the most recent journaled decisions",
	RunE:  showJournal,
}

func init() {
	journalCmd.Flags().IntP("limit", "n", 20, "Number of records to show")
}

func showJournal(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	jr, err := journal.Open(cfg.Journal.DSN, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jr.Close()

	records, err := jr.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tINTERCEPT\tREQUEST\tOUTCOME\tMS\tURL\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%s\t%s\n",
			r.CreatedAt.Format("15:04:05"), r.Intercept, r.Request, r.Outcome, r.DurationMS, r.URL, r.Error)
	}
	return w.Flush()
}
