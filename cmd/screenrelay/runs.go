package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"screenrelay/internal/journal"

	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs from the run journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("run journal is disabled (journal.enabled)")
			}
			j, err := journal.Open(cfg.Journal.DBPath, logger)
			if err != nil {
				return err
			}
			defer j.Close()

			runs, err := j.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tSTATE\tFAILURE\tTOKENS\tIMAGE\tDURATION")
			for _, r := range runs {
				failure := r.Failure
				if failure == "" {
					failure = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					shortID(r.ID), r.StartedAt.Local().Format(time.DateTime), r.State, failure,
					r.Tokens, r.ImageBytes, r.Duration().Round(time.Millisecond))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
