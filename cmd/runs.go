package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent batch runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("report"); err != nil {
			return err
		}

		ledger, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close() //nolint:errcheck

		runs, err := ledger.ListBatches(ctx, runsLimit)
		if err != nil {
			return eris.Wrap(err, "list batches")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No batch runs recorded.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "BATCH\tSTARTED\tTOTAL\tOK\tFAILED\tSKIPPED\tEST COST")
		for _, run := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t$%.4f\n",
				run.ID,
				run.StartedAt.Local().Format(time.RFC3339),
				run.Total, run.Successful, run.Failed, run.Skipped,
				run.EstimatedCost,
			)
		}
		return tw.Flush()
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
	rootCmd.AddCommand(runsCmd)
}
