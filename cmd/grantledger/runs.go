package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"grantledger/internal/listener"
	"grantledger/internal/util"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent import runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListImportRuns(limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWHEN\tSOURCE\tMESSAGE\tTABLES\tROWS\tTOTAL\tCOERCED\tREPORT")
		for _, r := range runs {
			message := "-"
			if r.MessageID != nil {
				message = strconv.Itoa(*r.MessageID)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%.2f\t%d\t%s\n", r.ID, r.CreatedAt, r.Source, message, r.Tables, r.Rows, r.TotalCost, r.CoercedCells, util.DerefString(r.ReportPath))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		last, err := db.GetMetadata(listener.LastCycleKey)
		if err != nil {
			return err
		}
		if last != nil {
			fmt.Printf("last listener cycle: %s\n", *last)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "how many runs to show")
	rootCmd.AddCommand(runsCmd)
}
