package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"grantledger/internal"
	"grantledger/internal/pipeline"
	"grantledger/internal/util"
)

const monthKey = "month"

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Sum costs per column value or per month, optionally allocating a group to a grant",
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetStringSlice("file")
		files = append(files, args...)
		by, _ := cmd.Flags().GetString("by")
		dateColumn, _ := cmd.Flags().GetString("date-column")
		costColumn, _ := cmd.Flags().GetString("cost-column")
		fromFlag, _ := cmd.Flags().GetString("from")
		toFlag, _ := cmd.Flags().GetString("to")
		out, _ := cmd.Flags().GetString("out")
		allocateKey, _ := cmd.Flags().GetString("allocate-key")
		grantName, _ := cmd.Flags().GetString("grant")

		if dateColumn == "" {
			dateColumn = cfg.DateColumn
		}
		if costColumn == "" {
			costColumn = cfg.CostColumn
		}
		if strings.TrimSpace(by) == "" {
			return fmt.Errorf("--by is required")
		}
		if (allocateKey == "") != (grantName == "") {
			return fmt.Errorf("--allocate-key and --grant go together")
		}

		inv, err := loadInventory(cmd.Context(), files)
		if err != nil {
			return err
		}
		table := inv.table

		if fromFlag != "" || toFlag != "" {
			from, to, err := dateBounds(fromFlag, toFlag)
			if err != nil {
				return err
			}
			table, err = pipeline.FilterByDateRange(table, from, to, dateColumn)
			if err != nil {
				return err
			}
			util.Log.WithFields(logrus.Fields{"from": from.Format("2006-01-02"), "to": to.Format("2006-01-02"), "rows": len(table.Rows)}).Info("date filter applied")
		}

		key := by
		if strings.EqualFold(by, monthKey) && !table.HasColumn(monthKey) {
			table, err = pipeline.WithMonthKey(table, dateColumn, monthKey)
			if err != nil {
				return err
			}
			key = monthKey
		}

		summary, err := pipeline.GroupAndSum(table, key, costColumn)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\tCOUNT\tTOTAL\n", strings.ToUpper(summary.KeyColumn))
		for _, row := range summary.Rows {
			label := row.Key
			if label == "" {
				label = "(blank)"
			}
			fmt.Fprintf(w, "%s\t%d\t%.2f\n", label, row.Count, row.TotalCost)
		}
		w.Flush()
		if summary.CoercedCells > 0 {
			fmt.Printf("warning: %d cost cells were unreadable and counted as 0\n", summary.CoercedCells)
		}

		if out != "" {
			if err := pipeline.ExportSummaryXLSX(summary, out); err != nil {
				return err
			}
			fmt.Printf("summary written to %s\n", out)
		}

		if grantName == "" {
			return nil
		}
		row, ok := summary.Find(allocateKey)
		if !ok {
			return fmt.Errorf("no group %q in the report", allocateKey)
		}

		svc, _, cleanup, err := newLedger()
		if err != nil {
			return err
		}
		defer cleanup()
		ctx, cancel := commandContext(cmd)
		defer cancel()

		grant, err := svc.Grant(ctx, grantName)
		if err != nil {
			return err
		}
		for _, r := range table.Rows {
			if util.CellString(r[summary.KeyColumn]) != allocateKey {
				continue
			}
			name := util.CellString(r[internal.ColumnName])
			category := internal.Category(util.CellString(r[internal.ColumnCategory]))
			if !grant.Allows(name, category) {
				fmt.Printf("warning: %q (%s) is not an allowed item for %s\n", name, category, grant.Name)
			}
		}

		note := fmt.Sprintf("report %s=%s", summary.KeyColumn, allocateKey)
		updated, err := svc.AllocateWithNote(ctx, grantName, row.TotalCost, note)
		if err != nil {
			return err
		}
		fmt.Printf("allocated %.2f to %s: allocated=%.2f net=%.2f\n", row.TotalCost, updated.Name, updated.AllocatedCost, updated.NetAmount)
		return nil
	},
}

// dateBounds parses --from/--to. A missing bound is open-ended.
func dateBounds(from, to string) (time.Time, time.Time, error) {
	start := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	if from != "" {
		d, ok := util.ParseDate(from)
		if !ok {
			return start, end, fmt.Errorf("bad --from date: %s", from)
		}
		start = d
	}
	if to != "" {
		d, ok := util.ParseDate(to)
		if !ok {
			return start, end, fmt.Errorf("bad --to date: %s", to)
		}
		end = d
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("--to is before --from")
	}
	return start, end, nil
}

func init() {
	reportCmd.Flags().StringSliceP("file", "f", nil, "xlsx, csv, html or pdf file (repeatable)")
	reportCmd.Flags().String("by", "", "column to group by, or \"month\"")
	reportCmd.Flags().String("date-column", "", "date column for --from/--to and month grouping (default from DATE_COLUMN)")
	reportCmd.Flags().String("cost-column", "", "cost column (default from COST_COLUMN)")
	reportCmd.Flags().String("from", "", "first day to include")
	reportCmd.Flags().String("to", "", "last day to include")
	reportCmd.Flags().StringP("out", "o", "", "write the summary to this xlsx file")
	reportCmd.Flags().String("allocate-key", "", "group whose total is allocated to --grant")
	reportCmd.Flags().String("grant", "", "grant name to allocate to")
	rootCmd.AddCommand(reportCmd)
}
