package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"grantledger/internal"
	"grantledger/internal/pipeline"
	"grantledger/internal/util"
)

type loaded struct {
	table   internal.Table
	tables  int
	coerced int
	byCat   map[internal.Category]int
}

// loadInventory reads every file, normalizes and classifies each table and
// merges them into one.
func loadInventory(ctx context.Context, files []string) (loaded, error) {
	if len(files) == 0 {
		return loaded{}, fmt.Errorf("at least one --file is required")
	}
	c, err := newClassifier()
	if err != nil {
		return loaded{}, err
	}
	raw, err := pipeline.ExtractFiles(ctx, files, cfg.ImportConcurrency)
	if err != nil {
		return loaded{}, err
	}

	out := loaded{byCat: map[internal.Category]int{}}
	normalized := make([]internal.Table, 0, len(raw))
	for _, t := range raw {
		nt, stats := pipeline.NormalizeTable(t, c)
		out.coerced += stats.CoercedCells
		for cat, n := range stats.Categories {
			out.byCat[cat] += n
		}
		normalized = append(normalized, nt)
	}
	out.tables = len(normalized)
	out.table = pipeline.Merge("Inventory", normalized)
	if out.coerced > 0 {
		util.Log.WithField("cells", out.coerced).Warn("cost cells could not be read and were counted as 0")
	}
	return out, nil
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load inventory files, classify every row and print totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetStringSlice("file")
		files = append(files, args...)
		out, _ := cmd.Flags().GetString("out")
		record, _ := cmd.Flags().GetBool("record")

		inv, err := loadInventory(cmd.Context(), files)
		if err != nil {
			return err
		}
		total, _ := pipeline.TotalCost(inv.table, cfg.CostColumn)

		cats := make([]string, 0, len(inv.byCat))
		for c := range inv.byCat {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tROWS")
		for _, c := range cats {
			fmt.Fprintf(w, "%s\t%d\n", c, inv.byCat[internal.Category(c)])
		}
		w.Flush()
		fmt.Printf("tables=%d rows=%d total_cost=%.2f coerced_cells=%d\n", inv.tables, len(inv.table.Rows), total, inv.coerced)

		if out != "" {
			if err := pipeline.ExportRecordsXLSX(inv.table, out); err != nil {
				return err
			}
			fmt.Printf("exported %d rows to %s\n", len(inv.table.Rows), out)
		}

		if !record {
			return nil
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		run := internal.ImportRun{
			TraceID:      uuid.NewString(),
			Source:       "file",
			Tables:       inv.tables,
			Rows:         len(inv.table.Rows),
			CoercedCells: inv.coerced,
			TotalCost:    total,
		}
		if out != "" {
			run.ReportPath = util.StringPtr(out)
		}
		id, err := db.InsertImportRun(run)
		if err != nil {
			return err
		}
		util.Log.WithFields(logrus.Fields{"run": id, "trace": run.TraceID}).Info("import recorded")
		return nil
	},
}

func init() {
	importCmd.Flags().StringSliceP("file", "f", nil, "xlsx, csv, html or pdf file (repeatable)")
	importCmd.Flags().StringP("out", "o", "", "write the classified rows to this xlsx file")
	importCmd.Flags().Bool("record", false, "store an import run in the database")
	rootCmd.AddCommand(importCmd)
}
