package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"grantledger/internal"
)

// ExportRecordsXLSX writes a table to a single-sheet workbook. Canonical
// columns come first in a fixed order, any others follow as they appear.
func ExportRecordsXLSX(t internal.Table, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	if t.Name != "" {
		if err := f.SetSheetName(sheet, sheetName(t.Name)); err == nil {
			sheet = sheetName(t.Name)
		}
	}

	headers := orderedColumns(t.Columns)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for r, row := range t.Rows {
		for c, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sheet, cell, row[h])
		}
	}

	return save(f, outputPath)
}

// ExportSummaryXLSX writes a grouped summary with a grand total row.
func ExportSummaryXLSX(s internal.SummaryTable, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	if err := f.SetSheetName(sheet, "Summary"); err == nil {
		sheet = "Summary"
	}

	set := func(col, row int, value any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, value)
	}

	set(1, 1, s.KeyColumn)
	set(2, 1, "count")
	set(3, 1, "total_cost")
	count, total := 0, 0.0
	for i, row := range s.Rows {
		set(1, i+2, row.Key)
		set(2, i+2, row.Count)
		set(3, i+2, row.TotalCost)
		count += row.Count
		total += row.TotalCost
	}
	last := len(s.Rows) + 2
	set(1, last, "Total")
	set(2, last, count)
	set(3, last, total)
	if s.CoercedCells > 0 {
		set(1, last+1, "coerced_cost_cells")
		set(2, last+1, s.CoercedCells)
	}

	return save(f, outputPath)
}

func save(f *excelize.File, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("save %s: %w", outputPath, err)
	}
	return nil
}

var preferredColumns = []string{
	internal.ColumnName,
	internal.ColumnSupplier,
	internal.ColumnCategory,
	internal.ColumnCost,
	internal.ColumnFundNumber,
	internal.ColumnExpirationDate,
}

func orderedColumns(columns []string) []string {
	present := map[string]bool{}
	for _, c := range columns {
		present[c] = true
	}
	out := make([]string, 0, len(columns))
	for _, c := range preferredColumns {
		if present[c] {
			out = append(out, c)
			delete(present, c)
		}
	}
	for _, c := range columns {
		if present[c] {
			out = append(out, c)
			delete(present, c)
		}
	}
	return out
}

// sheetName trims a label to Excel's 31 character limit and strips the
// characters Excel refuses.
func sheetName(label string) string {
	out := []rune{}
	for _, r := range label {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			continue
		}
		out = append(out, r)
		if len(out) == 31 {
			break
		}
	}
	if len(out) == 0 {
		return "Sheet1"
	}
	return string(out)
}
