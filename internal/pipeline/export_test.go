package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"grantledger/internal"
)

func TestExportRecordsXLSXRoundTrip(t *testing.T) {
	tbl := internal.Table{
		Name:    "Inventory",
		Columns: []string{"fund_number", "cost", "name", "category", "supplier"},
		Rows: []internal.Record{
			{"fund_number": "F-1", "cost": 30.5, "name": "DMEM media", "category": "Media", "supplier": "Thermo Fisher Scientific"},
		},
	}
	out := filepath.Join(t.TempDir(), "nested", "records.xlsx")
	if err := ExportRecordsXLSX(tbl, out); err != nil {
		t.Fatal(err)
	}

	tables, err := LoadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	got := tables[0]
	if got.Name != "Inventory" {
		t.Fatalf("sheet=%s", got.Name)
	}
	want := []string{"name", "supplier", "category", "cost", "fund_number"}
	for i, col := range want {
		if got.Columns[i] != col {
			t.Fatalf("columns=%v", got.Columns)
		}
	}
	if got.Rows[0]["cost"] != "30.5" || got.Rows[0]["category"] != "Media" {
		t.Fatalf("row=%v", got.Rows[0])
	}
}

func TestExportSummaryXLSX(t *testing.T) {
	summary, err := GroupAndSum(fundTable(), "fund_number", "cost")
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "summary.xlsx")
	if err := ExportSummaryXLSX(summary, out); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows("Summary")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows=%v", rows)
	}
	if rows[0][0] != "fund_number" || rows[1][0] != "A" || rows[1][2] != "15" {
		t.Fatalf("rows=%v", rows)
	}
	last := rows[3]
	if last[0] != "Total" || last[1] != "3" || last[2] != "17" {
		t.Fatalf("total=%v", last)
	}
}

func TestSheetName(t *testing.T) {
	if got := sheetName("a/b:c?d*[e]"); got != "abcde" {
		t.Fatalf("got %q", got)
	}
	if got := sheetName("///"); got != "Sheet1" {
		t.Fatalf("got %q", got)
	}
	long := "abcdefghijklmnopqrstuvwxyz0123456789"
	if got := sheetName(long); len(got) != 31 {
		t.Fatalf("got %q", got)
	}
}

func TestExtractFilesKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	paths := []string{}
	for _, name := range []string{"b.csv", "a.csv", "c.csv"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("name,cost\n"+name+",1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	tables, err := ExtractFiles(t.Context(), paths, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 3 || tables[0].Name != "b.csv" || tables[2].Name != "c.csv" {
		t.Fatalf("tables=%v", tables)
	}

	merged := Merge("all", []internal.Table{tables[0], {Columns: []string{"name", "fund_number"}, Rows: []internal.Record{{"name": "x"}}}})
	if len(merged.Rows) != 2 || merged.Rows[0]["fund_number"] != "" || merged.Rows[1]["cost"] != "" {
		t.Fatalf("merged=%v", merged.Rows)
	}

	if _, err := ExtractFiles(t.Context(), []string{filepath.Join(dir, "missing.csv")}, 1); err == nil {
		t.Fatal("expected error")
	}
}
