package pipeline

import (
	"sort"
	"strings"
	"time"

	"grantledger/internal"
	"grantledger/internal/util"
)

// NormalizeStats summarizes one NormalizeTable pass.
type NormalizeStats struct {
	Rows         int
	CoercedCells int
	Categories   map[internal.Category]int
}

// NormalizeTable canonicalizes column names, parses the cost column,
// resolves suppliers and assigns a category to every row. When the table
// carries an expiration date the rows are ordered by it, undated rows last.
// The input table is left untouched.
func NormalizeTable(t internal.Table, c *Classifier) (internal.Table, NormalizeStats) {
	stats := NormalizeStats{Categories: map[internal.Category]int{}}
	out := internal.Table{Name: t.Name, Source: t.Source, Meta: t.Meta}

	seen := map[string]struct{}{}
	for _, col := range t.Columns {
		canon := util.NormalizeColumn(col)
		if canon == "" {
			continue
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		out.Columns = append(out.Columns, canon)
	}
	if _, ok := seen[internal.ColumnCategory]; !ok {
		out.Columns = append(out.Columns, internal.ColumnCategory)
	}

	for _, row := range t.Rows {
		next := make(internal.Record, len(row)+1)
		for _, k := range rowKeys(t.Columns, row) {
			canon := util.NormalizeColumn(k)
			if canon == "" {
				continue
			}
			v := row[k]
			if prev, taken := next[canon]; taken && (isBlank(v) || !isBlank(prev)) {
				continue
			}
			next[canon] = v
		}

		if raw, ok := next[internal.ColumnCost]; ok {
			parsed := util.ParseCost(raw)
			if parsed.Coerced {
				stats.CoercedCells++
			}
			next[internal.ColumnCost] = parsed.Value
		}

		supplier := util.CellString(next[internal.ColumnSupplier])
		if supplier != "" {
			next[internal.ColumnSupplier] = c.NormalizeSupplier(supplier)
		}
		category := c.Classify(util.CellString(next[internal.ColumnName]), supplier)
		next[internal.ColumnCategory] = string(category)
		stats.Categories[category]++

		out.Rows = append(out.Rows, next)
	}
	stats.Rows = len(out.Rows)

	if out.HasColumn(internal.ColumnExpirationDate) {
		sortByDate(out.Rows, internal.ColumnExpirationDate)
	}
	return out, stats
}

// rowKeys lists the keys of row in column order, then any keys the table
// does not declare in lexical order. When two keys canonicalize to the same
// column the first non-blank one in this order wins.
func rowKeys(columns []string, row internal.Record) []string {
	keys := make([]string, 0, len(row))
	listed := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		if _, dup := listed[col]; dup {
			continue
		}
		listed[col] = struct{}{}
		if _, ok := row[col]; ok {
			keys = append(keys, col)
		}
	}
	var extra []string
	for k := range row {
		if _, ok := listed[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

func sortByDate(rows []internal.Record, column string) {
	type dated struct {
		row internal.Record
		at  time.Time
		ok  bool
	}
	items := make([]dated, len(rows))
	for i, r := range rows {
		d, ok := util.ParseDate(r[column])
		items[i] = dated{row: r, at: d, ok: ok}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.ok != b.ok {
			return a.ok
		}
		return a.ok && a.at.Before(b.at)
	})
	for i, it := range items {
		rows[i] = it.row
	}
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
