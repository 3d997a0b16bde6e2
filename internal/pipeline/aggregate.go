package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"grantledger/internal"
	"grantledger/internal/util"
)

var ErrMissingColumn = errors.New("missing column")

type MissingColumnError struct {
	Column string
	Table  string
}

func (e *MissingColumnError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("missing column %q", e.Column)
	}
	return fmt.Sprintf("missing column %q in %s", e.Column, e.Table)
}

func (e *MissingColumnError) Unwrap() error { return ErrMissingColumn }

// GroupAndSum groups rows by the rendered value of keyColumn and sums their
// normalized costs. Rows come back sorted by key ascending. An empty
// costColumn means the canonical cost column.
func GroupAndSum(t internal.Table, keyColumn, costColumn string) (internal.SummaryTable, error) {
	key := util.NormalizeColumn(keyColumn)
	cost := util.NormalizeColumn(costColumn)
	if cost == "" {
		cost = internal.ColumnCost
	}
	if err := requireColumns(t, key, cost); err != nil {
		return internal.SummaryTable{}, err
	}

	type bucket struct {
		count int
		sum   decimal.Decimal
	}
	buckets := map[string]*bucket{}
	coerced := 0
	for _, row := range t.Rows {
		k := util.CellString(cell(row, key))
		parsed := util.ParseCost(cell(row, cost))
		if parsed.Coerced {
			coerced++
		}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{}
			buckets[k] = b
		}
		b.count++
		b.sum = b.sum.Add(decimal.NewFromFloat(parsed.Value))
	}

	out := internal.SummaryTable{KeyColumn: key, Rows: make([]internal.SummaryRow, 0, len(buckets)), CoercedCells: coerced}
	for k, b := range buckets {
		total, _ := b.sum.Float64()
		out.Rows = append(out.Rows, internal.SummaryRow{Key: k, Count: b.count, TotalCost: total})
	}
	sort.Slice(out.Rows, func(i, j int) bool { return keyLess(out.Rows[i].Key, out.Rows[j].Key) })
	return out, nil
}

// keyLess puts numeric keys first, ordered by value, and then every other
// key in lexical order.
func keyLess(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	numA, numB := errA == nil, errB == nil
	switch {
	case numA && numB:
		if fa != fb {
			return fa < fb
		}
	case numA != numB:
		return numA
	}
	return a < b
}

// FilterByDateRange keeps rows whose date falls within [start, end], both
// ends inclusive and compared by calendar day. Rows with a missing or
// unparseable date never match.
func FilterByDateRange(t internal.Table, start, end time.Time, dateColumn string) (internal.Table, error) {
	col := util.NormalizeColumn(dateColumn)
	if col == "" {
		col = internal.ColumnExpirationDate
	}
	if err := requireColumns(t, col); err != nil {
		return internal.Table{}, err
	}

	from, to := util.Day(start), util.Day(end)
	out := cloneTable(t, len(t.Rows))
	for _, row := range t.Rows {
		d, ok := util.ParseDate(cell(row, col))
		if !ok {
			continue
		}
		day := util.Day(d)
		if day.Before(from) || day.After(to) {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// WithMonthKey returns a copy of t with a YYYY-MM column derived from
// dateColumn. Rows with an invalid date get a blank key.
func WithMonthKey(t internal.Table, dateColumn, target string) (internal.Table, error) {
	col := util.NormalizeColumn(dateColumn)
	if col == "" {
		col = internal.ColumnExpirationDate
	}
	target = util.NormalizeColumn(target)
	if target == "" {
		target = "month"
	}
	if err := requireColumns(t, col); err != nil {
		return internal.Table{}, err
	}

	out := cloneTable(t, len(t.Rows))
	if !out.HasColumn(target) {
		out.Columns = append(out.Columns, target)
	}
	for _, row := range t.Rows {
		next := make(internal.Record, len(row)+1)
		for k, v := range row {
			next[k] = v
		}
		next[target] = ""
		if d, ok := util.ParseDate(cell(row, col)); ok {
			next[target] = d.Format("2006-01")
		}
		out.Rows = append(out.Rows, next)
	}
	return out, nil
}

// TotalCost sums the cost column over the whole table and reports how many
// cells were coerced to zero. A table without the column totals zero.
func TotalCost(t internal.Table, costColumn string) (float64, int) {
	col := util.NormalizeColumn(costColumn)
	if col == "" {
		col = internal.ColumnCost
	}
	sum := decimal.Zero
	coerced := 0
	for _, row := range t.Rows {
		parsed := util.ParseCost(cell(row, col))
		if parsed.Coerced {
			coerced++
		}
		sum = sum.Add(decimal.NewFromFloat(parsed.Value))
	}
	total, _ := sum.Float64()
	return total, coerced
}

func requireColumns(t internal.Table, columns ...string) error {
	for _, c := range columns {
		if c == "" || !tableHasColumn(t, c) {
			return &MissingColumnError{Column: c, Table: t.Name}
		}
	}
	return nil
}

// tableHasColumn trusts the declared columns; tables assembled by hand
// without a header fall back to scanning row keys.
func tableHasColumn(t internal.Table, column string) bool {
	if len(t.Columns) > 0 {
		for _, c := range t.Columns {
			if util.NormalizeColumn(c) == column {
				return true
			}
		}
		return false
	}
	for _, row := range t.Rows {
		if _, ok := lookup(row, column); ok {
			return true
		}
	}
	return false
}

func cell(row internal.Record, column string) any {
	v, _ := lookup(row, column)
	return v
}

func lookup(row internal.Record, column string) (any, bool) {
	if v, ok := row[column]; ok {
		return v, true
	}
	for k, v := range row {
		if util.NormalizeColumn(k) == column {
			return v, true
		}
	}
	return nil, false
}

func cloneTable(t internal.Table, capacity int) internal.Table {
	out := internal.Table{
		Name:    t.Name,
		Source:  t.Source,
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]internal.Record, 0, capacity),
	}
	if t.Meta != nil {
		out.Meta = make(map[string]any, len(t.Meta))
		for k, v := range t.Meta {
			out.Meta[k] = v
		}
	}
	return out
}
