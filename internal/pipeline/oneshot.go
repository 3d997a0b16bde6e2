package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"grantledger/internal"
)

// LoadFile reads a workbook, CSV, HTML or PDF file into tables.
func LoadFile(path string) ([]internal.Table, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tables, err := ParseContent(filepath.Base(path), blob)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%s: no tables with data", path)
	}
	return tables, nil
}

// ExtractFiles loads several files concurrently. Tables come back in the
// order of paths regardless of which load finished first.
func ExtractFiles(ctx context.Context, paths []string, concurrency int) ([]internal.Table, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([][]internal.Table, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tables, err := LoadFile(path)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			results[i] = tables
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []internal.Table{}
	for _, tables := range results {
		out = append(out, tables...)
	}
	return out, nil
}

// Merge concatenates tables into one, keeping the first-seen column order.
// Cells a row lacks are filled with "" in place.
func Merge(name string, tables []internal.Table) internal.Table {
	out := internal.Table{Name: name, Meta: map[string]any{"tables": len(tables)}}
	if len(tables) > 0 {
		out.Source = tables[0].Source
	}
	seen := map[string]struct{}{}
	for _, t := range tables {
		for _, c := range t.Columns {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out.Columns = append(out.Columns, c)
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	for _, row := range out.Rows {
		for _, c := range out.Columns {
			if _, ok := row[c]; !ok {
				row[c] = ""
			}
		}
	}
	return out
}
