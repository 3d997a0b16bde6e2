package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"grantledger/internal"
	"grantledger/internal/util"
)

var ignorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^--+$`),
	regexp.MustCompile(`(?i)^thanks?\b`),
	regexp.MustCompile(`(?i)^(best|kind) regards`),
	regexp.MustCompile(`(?i)^(tel|phone)[:\s]`),
	regexp.MustCompile(`(?i)^e-?mail[:\s]`),
	regexp.MustCompile(`(?i)^http`),
	regexp.MustCompile(`(?i)^(sub)?total\b`),
	regexp.MustCompile(`(?i)^(tax|shipping and handling)\b`),
}

var (
	rePricedLine   = regexp.MustCompile(`(?i)^(.*?\S)\s*(?:[-:|]\s*)?(\$\s?[\d,]*\.?\d+|[\d,]+\.\d{2})\s*(?:usd)?$`)
	reSupplierLine = regexp.MustCompile(`(?i)^(?:supplier|vendor|sold by)\s*[:\-]\s*(.+)$`)
	reFundLine     = regexp.MustCompile(`(?i)^fund(?:\s*(?:number|no\.?|#))?\s*[:\-]\s*(.+)$`)
	reLetters      = regexp.MustCompile(`[A-Za-z]`)
)

// headerAliases maps vendor spreadsheet headings onto canonical columns.
var headerAliases = map[string]string{
	"item":            internal.ColumnName,
	"item_name":       internal.ColumnName,
	"description":     internal.ColumnName,
	"product":         internal.ColumnName,
	"product_name":    internal.ColumnName,
	"vendor":          internal.ColumnSupplier,
	"company":         internal.ColumnSupplier,
	"manufacturer":    internal.ColumnSupplier,
	"price":           internal.ColumnCost,
	"amount":          internal.ColumnCost,
	"total_cost":      internal.ColumnCost,
	"total_price":     internal.ColumnCost,
	"extended_price":  internal.ColumnCost,
	"fund":            internal.ColumnFundNumber,
	"fund_no":         internal.ColumnFundNumber,
	"fund_#":          internal.ColumnFundNumber,
	"fund_num":        internal.ColumnFundNumber,
	"expiration":      internal.ColumnExpirationDate,
	"exp_date":        internal.ColumnExpirationDate,
	"expiry":          internal.ColumnExpirationDate,
	"expiry_date":     internal.ColumnExpirationDate,
	"expiration_date": internal.ColumnExpirationDate,
}

func canonicalHeader(h string) string {
	col := util.NormalizeColumn(h)
	if alias, ok := headerAliases[col]; ok {
		return alias
	}
	return col
}

// MailExtraction is everything pulled out of one raw message.
type MailExtraction struct {
	Subject     string
	Text        string
	HTML        string
	Attachments []string
	Tables      []internal.Table
}

func ExtractTablesFromEmailRaw(raw []byte) (MailExtraction, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return MailExtraction{}, err
	}

	out := MailExtraction{
		Subject: env.GetHeader("Subject"),
		Text:    env.Text,
		HTML:    env.HTML,
	}
	if env.HTML != "" {
		out.Tables = append(out.Tables, parseHTMLTables(env.HTML)...)
	}
	if env.Text != "" {
		if t := parsePricedText(env.Text, internal.SourceEmailText, "body"); len(t.Rows) > 0 {
			out.Tables = append(out.Tables, t)
		}
	}

	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		out.Attachments = append(out.Attachments, filename)

		tables, err := ParseContent(filename, att.Content)
		if err != nil {
			util.Log.WithError(err).WithField("attachment", filename).Warn("attachment skipped")
			continue
		}
		for i := range tables {
			if tables[i].Meta == nil {
				tables[i].Meta = map[string]any{}
			}
			tables[i].Meta["attachment"] = filename
		}
		out.Tables = append(out.Tables, tables...)
	}

	return out, nil
}

// ParseContent picks a parser from the file extension.
func ParseContent(filename string, content []byte) ([]internal.Table, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xlsm"):
		return parseXLSX(content, filename)
	case strings.HasSuffix(lower, ".csv"):
		t, err := parseCSV(content, filename)
		if err != nil {
			return nil, err
		}
		return []internal.Table{t}, nil
	case strings.HasSuffix(lower, ".pdf"):
		t, err := parsePDF(content, filename)
		if err != nil {
			return nil, err
		}
		if len(t.Rows) == 0 {
			return nil, nil
		}
		return []internal.Table{t}, nil
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return parseHTMLTables(string(content)), nil
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filename)
	}
}

// parseXLSX returns one table per sheet that has a header and at least one
// data row.
func parseXLSX(content []byte, label string) ([]internal.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := []internal.Table{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			util.Log.WithError(err).WithField("sheet", sheet).Warn("sheet unreadable")
			continue
		}
		t, ok := buildTable(rows)
		if !ok {
			continue
		}
		t.Name = sheet
		t.Source = internal.SourceXLSX
		t.Meta = map[string]any{"file": label, "sheet": sheet}
		out = append(out, t)
	}
	return out, nil
}

func parseCSV(content []byte, label string) (internal.Table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return internal.Table{}, fmt.Errorf("read csv %s: %w", label, err)
		}
		rows = append(rows, rec)
	}
	t, _ := buildTable(rows)
	t.Name = label
	t.Source = internal.SourceCSV
	t.Meta = map[string]any{"file": label}
	return t, nil
}

// buildTable treats the first non-blank row as the header. Cells missing at
// the end of short rows become "". Fully blank rows are dropped.
func buildTable(rows [][]string) (internal.Table, bool) {
	t := internal.Table{}
	headerAt := -1
	for i, row := range rows {
		if !blankRow(row) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return t, false
	}

	header := make([]string, 0, len(rows[headerAt]))
	used := map[string]int{}
	for i, h := range rows[headerAt] {
		col := canonicalHeader(h)
		if col == "" {
			col = fmt.Sprintf("column_%d", i+1)
		}
		if n := used[col]; n > 0 {
			col = fmt.Sprintf("%s_%d", col, n+1)
		}
		used[col]++
		header = append(header, col)
	}
	t.Columns = header

	for _, row := range rows[headerAt+1:] {
		if blankRow(row) {
			continue
		}
		rec := make(internal.Record, len(header))
		for i, col := range header {
			v := ""
			if i < len(row) {
				v = util.NormalizeSpaces(row[i])
			}
			rec[col] = v
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, len(t.Rows) > 0
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseHTMLTables(html string) []internal.Table {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	out := []internal.Table{}
	doc.Find("table").Each(func(i int, table *goquery.Selection) {
		var rows [][]string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := []string{}
			tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, util.NormalizeSpaces(cell.Text()))
			})
			rows = append(rows, cells)
		})
		t, ok := buildTable(rows)
		if !ok || !t.HasColumn(internal.ColumnName) {
			return
		}
		t.Name = fmt.Sprintf("html_table_%d", i+1)
		t.Source = internal.SourceHTMLTable
		t.Meta = map[string]any{"table": i + 1}
		out = append(out, t)
	})
	return out
}

// parsePDF turns each priced line of an invoice into a row.
func parsePDF(content []byte, label string) (internal.Table, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return internal.Table{}, err
	}

	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}
	t := parsePricedText(text.String(), internal.SourcePDF, label)
	t.Meta["file"] = label
	return t, nil
}

// parsePricedText reads free text where every item line ends in a price.
// "Vendor:" and "Fund:" lines apply to the item lines that follow them.
func parsePricedText(text string, source internal.TableSource, name string) internal.Table {
	t := internal.Table{
		Name:    name,
		Source:  source,
		Columns: []string{internal.ColumnName, internal.ColumnSupplier, internal.ColumnFundNumber, internal.ColumnCost},
		Meta:    map[string]any{},
	}
	supplier, fund := "", ""
	seen := map[string]struct{}{}
	for _, line := range splitLines(text) {
		compact := util.NormalizeSpaces(line)
		if m := reSupplierLine.FindStringSubmatch(compact); m != nil {
			supplier = strings.TrimSpace(m[1])
			continue
		}
		if m := reFundLine.FindStringSubmatch(compact); m != nil {
			fund = strings.TrimSpace(m[1])
			continue
		}
		if isLikelyNoise(compact) {
			continue
		}
		m := rePricedLine.FindStringSubmatch(compact)
		if m == nil {
			continue
		}
		itemName := strings.TrimSpace(strings.Trim(m[1], "-:|"))
		if !reLetters.MatchString(itemName) {
			continue
		}
		if _, dup := seen[compact]; dup {
			continue
		}
		seen[compact] = struct{}{}
		t.Rows = append(t.Rows, internal.Record{
			internal.ColumnName:       itemName,
			internal.ColumnSupplier:   supplier,
			internal.ColumnFundNumber: fund,
			internal.ColumnCost:       strings.TrimSpace(m[2]),
		})
	}
	return t
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLikelyNoise(line string) bool {
	for _, re := range ignorePatterns {
		if re.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}
