package internal

import (
	"strings"
	"time"
)

type TableSource string

const (
	SourceXLSX      TableSource = "xlsx"
	SourceCSV       TableSource = "csv"
	SourceHTMLTable TableSource = "html_table"
	SourcePDF       TableSource = "pdf"
	SourceEmailText TableSource = "email_text"
)

// Record is one inventory row keyed by canonical column name.
type Record map[string]any

type Table struct {
	Name    string
	Source  TableSource
	Columns []string
	Rows    []Record
	Meta    map[string]any
}

// HasColumn reports whether column is one of the table's columns.
func (t Table) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

const (
	ColumnName           = "name"
	ColumnSupplier       = "supplier"
	ColumnCost           = "cost"
	ColumnExpirationDate = "expiration_date"
	ColumnFundNumber     = "fund_number"
	ColumnCategory       = "category"
)

type Category string

const (
	CategoryMedia              Category = "Media"
	CategoryBlots              Category = "Blots"
	CategoryAntibodies         Category = "Antibodies"
	CategoryLabware            Category = "Labware"
	CategoryAssays             Category = "Assays"
	CategoryAnimalWork         Category = "Animal-Work"
	CategoryBiologicalReagents Category = "Biological-Reagents"
	CategoryDrugs              Category = "Drugs"
	CategoryChemicals          Category = "Chemicals"
	CategorySequencing         Category = "Services-Sequencing"
	CategoryServicesOneTime    Category = "Services-OneTime"
	CategoryServicesRecurring  Category = "Services-Recurring"
	CategoryOfficeSupplies     Category = "Office-Supplies"
	CategoryOthers             Category = "Others"
)

type Grant struct {
	ID            string
	Name          string
	TotalBalance  float64
	AllocatedCost float64
	NetAmount     float64
	AllowedItems  []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Allows reports whether spending on item fits the grant's rules. A grant
// without rules accepts everything. Rules match case-insensitively against
// either the category label or a substring of the item name.
func (g Grant) Allows(item string, category Category) bool {
	if len(g.AllowedItems) == 0 {
		return true
	}
	lowered := strings.ToLower(item)
	for _, rule := range g.AllowedItems {
		r := strings.ToLower(strings.TrimSpace(rule))
		if r == "" {
			continue
		}
		if r == strings.ToLower(string(category)) || strings.Contains(lowered, r) {
			return true
		}
	}
	return false
}

type LedgerEntryKind string

const (
	EntryAllocate LedgerEntryKind = "allocate"
	EntryRelease  LedgerEntryKind = "release"
	EntryReset    LedgerEntryKind = "reset"
	EntryBalance  LedgerEntryKind = "balance"
)

type LedgerEntry struct {
	ID             string
	GrantID        string
	Kind           LedgerEntryKind
	Amount         float64
	AllocatedAfter float64
	NetAfter       float64
	Note           string
	CreatedAt      time.Time
}

type SummaryRow struct {
	Key       string
	Count     int
	TotalCost float64
}

type SummaryTable struct {
	KeyColumn    string
	Rows         []SummaryRow
	CoercedCells int
}

// Find returns the row for key, if any.
func (s SummaryTable) Find(key string) (SummaryRow, bool) {
	for _, row := range s.Rows {
		if row.Key == key {
			return row, true
		}
	}
	return SummaryRow{}, false
}

type InboxMessage struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type ImportRun struct {
	ID           int
	TraceID      string
	MessageID    *int
	Source       string
	Tables       int
	Rows         int
	CoercedCells int
	TotalCost    float64
	ReportPath   *string
	CreatedAt    string
}
