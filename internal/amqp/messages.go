package amqp

import (
	"encoding/json"
	"time"

	"grantledger/internal"
	"grantledger/internal/ledger"
)

// LedgerMessage is the JSON body published for every committed ledger change.
type LedgerMessage struct {
	Event         string    `json:"event"`
	GrantID       string    `json:"grant_id"`
	GrantName     string    `json:"grant_name"`
	TotalBalance  float64   `json:"total_balance"`
	AllocatedCost float64   `json:"allocated_cost"`
	NetAmount     float64   `json:"net_amount"`
	EntryID       string    `json:"entry_id,omitempty"`
	Amount        *float64  `json:"amount,omitempty"`
	Note          string    `json:"note,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewLedgerMessage(ev ledger.Event) *LedgerMessage {
	msg := &LedgerMessage{
		Event:         string(ev.Kind),
		GrantID:       ev.Grant.ID,
		GrantName:     ev.Grant.Name,
		TotalBalance:  ev.Grant.TotalBalance,
		AllocatedCost: ev.Grant.AllocatedCost,
		NetAmount:     ev.Grant.NetAmount,
		Timestamp:     ev.At,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if ev.Entry != nil {
		amount := ev.Entry.Amount
		msg.EntryID = ev.Entry.ID
		msg.Amount = &amount
		msg.Note = ev.Entry.Note
	}
	return msg
}

func (m *LedgerMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerMessageFromJSON(data []byte) (*LedgerMessage, error) {
	var msg LedgerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ImportMessage is published once per finished import run.
type ImportMessage struct {
	Event        string    `json:"event"`
	TraceID      string    `json:"trace_id"`
	MessageID    *int      `json:"message_id,omitempty"`
	Source       string    `json:"source"`
	Tables       int       `json:"tables"`
	Rows         int       `json:"rows"`
	CoercedCells int       `json:"coerced_cells"`
	TotalCost    float64   `json:"total_cost"`
	ReportPath   string    `json:"report_path,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewImportMessage(run internal.ImportRun) *ImportMessage {
	msg := &ImportMessage{
		Event:        "import",
		TraceID:      run.TraceID,
		MessageID:    run.MessageID,
		Source:       run.Source,
		Tables:       run.Tables,
		Rows:         run.Rows,
		CoercedCells: run.CoercedCells,
		TotalCost:    run.TotalCost,
		Timestamp:    time.Now().UTC(),
	}
	if run.ReportPath != nil {
		msg.ReportPath = *run.ReportPath
	}
	return msg
}

func (m *ImportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
