package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"grantledger/internal"
	"grantledger/internal/ledger"
)

type DB struct {
	conn *sql.DB
}

// dsn enables WAL and foreign keys, waits on locks instead of failing, and
// starts every transaction with BEGIN IMMEDIATE so read-modify-write
// sequences hold the write lock from their first read.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := RunMigrations(dsn(path)); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &DB{conn: conn}, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Grants

const grantColumns = `id, name, totalBalance, allocatedCost, netAmount, allowedItems, createdAt, updatedAt`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanGrant treats a NULL allocation as nothing allocated yet. An unreadable
// allowedItems column is an error so a grant never loses its rules.
func scanGrant(row rowScanner) (internal.Grant, error) {
	var (
		g                    internal.Grant
		allocated, net       sql.NullFloat64
		allowed              string
		createdAt, updatedAt string
	)
	if err := row.Scan(&g.ID, &g.Name, &g.TotalBalance, &allocated, &net, &allowed, &createdAt, &updatedAt); err != nil {
		return internal.Grant{}, err
	}
	g.AllocatedCost = allocated.Float64
	g.NetAmount = net.Float64
	if !allocated.Valid || !net.Valid {
		g.NetAmount = g.TotalBalance - g.AllocatedCost
	}
	if err := json.Unmarshal([]byte(allowed), &g.AllowedItems); err != nil {
		return internal.Grant{}, fmt.Errorf("grant %s: decode allowed items: %w", g.ID, err)
	}
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	return g, nil
}

func allowedJSON(items []string) string {
	if items == nil {
		items = []string{}
	}
	blob, _ := json.Marshal(items)
	return string(blob)
}

func (d *DB) CreateGrant(ctx context.Context, g internal.Grant) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO grants (id, name, totalBalance, allocatedCost, netAmount, allowedItems, createdAt, updatedAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, g.ID, g.Name, g.TotalBalance, g.AllocatedCost, g.NetAmount, allowedJSON(g.AllowedItems), formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s / %s", ledger.ErrDuplicateGrant, g.ID, g.Name)
	}
	return err
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

func (d *DB) GrantByName(ctx context.Context, name string) (internal.Grant, error) {
	g, err := scanGrant(d.conn.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return internal.Grant{}, fmt.Errorf("%w: %s", ledger.ErrGrantNotFound, name)
	}
	return g, err
}

func (d *DB) GrantByID(ctx context.Context, id string) (internal.Grant, error) {
	g, err := scanGrant(d.conn.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return internal.Grant{}, fmt.Errorf("%w: id %s", ledger.ErrGrantNotFound, id)
	}
	return g, err
}

func (d *DB) ListGrants(ctx context.Context) ([]internal.Grant, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT `+grantColumns+` FROM grants ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateGrant runs fn against the current row inside one immediate
// transaction and persists the result together with its journal entry.
func (d *DB) UpdateGrant(ctx context.Context, name string, fn ledger.Mutation) (internal.Grant, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return internal.Grant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	g, err := scanGrant(tx.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return internal.Grant{}, fmt.Errorf("%w: %s", ledger.ErrGrantNotFound, name)
	}
	if err != nil {
		return internal.Grant{}, err
	}

	id := g.ID
	entry, err := fn(&g)
	if err != nil {
		return internal.Grant{}, err
	}
	g.ID = id

	if _, err := tx.ExecContext(ctx, `
UPDATE grants SET totalBalance = ?, allocatedCost = ?, netAmount = ?, allowedItems = ?, updatedAt = ?
WHERE id = ?
`, g.TotalBalance, g.AllocatedCost, g.NetAmount, allowedJSON(g.AllowedItems), formatTime(g.UpdatedAt), id); err != nil {
		return internal.Grant{}, err
	}

	if entry != nil {
		entry.GrantID = id
		if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger_entries (id, grantId, kind, amount, allocatedAfter, netAfter, note, createdAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, entry.ID, id, string(entry.Kind), entry.Amount, entry.AllocatedAfter, entry.NetAfter, entry.Note, formatTime(entry.CreatedAt)); err != nil {
			return internal.Grant{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return internal.Grant{}, err
	}
	return g, nil
}

func (d *DB) DeleteGrant(ctx context.Context, id string) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM grants WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) Entries(ctx context.Context, grantID string) ([]internal.LedgerEntry, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, grantId, kind, amount, allocatedAfter, netAfter, note, createdAt
FROM ledger_entries WHERE grantId = ? ORDER BY rowid ASC
`, grantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.LedgerEntry
	for rows.Next() {
		var e internal.LedgerEntry
		var kind, createdAt string
		if err := rows.Scan(&e.ID, &e.GrantID, &kind, &e.Amount, &e.AllocatedAfter, &e.NetAfter, &e.Note, &createdAt); err != nil {
			return nil, err
		}
		e.Kind = internal.LedgerEntryKind(kind)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Inbox

const messageColumns = `id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef`

func scanMessage(row rowScanner) (internal.InboxMessage, error) {
	var m internal.InboxMessage
	var subject, sender, receivedAt sql.NullString
	err := row.Scan(&m.ID, &m.Provider, &m.MessageID, &subject, &sender, &receivedAt, &m.Hash, &m.Status, &m.RawRef)
	m.Subject, m.Sender, m.ReceivedAt = subject.String, sender.String, receivedAt.String
	return m, err
}

func (d *DB) UpsertMessage(provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.InboxMessage, error) {
	_, err := d.conn.Exec(`
INSERT INTO inbox_messages (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, hash, status, rawRef)
	if err != nil {
		return internal.InboxMessage{}, err
	}

	row, err := d.GetMessageByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.InboxMessage{}, err
	}
	if row == nil {
		return internal.InboxMessage{}, errors.New("failed to upsert message")
	}
	return *row, nil
}

func (d *DB) GetMessageByProviderMessageID(provider, messageID string) (*internal.InboxMessage, error) {
	m, err := scanMessage(d.conn.QueryRow(`SELECT `+messageColumns+` FROM inbox_messages WHERE provider = ? AND messageId = ?`, provider, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (d *DB) GetMessageByID(id int) (*internal.InboxMessage, error) {
	m, err := scanMessage(d.conn.QueryRow(`SELECT `+messageColumns+` FROM inbox_messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (d *DB) MustMessageByProviderMessageID(provider, messageID string) (internal.InboxMessage, error) {
	row, err := d.GetMessageByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.InboxMessage{}, err
	}
	if row == nil {
		return internal.InboxMessage{}, fmt.Errorf("message not found: provider=%s messageId=%s", provider, messageID)
	}
	return *row, nil
}

func (d *DB) ListMessagesByStatus(status string, limit int) ([]internal.InboxMessage, error) {
	rows, err := d.conn.Query(`SELECT `+messageColumns+` FROM inbox_messages WHERE status = ? ORDER BY receivedAt ASC, id ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.InboxMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *DB) UpdateMessageStatus(id int, status string) error {
	_, err := d.conn.Exec(`UPDATE inbox_messages SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

// Import runs

func (d *DB) InsertImportRun(run internal.ImportRun) (int64, error) {
	res, err := d.conn.Exec(`
INSERT INTO import_runs (traceId, messageId, source, tablesCount, rowsCount, coercedCells, totalCost, reportPath)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, run.TraceID, run.MessageID, run.Source, run.Tables, run.Rows, run.CoercedCells, run.TotalCost, run.ReportPath)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *DB) ListImportRuns(limit int) ([]internal.ImportRun, error) {
	rows, err := d.conn.Query(`
SELECT id, traceId, messageId, source, tablesCount, rowsCount, coercedCells, totalCost, reportPath, createdAt
FROM import_runs ORDER BY id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ImportRun
	for rows.Next() {
		var run internal.ImportRun
		if err := rows.Scan(&run.ID, &run.TraceID, &run.MessageID, &run.Source, &run.Tables, &run.Rows, &run.CoercedCells, &run.TotalCost, &run.ReportPath, &run.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Metadata

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

var _ ledger.Store = (*DB)(nil)
