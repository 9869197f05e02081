package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"ticketscan/internal"
)

var ErrNotFound = errors.New("not found")

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Ticket workers write concurrently; a single connection serializes them.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS emails (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS tickets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  emailId INTEGER,
  source TEXT NOT NULL,
  name TEXT NOT NULL,
  hash TEXT NOT NULL,
  rawText TEXT NOT NULL,
  normalizedText TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(emailId) REFERENCES emails(id)
);
CREATE INDEX IF NOT EXISTS idx_tickets_emailId ON tickets(emailId);

CREATE TABLE IF NOT EXISTS entries (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ticketId INTEGER NOT NULL,
  seq INTEGER NOT NULL,
  customer TEXT NOT NULL,
  address TEXT NOT NULL,
  product TEXT NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 1,
  completed TEXT NOT NULL DEFAULT 'N' CHECK (completed IN ('Y', 'N')),
  completedAt TEXT,
  UNIQUE(ticketId, seq),
  FOREIGN KEY(ticketId) REFERENCES tickets(id)
);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  emailId INTEGER,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(emailId) REFERENCES emails(id)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

const emailColumns = `id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef`

type scanner interface {
	Scan(dest ...any) error
}

func scanEmail(s scanner) (internal.EmailRow, error) {
	var row internal.EmailRow
	err := s.Scan(&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef)
	return row, err
}

func (d *DB) UpsertEmail(provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.EmailRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO emails (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
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
		return internal.EmailRow{}, err
	}

	row, err := d.GetEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, errors.New("failed to upsert email")
	}
	return *row, nil
}

func (d *DB) GetEmailByProviderMessageID(provider, messageID string) (*internal.EmailRow, error) {
	row, err := scanEmail(d.conn.QueryRow(`SELECT `+emailColumns+` FROM emails WHERE provider = ? AND messageId = ?`, provider, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) GetEmailByID(id int) (*internal.EmailRow, error) {
	row, err := scanEmail(d.conn.QueryRow(`SELECT `+emailColumns+` FROM emails WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListEmailsByStatus returns emails in the given status, oldest first.
// An empty provider matches every provider.
func (d *DB) ListEmailsByStatus(status, provider string, limit int) ([]internal.EmailRow, error) {
	rows, err := d.conn.Query(`SELECT `+emailColumns+` FROM emails WHERE status = ? AND (? = '' OR provider = ?) ORDER BY receivedAt ASC, id ASC LIMIT ?`, status, provider, provider, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.EmailRow
	for rows.Next() {
		row, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateEmailStatus(emailID int, status string) error {
	res, err := d.conn.Exec(`UPDATE emails SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, emailID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("email %d: %w", emailID, ErrNotFound)
	}
	return nil
}

// ClearEmailProcessing drops the tickets and entries of an email so it can be reprocessed.
func (d *DB) ClearEmailProcessing(emailID int) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM entries WHERE ticketId IN (SELECT id FROM tickets WHERE emailId = ?)`, emailID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM tickets WHERE emailId = ?`, emailID); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) InsertTicket(t internal.TicketRow) (int, error) {
	result, err := d.conn.Exec(`
INSERT INTO tickets (emailId, source, name, hash, rawText, normalizedText)
VALUES (?, ?, ?, ?, ?, ?)
`, nullableInt(t.EmailID), t.Source, t.Name, t.Hash, t.RawText, t.NormalizedText)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	return int(id), err
}

func (d *DB) GetTicket(id int) (*internal.TicketRow, error) {
	var t internal.TicketRow
	err := d.conn.QueryRow(`
SELECT id, emailId, source, name, hash, rawText, normalizedText, createdAt
FROM tickets WHERE id = ?
`, id).Scan(&t.ID, &t.EmailID, &t.Source, &t.Name, &t.Hash, &t.RawText, &t.NormalizedText, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertEntries stores entries in scan order; seq starts at 1.
func (d *DB) InsertEntries(ticketID int, entries []internal.Entry) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO entries (ticketId, seq, customer, address, product, quantity, completed)
VALUES (?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range entries {
		completed := e.Completed
		if !completed.Valid() {
			completed = internal.CompletedNo
		}
		if _, err := stmt.Exec(ticketID, i+1, e.Customer, e.Address, e.Product, e.Quantity, string(completed)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) ListEntries(ticketID int) ([]internal.EntryRow, error) {
	rows, err := d.conn.Query(`
SELECT id, ticketId, seq, customer, address, product, quantity, completed, completedAt
FROM entries WHERE ticketId = ? ORDER BY seq ASC
`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.EntryRow{}
	for rows.Next() {
		var r internal.EntryRow
		var completed string
		if err := rows.Scan(&r.ID, &r.TicketID, &r.Seq, &r.Entry.Customer, &r.Entry.Address, &r.Entry.Product, &r.Entry.Quantity, &completed, &r.CompletedAt); err != nil {
			return nil, err
		}
		r.Entry.Completed = internal.CompletedFlag(completed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetEntryCompleted flips the completion flag; completedAt follows it.
func (d *DB) SetEntryCompleted(entryID int, done bool) error {
	var (
		res sql.Result
		err error
	)
	if done {
		res, err = d.conn.Exec(`UPDATE entries SET completed = 'Y', completedAt = CURRENT_TIMESTAMP WHERE id = ?`, entryID)
	} else {
		res, err = d.conn.Exec(`UPDATE entries SET completed = 'N', completedAt = NULL WHERE id = ?`, entryID)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
	}
	return nil
}

func (d *DB) InsertRun(traceID string, emailID *int, timings map[string]float64, counts map[string]int) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.Exec(`INSERT INTO runs (traceId, emailId, timingsJson, countsJson) VALUES (?, ?, ?, ?)`, traceID, nullableInt(emailID), string(timingsJSON), string(countsJSON))
	return err
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

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

const exportQuery = `
SELECT
  t.id,
  t.emailId,
  t.source,
  t.name,
  e.id,
  e.seq,
  e.customer,
  e.address,
  e.product,
  e.quantity,
  e.completed,
  e.completedAt
FROM entries e
JOIN tickets t ON t.id = e.ticketId
`

func (d *DB) GetExportRowsByEmail(emailID int) ([]internal.EntryExportRow, error) {
	return d.exportRows(exportQuery+`WHERE t.emailId = ? ORDER BY t.id ASC, e.seq ASC`, emailID)
}

func (d *DB) GetExportRowsByTicket(ticketID int) ([]internal.EntryExportRow, error) {
	return d.exportRows(exportQuery+`WHERE t.id = ? ORDER BY e.seq ASC`, ticketID)
}

func (d *DB) exportRows(query string, args ...any) ([]internal.EntryExportRow, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.EntryExportRow
	for rows.Next() {
		var row internal.EntryExportRow
		if err := rows.Scan(
			&row.TicketID,
			&row.EmailID,
			&row.Source,
			&row.DocumentName,
			&row.EntryID,
			&row.Seq,
			&row.Customer,
			&row.Address,
			&row.Product,
			&row.Quantity,
			&row.Completed,
			&row.CompletedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

func (d *DB) MustEmailByProviderMessageID(provider, messageID string) (internal.EmailRow, error) {
	row, err := d.GetEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, fmt.Errorf("email provider=%s messageId=%s: %w", provider, messageID, ErrNotFound)
	}
	return *row, nil
}
