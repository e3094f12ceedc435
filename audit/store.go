package audit

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrDuplicateEvent = errors.New("audit record already exists")
	ErrBrokenSeal     = errors.New("audit record does not match its hash")
)

// Log is an append-only sequence of sealed records. Records are never
// updated or removed.
type Log interface {
	Append(r Record) error
	// Records returns every record in append order.
	Records() ([]Record, error)
}

// checkAppend rejects records that are unsealed or tampered with.
func checkAppend(r Record) error {
	ok, err := VerifyRecord(r)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBrokenSeal, r.EventID)
	}
	return nil
}

type MemLog struct {
	mu      sync.Mutex
	records []Record
	ids     map[string]bool
}

func NewMemLog() *MemLog {
	return &MemLog{ids: map[string]bool{}}
}

func (l *MemLog) Append(r Record) error {
	if err := checkAppend(r); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ids[r.EventID] {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, r.EventID)
	}
	l.ids[r.EventID] = true
	l.records = append(l.records, r)
	return nil
}

func (l *MemLog) Records() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...), nil
}

// The triggers make the table append-only for every writer, not just this
// package.
const createAuditTables = `
CREATE TABLE IF NOT EXISTS tax_audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT UNIQUE NOT NULL,
	timestamp TEXT NOT NULL,
	calculation_hash TEXT NOT NULL,
	inputs TEXT NOT NULL,
	outputs TEXT NOT NULL,
	created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tax_audit_timestamp ON tax_audit_log(timestamp);
CREATE TRIGGER IF NOT EXISTS tax_audit_log_no_update
BEFORE UPDATE ON tax_audit_log
BEGIN
	SELECT RAISE(ABORT, 'tax_audit_log is append-only');
END;
CREATE TRIGGER IF NOT EXISTS tax_audit_log_no_delete
BEFORE DELETE ON tax_audit_log
BEGIN
	SELECT RAISE(ABORT, 'tax_audit_log is append-only');
END;
`

// SqliteLog is a Log in a SQLite database. Inputs and outputs are stored as
// canonical JSON, so records read back verify against their stored hash.
type SqliteLog struct {
	db *sql.DB
}

// OpenSqliteLog opens (creating if needed) the audit log at path.
func OpenSqliteLog(path string) (*SqliteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("Failed to open audit log at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createAuditTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("Failed to migrate audit log at %s: %w", path, err)
	}
	return &SqliteLog{db: db}, nil
}

func (l *SqliteLog) Close() error {
	return l.db.Close()
}

func (l *SqliteLog) Append(r Record) error {
	if err := checkAppend(r); err != nil {
		return err
	}
	inputs, err := CanonicalJSON(r.Inputs)
	if err != nil {
		return err
	}
	outputs, err := CanonicalJSON(r.Outputs)
	if err != nil {
		return err
	}

	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRow("SELECT COUNT(*) FROM tax_audit_log WHERE event_id = ?", r.EventID).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, r.EventID)
	}
	_, err = tx.Exec(
		`INSERT INTO tax_audit_log (event_id, timestamp, calculation_hash, inputs, outputs)
		VALUES (?, ?, ?, ?, ?)`,
		r.EventID, r.Timestamp.UTC().Format(time.RFC3339Nano), r.Hash, string(inputs), string(outputs))
	if err != nil {
		return fmt.Errorf("Failed to append audit record %s: %w", r.EventID, err)
	}
	return tx.Commit()
}

func (l *SqliteLog) Records() ([]Record, error) {
	rows, err := l.db.Query(
		"SELECT event_id, timestamp, calculation_hash, inputs, outputs FROM tax_audit_log ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var ts, inputs, outputs string
		if err := rows.Scan(&r.EventID, &ts, &r.Hash, &inputs, &outputs); err != nil {
			return nil, err
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("Corrupt timestamp on audit record %s: %w", r.EventID, err)
		}
		if r.Inputs, err = decodeCanonical([]byte(inputs)); err != nil {
			return nil, fmt.Errorf("Corrupt inputs on audit record %s: %w", r.EventID, err)
		}
		if r.Outputs, err = decodeCanonical([]byte(outputs)); err != nil {
			return nil, fmt.Errorf("Corrupt outputs on audit record %s: %w", r.EventID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
