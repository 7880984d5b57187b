package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 1

// SQLiteLedger stores records in a SQLite table. SQLite serializes writers
// itself, so appends get the same no-drop guarantee as the file backend
// without an in-process mutex, and Latest is an indexed lookup instead of a
// full reload.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (or creates) the database at path and applies
// migrations.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// migrate applies schema migrations incrementally via PRAGMA user_version.
func (l *SQLiteLedger) migrate() error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}

	for version < schemaVersion {
		version++
		switch version {
		case 1:
			if _, err := tx.Exec(`
				CREATE TABLE expiry_records (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					fruit TEXT NOT NULL,
					added_at TEXT NOT NULL,
					expiry_at TEXT NOT NULL,
					expiry_days INTEGER NOT NULL
				)
			`); err != nil {
				return fmt.Errorf("failed to apply schema v%d: %w", version, err)
			}
		default:
			return fmt.Errorf("unknown schema version: %d", version)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Append inserts the record and assigns its Seq from the rowid.
func (l *SQLiteLedger) Append(ctx context.Context, rec *Record) error {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO expiry_records (fruit, added_at, expiry_at, expiry_days)
		VALUES (?, ?, ?, ?)
	`, rec.Fruit, rec.AddedAt.Format(TimeLayout), rec.ExpiryAt.Format(TimeLayout), rec.ExpiryDays)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read record id: %w", err)
	}
	rec.Seq = seq
	return nil
}

// Latest returns the record with the highest sequence number.
func (l *SQLiteLedger) Latest(ctx context.Context) (Record, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, fruit, added_at, expiry_at, expiry_days
		FROM expiry_records
		ORDER BY id DESC
		LIMIT 1
	`)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoRecords
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read latest record: %w", err)
	}
	return rec, nil
}

// All returns the full history in append order.
func (l *SQLiteLedger) All(ctx context.Context) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, fruit, added_at, expiry_at, expiry_days
		FROM expiry_records
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of records.
func (l *SQLiteLedger) Count(ctx context.Context) (int, error) {
	var count int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM expiry_records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var addedAt, expiryAt string
	if err := row.Scan(&rec.Seq, &rec.Fruit, &addedAt, &expiryAt, &rec.ExpiryDays); err != nil {
		return Record{}, err
	}

	added, err := time.ParseInLocation(TimeLayout, addedAt, time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("invalid added_at %q: %w", addedAt, err)
	}
	expiry, err := time.ParseInLocation(TimeLayout, expiryAt, time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("invalid expiry_at %q: %w", expiryAt, err)
	}
	rec.AddedAt = Timestamp{added}
	rec.ExpiryAt = Timestamp{expiry}
	return rec, nil
}
