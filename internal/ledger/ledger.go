// Package ledger provides the append-only store of expiry records. Records
// are never mutated or deleted; the latest record is always the last one
// appended.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the timestamp format used on disk and over the wire.
const TimeLayout = "2006-01-02 15:04:05"

// ErrNoRecords is returned when the ledger exists but holds no records.
// It is a normal outcome, not a failure.
var ErrNoRecords = errors.New("no records")

// ErrNoStore is returned when the backing store has not been created yet.
// It wraps ErrNoRecords so callers checking for an empty ledger match both.
var ErrNoStore = fmt.Errorf("store not created: %w", ErrNoRecords)

// Timestamp is a second-resolution wall-clock time that marshals to the
// TimeLayout format.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole seconds so a record survives a
// marshal/unmarshal round trip field-for-field.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.Truncate(time.Second)}
}

// MarshalJSON formats the timestamp as a TimeLayout string.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(TimeLayout) + `"`), nil
}

// UnmarshalJSON parses a TimeLayout string in local time.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid timestamp: %s", s)
	}
	parsed, err := time.ParseInLocation(TimeLayout, s[1:len(s)-1], time.Local)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	t.Time = parsed
	return nil
}

// String returns the TimeLayout representation.
func (t Timestamp) String() string {
	return t.Format(TimeLayout)
}

// Record is a single classification event: what was recognized, when, and how
// long it keeps. Immutable once appended.
type Record struct {
	// Seq is a monotonic sequence number assigned by the ledger on append.
	// It is derived from storage position and not part of the wire format.
	Seq        int64     `json:"-"`
	Fruit      string    `json:"fruit"`
	AddedAt    Timestamp `json:"added_date"`
	ExpiryAt   Timestamp `json:"expiry_date"`
	ExpiryDays int       `json:"expiry_days"`
}

// NewRecord builds a record for a canonical produce name. The expiry time is
// always AddedAt plus exactly expiryDays days.
func NewRecord(fruit string, now time.Time, expiryDays int) Record {
	added := NewTimestamp(now)
	return Record{
		Fruit:      fruit,
		AddedAt:    added,
		ExpiryAt:   NewTimestamp(added.AddDate(0, 0, expiryDays)),
		ExpiryDays: expiryDays,
	}
}

// Ledger is the append-only record store. Append assigns the record's Seq.
// Implementations must serialize appends so concurrent requests cannot drop
// records, and reads must never observe a partially written state.
type Ledger interface {
	Append(ctx context.Context, rec *Record) error
	Latest(ctx context.Context) (Record, error)
	All(ctx context.Context) ([]Record, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open creates a ledger for the configured backend.
func Open(backend, path string) (Ledger, error) {
	switch backend {
	case "sqlite":
		return NewSQLiteLedger(path)
	case "json", "":
		return NewFileLedger(path), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend: %q", backend)
	}
}
