package sqlitex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode             = 5
	sqliteConstraintUniqueCode = 2067
	sqliteConstraintPKCode     = 1555

	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// TimeLayout is the fixed-width UTC layout used for every persisted timestamp.
// Fixed width keeps lexical ordering equal to chronological ordering.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Open connects to the SQLite database at path. WAL, foreign keys and the busy
// timeout are applied on every pooled connection, and transactions take the
// write lock up front.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_txlock", "immediate")
	dsn := "file:" + path + "?" + params.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

// EnsureContext substitutes context.Background for a nil context.
func EnsureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

type coder interface{ Code() int }

// IsBusy reports whether err is SQLITE_BUSY or a locked database.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var c coder
	if errors.As(err, &c) && c.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var c coder
	if errors.As(err, &c) {
		switch c.Code() {
		case sqliteConstraintUniqueCode, sqliteConstraintPKCode:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// RetryOnBusy runs op, retrying with exponential backoff while SQLite reports busy.
func RetryOnBusy(ctx context.Context, op func() error) error {
	ctx = EnsureContext(ctx)
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Exec executes a statement with busy retry.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	ctx = EnsureContext(ctx)
	var res sql.Result
	err := RetryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// WithTx runs fn inside a transaction, retrying the whole transaction on busy.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	ctx = EnsureContext(ctx)
	return RetryOnBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// InitSchema creates the schema on a fresh database and verifies the recorded
// version on an existing one. versionTable holds a single version row.
func InitSchema(ctx context.Context, db *sql.DB, versionTable, schema string, version int, mismatch error) error {
	ctx = EnsureContext(ctx)
	var tableExists int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", versionTable,
	).Scan(&tableExists); err != nil {
		return fmt.Errorf("check %s table: %w", versionTable, err)
	}

	if tableExists == 0 {
		return WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, schema); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO "+versionTable+" (version) VALUES (?)", version); err != nil {
				return fmt.Errorf("record schema version: %w", err)
			}
			return nil
		})
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT version FROM "+versionTable+" LIMIT 1").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current != version {
		return fmt.Errorf("%w: database has version %d, expected %d", mismatch, current, version)
	}
	return nil
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Now returns the current time formatted for storage.
func Now() string {
	return FormatTime(time.Now())
}

// ParseTime parses a stored timestamp. RFC3339 values written by other tools
// are accepted as well.
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(TimeLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

// NullableTime converts a nullable column into a *time.Time.
func NullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := ParseTime(value.String)
	if err != nil {
		return nil
	}
	return &t
}

// TimeArg converts an optional time into a bind argument.
func TimeArg(value *time.Time) any {
	if value == nil {
		return nil
	}
	return FormatTime(*value)
}

// NullableString binds empty strings as NULL.
func NullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// Placeholders returns "?,?,..." with count entries.
func Placeholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
