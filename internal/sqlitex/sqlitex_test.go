package sqlitex_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"photonix/internal/sqlitex"
)

var errMismatch = errors.New("mismatch")

func TestInitSchemaCreatesAndVerifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := sqlitex.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	schema := `CREATE TABLE things (id TEXT PRIMARY KEY); CREATE TABLE things_version (version INTEGER NOT NULL);`
	if err := sqlitex.InitSchema(ctx, db, "things_version", schema, 1, errMismatch); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	if err := sqlitex.InitSchema(ctx, db, "things_version", schema, 1, errMismatch); err != nil {
		t.Fatalf("InitSchema on existing db: %v", err)
	}
	if err := sqlitex.InitSchema(ctx, db, "things_version", schema, 2, errMismatch); !errors.Is(err, errMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db, err := sqlitex.Open(filepath.Join(t.TempDir(), "unique.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := sqlitex.Exec(ctx, db, `CREATE TABLE t (k TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := sqlitex.Exec(ctx, db, `INSERT INTO t (k) VALUES ('a')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = sqlitex.Exec(ctx, db, `INSERT INTO t (k) VALUES ('a')`)
	if !sqlitex.IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if sqlitex.IsBusy(err) {
		t.Fatal("constraint failure must not be reported as busy")
	}
}

func TestTimeRoundTripPreservesOrdering(t *testing.T) {
	a := time.Date(2026, 1, 2, 3, 4, 5, 100_000_000, time.UTC)
	b := a.Add(20 * time.Millisecond)
	sa, sb := sqlitex.FormatTime(a), sqlitex.FormatTime(b)
	if len(sa) != len(sb) || sa >= sb {
		t.Fatalf("expected fixed-width increasing timestamps, got %q %q", sa, sb)
	}
	parsed, err := sqlitex.ParseTime(sa)
	if err != nil || !parsed.Equal(a) {
		t.Fatalf("parse mismatch: %v %v", parsed, err)
	}
}

func TestRetryOnBusyStopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := sqlitex.RetryOnBusy(context.Background(), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single attempt with boom, got %d %v", calls, err)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := sqlitex.Placeholders(3); got != "?,?,?" {
		t.Fatalf("unexpected placeholders %q", got)
	}
	if got := sqlitex.Placeholders(0); got != "" {
		t.Fatalf("expected empty placeholders, got %q", got)
	}
}
