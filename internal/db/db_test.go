package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/venuegate/server/internal/db"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite", db.DSN("file:dbtest_"+t.Name()+"?mode=memory&cache=shared"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrate_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := openMemory(t)

	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion(ctx, conn)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("expected schema version 1, got %d", v)
	}
}

func TestSeedDev_TwiceKeepsOneTenant(t *testing.T) {
	ctx := context.Background()
	conn := openMemory(t)
	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{}); err != nil {
			t.Fatalf("seed #%d: %v", i+1, err)
		}
	}

	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM tenants;").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 tenant, got %d", n)
	}

	var barcode string
	if err := conn.QueryRow("SELECT barcode FROM credentials WHERE credential_id = 1;").Scan(&barcode); err != nil {
		t.Fatalf("credential: %v", err)
	}
	if barcode != "DEMO-001" {
		t.Errorf("expected DEMO-001, got %q", barcode)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Worker
// ═══════════════════════════════════════════════════════════════════════════

func TestWorker_CommitsAndRollsBack(t *testing.T) {
	ctx := context.Background()
	conn := openMemory(t)
	if _, err := conn.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT);"); err != nil {
		t.Fatalf("create: %v", err)
	}

	w := db.NewWorker(conn)
	defer w.Close()

	if err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO kv VALUES ('a', '1');")
		return err
	}); err != nil {
		t.Fatalf("commit job: %v", err)
	}

	boom := errors.New("boom")
	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO kv VALUES ('b', '2');"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM kv;").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected only the committed row, got %d rows", n)
	}
}

func TestWorker_DoAfterClose(t *testing.T) {
	conn := openMemory(t)
	w := db.NewWorker(conn)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	if !errors.Is(err, db.ErrWorkerClosed) {
		t.Fatalf("expected ErrWorkerClosed, got %v", err)
	}
}
