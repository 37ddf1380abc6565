package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/venuegate/server/internal/db"
	"github.com/venuegate/server/internal/venue/tenant"
)

// openTestDB returns an in-memory SQLite connection with the production
// PRAGMAs and schema. Closed automatically when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Shared cache keeps the database alive while the pool recycles its
	// single connection.
	conn, err := sql.Open("sqlite", db.DSN(fmt.Sprintf("file:test_%s?mode=memory&cache=shared", t.Name())))
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}
	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn, closed at test end.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

func scoped(id int64) context.Context {
	return tenant.WithScope(context.Background(), tenant.Scope{TenantID: id})
}

func mustExec(t *testing.T, conn *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

// seedVenue creates tenants 1 and 2, area 1 (tenant 1), an entry
// controller (device 1, entry area 1), an exit relay (device 2, exit area 1)
// and a controller owned by tenant 2 (device 3).
func seedVenue(t *testing.T, conn *sql.DB) {
	t.Helper()
	mustExec(t, conn, `INSERT INTO tenants(tenant_id, name, subdomain, api_token, active, timezone, created_at_ms)
VALUES (1, 'Lido', 'lido', 'tok-1', 1, 'Europe/Berlin', 0), (2, 'Other', 'other', 'tok-2', 0, '', 0);`)
	mustExec(t, conn, `INSERT INTO areas(area_id, tenant_id, name, person_limit) VALUES (1, 1, 'Pool', 100);`)
	mustExec(t, conn, `INSERT INTO devices(device_id, tenant_id, name, kind, entry_area_id, updated_at_ms)
VALUES (1, 1, 'Turnstile', 'ACCESS_CONTROLLER', 1, 0);`)
	mustExec(t, conn, `INSERT INTO devices(device_id, tenant_id, name, kind, exit_area_id, ip_address, cloud_id, updated_at_ms)
VALUES (2, 1, 'Exit relay', 'RELAY_SWITCH', 1, '10.0.0.9', 'a1b2c3_2', 0);`)
	mustExec(t, conn, `INSERT INTO devices(device_id, tenant_id, name, kind, updated_at_ms)
VALUES (3, 2, 'Foreign', 'ACCESS_CONTROLLER', 0);`)
}
