package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// APIToken for the demo tenant; defaults to "dev-token".
	APIToken string
	// Timezone for the demo tenant; empty uses the server default.
	Timezone string
}

// SeedDev inserts a demo venue: one tenant, a pool area, an entry
// controller bound to it, a relay switch and the DEMO-001 credential.
// Re-running it is a no-op.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	if opt.APIToken == "" {
		opt.APIToken = "dev-token"
	}
	now := time.Now().UTC().UnixMilli()

	stmts := []struct {
		name string
		sql  string
		args []any
	}{
		{"tenant", `
INSERT OR IGNORE INTO tenants(tenant_id, name, subdomain, api_token, active, timezone, created_at_ms)
VALUES (1, 'Demo Venue', 'demo', ?, 1, ?, ?);`, []any{opt.APIToken, opt.Timezone, now}},
		{"area", `
INSERT OR IGNORE INTO areas(area_id, tenant_id, name, person_limit, allow_reentry)
VALUES (1, 1, 'Pool', 250, 0);`, nil},
		{"controller", `
INSERT OR IGNORE INTO devices(device_id, tenant_id, name, kind, active, entry_area_id, allow_reentry, updated_at_ms)
VALUES (1, 1, 'Pool Turnstile', 'ACCESS_CONTROLLER', 1, 1, 0, ?);`, []any{now}},
		{"relay", `
INSERT OR IGNORE INTO devices(device_id, tenant_id, name, kind, active, exit_area_id, ip_address, updated_at_ms)
VALUES (2, 1, 'Pool Exit Gate', 'RELAY_SWITCH', 1, 1, '', ?);`, []any{now}},
		{"credential", `
INSERT OR IGNORE INTO credentials(credential_id, tenant_id, name, ticket_type, barcode, status, validity, access_area_id, created_at_ms)
VALUES (1, 1, 'Demo Day Pass', 'DAY', 'DEMO-001', 'VALID', 'DATE_RANGE', 1, ?);`, []any{now}},
		{"monitor", `
INSERT OR IGNORE INTO monitors(monitor_id, tenant_id, name, token, active, device_ids, area_ids)
VALUES (1, 1, 'Pool Entrance', 'dev-monitor', 1, '[]', '[1]');`, nil},
	}

	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s.sql, s.args...); err != nil {
			return fmt.Errorf("seed %s: %w", s.name, err)
		}
	}
	return nil
}
