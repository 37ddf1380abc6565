package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	dbpkg "github.com/venuegate/server/internal/db"
	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

// Ledger is the scans table. Appends and credential transitions share one
// write transaction.
type Ledger struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewLedger(db *sql.DB, writer *dbpkg.Worker) *Ledger {
	return &Ledger{db: db, writer: writer}
}

const scanColumns = `scan_id, tenant_id, code, credential_id, device_id, result, reason, scanned_at_ms`

func (l *Ledger) RecordScan(ctx context.Context, scan store.Scan, tr *store.Transition) (store.Scan, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return store.Scan{}, err
	}
	if scan.ScannedAt.IsZero() {
		scan.ScannedAt = time.Now().UTC()
	}
	scan.TenantID = tid

	err = l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM devices WHERE device_id = ? AND tenant_id = ?;`, scan.DeviceID, tid,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("RecordScan device check: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO scans(tenant_id, code, credential_id, device_id, result, reason, scanned_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?);
`,
			tid, scan.Code, nullInt64(scan.CredentialID), scan.DeviceID,
			string(scan.Result), scan.Reason, scan.ScannedAt.UTC().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("RecordScan insert: %w", err)
		}
		if scan.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("RecordScan id: %w", err)
		}

		if tr == nil {
			return nil
		}
		res, err = tx.ExecContext(ctx, `
UPDATE credentials
SET status           = ?,
    first_scan_at_ms = ?,
    version          = version + 1
WHERE credential_id = ? AND tenant_id = ?;
`, string(tr.Status), nullMs(tr.FirstScanAt), tr.CredentialID, tid)
		if err != nil {
			return fmt.Errorf("RecordScan transition: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return store.Scan{}, err
	}
	return scan, nil
}

func (l *Ledger) HasGrantedScan(ctx context.Context, credentialID, deviceID int64) (bool, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return false, err
	}
	var exists int
	err = l.db.QueryRowContext(ctx, `
SELECT EXISTS(
  SELECT 1 FROM scans
  WHERE tenant_id = ? AND credential_id = ? AND device_id = ? AND result = 'GRANTED'
);`, tid, credentialID, deviceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasGrantedScan query: %w", err)
	}
	return exists == 1, nil
}

func (l *Ledger) ScansAfter(ctx context.Context, afterID int64, deviceIDs []int64, limit int) ([]store.Scan, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	filter, args := inClause("device_id", deviceIDs)
	query := `SELECT ` + scanColumns + ` FROM scans
WHERE tenant_id = ? AND scan_id > ? AND ` + filter + `
ORDER BY scan_id ASC
LIMIT ?;`
	all := append([]any{tid, afterID}, args...)
	all = append(all, limitArg(limit))
	return l.query(ctx, "ScansAfter", query, all...)
}

func (l *Ledger) RecentScans(ctx context.Context, deviceIDs []int64, limit int) ([]store.Scan, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	filter, args := inClause("device_id", deviceIDs)
	query := `SELECT ` + scanColumns + ` FROM scans
WHERE tenant_id = ? AND ` + filter + `
ORDER BY scan_id DESC
LIMIT ?;`
	all := append([]any{tid}, args...)
	all = append(all, limitArg(limit))
	scans, err := l.query(ctx, "RecentScans", query, all...)
	if err != nil {
		return nil, err
	}
	slices.Reverse(scans)
	return scans, nil
}

func (l *Ledger) AreaTraffic(ctx context.Context, areaIDs []int64, since time.Time) ([]store.AreaTraffic, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT d.entry_area_id, d.exit_area_id, COUNT(*)
FROM scans s
JOIN devices d ON d.device_id = s.device_id
WHERE s.tenant_id = ?
  AND s.scanned_at_ms >= ?
  AND s.result IN ('GRANTED', 'PROTECTED')
GROUP BY d.entry_area_id, d.exit_area_id;
`, tid, since.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("AreaTraffic query: %w", err)
	}
	defer rows.Close()

	out := make([]store.AreaTraffic, len(areaIDs))
	for i, a := range areaIDs {
		out[i].AreaID = a
	}
	for rows.Next() {
		var (
			entry, exit sql.NullInt64
			n           int
		)
		if err := rows.Scan(&entry, &exit, &n); err != nil {
			return nil, fmt.Errorf("AreaTraffic scan: %w", err)
		}
		for i := range out {
			if entry.Valid && entry.Int64 == out[i].AreaID {
				out[i].Entries += n
			}
			if exit.Valid && exit.Int64 == out[i].AreaID {
				out[i].Exits += n
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("AreaTraffic rows: %w", err)
	}
	return out, nil
}

func (l *Ledger) query(ctx context.Context, op, query string, args ...any) ([]store.Scan, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	var out []store.Scan
	for rows.Next() {
		var (
			sc        store.Scan
			credID    sql.NullInt64
			result    string
			scannedMs int64
		)
		if err := rows.Scan(&sc.ID, &sc.TenantID, &sc.Code, &credID, &sc.DeviceID, &result, &sc.Reason, &scannedMs); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		sc.CredentialID = nullID(credID)
		sc.Result = store.ScanResult(result)
		sc.ScannedAt = time.UnixMilli(scannedMs).UTC()
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}
