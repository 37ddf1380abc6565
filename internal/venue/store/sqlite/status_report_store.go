package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/venuegate/server/internal/db"
	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

type StatusReportStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewStatusReportStore(db *sql.DB, writer *dbpkg.Worker) *StatusReportStore {
	return &StatusReportStore{db: db, writer: writer}
}

func (s *StatusReportStore) AppendStatusReport(ctx context.Context, r store.StatusReport) error {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return err
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO device_status_reports(tenant_id, device_id, received_at_ms, task, firmware, system_info)
SELECT tenant_id, device_id, ?, ?, ?, ?
FROM devices
WHERE device_id = ? AND tenant_id = ?;
`,
			r.ReceivedAt.UTC().UnixMilli(), int(r.Task),
			strings.TrimSpace(r.Firmware), r.SystemInfo,
			r.DeviceID, tid,
		); err != nil {
			return fmt.Errorf("AppendStatusReport insert: %w", err)
		}
		return nil
	})
}

func (s *StatusReportStore) PruneStatusReports(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM device_status_reports WHERE received_at_ms < ?;`, cutoff.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("PruneStatusReports delete: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
