package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/venuegate/server/internal/db"
	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

type DeviceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDeviceStore(db *sql.DB, writer *dbpkg.Worker) *DeviceStore {
	return &DeviceStore{db: db, writer: writer}
}

const deviceColumns = `
  device_id, tenant_id, name, kind, active, entry_area_id, exit_area_id, allow_reentry,
  task, relay_output, ip_address, cloud_id, firmware, last_seen_at_ms`

func (s *DeviceStore) DeviceByID(ctx context.Context, id int64) (store.Device, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return store.Device{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = ? AND tenant_id = ?;`, id, tid)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Device{}, store.ErrNotFound
	}
	if err != nil {
		return store.Device{}, fmt.Errorf("DeviceByID query: %w", err)
	}
	return d, nil
}

func (s *DeviceStore) Devices(ctx context.Context, ids []int64) ([]store.Device, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	filter, args := inClause("device_id", ids)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE tenant_id = ? AND `+filter+` ORDER BY device_id;`,
		append([]any{tid}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("Devices query: %w", err)
	}
	defer rows.Close()

	var out []store.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("Devices scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Devices rows: %w", err)
	}
	return out, nil
}

func (s *DeviceStore) SetDeviceTask(ctx context.Context, id int64, task store.Task) error {
	return s.update(ctx, "SetDeviceTask", id, store.KindAccessController,
		`UPDATE devices SET task = ?, updated_at_ms = ? WHERE device_id = ? AND tenant_id = ? AND kind = 'ACCESS_CONTROLLER';`,
		int(task))
}

func (s *DeviceStore) SetRelayOutput(ctx context.Context, id int64, on bool) error {
	return s.update(ctx, "SetRelayOutput", id, store.KindRelaySwitch,
		`UPDATE devices SET relay_output = ?, updated_at_ms = ? WHERE device_id = ? AND tenant_id = ? AND kind = 'RELAY_SWITCH';`,
		boolInt(on))
}

func (s *DeviceStore) TouchDevice(ctx context.Context, id int64, seenAt time.Time, firmware string) error {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return err
	}
	ms := seenAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE devices
SET last_seen_at_ms = ?,
    firmware        = CASE WHEN ? = '' THEN firmware ELSE ? END,
    updated_at_ms   = ?
WHERE device_id = ? AND tenant_id = ?;
`, ms, firmware, firmware, ms, id, tid)
		if err != nil {
			return fmt.Errorf("TouchDevice update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// update runs a single-row kind-specific update and tells an absent device
// apart from one of the wrong kind.
func (s *DeviceStore) update(ctx context.Context, op string, id int64, kind store.DeviceKind, query string, value any) error {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, value, now, id, tid)
		if err != nil {
			return fmt.Errorf("%s update: %w", op, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		var actual string
		err = tx.QueryRowContext(ctx,
			`SELECT kind FROM devices WHERE device_id = ? AND tenant_id = ?;`, id, tid).Scan(&actual)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("%s kind check: %w", op, err)
		}
		if store.DeviceKind(actual) != kind {
			return store.ErrKindMismatch
		}
		return nil
	})
}

func scanDevice(r rowScanner) (store.Device, error) {
	var (
		d                   store.Device
		kind                string
		active, reentry     int
		task, output        int
		entry, exit, seenMs sql.NullInt64
		ip, cloudID         string
	)
	err := r.Scan(
		&d.ID, &d.TenantID, &d.Name, &kind, &active, &entry, &exit, &reentry,
		&task, &output, &ip, &cloudID, &d.Firmware, &seenMs,
	)
	if err != nil {
		return store.Device{}, err
	}
	d.Active = active == 1
	d.AllowReentry = reentry == 1
	d.EntryAreaID = nullID(entry)
	d.ExitAreaID = nullID(exit)
	d.LastSeenAt = msTime(seenMs)

	switch store.DeviceKind(kind) {
	case store.KindRelaySwitch:
		d.Hardware = &store.RelaySwitch{Output: output == 1, IPAddress: ip, CloudID: cloudID}
	default:
		d.Hardware = &store.AccessController{Task: store.Task(task)}
	}
	return d, nil
}
