package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

// CatalogStore reads the operator-maintained configuration: areas,
// integrations and public monitors.
type CatalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

func (s *CatalogStore) Areas(ctx context.Context, ids []int64) ([]store.Area, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	filter, args := inClause("area_id", ids)
	rows, err := s.db.QueryContext(ctx, `
SELECT area_id, tenant_id, name, person_limit, allow_reentry, parent_id
FROM areas
WHERE tenant_id = ? AND `+filter+`
ORDER BY area_id;`, append([]any{tid}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("Areas query: %w", err)
	}
	defer rows.Close()

	var out []store.Area
	for rows.Next() {
		var (
			a               store.Area
			limit, parentID sql.NullInt64
			reentry         int
		)
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &limit, &reentry, &parentID); err != nil {
			return nil, fmt.Errorf("Areas scan: %w", err)
		}
		if limit.Valid {
			n := int(limit.Int64)
			a.PersonLimit = &n
		}
		a.AllowReentry = reentry == 1
		a.ParentID = nullID(parentID)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Areas rows: %w", err)
	}
	return out, nil
}

func (s *CatalogStore) Integrations(ctx context.Context) ([]store.Integration, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT integration_id, tenant_id, provider, base_url, token, extra_json, exclusive
FROM integrations
WHERE tenant_id = ?
ORDER BY integration_id;`, tid)
	if err != nil {
		return nil, fmt.Errorf("Integrations query: %w", err)
	}
	defer rows.Close()

	var out []store.Integration
	for rows.Next() {
		var (
			in        store.Integration
			provider  string
			extra     string
			exclusive int
		)
		if err := rows.Scan(&in.ID, &in.TenantID, &provider, &in.BaseURL, &in.Token, &extra, &exclusive); err != nil {
			return nil, fmt.Errorf("Integrations scan: %w", err)
		}
		in.Provider = store.Provider(provider)
		in.Exclusive = exclusive == 1
		if in.Extra, err = decodeExtra(extra); err != nil {
			return nil, fmt.Errorf("Integrations extra_json (id %d): %w", in.ID, err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Integrations rows: %w", err)
	}
	return out, nil
}

// MonitorByToken is unscoped: the token itself is the capability.
func (s *CatalogStore) MonitorByToken(ctx context.Context, token string) (store.Monitor, error) {
	if token == "" {
		return store.Monitor{}, store.ErrNotFound
	}
	var (
		m                  store.Monitor
		active             int
		deviceIDs, areaIDs string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT monitor_id, tenant_id, name, token, active, device_ids, area_ids
FROM monitors
WHERE token = ?;`, token).Scan(&m.ID, &m.TenantID, &m.Name, &m.Token, &active, &deviceIDs, &areaIDs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Monitor{}, store.ErrNotFound
	}
	if err != nil {
		return store.Monitor{}, fmt.Errorf("MonitorByToken query: %w", err)
	}
	m.Active = active == 1
	if m.DeviceIDs, err = decodeIDs(deviceIDs); err != nil {
		return store.Monitor{}, fmt.Errorf("MonitorByToken device_ids: %w", err)
	}
	if m.AreaIDs, err = decodeIDs(areaIDs); err != nil {
		return store.Monitor{}, fmt.Errorf("MonitorByToken area_ids: %w", err)
	}
	return m, nil
}
