package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/venuegate/server/internal/venue/store"
)

// TenantStore resolves tenants for authentication. Reads only.
type TenantStore struct {
	db *sql.DB
}

func NewTenantStore(db *sql.DB) *TenantStore {
	return &TenantStore{db: db}
}

const tenantColumns = `tenant_id, name, subdomain, api_token, active, timezone`

func (s *TenantStore) TenantByToken(ctx context.Context, token string) (store.Tenant, error) {
	if token == "" {
		return store.Tenant{}, store.ErrNotFound
	}
	return s.one(ctx, "TenantByToken", `SELECT `+tenantColumns+` FROM tenants WHERE api_token = ?;`, token)
}

func (s *TenantStore) TenantByID(ctx context.Context, id int64) (store.Tenant, error) {
	return s.one(ctx, "TenantByID", `SELECT `+tenantColumns+` FROM tenants WHERE tenant_id = ?;`, id)
}

func (s *TenantStore) one(ctx context.Context, op, query string, arg any) (store.Tenant, error) {
	var (
		t      store.Tenant
		active int
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&t.ID, &t.Name, &t.Subdomain, &t.APIToken, &active, &t.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Tenant{}, store.ErrNotFound
	}
	if err != nil {
		return store.Tenant{}, fmt.Errorf("%s query: %w", op, err)
	}
	t.Active = active == 1
	return t, nil
}
