package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

// TenantAuth turns a presented API token or operator session into a bound
// tenant scope. Nothing else in the service layer reads tenants.
type TenantAuth struct {
	tenants    store.TenantStore
	sessions   *tenant.SessionVerifier
	defaultLoc *time.Location
}

func NewTenantAuth(ts store.TenantStore, sv *tenant.SessionVerifier, defaultLoc *time.Location) *TenantAuth {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &TenantAuth{tenants: ts, sessions: sv, defaultLoc: defaultLoc}
}

// FromToken resolves a tenant API token. A missing token is
// ErrUnauthenticated; an unknown token or inactive tenant is ErrForbidden.
func (a *TenantAuth) FromToken(ctx context.Context, token string) (context.Context, store.Tenant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx, store.Tenant{}, tenant.ErrUnauthenticated
	}
	t, err := a.tenants.TenantByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return ctx, store.Tenant{}, tenant.ErrForbidden
	}
	if err != nil {
		return ctx, store.Tenant{}, fmt.Errorf("resolve tenant token: %w", err)
	}
	return a.bind(ctx, t, "", "")
}

// FromSession verifies an operator session and binds its tenant.
func (a *TenantAuth) FromSession(ctx context.Context, raw string) (context.Context, store.Tenant, error) {
	claims, err := a.sessions.Verify(strings.TrimSpace(raw))
	if err != nil {
		return ctx, store.Tenant{}, err
	}
	t, err := a.tenants.TenantByID(ctx, claims.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return ctx, store.Tenant{}, tenant.ErrForbidden
	}
	if err != nil {
		return ctx, store.Tenant{}, fmt.Errorf("resolve session tenant: %w", err)
	}
	return a.bind(ctx, t, claims.Subject, claims.Role)
}

// Bind scopes ctx to a tenant already known to the caller, as monitor
// tokens do.
func (a *TenantAuth) Bind(ctx context.Context, tenantID int64) (context.Context, store.Tenant, error) {
	t, err := a.tenants.TenantByID(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return ctx, store.Tenant{}, tenant.ErrForbidden
	}
	if err != nil {
		return ctx, store.Tenant{}, fmt.Errorf("resolve tenant: %w", err)
	}
	return a.bind(ctx, t, "", "")
}

func (a *TenantAuth) bind(ctx context.Context, t store.Tenant, subject, role string) (context.Context, store.Tenant, error) {
	if !t.Active {
		return ctx, store.Tenant{}, tenant.ErrForbidden
	}
	return tenant.WithScope(ctx, tenant.Scope{
		TenantID: t.ID,
		Location: a.Location(t),
		Subject:  subject,
		Role:     role,
	}), t, nil
}

// Location is the tenant's venue time zone, or the server default when the
// tenant has none or an unknown one.
func (a *TenantAuth) Location(t store.Tenant) *time.Location {
	if t.Timezone == "" {
		return a.defaultLoc
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return a.defaultLoc
	}
	return loc
}
