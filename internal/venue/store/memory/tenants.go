package memory

import (
	"context"

	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

func (s *Store) TenantByToken(_ context.Context, token string) (store.Tenant, error) {
	if token == "" {
		return store.Tenant{}, store.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.APIToken == token {
			return t, nil
		}
	}
	return store.Tenant{}, store.ErrNotFound
}

func (s *Store) TenantByID(_ context.Context, id int64) (store.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return store.Tenant{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) MonitorByToken(_ context.Context, token string) (store.Monitor, error) {
	if token == "" {
		return store.Monitor{}, store.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.monitors {
		if m.Token == token {
			return m, nil
		}
	}
	return store.Monitor{}, store.ErrNotFound
}

func (s *Store) Areas(ctx context.Context, ids []int64) ([]store.Area, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Area
	for _, a := range s.areas {
		if a.TenantID == tid && store.Selected(ids, a.ID) {
			out = append(out, a)
		}
	}
	sortByID(out, func(a store.Area) int64 { return a.ID })
	return out, nil
}

func (s *Store) Integrations(ctx context.Context) ([]store.Integration, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Integration
	for _, in := range s.integrations {
		if in.TenantID == tid {
			out = append(out, in)
		}
	}
	sortByID(out, func(in store.Integration) int64 { return in.ID })
	return out, nil
}
