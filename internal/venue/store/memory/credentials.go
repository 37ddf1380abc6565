package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

func (s *Store) CredentialByCode(ctx context.Context, code string) (store.Credential, bool, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return store.Credential{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *store.Credential
	for _, c := range s.credentials {
		if c.TenantID != tid || !c.Matches(code) {
			continue
		}
		if best == nil || c.ID < best.ID {
			c := c
			best = &c
		}
	}
	if best == nil {
		return store.Credential{}, false, nil
	}
	return cloneCredential(*best), true, nil
}

func (s *Store) ActiveCredentials(ctx context.Context, areaIDs []int64) ([]store.Credential, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Credential
	for _, c := range s.credentials {
		if c.TenantID != tid || (c.Status != store.StatusValid && c.Status != store.StatusRedeemed) {
			continue
		}
		if len(areaIDs) > 0 && c.AccessAreaID != nil && !slices.Contains(areaIDs, *c.AccessAreaID) {
			continue
		}
		out = append(out, cloneCredential(c))
	}
	slices.SortFunc(out, func(a, b store.Credential) int {
		if a.Name != b.Name {
			return strings.Compare(a.Name, b.Name)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func sortByID[T any](items []T, id func(T) int64) {
	slices.SortFunc(items, func(a, b T) int {
		switch {
		case id(a) < id(b):
			return -1
		case id(a) > id(b):
			return 1
		}
		return 0
	})
}
