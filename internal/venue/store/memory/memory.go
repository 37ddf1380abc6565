// Package memory is an in-process implementation of the store contracts,
// used by tests and by the server when storage is "memory".
package memory

import (
	"sync"
	"time"

	"github.com/venuegate/server/internal/venue/store"
)

var (
	_ store.TenantStore       = (*Store)(nil)
	_ store.CredentialStore   = (*Store)(nil)
	_ store.Ledger            = (*Store)(nil)
	_ store.DeviceStore       = (*Store)(nil)
	_ store.AreaStore         = (*Store)(nil)
	_ store.IntegrationStore  = (*Store)(nil)
	_ store.MonitorStore      = (*Store)(nil)
	_ store.StatusReportStore = (*Store)(nil)
)

type Store struct {
	mu sync.RWMutex

	tenants      map[int64]store.Tenant
	credentials  map[int64]store.Credential
	devices      map[int64]store.Device
	areas        map[int64]store.Area
	integrations map[int64]store.Integration
	monitors     map[int64]store.Monitor
	scans        []store.Scan
	reports      []store.StatusReport

	nextID int64
	now    func() time.Time
}

func New() *Store {
	return &Store{
		tenants:      make(map[int64]store.Tenant),
		credentials:  make(map[int64]store.Credential),
		devices:      make(map[int64]store.Device),
		areas:        make(map[int64]store.Area),
		integrations: make(map[int64]store.Integration),
		monitors:     make(map[int64]store.Monitor),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// id returns v, or a fresh id when v is zero. Caller holds mu.
func (s *Store) id(v int64) int64 {
	if v > s.nextID {
		s.nextID = v
	}
	if v != 0 {
		return v
	}
	s.nextID++
	return s.nextID
}

// ── Fixtures ────────────────────────────────────────────────────────────────
// The Put* methods load rows the admin application would normally own.
// A zero ID is assigned; the stored row is returned.

func (s *Store) PutTenant(t store.Tenant) store.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id(t.ID)
	s.tenants[t.ID] = t
	return t
}

func (s *Store) PutCredential(c store.Credential) store.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id(c.ID)
	if c.Status == "" {
		c.Status = store.StatusValid
	}
	if c.Validity == "" {
		c.Validity = store.PolicyDateRange
	}
	if c.Version == 0 {
		c.Version = 1
	}
	s.credentials[c.ID] = cloneCredential(c)
	return c
}

func (s *Store) PutDevice(d store.Device) store.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.id(d.ID)
	if d.Hardware == nil {
		d.Hardware = &store.AccessController{}
	}
	s.devices[d.ID] = cloneDevice(d)
	return d
}

func (s *Store) PutArea(a store.Area) store.Area {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id(a.ID)
	s.areas[a.ID] = a
	return a
}

func (s *Store) PutIntegration(in store.Integration) store.Integration {
	s.mu.Lock()
	defer s.mu.Unlock()
	in.ID = s.id(in.ID)
	s.integrations[in.ID] = in
	return in
}

func (s *Store) PutMonitor(m store.Monitor) store.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id(m.ID)
	s.monitors[m.ID] = m
	return m
}

// Credential returns a credential regardless of tenant. Test-only helper.
func (s *Store) Credential(id int64) (store.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[id]
	return cloneCredential(c), ok
}

// Scans returns a copy of every recorded scan. Test-only helper.
func (s *Store) Scans() []store.Scan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Scan, len(s.scans))
	copy(out, s.scans)
	return out
}

// StatusReports returns a copy of every retained report. Test-only helper.
func (s *Store) StatusReports() []store.StatusReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.StatusReport, len(s.reports))
	copy(out, s.reports)
	return out
}

func cloneCredential(c store.Credential) store.Credential {
	if c.Grant != nil {
		g := *c.Grant
		c.Grant = &g
	}
	c.StartDate = cloneTime(c.StartDate)
	c.EndDate = cloneTime(c.EndDate)
	c.FirstScanAt = cloneTime(c.FirstScanAt)
	return c
}

func cloneDevice(d store.Device) store.Device {
	switch hw := d.Hardware.(type) {
	case *store.AccessController:
		c := *hw
		d.Hardware = &c
	case *store.RelaySwitch:
		r := *hw
		d.Hardware = &r
	}
	d.LastSeenAt = cloneTime(d.LastSeenAt)
	return d
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
