package memory

import (
	"context"
	"time"

	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

func (s *Store) RecordScan(ctx context.Context, scan store.Scan, tr *store.Transition) (store.Scan, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return store.Scan{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.devices[scan.DeviceID]; !ok || d.TenantID != tid {
		return store.Scan{}, store.ErrNotFound
	}

	var next store.Credential
	if tr != nil {
		c, ok := s.credentials[tr.CredentialID]
		if !ok || c.TenantID != tid {
			return store.Scan{}, store.ErrNotFound
		}
		next = c
		next.Status = tr.Status
		next.FirstScanAt = cloneTime(tr.FirstScanAt)
		next.Version++
	}

	scan.TenantID = tid
	if scan.ScannedAt.IsZero() {
		scan.ScannedAt = s.now()
	}
	scan.ID = int64(len(s.scans)) + 1
	s.scans = append(s.scans, scan)

	if tr != nil {
		s.credentials[next.ID] = next
	}
	return scan, nil
}

func (s *Store) HasGrantedScan(ctx context.Context, credentialID, deviceID int64) (bool, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range s.scans {
		if sc.TenantID == tid && sc.DeviceID == deviceID && sc.Result == store.ResultGranted &&
			sc.CredentialID != nil && *sc.CredentialID == credentialID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ScansAfter(ctx context.Context, afterID int64, deviceIDs []int64, limit int) ([]store.Scan, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Scan
	for _, sc := range s.scans {
		if sc.ID <= afterID || sc.TenantID != tid || !store.Selected(deviceIDs, sc.DeviceID) {
			continue
		}
		out = append(out, sc)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) RecentScans(ctx context.Context, deviceIDs []int64, limit int) ([]store.Scan, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rev []store.Scan
	for i := len(s.scans) - 1; i >= 0; i-- {
		sc := s.scans[i]
		if sc.TenantID != tid || !store.Selected(deviceIDs, sc.DeviceID) {
			continue
		}
		rev = append(rev, sc)
		if limit > 0 && len(rev) == limit {
			break
		}
	}
	out := make([]store.Scan, len(rev))
	for i, sc := range rev {
		out[len(rev)-1-i] = sc
	}
	return out, nil
}

func (s *Store) AreaTraffic(ctx context.Context, areaIDs []int64, since time.Time) ([]store.AreaTraffic, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.AreaTraffic, len(areaIDs))
	for i, a := range areaIDs {
		out[i].AreaID = a
	}
	for _, sc := range s.scans {
		if sc.TenantID != tid || !sc.Counts() || sc.ScannedAt.Before(since) {
			continue
		}
		d, ok := s.devices[sc.DeviceID]
		if !ok {
			continue
		}
		for i := range out {
			if d.EntryAreaID != nil && *d.EntryAreaID == out[i].AreaID {
				out[i].Entries++
			}
			if d.ExitAreaID != nil && *d.ExitAreaID == out[i].AreaID {
				out[i].Exits++
			}
		}
	}
	return out, nil
}
