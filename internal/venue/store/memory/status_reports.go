package memory

import (
	"context"
	"time"

	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

func (s *Store) AppendStatusReport(ctx context.Context, r store.StatusReport) error {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = s.now()
	}
	r.TenantID = tid
	r.ID = s.id(0)
	s.reports = append(s.reports, r)
	return nil
}

func (s *Store) PruneStatusReports(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.reports[:0]
	var deleted int64
	for _, r := range s.reports {
		if r.ReceivedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.reports = kept
	return deleted, nil
}
