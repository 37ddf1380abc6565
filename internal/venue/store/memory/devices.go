package memory

import (
	"context"
	"time"

	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

func (s *Store) DeviceByID(ctx context.Context, id int64) (store.Device, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return store.Device{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok || d.TenantID != tid {
		return store.Device{}, store.ErrNotFound
	}
	return cloneDevice(d), nil
}

func (s *Store) Devices(ctx context.Context, ids []int64) ([]store.Device, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Device
	for _, d := range s.devices {
		if d.TenantID == tid && store.Selected(ids, d.ID) {
			out = append(out, cloneDevice(d))
		}
	}
	sortByID(out, func(d store.Device) int64 { return d.ID })
	return out, nil
}

func (s *Store) SetDeviceTask(ctx context.Context, id int64, task store.Task) error {
	return s.updateDevice(ctx, id, func(d *store.Device) error {
		c, ok := d.Controller()
		if !ok {
			return store.ErrKindMismatch
		}
		c.Task = task
		return nil
	})
}

func (s *Store) SetRelayOutput(ctx context.Context, id int64, on bool) error {
	return s.updateDevice(ctx, id, func(d *store.Device) error {
		r, ok := d.Relay()
		if !ok {
			return store.ErrKindMismatch
		}
		r.Output = on
		return nil
	})
}

func (s *Store) TouchDevice(ctx context.Context, id int64, seenAt time.Time, firmware string) error {
	return s.updateDevice(ctx, id, func(d *store.Device) error {
		t := seenAt.UTC()
		d.LastSeenAt = &t
		if firmware != "" {
			d.Firmware = firmware
		}
		return nil
	})
}

func (s *Store) updateDevice(ctx context.Context, id int64, fn func(*store.Device) error) error {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok || d.TenantID != tid {
		return store.ErrNotFound
	}
	d = cloneDevice(d)
	if err := fn(&d); err != nil {
		return err
	}
	s.devices[id] = d
	return nil
}
