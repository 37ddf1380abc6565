package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/venuegate/server/internal/clock"
	"github.com/venuegate/server/internal/httpx"
	"github.com/venuegate/server/internal/venue/scanlock"
	"github.com/venuegate/server/internal/venue/service"
	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/store/memory"
	"github.com/venuegate/server/internal/venue/tenant"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func ptr[T any](v T) *T { return &v }

type recordingNotifier struct {
	mu      sync.Mutex
	tenants []int64
}

func (n *recordingNotifier) ScanRecorded(tenantID int64) {
	n.mu.Lock()
	n.tenants = append(n.tenants, tenantID)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.tenants)
}

// fixture is one active tenant (id 1) in Berlin with a single area (id 1),
// backed by the in-memory store.
type fixture struct {
	ms       *memory.Store
	clk      *clock.Fake
	loc      *time.Location
	ctx      context.Context
	notifier *recordingNotifier
	engine   *service.AdmissionEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc := berlin(t)
	ms := memory.New()
	ms.PutTenant(store.Tenant{ID: 1, Name: "Demo Venue", APIToken: "tok-1", Active: true, Timezone: "Europe/Berlin"})
	ms.PutTenant(store.Tenant{ID: 2, Name: "Other", APIToken: "tok-2", Active: true})
	ms.PutArea(store.Area{ID: 1, TenantID: 1, Name: "Pool"})

	f := &fixture{
		ms:       ms,
		clk:      clock.NewFake(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)),
		loc:      loc,
		ctx:      tenant.WithScope(context.Background(), tenant.Scope{TenantID: 1, Location: loc}),
		notifier: &recordingNotifier{},
	}
	f.engine = f.newEngine(nil)
	return f
}

func (f *fixture) newEngine(locker scanlock.Locker) *service.AdmissionEngine {
	return service.NewAdmissionEngine(service.AdmissionDeps{
		Devices:    f.ms,
		Ledger:     f.ms,
		Resolver:   service.NewResolver(f.ms),
		Validators: service.NewValidatorChain(f.ms, httpx.New(time.Second), f.clk, silentLogger()),
		Locker:     locker,
		Notifier:   f.notifier,
		Clock:      f.clk,
		Logger:     silentLogger(),
	})
}

// gate is an active access controller bound to area 1 on entry.
func (f *fixture) gate(reentry bool) store.Device {
	return f.ms.PutDevice(store.Device{
		TenantID:     1,
		Name:         "Turnstile",
		Active:       true,
		EntryAreaID:  ptr(int64(1)),
		AllowReentry: reentry,
		Hardware:     &store.AccessController{},
	})
}

func (f *fixture) scan(t *testing.T, deviceID int64, code string) service.AdmissionResult {
	t.Helper()
	res, err := f.engine.Decide(f.ctx, service.AdmissionRequest{DeviceID: deviceID, Code: code})
	if err != nil {
		t.Fatalf("Decide(%d, %q): %v", deviceID, code, err)
	}
	return res
}

func (f *fixture) credential(t *testing.T, id int64) store.Credential {
	t.Helper()
	c, ok := f.ms.Credential(id)
	if !ok {
		t.Fatalf("credential %d missing", id)
	}
	return c
}

// local returns the UTC instant of a Berlin wall-clock time on 1 June 2026.
func (f *fixture) local(hour, minute int) time.Time {
	return time.Date(2026, 6, 1, hour, minute, 0, 0, f.loc).UTC()
}
