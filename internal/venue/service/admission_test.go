package service_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/venuegate/server/internal/venue/scanlock"
	"github.com/venuegate/server/internal/venue/service"
	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
	"github.com/venuegate/server/internal/venue/types"
)

func TestDecide_DemoTicketNoReentry(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(false)
	cred := f.ms.PutCredential(store.Credential{TenantID: 1, Name: "Demo", Barcode: "DEMO-001", AccessAreaID: ptr(int64(1))})

	first := f.scan(t, gate.ID, "DEMO-001")
	if !first.Granted() || first.Reason != service.ReasonGranted {
		t.Fatalf("first scan: expected GRANTED, got %s/%s", first.Result, first.Reason)
	}
	if first.Credential == nil || first.Credential.Status != store.StatusRedeemed {
		t.Errorf("expected returned credential to be REDEEMED, got %+v", first.Credential)
	}
	if got := f.credential(t, cred.ID); got.Status != store.StatusRedeemed {
		t.Errorf("expected stored status REDEEMED, got %s", got.Status)
	}

	second := f.scan(t, gate.ID, "DEMO-001")
	if second.Result != store.ResultDenied || second.Reason != service.ReasonNoReentry {
		t.Fatalf("second scan: expected DENIED no_reentry, got %s/%s", second.Result, second.Reason)
	}
	if second.Message != "No re-entry" {
		t.Errorf("unexpected message %q", second.Message)
	}

	scans := f.ms.Scans()
	if len(scans) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(scans))
	}
	for _, s := range scans {
		if s.CredentialID == nil || *s.CredentialID != cred.ID {
			t.Errorf("scan %d: expected credential %d, got %v", s.ID, cred.ID, s.CredentialID)
		}
	}
	if f.notifier.count() != 2 {
		t.Errorf("expected 2 notifications, got %d", f.notifier.count())
	}
}

func TestDecide_InvalidAlwaysDenied(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(true)
	f.ms.PutCredential(store.Credential{
		TenantID:  1,
		Barcode:   "BAD",
		Status:    store.StatusInvalid,
		StartDate: ptr(f.clk.Now().AddDate(0, 0, -1)),
		EndDate:   ptr(f.clk.Now().AddDate(0, 0, 1)),
	})

	res := f.scan(t, gate.ID, "BAD")
	if res.Result != store.ResultDenied || res.Reason != service.ReasonCredentialInvalid {
		t.Fatalf("expected DENIED credential_invalid, got %s/%s", res.Result, res.Reason)
	}
}

func TestDecide_ProtectedIsDistinctOutcome(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(true)
	cred := f.ms.PutCredential(store.Credential{TenantID: 1, RFIDCode: "LOCKED", Status: store.StatusProtected})

	res := f.scan(t, gate.ID, "LOCKED")
	if res.Result != store.ResultProtected {
		t.Fatalf("expected PROTECTED, got %s", res.Result)
	}
	if got := f.credential(t, cred.ID); got.Status != store.StatusProtected || got.Version != cred.Version {
		t.Errorf("protected credential must not change, got %+v", got)
	}
	if s := f.ms.Scans()[0]; s.Result != store.ResultProtected || s.CredentialID == nil {
		t.Errorf("expected PROTECTED ledger entry with credential, got %+v", s)
	}
}

func TestDecide_DateRangeBoundaries(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(true)
	f.ms.PutCredential(store.Credential{
		TenantID:  1,
		Barcode:   "WINDOW",
		StartDate: ptr(time.Date(2026, 6, 10, 15, 30, 0, 0, time.UTC)),
		EndDate:   ptr(time.Date(2026, 6, 12, 8, 0, 0, 0, time.UTC)),
	})

	cases := []struct {
		name   string
		at     time.Time
		reason string
	}{
		{"before start of day", time.Date(2026, 6, 9, 23, 59, 59, 999_000_000, time.UTC), service.ReasonNotYetValid},
		{"start of day", time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), service.ReasonGranted},
		{"end of day", time.Date(2026, 6, 12, 23, 59, 59, 999_000_000, time.UTC), service.ReasonGranted},
		{"after end of day", time.Date(2026, 6, 13, 0, 0, 0, 0, time.UTC), service.ReasonExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.clk.Set(tc.at)
			res := f.scan(t, gate.ID, "WINDOW")
			if res.Reason != tc.reason {
				t.Errorf("at %s: expected %s, got %s/%s", tc.at, tc.reason, res.Result, res.Reason)
			}
		})
	}
}

func TestDecide_TimeSlotIsVenueLocalAndInclusive(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(true)
	f.ms.PutCredential(store.Credential{
		TenantID:  1,
		QRCode:    "SLOT",
		Validity:  store.PolicyTimeSlot,
		SlotStart: "09:00",
		SlotEnd:   "17:00",
	})

	cases := []struct {
		hour, minute int
		granted      bool
	}{
		{8, 59, false},
		{9, 0, true},
		{17, 0, true},
		{17, 1, false},
	}
	for _, tc := range cases {
		f.clk.Set(f.local(tc.hour, tc.minute))
		res := f.scan(t, gate.ID, "SLOT")
		if res.Granted() != tc.granted {
			t.Errorf("%02d:%02d local: expected granted=%v, got %s/%s", tc.hour, tc.minute, tc.granted, res.Result, res.Reason)
		}
		if !tc.granted && res.Reason != service.ReasonOutsideTimeSlot {
			t.Errorf("%02d:%02d local: expected outside_time_slot, got %s", tc.hour, tc.minute, res.Reason)
		}
	}
}

func TestDecide_MalformedSlotDenies(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(true)
	f.ms.PutCredential(store.Credential{TenantID: 1, QRCode: "ODD", Validity: store.PolicyTimeSlot, SlotStart: "9h", SlotEnd: "17:00"})

	if res := f.scan(t, gate.ID, "ODD"); res.Reason != service.ReasonOutsideTimeSlot {
		t.Fatalf("expected outside_time_slot, got %s/%s", res.Result, res.Reason)
	}
}

func TestDecide_DurationExpires(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(true)
	cred := f.ms.PutCredential(store.Credential{TenantID: 1, Barcode: "DUR", Validity: store.PolicyDuration, DurationMinutes: 60})

	start := f.clk.Now()
	if res := f.scan(t, gate.ID, "DUR"); !res.Granted() {
		t.Fatalf("first scan: expected GRANTED, got %s/%s", res.Result, res.Reason)
	}
	got := f.credential(t, cred.ID)
	if got.FirstScanAt == nil || !got.FirstScanAt.Equal(start) {
		t.Fatalf("expected first scan stamped at %v, got %v", start, got.FirstScanAt)
	}

	f.clk.Advance(60 * time.Minute)
	if res := f.scan(t, gate.ID, "DUR"); !res.Granted() {
		t.Errorf("at exactly the duration: expected GRANTED, got %s/%s", res.Result, res.Reason)
	}
	if got := f.credential(t, cred.ID); !got.FirstScanAt.Equal(start) {
		t.Errorf("first scan must not move on later grants, got %v", got.FirstScanAt)
	}

	f.clk.Advance(time.Minute)
	if res := f.scan(t, gate.ID, "DUR"); res.Reason != service.ReasonDurationExpired {
		t.Errorf("after the duration: expected duration_expired, got %s/%s", res.Result, res.Reason)
	}
}

func TestDecide_ReentryIsPerDevice(t *testing.T) {
	f := newFixture(t)
	north := f.gate(false)
	south := f.gate(false)
	f.ms.PutCredential(store.Credential{TenantID: 1, Barcode: "TWO"})

	if res := f.scan(t, north.ID, "TWO"); !res.Granted() {
		t.Fatalf("north: expected GRANTED, got %s/%s", res.Result, res.Reason)
	}
	if res := f.scan(t, south.ID, "TWO"); !res.Granted() {
		t.Fatalf("south: expected GRANTED, got %s/%s", res.Result, res.Reason)
	}
	if res := f.scan(t, north.ID, "TWO"); res.Reason != service.ReasonNoReentry {
		t.Fatalf("north again: expected no_reentry, got %s/%s", res.Result, res.Reason)
	}
}

func TestDecide_ExitResetsRedeemedCredential(t *testing.T) {
	f := newFixture(t)
	entry := f.gate(true)
	exit := f.ms.PutDevice(store.Device{
		TenantID:   1,
		Name:       "Exit",
		Active:     true,
		ExitAreaID: ptr(int64(1)),
		Hardware:   &store.AccessController{},
	})
	cred := f.ms.PutCredential(store.Credential{
		TenantID:        1,
		Barcode:         "SEASON",
		Validity:        store.PolicyDuration,
		DurationMinutes: 120,
		AccessAreaID:    ptr(int64(1)),
		Grant:           &store.Grant{ID: 9, Name: "Season pass", AllowReentry: true},
	})

	if res := f.scan(t, entry.ID, "SEASON"); !res.Granted() {
		t.Fatalf("entry: expected GRANTED, got %s/%s", res.Result, res.Reason)
	}
	in := f.credential(t, cred.ID)
	if in.Status != store.StatusRedeemed || in.FirstScanAt == nil {
		t.Fatalf("after entry: expected REDEEMED with first scan, got %s %v", in.Status, in.FirstScanAt)
	}

	f.clk.Advance(30 * time.Minute)
	if res := f.scan(t, exit.ID, "SEASON"); !res.Granted() {
		t.Fatalf("exit: expected GRANTED, got %s/%s", res.Result, res.Reason)
	}
	out := f.credential(t, cred.ID)
	if out.Status != store.StatusValid {
		t.Errorf("after exit: expected VALID, got %s", out.Status)
	}
	if out.FirstScanAt != nil {
		t.Errorf("after exit: expected first scan cleared, got %v", out.FirstScanAt)
	}
	if out.Version != in.Version+1 {
		t.Errorf("expected version %d, got %d", in.Version+1, out.Version)
	}
}

func TestDecide_ExitWithoutReentryGrantKeepsRedeemed(t *testing.T) {
	f := newFixture(t)
	entry := f.gate(true)
	exit := f.ms.PutDevice(store.Device{TenantID: 1, Active: true, ExitAreaID: ptr(int64(1))})
	cred := f.ms.PutCredential(store.Credential{TenantID: 1, Barcode: "DAY", AccessAreaID: ptr(int64(1))})

	f.scan(t, entry.ID, "DAY")
	if res := f.scan(t, exit.ID, "DAY"); !res.Granted() {
		t.Fatalf("exit: expected GRANTED, got %s/%s", res.Result, res.Reason)
	}
	if got := f.credential(t, cred.ID); got.Status != store.StatusRedeemed {
		t.Errorf("expected REDEEMED to stick without a re-entry grant, got %s", got.Status)
	}
}

func TestDecide_AreaNotAllowed(t *testing.T) {
	f := newFixture(t)
	f.ms.PutArea(store.Area{ID: 2, TenantID: 1, Name: "Sauna"})
	gate := f.gate(true)
	f.ms.PutCredential(store.Credential{TenantID: 1, Barcode: "SAUNA", AccessAreaID: ptr(int64(2))})

	if res := f.scan(t, gate.ID, "SAUNA"); res.Reason != service.ReasonAreaNotAllowed {
		t.Fatalf("expected area_not_allowed, got %s/%s", res.Result, res.Reason)
	}

	universal := f.ms.PutDevice(store.Device{TenantID: 1, Active: true, AllowReentry: true})
	if res := f.scan(t, universal.ID, "SAUNA"); !res.Granted() {
		t.Fatalf("unbound device: expected GRANTED, got %s/%s", res.Result, res.Reason)
	}
}

func TestDecide_InactiveAndDeactivatedDevices(t *testing.T) {
	f := newFixture(t)
	f.ms.PutCredential(store.Credential{TenantID: 1, Barcode: "OK"})
	off := f.ms.PutDevice(store.Device{TenantID: 1, Active: false})
	locked := f.ms.PutDevice(store.Device{TenantID: 1, Active: true, Hardware: &store.AccessController{Task: store.TaskDeactivated}})

	res := f.scan(t, off.ID, "OK")
	if res.Reason != service.ReasonDeviceInactive {
		t.Errorf("inactive: expected device_inactive, got %s", res.Reason)
	}
	if res.Scan.CredentialID != nil {
		t.Errorf("inactive device must not resolve the code, got credential %v", *res.Scan.CredentialID)
	}
	if res := f.scan(t, locked.ID, "OK"); res.Reason != service.ReasonDeviceDeactivated {
		t.Errorf("task 3: expected device_deactivated, got %s", res.Reason)
	}
	if n := len(f.ms.Scans()); n != 2 {
		t.Errorf("expected both denials in the ledger, got %d entries", n)
	}
}

func TestDecide_DashboardOpenBypassesChecks(t *testing.T) {
	f := newFixture(t)
	off := f.ms.PutDevice(store.Device{TenantID: 1, Active: false})

	res := f.scan(t, off.ID, "  "+types.DashboardOpenCode+" ")
	if !res.Granted() || res.Reason != service.ReasonDashboardOpen {
		t.Fatalf("expected GRANTED dashboard_open, got %s/%s", res.Result, res.Reason)
	}
	if res.Credential != nil || res.Scan.CredentialID != nil {
		t.Error("dashboard open must not reference a credential")
	}
}

func TestDecide_UnknownCode(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(true)

	res := f.scan(t, gate.ID, "NOPE")
	if res.Result != store.ResultDenied || res.Reason != service.ReasonNotFound {
		t.Fatalf("expected DENIED not_found, got %s/%s", res.Result, res.Reason)
	}
	if s := f.ms.Scans(); len(s) != 1 || s[0].CredentialID != nil {
		t.Errorf("expected one ledger entry without credential, got %+v", s)
	}
}

func TestDecide_MalformedRequestsWriteNothing(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(true)
	foreign := f.ms.PutDevice(store.Device{TenantID: 2, Active: true})

	cases := []struct {
		name string
		req  service.AdmissionRequest
		want error
	}{
		{"missing device", service.AdmissionRequest{Code: "X"}, service.ErrInvalidDeviceID},
		{"blank code", service.AdmissionRequest{DeviceID: gate.ID, Code: " \t"}, service.ErrInvalidCode},
		{"foreign device", service.AdmissionRequest{DeviceID: foreign.ID, Code: "X"}, service.ErrUnknownDevice},
		{"missing device row", service.AdmissionRequest{DeviceID: 999, Code: "X"}, service.ErrUnknownDevice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.Decide(f.ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := f.engine.Decide(context.Background(), service.AdmissionRequest{DeviceID: gate.ID, Code: "X"}); !errors.Is(err, tenant.ErrNoScope) {
		t.Errorf("expected ErrNoScope without a tenant, got %v", err)
	}
	if n := len(f.ms.Scans()); n != 0 {
		t.Errorf("expected no ledger entries, got %d", n)
	}
}

func TestDecide_ExclusiveProviderReplacesLocalChecks(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(false)
	f.ms.PutCredential(store.Credential{TenantID: 1, Barcode: "LOCAL", Status: store.StatusInvalid})

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer bt-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":1}`))
	}))
	defer srv.Close()

	f.ms.PutIntegration(store.Integration{
		TenantID:  1,
		Provider:  store.ProviderBinarytec,
		BaseURL:   srv.URL,
		Token:     "bt-token",
		Extra:     map[string]string{"resourceId": "gate-7"},
		Exclusive: true,
	})

	for i := 0; i < 2; i++ {
		res := f.scan(t, gate.ID, "LOCAL")
		if !res.Granted() || res.Reason != service.ReasonExternalValid {
			t.Fatalf("scan %d: expected GRANTED external_valid, got %s/%s", i, res.Result, res.Reason)
		}
		if res.Scan.CredentialID != nil {
			t.Errorf("externally validated scans carry no credential")
		}
	}
	if calls.Load() != 2 {
		t.Errorf("expected provider consulted twice, got %d", calls.Load())
	}
}

func TestDecide_ExclusiveProviderFailureDenies(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	f.ms.PutIntegration(store.Integration{
		TenantID: 1, Provider: store.ProviderBinarytec, BaseURL: srv.URL, Token: "t",
		Extra: map[string]string{"resource_id": "r"}, Exclusive: true,
	})

	if res := f.scan(t, gate.ID, "ANY"); res.Reason != service.ReasonExternalInvalid {
		t.Fatalf("expected external_invalid, got %s/%s", res.Result, res.Reason)
	}
}

func TestDecide_FallbackOnlyOnLocalMiss(t *testing.T) {
	f := newFixture(t)
	gate := f.gate(true)
	f.ms.PutCredential(store.Credential{TenantID: 1, Barcode: "MINE"})

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		valid := "no"
		if r.URL.Query().Get("id") == "WAKE-1" {
			valid = "yes"
		}
		_, _ = w.Write([]byte(`{"data":{"value":{"card_valid":"` + valid + `"}}}`))
	}))
	defer srv.Close()
	f.ms.PutIntegration(store.Integration{TenantID: 1, Provider: store.ProviderWakesys, BaseURL: srv.URL})

	if res := f.scan(t, gate.ID, "MINE"); res.Reason != service.ReasonGranted {
		t.Fatalf("local credential: expected granted, got %s", res.Reason)
	}
	if calls.Load() != 0 {
		t.Fatalf("fallback must not be consulted on a local hit, got %d calls", calls.Load())
	}

	if res := f.scan(t, gate.ID, "WAKE-1"); res.Reason != service.ReasonExternalValid {
		t.Errorf("fallback valid: expected external_valid, got %s", res.Reason)
	}
	if res := f.scan(t, gate.ID, "WAKE-2"); res.Reason != service.ReasonNotFound {
		t.Errorf("fallback invalid: expected not_found, got %s", res.Reason)
	}
}

func TestDecide_LockSerializesIdenticalScans(t *testing.T) {
	f := newFixture(t)
	f.engine = f.newEngine(scanlock.NewLocal())
	gate := f.gate(false)
	f.ms.PutCredential(store.Credential{TenantID: 1, Barcode: "RACE"})

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Decide(f.ctx, service.AdmissionRequest{DeviceID: gate.ID, Code: "RACE"})
			if err != nil {
				t.Errorf("Decide: %v", err)
				return
			}
			if res.Granted() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 1 {
		t.Fatalf("expected exactly one grant, got %d", granted.Load())
	}
	if n := len(f.ms.Scans()); n != 10 {
		t.Errorf("expected 10 ledger entries, got %d", n)
	}
}
