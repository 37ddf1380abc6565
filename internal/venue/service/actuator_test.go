package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/venuegate/server/internal/httpx"
	"github.com/venuegate/server/internal/venue/service"
	"github.com/venuegate/server/internal/venue/store"
)

type recordingNudger struct {
	mu    sync.Mutex
	tasks []int
}

func (n *recordingNudger) NudgeTask(_ context.Context, _, _ int64, task int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, task)
	return nil
}

func newActuator(f *fixture, nudger *recordingNudger) *service.Actuator {
	client := httpx.New(time.Second)
	deps := service.ActuatorDeps{
		Devices:      f.ms,
		Integrations: f.ms,
		Transports:   service.DefaultRelayTransports(client, client),
		PulseLength:  3 * time.Second,
		Logger:       silentLogger(),
	}
	if nudger != nil {
		deps.Nudger = nudger
	}
	return service.NewActuator(deps)
}

// fakeShelly serves the local and cloud endpoints; each can be told to fail.
type fakeShelly struct {
	gen2Fail, gen1Fail, cloudFail atomic.Bool

	mu    sync.Mutex
	calls []string
	forms []map[string]string
	gen2  []map[string]any
}

func (s *fakeShelly) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls = append(s.calls, r.URL.Path)
	s.mu.Unlock()

	switch {
	case r.URL.Path == "/rpc/Switch.Set":
		if s.gen2Fail.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.gen2 = append(s.gen2, body)
		s.mu.Unlock()
		_, _ = w.Write([]byte(`{"was_on":false}`))
	case r.URL.Path == "/rpc/Switch.GetStatus":
		if s.gen2Fail.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":0,"output":true,"apower":12.5}`))
	case strings.HasPrefix(r.URL.Path, "/relay/"):
		if s.gen1Fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ison":true}`))
	case r.URL.Path == "/status":
		if s.gen1Fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"relays":[{"ison":false}],"meters":[{"power":0.5}]}`))
	case r.URL.Path == "/device/relay/control", r.URL.Path == "/device/status":
		_ = r.ParseForm()
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		s.mu.Lock()
		s.forms = append(s.forms, form)
		s.mu.Unlock()
		if s.cloudFail.Load() {
			_, _ = w.Write([]byte(`{"isok":false}`))
			return
		}
		if r.URL.Path == "/device/status" {
			_, _ = w.Write([]byte(`{"isok":true,"data":{"online":true,"device_status":{"switch:1":{"output":true,"apower":40}}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"isok":true}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *fakeShelly) called(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (s *fakeShelly) firstForm() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.forms) == 0 {
		return nil
	}
	return s.forms[0]
}

func (s *fakeShelly) firstSwitchSet() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.gen2) == 0 {
		return nil
	}
	return s.gen2[0]
}

func (f *fixture) relay(t *testing.T, srv *httptest.Server, withIP bool, cloudID string) store.Device {
	t.Helper()
	hw := &store.RelaySwitch{CloudID: cloudID}
	if withIP {
		hw.IPAddress = strings.TrimPrefix(srv.URL, "http://")
	}
	return f.ms.PutDevice(store.Device{TenantID: 1, Name: "Gate relay", Active: true, Hardware: hw})
}

func (f *fixture) cloudIntegration(srv *httptest.Server) {
	f.ms.PutIntegration(store.Integration{TenantID: 1, Provider: store.ProviderShellyCloud, BaseURL: srv.URL, Token: "cloud-key"})
}

func TestActuate_ControllerCommands(t *testing.T) {
	f := newFixture(t)
	nudger := &recordingNudger{}
	a := newActuator(f, nudger)
	gate := f.gate(false)

	cases := []struct {
		cmd  service.Command
		task store.Task
	}{
		{service.CommandOpen, store.TaskOpenOnce},
		{service.CommandEmergencyOpen, store.TaskEmergencyOpen},
		{service.CommandDeactivate, store.TaskDeactivated},
		{service.CommandReset, store.TaskIdle},
	}
	for _, tc := range cases {
		res, err := a.Actuate(f.ctx, gate.ID, tc.cmd)
		if err != nil {
			t.Fatalf("%s: %v", tc.cmd, err)
		}
		if !res.Accepted || !res.Delivered || res.Task == nil || *res.Task != tc.task {
			t.Errorf("%s: unexpected result %+v", tc.cmd, res)
		}
		d, _ := f.ms.DeviceByID(f.ctx, gate.ID)
		if c, _ := d.Controller(); c.Task != tc.task {
			t.Errorf("%s: expected stored task %d, got %d", tc.cmd, tc.task, c.Task)
		}
	}
	if len(nudger.tasks) != 4 {
		t.Errorf("expected 4 nudges, got %v", nudger.tasks)
	}

	if _, err := a.Actuate(f.ctx, gate.ID, service.CommandOn); !errors.Is(err, service.ErrInvalidCommand) {
		t.Errorf("relay command on controller: expected ErrInvalidCommand, got %v", err)
	}
}

func TestActuate_UnknownOrForeignDevice(t *testing.T) {
	f := newFixture(t)
	a := newActuator(f, nil)
	foreign := f.ms.PutDevice(store.Device{TenantID: 2, Active: true})

	if _, err := a.Actuate(f.ctx, foreign.ID, service.CommandOpen); !errors.Is(err, service.ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
	if _, err := a.Actuate(context.Background(), foreign.ID, service.CommandOpen); err == nil {
		t.Fatal("expected an error without a tenant scope")
	}
}

func TestActuate_Gen2FailsGen1Delivers(t *testing.T) {
	f := newFixture(t)
	shelly := &fakeShelly{}
	shelly.gen2Fail.Store(true)
	srv := httptest.NewServer(shelly)
	defer srv.Close()
	f.cloudIntegration(srv)
	relay := f.relay(t, srv, true, "abc123")

	res, err := newActuator(f, nil).Actuate(f.ctx, relay.ID, service.CommandOn)
	if err != nil {
		t.Fatalf("Actuate: %v", err)
	}
	if !res.Delivered || res.Transport != "shelly_gen1" {
		t.Fatalf("expected delivery via gen1, got %+v", res)
	}
	if shelly.called("/device/") != 0 {
		t.Error("cloud transport must not be attempted after a local success")
	}
	d, _ := f.ms.DeviceByID(f.ctx, relay.ID)
	if r, _ := d.Relay(); !r.Output {
		t.Error("expected output persisted as on")
	}
}

func TestActuate_AllTransportsFail(t *testing.T) {
	f := newFixture(t)
	shelly := &fakeShelly{}
	shelly.gen2Fail.Store(true)
	shelly.gen1Fail.Store(true)
	shelly.cloudFail.Store(true)
	srv := httptest.NewServer(shelly)
	defer srv.Close()
	f.cloudIntegration(srv)
	relay := f.relay(t, srv, true, "abc123")

	res, err := newActuator(f, nil).Actuate(f.ctx, relay.ID, service.CommandOn)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Accepted || res.Delivered || res.Transport != "" {
		t.Fatalf("expected accepted but undelivered, got %+v", res)
	}
	if shelly.called("/rpc/") != 1 || shelly.called("/relay/") != 1 || shelly.called("/device/") != 1 {
		t.Error("expected each transport tried once")
	}
	d, _ := f.ms.DeviceByID(f.ctx, relay.ID)
	if r, _ := d.Relay(); !r.Output {
		t.Error("output is recorded regardless of delivery")
	}
}

func TestActuate_CloudOnlyRelay(t *testing.T) {
	f := newFixture(t)
	shelly := &fakeShelly{}
	srv := httptest.NewServer(shelly)
	defer srv.Close()
	f.cloudIntegration(srv)
	relay := f.relay(t, srv, false, "e8db84_2")

	res, err := newActuator(f, nil).Actuate(f.ctx, relay.ID, service.CommandOn)
	if err != nil {
		t.Fatalf("Actuate: %v", err)
	}
	if !res.Delivered || res.Transport != "shelly_cloud" {
		t.Fatalf("expected delivery via cloud, got %+v", res)
	}
	if shelly.called("/rpc/") != 0 || shelly.called("/relay/") != 0 {
		t.Error("local transports must be skipped without an IP")
	}
	form := shelly.firstForm()
	if form["auth_key"] != "cloud-key" || form["id"] != "e8db84" || form["channel"] != "1" || form["turn"] != "on" {
		t.Errorf("unexpected cloud form %v", form)
	}
}

func TestActuate_NoRouteIsUndelivered(t *testing.T) {
	f := newFixture(t)
	relay := f.ms.PutDevice(store.Device{TenantID: 1, Active: true, Hardware: &store.RelaySwitch{CloudID: "orphan"}})

	res, err := newActuator(f, nil).Actuate(f.ctx, relay.ID, service.CommandOff)
	if err != nil {
		t.Fatalf("Actuate: %v", err)
	}
	if res.Delivered || res.Output == nil || *res.Output {
		t.Fatalf("expected undelivered off, got %+v", res)
	}
}

func TestActuate_OpenPulsesRelay(t *testing.T) {
	f := newFixture(t)
	shelly := &fakeShelly{}
	srv := httptest.NewServer(shelly)
	defer srv.Close()
	relay := f.relay(t, srv, true, "")

	res, err := newActuator(f, nil).Actuate(f.ctx, relay.ID, service.CommandOpen)
	if err != nil {
		t.Fatalf("Actuate: %v", err)
	}
	if !res.Delivered || res.Transport != "shelly_gen2" {
		t.Fatalf("expected gen2 delivery, got %+v", res)
	}
	body := shelly.firstSwitchSet()
	if body["on"] != true || body["toggle_after"] != float64(3) || body["id"] != float64(0) {
		t.Errorf("unexpected Switch.Set body %v", body)
	}

	if _, err := newActuator(f, nil).Actuate(f.ctx, relay.ID, service.CommandReset); !errors.Is(err, service.ErrInvalidCommand) {
		t.Errorf("controller command on relay: expected ErrInvalidCommand, got %v", err)
	}
}

func TestRelayStatus_TransportOrder(t *testing.T) {
	f := newFixture(t)
	shelly := &fakeShelly{}
	srv := httptest.NewServer(shelly)
	defer srv.Close()
	f.cloudIntegration(srv)
	a := newActuator(f, nil)

	local := f.relay(t, srv, true, "")
	st, err := a.RelayStatus(f.ctx, local.ID)
	if err != nil {
		t.Fatalf("RelayStatus: %v", err)
	}
	if st.Source != "shelly_gen2" || !st.Online || st.Output == nil || !*st.Output || st.PowerW == nil || *st.PowerW != 12.5 {
		t.Errorf("unexpected gen2 status %+v", st)
	}

	shelly.gen2Fail.Store(true)
	st, _ = a.RelayStatus(f.ctx, local.ID)
	if st.Source != "shelly_gen1" || st.Output == nil || *st.Output || st.PowerW == nil || *st.PowerW != 0.5 {
		t.Errorf("unexpected gen1 status %+v", st)
	}

	cloud := f.relay(t, srv, false, "e8db84_2")
	st, _ = a.RelayStatus(f.ctx, cloud.ID)
	if st.Source != "shelly_cloud" || !st.Online || st.Output == nil || !*st.Output || *st.PowerW != 40 {
		t.Errorf("unexpected cloud status %+v", st)
	}

	shelly.cloudFail.Store(true)
	st, _ = a.RelayStatus(f.ctx, cloud.ID)
	if st.Source != service.SourceUnavailable || st.Online || st.Output != nil {
		t.Errorf("expected unavailable, got %+v", st)
	}

	gate := f.gate(false)
	if _, err := a.RelayStatus(f.ctx, gate.ID); !errors.Is(err, service.ErrNotRelay) {
		t.Errorf("expected ErrNotRelay, got %v", err)
	}
}

func TestChannelIndex(t *testing.T) {
	cases := map[string]int{
		"e8db84":   0,
		"e8db84_1": 0,
		"e8db84_2": 1,
		"e8db84_4": 3,
		"e8db84_0": 0,
		"e8db84_x": 0,
		"":         0,
	}
	for id, want := range cases {
		if got := service.ChannelIndex(id); got != want {
			t.Errorf("ChannelIndex(%q) = %d, want %d", id, got, want)
		}
	}
	if got := service.BaseDeviceID("e8db84_2"); got != "e8db84" {
		t.Errorf("BaseDeviceID = %q", got)
	}
}

func TestCloudBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                         "https://" + service.DefaultShellyCloudServer,
		"shelly-9-eu.shelly.cloud": "https://shelly-9-eu.shelly.cloud",
		"http://127.0.0.1:9/":      "http://127.0.0.1:9",
	}
	for in, want := range cases {
		if got := service.CloudBaseURL(in); got != want {
			t.Errorf("CloudBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
