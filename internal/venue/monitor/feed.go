package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/venuegate/server/internal/clock"
	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

// Subscription is one subscriber's view. Empty id lists mean everything.
type Subscription struct {
	Name      string
	AreaIDs   []int64
	DeviceIDs []int64
	// Backlog is how many recent scans are sent on connect.
	Backlog int
}

// SubscriptionFor builds the view a public monitor grants.
func SubscriptionFor(m store.Monitor, backlog int) Subscription {
	return Subscription{Name: m.Name, AreaIDs: m.AreaIDs, DeviceIDs: m.DeviceIDs, Backlog: backlog}
}

// Emit delivers one message to the subscriber. An error ends the feed.
type Emit func(Message) error

type FeedDeps struct {
	Ledger      store.Ledger
	Devices     store.DeviceStore
	Areas       store.AreaStore
	Credentials store.CredentialStore // nil: no tickets frames
	Hub         *Hub                  // nil: interval polling only

	Interval  time.Duration
	BatchSize int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Feed polls the ledger, device table and credential roster for each
// subscriber with an independent cursor. It never writes.
type Feed struct {
	ledger      store.Ledger
	devices     store.DeviceStore
	areas       store.AreaStore
	credentials store.CredentialStore
	hub         *Hub
	interval    time.Duration
	batch       int
	clock       clock.Clock
	logger      *slog.Logger
}

func NewFeed(d FeedDeps) *Feed {
	if d.Interval <= 0 {
		d.Interval = 2 * time.Second
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 200
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Feed{
		ledger:      d.Ledger,
		devices:     d.Devices,
		areas:       d.Areas,
		credentials: d.Credentials,
		hub:         d.Hub,
		interval:    d.Interval,
		batch:       d.BatchSize,
		clock:       d.Clock,
		logger:      d.Logger,
	}
}

// subscriber is the per-connection state of one Run.
type subscriber struct {
	sub         Subscription
	loc         *time.Location
	areas       []store.Area
	cursor      int64
	lastCounts  []byte
	lastDevices []byte
	lastTickets []byte
}

// readError marks a failed store read inside a poll.
type readError struct {
	op  string
	err error
}

func (e *readError) Error() string { return e.op + ": " + e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

// Run streams to emit until ctx is cancelled (returns nil), the initial
// load fails or emit fails (returns the error). A failed poll sends an
// error frame and is retried on the next tick. The tenant comes from ctx.
func (f *Feed) Run(ctx context.Context, sub Subscription, emit Emit) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	s := &subscriber{sub: sub, loc: scope.Location}
	if s.areas, err = f.areas.Areas(ctx, sub.AreaIDs); err != nil {
		return fmt.Errorf("load areas: %w", err)
	}

	var wake chan struct{}
	if f.hub != nil {
		wake = f.hub.Subscribe(scope.TenantID)
		defer f.hub.Unsubscribe(scope.TenantID, wake)
	}

	if err := f.start(ctx, s, emit); err != nil {
		return quiet(ctx, err)
	}
	if err := f.pollOrReport(ctx, s, emit); err != nil {
		return quiet(ctx, err)
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-wake:
		}
		if err := f.pollOrReport(ctx, s, emit); err != nil {
			return quiet(ctx, err)
		}
	}
}

// quiet drops errors caused by the subscriber going away.
func quiet(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	return err
}

// pollOrReport runs one poll. A read failure is logged and reported to the
// subscriber as an error frame; only emit failures are returned.
func (f *Feed) pollOrReport(ctx context.Context, s *subscriber, emit Emit) error {
	err := f.poll(ctx, s, emit)
	var re *readError
	if err == nil || ctx.Err() != nil || !errors.As(err, &re) {
		return err
	}
	f.logger.Warn("monitor poll failed", slog.String("monitor", s.sub.Name), slog.Any("err", err))
	return f.emit(emit, TypeError, ErrorData{Message: "temporarily unable to refresh"})
}

// start sends meta and the recent backlog, and positions the cursor. With
// no backlog the cursor still moves to the newest scan so the subscriber
// starts from now.
func (f *Feed) start(ctx context.Context, s *subscriber, emit Emit) error {
	meta := MetaData{
		Name:       s.sub.Name,
		IntervalMS: f.interval.Milliseconds(),
		Areas:      make([]AreaInfo, len(s.areas)),
		Devices:    s.sub.DeviceIDs,
	}
	for i, a := range s.areas {
		meta.Areas[i] = AreaInfo{ID: a.ID, Name: a.Name, PersonLimit: a.PersonLimit}
	}
	if err := f.emit(emit, TypeMeta, meta); err != nil {
		return err
	}

	limit := max(s.sub.Backlog, 1)
	recent, err := f.ledger.RecentScans(ctx, s.sub.DeviceIDs, limit)
	if err != nil {
		return fmt.Errorf("recent scans: %w", err)
	}
	if len(recent) == 0 {
		return nil
	}
	s.cursor = recent[len(recent)-1].ID
	if s.sub.Backlog <= 0 {
		return nil
	}
	return f.emit(emit, TypeScans, scanData(recent))
}

func (f *Feed) poll(ctx context.Context, s *subscriber, emit Emit) error {
	for {
		scans, err := f.ledger.ScansAfter(ctx, s.cursor, s.sub.DeviceIDs, f.batch)
		if err != nil {
			return &readError{op: fmt.Sprintf("scans after %d", s.cursor), err: err}
		}
		if len(scans) == 0 {
			break
		}
		s.cursor = scans[len(scans)-1].ID
		if err := f.emit(emit, TypeScans, scanData(scans)); err != nil {
			return err
		}
		if len(scans) < f.batch {
			break
		}
	}

	now := f.clock.Now()
	counts, err := f.counts(ctx, s, now)
	if err != nil {
		return err
	}
	if err := f.emitChanged(emit, TypeCounts, counts, &s.lastCounts); err != nil {
		return err
	}

	devices, err := f.devices.Devices(ctx, s.sub.DeviceIDs)
	if err != nil {
		return &readError{op: "devices", err: err}
	}
	if err := f.emitChanged(emit, TypeDevices, deviceData(devices, now), &s.lastDevices); err != nil {
		return err
	}

	if f.credentials == nil {
		return nil
	}
	creds, err := f.credentials.ActiveCredentials(ctx, boundAreas(devices))
	if err != nil {
		return &readError{op: "active credentials", err: err}
	}
	return f.emitChanged(emit, TypeTickets, ticketData(creds), &s.lastTickets)
}

// boundAreas collects the entry and exit areas of devices, sorted.
func boundAreas(devices []store.Device) []int64 {
	var ids []int64
	for _, d := range devices {
		for _, a := range []*int64{d.EntryAreaID, d.ExitAreaID} {
			if a != nil && !slices.Contains(ids, *a) {
				ids = append(ids, *a)
			}
		}
	}
	slices.Sort(ids)
	return ids
}

// counts totals today's traffic from venue-local midnight.
func (f *Feed) counts(ctx context.Context, s *subscriber, now time.Time) ([]CountData, error) {
	out := make([]CountData, 0, len(s.areas))
	if len(s.areas) == 0 {
		return out, nil
	}
	ids := make([]int64, len(s.areas))
	for i, a := range s.areas {
		ids[i] = a.ID
	}

	local := now.In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)

	traffic, err := f.ledger.AreaTraffic(ctx, ids, midnight)
	if err != nil {
		return nil, &readError{op: "area traffic", err: err}
	}
	byID := make(map[int64]store.AreaTraffic, len(traffic))
	for _, t := range traffic {
		byID[t.AreaID] = t
	}
	for _, a := range s.areas {
		t := byID[a.ID]
		out = append(out, CountData{
			AreaID:      a.ID,
			Name:        a.Name,
			Entries:     t.Entries,
			Exits:       t.Exits,
			Current:     t.Current(),
			PersonLimit: a.PersonLimit,
		})
	}
	return out, nil
}

func (f *Feed) emit(emit Emit, typ string, data any) error {
	m, err := NewMessage(typ, f.clock.Now(), data)
	if err != nil {
		return err
	}
	return emit(m)
}

// emitChanged sends data only when it differs from the last frame of the
// same type.
func (f *Feed) emitChanged(emit Emit, typ string, data any, last *[]byte) error {
	m, err := NewMessage(typ, f.clock.Now(), data)
	if err != nil {
		return err
	}
	if bytes.Equal(m.Data, *last) {
		return nil
	}
	if err := emit(m); err != nil {
		return err
	}
	*last = m.Data
	return nil
}
