package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/venuegate/server/internal/clock"
	"github.com/venuegate/server/internal/venue/events"
	"github.com/venuegate/server/internal/venue/scanlock"
	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
	"github.com/venuegate/server/internal/venue/types"
)

var (
	ErrInvalidDeviceID = errors.New("device_id is required")
	ErrInvalidCode     = errors.New("code is required")
	ErrUnknownDevice   = errors.New("unknown device")
)

// Decision reasons recorded on every scan.
const (
	ReasonDashboardOpen       = "dashboard_open"
	ReasonDeviceInactive      = "device_inactive"
	ReasonDeviceDeactivated   = "device_deactivated"
	ReasonExternalValid       = "external_valid"
	ReasonExternalInvalid     = "external_invalid"
	ReasonNotFound            = "not_found"
	ReasonCredentialInvalid   = "credential_invalid"
	ReasonCredentialProtected = "credential_protected"
	ReasonNotYetValid         = "not_yet_valid"
	ReasonExpired             = "expired"
	ReasonOutsideTimeSlot     = "outside_time_slot"
	ReasonDurationExpired     = "duration_expired"
	ReasonAreaNotAllowed      = "area_not_allowed"
	ReasonNoReentry           = "no_reentry"
	ReasonGranted             = "granted"
)

type AdmissionRequest struct {
	DeviceID int64
	Code     string
}

type AdmissionResult struct {
	Result  store.ScanResult
	Reason  string
	Message string
	Scan    store.Scan
	// Credential is the resolved credential after any transition; nil for
	// sentinel and externally validated admissions.
	Credential *store.Credential
}

func (r AdmissionResult) Granted() bool { return r.Result == store.ResultGranted }

// ScanNotifier is told after every ledger write. Implementations must not
// block.
type ScanNotifier interface {
	ScanRecorded(tenantID int64)
}

type AdmissionDeps struct {
	Devices    store.DeviceStore
	Ledger     store.Ledger
	Resolver   *Resolver
	Validators *ValidatorChain

	Locker   scanlock.Locker  // nil: no decision lock
	Notifier ScanNotifier     // nil: nobody to wake
	Events   events.Publisher // nil: events.Nop

	Clock  clock.Clock
	Logger *slog.Logger
}

// AdmissionEngine decides scans. Every call that gets past request and
// device validation writes exactly one ledger entry.
type AdmissionEngine struct {
	devices    store.DeviceStore
	ledger     store.Ledger
	resolver   *Resolver
	validators *ValidatorChain
	locker     scanlock.Locker
	notifier   ScanNotifier
	events     events.Publisher
	clock      clock.Clock
	logger     *slog.Logger
}

func NewAdmissionEngine(d AdmissionDeps) *AdmissionEngine {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &AdmissionEngine{
		devices:    d.Devices,
		ledger:     d.Ledger,
		resolver:   d.Resolver,
		validators: d.Validators,
		locker:     d.Locker,
		notifier:   d.Notifier,
		events:     d.Events,
		clock:      d.Clock,
		logger:     d.Logger,
	}
}

// decision is the outcome of evaluate before it is written.
type decision struct {
	result     store.ScanResult
	reason     string
	message    string
	credential *store.Credential
	transition *store.Transition
}

func deny(reason, message string) decision {
	return decision{result: store.ResultDenied, reason: reason, message: message}
}

func (e *AdmissionEngine) Decide(ctx context.Context, req AdmissionRequest) (AdmissionResult, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return AdmissionResult{}, err
	}

	code := strings.TrimSpace(req.Code)
	if req.DeviceID <= 0 {
		return AdmissionResult{}, ErrInvalidDeviceID
	}
	if code == "" {
		return AdmissionResult{}, ErrInvalidCode
	}

	device, err := e.devices.DeviceByID(ctx, req.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return AdmissionResult{}, ErrUnknownDevice
	}
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("load device: %w", err)
	}

	if e.locker != nil {
		unlock, err := e.locker.Lock(ctx, scanlock.Key(scope.TenantID, device.ID, NormalizeCode(code)))
		if err != nil {
			return AdmissionResult{}, fmt.Errorf("scan lock: %w", err)
		}
		defer unlock()
	}

	now := e.clock.Now().UTC()

	d, err := e.evaluate(ctx, scope, device, code, now)
	if err != nil {
		return AdmissionResult{}, err
	}

	scan := store.Scan{
		Code:      code,
		DeviceID:  device.ID,
		Result:    d.result,
		Reason:    d.reason,
		ScannedAt: now,
	}
	if d.credential != nil {
		id := d.credential.ID
		scan.CredentialID = &id
	}

	recorded, err := e.ledger.RecordScan(ctx, scan, d.transition)
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("record scan: %w", err)
	}

	if d.credential != nil && d.transition != nil {
		d.credential.Status = d.transition.Status
		d.credential.FirstScanAt = d.transition.FirstScanAt
		d.credential.Version++
	}

	e.logger.Info("scan decided",
		slog.Int64("tenant_id", scope.TenantID),
		slog.Int64("device_id", device.ID),
		slog.Int64("scan_id", recorded.ID),
		slog.String("result", string(d.result)),
		slog.String("reason", d.reason),
	)
	e.afterRecord(ctx, recorded)

	return AdmissionResult{
		Result:     d.result,
		Reason:     d.reason,
		Message:    d.message,
		Scan:       recorded,
		Credential: d.credential,
	}, nil
}

// evaluate applies the admission rules in order and stops at the first
// that decides.
func (e *AdmissionEngine) evaluate(ctx context.Context, scope tenant.Scope, device store.Device, code string, now time.Time) (decision, error) {
	if code == types.DashboardOpenCode {
		return decision{result: store.ResultGranted, reason: ReasonDashboardOpen, message: "Opened from dashboard"}, nil
	}
	if !device.Active {
		return deny(ReasonDeviceInactive, "Device is deactivated"), nil
	}
	if c, ok := device.Controller(); ok && c.Task == store.TaskDeactivated {
		return deny(ReasonDeviceDeactivated, "Device is deactivated"), nil
	}

	var plan ValidationPlan
	if e.validators != nil {
		p, err := e.validators.Plan(ctx, scope.Location)
		if err != nil {
			return decision{}, fmt.Errorf("load integrations: %w", err)
		}
		plan = p
	}

	if plan.Exclusive != nil {
		if e.validators.Check(ctx, plan.Exclusive, code).Valid {
			return decision{result: store.ResultGranted, reason: ReasonExternalValid, message: "Access granted"}, nil
		}
		return deny(ReasonExternalInvalid, "Ticket not valid"), nil
	}

	cred, ok, err := e.resolver.Resolve(ctx, code)
	if err != nil {
		return decision{}, fmt.Errorf("resolve credential: %w", err)
	}
	if !ok {
		if plan.Fallback != nil && e.validators.Check(ctx, plan.Fallback, code).Valid {
			return decision{result: store.ResultGranted, reason: ReasonExternalValid, message: "Access granted"}, nil
		}
		return deny(ReasonNotFound, "Ticket not found"), nil
	}

	d, err := e.checkCredential(ctx, scope, device, cred, now)
	if err != nil {
		return decision{}, err
	}
	d.credential = &cred
	return d, nil
}

func (e *AdmissionEngine) checkCredential(ctx context.Context, scope tenant.Scope, device store.Device, cred store.Credential, now time.Time) (decision, error) {
	switch cred.Status {
	case store.StatusInvalid:
		return deny(ReasonCredentialInvalid, "Ticket is invalid"), nil
	case store.StatusProtected:
		return decision{result: store.ResultProtected, reason: ReasonCredentialProtected, message: "Ticket is locked"}, nil
	}

	if cred.StartDate != nil && now.Before(startOfDayUTC(*cred.StartDate)) {
		return deny(ReasonNotYetValid, "Ticket not yet valid"), nil
	}
	if cred.EndDate != nil && now.After(endOfDayUTC(*cred.EndDate)) {
		return deny(ReasonExpired, "Ticket expired"), nil
	}

	if cred.Validity == store.PolicyTimeSlot && cred.SlotStart != "" && cred.SlotEnd != "" {
		if !inSlot(now.In(scope.Location), cred.SlotStart, cred.SlotEnd) {
			return deny(ReasonOutsideTimeSlot,
				fmt.Sprintf("Only valid %s-%s", cred.SlotStart, cred.SlotEnd)), nil
		}
	}

	if cred.Validity == store.PolicyDuration && cred.DurationMinutes > 0 && cred.FirstScanAt != nil {
		if now.After(cred.FirstScanAt.Add(time.Duration(cred.DurationMinutes) * time.Minute)) {
			return deny(ReasonDurationExpired, "Duration expired"), nil
		}
	}

	if device.AreaBound() && cred.AccessAreaID != nil && !device.ServesArea(*cred.AccessAreaID) {
		return deny(ReasonAreaNotAllowed, "Area not allowed"), nil
	}

	if !device.AllowReentry {
		seen, err := e.ledger.HasGrantedScan(ctx, cred.ID, device.ID)
		if err != nil {
			return decision{}, fmt.Errorf("check re-entry: %w", err)
		}
		if seen {
			return deny(ReasonNoReentry, "No re-entry"), nil
		}
	}

	return decision{
		result:     store.ResultGranted,
		reason:     ReasonGranted,
		message:    "Access granted",
		transition: nextState(device, cred, now),
	}, nil
}

// nextState is the credential mutation a grant causes, or nil.
func nextState(device store.Device, cred store.Credential, now time.Time) *store.Transition {
	duration := cred.Validity == store.PolicyDuration

	switch cred.Status {
	case store.StatusValid:
		first := cred.FirstScanAt
		if duration && first == nil {
			first = &now
		}
		return &store.Transition{CredentialID: cred.ID, Status: store.StatusRedeemed, FirstScanAt: first}

	case store.StatusRedeemed:
		if !device.IsExitFor(cred.AccessAreaID) || cred.Grant == nil || !cred.Grant.AllowReentry {
			return nil
		}
		first := cred.FirstScanAt
		if duration {
			first = nil
		}
		return &store.Transition{CredentialID: cred.ID, Status: store.StatusValid, FirstScanAt: first}
	}
	return nil
}

func (e *AdmissionEngine) afterRecord(ctx context.Context, scan store.Scan) {
	if e.notifier != nil {
		e.notifier.ScanRecorded(scan.TenantID)
	}

	ev, err := events.NewEvent(events.TypeScanRecorded, scan.TenantID, scan.ScannedAt, scanEventData(scan))
	if err != nil {
		e.logger.Warn("build scan event", slog.Any("err", err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := e.events.Publish(ctx, ev); err != nil {
			e.logger.Warn("publish scan event", slog.Int64("scan_id", scan.ID), slog.Any("err", err))
		}
	}()
}

type scanEvent struct {
	ScanID       int64  `json:"scan_id"`
	DeviceID     int64  `json:"device_id"`
	CredentialID *int64 `json:"credential_id,omitempty"`
	Result       string `json:"result"`
	Reason       string `json:"reason"`
}

func scanEventData(s store.Scan) scanEvent {
	return scanEvent{
		ScanID:       s.ID,
		DeviceID:     s.DeviceID,
		CredentialID: s.CredentialID,
		Result:       string(s.Result),
		Reason:       s.Reason,
	}
}

func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// endOfDayUTC is the last millisecond of t's UTC day.
func endOfDayUTC(t time.Time) time.Time {
	return startOfDayUTC(t).Add(24*time.Hour - time.Millisecond)
}

// inSlot reports whether local's wall-clock minute lies in [start, end].
// A malformed bound never matches.
func inSlot(local time.Time, start, end string) bool {
	from, ok1 := parseHHMM(start)
	to, ok2 := parseHHMM(end)
	if !ok1 || !ok2 {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	return from <= m && m <= to
}

func parseHHMM(s string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, false
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}
