// Package store defines the tenant-scoped persistence contracts used by the
// admission core. Implementations read the tenant from the request context
// (see package tenant) and reject calls made without one.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a row does not exist within the caller's
// tenant. Rows owned by another tenant are indistinguishable from absent ones.
var ErrNotFound = errors.New("not found")

// ErrKindMismatch is returned when a kind-specific update targets a device
// of the other hardware kind.
var ErrKindMismatch = errors.New("device kind does not support this update")

type TenantStore interface {
	// TenantByToken and TenantByID run before a scope exists and are the
	// only unscoped lookups besides MonitorByToken.
	TenantByToken(ctx context.Context, token string) (Tenant, error)
	TenantByID(ctx context.Context, id int64) (Tenant, error)
}

type CredentialStore interface {
	// CredentialByCode matches code against QR payload, RFID, barcode and
	// external UUID. The lowest credential id wins when several match.
	CredentialByCode(ctx context.Context, code string) (Credential, bool, error)
	// ActiveCredentials lists VALID and REDEEMED credentials bound to one of
	// areaIDs or to no area, ordered by name then id. Empty areaIDs lists
	// every active credential.
	ActiveCredentials(ctx context.Context, areaIDs []int64) ([]Credential, error)
}

// Ledger is the append-only scan log.
type Ledger interface {
	// RecordScan appends scan and, when tr is non-nil, applies the
	// credential transition in the same unit of work. The stored scan (with
	// its id) is returned.
	RecordScan(ctx context.Context, scan Scan, tr *Transition) (Scan, error)
	HasGrantedScan(ctx context.Context, credentialID, deviceID int64) (bool, error)
	// ScansAfter returns up to limit scans with id > afterID in ascending
	// id order. Empty deviceIDs means all devices.
	ScansAfter(ctx context.Context, afterID int64, deviceIDs []int64, limit int) ([]Scan, error)
	// RecentScans returns the newest limit scans in ascending id order.
	RecentScans(ctx context.Context, deviceIDs []int64, limit int) ([]Scan, error)
	// AreaTraffic counts GRANTED and PROTECTED scans since the given instant
	// through devices whose entry (resp. exit) binding is each area.
	AreaTraffic(ctx context.Context, areaIDs []int64, since time.Time) ([]AreaTraffic, error)
}

type DeviceStore interface {
	DeviceByID(ctx context.Context, id int64) (Device, error)
	// Devices returns the listed devices, or every device when ids is empty.
	Devices(ctx context.Context, ids []int64) ([]Device, error)
	SetDeviceTask(ctx context.Context, id int64, task Task) error
	SetRelayOutput(ctx context.Context, id int64, on bool) error
	TouchDevice(ctx context.Context, id int64, seenAt time.Time, firmware string) error
}

type AreaStore interface {
	// Areas returns the listed areas, or every area when ids is empty.
	Areas(ctx context.Context, ids []int64) ([]Area, error)
}

type IntegrationStore interface {
	// Integrations returns the tenant's integrations ordered by id.
	Integrations(ctx context.Context) ([]Integration, error)
}

type MonitorStore interface {
	MonitorByToken(ctx context.Context, token string) (Monitor, error)
}

type StatusReportStore interface {
	AppendStatusReport(ctx context.Context, r StatusReport) error
	// PruneStatusReports deletes reports of every tenant received before
	// cutoff and returns how many were removed.
	PruneStatusReports(ctx context.Context, cutoff time.Time) (int64, error)
}
