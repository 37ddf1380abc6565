package store

import (
	"slices"
	"time"
)

type Tenant struct {
	ID        int64
	Name      string
	Subdomain string
	APIToken  string
	Active    bool
	Timezone  string // IANA name; empty uses the server default
}

type CredentialStatus string

const (
	StatusValid     CredentialStatus = "VALID"
	StatusRedeemed  CredentialStatus = "REDEEMED"
	StatusInvalid   CredentialStatus = "INVALID"
	StatusProtected CredentialStatus = "PROTECTED"
)

type ValidityPolicy string

const (
	PolicyDateRange ValidityPolicy = "DATE_RANGE"
	PolicyTimeSlot  ValidityPolicy = "TIME_SLOT"
	PolicyDuration  ValidityPolicy = "DURATION"
)

// Grant is a recurring admission right (subscription or service) a
// credential may be issued under.
type Grant struct {
	ID           int64
	Name         string
	AllowReentry bool
}

type Credential struct {
	ID         int64
	TenantID   int64
	Name       string
	FirstName  string
	LastName   string
	TicketType string

	QRCode       string
	RFIDCode     string
	Barcode      string
	ExternalUUID string

	Status   CredentialStatus
	Validity ValidityPolicy

	StartDate *time.Time
	EndDate   *time.Time

	// Slot bounds as venue-local "HH:MM".
	SlotStart string
	SlotEnd   string

	DurationMinutes int
	FirstScanAt     *time.Time

	AccessAreaID *int64
	Grant        *Grant
	Version      int64
}

// Matches reports whether code equals one of the credential's identifiers.
func (c Credential) Matches(code string) bool {
	if code == "" {
		return false
	}
	return code == c.QRCode || code == c.RFIDCode || code == c.Barcode || code == c.ExternalUUID
}

// Transition is the credential mutation applied together with a GRANTED scan.
type Transition struct {
	CredentialID int64
	Status       CredentialStatus
	// FirstScanAt is the new first-scan value; nil clears it.
	FirstScanAt *time.Time
}

type ScanResult string

const (
	ResultGranted   ScanResult = "GRANTED"
	ResultDenied    ScanResult = "DENIED"
	ResultProtected ScanResult = "PROTECTED"
)

// Scan is one admission attempt. CredentialID is nil when the code did not
// resolve to a local credential.
type Scan struct {
	ID           int64
	TenantID     int64
	Code         string
	CredentialID *int64
	DeviceID     int64
	Result       ScanResult
	Reason       string
	ScannedAt    time.Time
}

// Counts reports whether the scan moved a person through a gate.
func (s Scan) Counts() bool {
	return s.Result == ResultGranted || s.Result == ResultProtected
}

type AreaTraffic struct {
	AreaID  int64
	Entries int
	Exits   int
}

func (t AreaTraffic) Current() int { return t.Entries - t.Exits }

type Area struct {
	ID           int64
	TenantID     int64
	Name         string
	PersonLimit  *int
	AllowReentry bool
	ParentID     *int64
}

type Provider string

const (
	ProviderWakesys     Provider = "WAKESYS"
	ProviderBinarytec   Provider = "BINARYTEC"
	ProviderShellyCloud Provider = "SHELLY_CLOUD"
)

// Integration is a tenant's configuration for one third-party system.
type Integration struct {
	ID        int64
	TenantID  int64
	Provider  Provider
	BaseURL   string
	Token     string
	Extra     map[string]string
	Exclusive bool
}

type Monitor struct {
	ID        int64
	TenantID  int64
	Name      string
	Token     string
	Active    bool
	DeviceIDs []int64
	AreaIDs   []int64
}

// StatusReport is one self-report received from a polling device.
type StatusReport struct {
	ID         int64
	TenantID   int64
	DeviceID   int64
	ReceivedAt time.Time
	Task       Task
	Firmware   string
	SystemInfo string
}

// Selected reports whether id passes an optional id filter; an empty
// filter selects everything.
func Selected(ids []int64, id int64) bool {
	return len(ids) == 0 || slices.Contains(ids, id)
}
