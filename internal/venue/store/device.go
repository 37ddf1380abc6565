package store

import "time"

// OnlineWindow is how recently a device must have been seen to count as online.
const OnlineWindow = 5 * time.Minute

type DeviceKind string

const (
	KindAccessController DeviceKind = "ACCESS_CONTROLLER"
	KindRelaySwitch      DeviceKind = "RELAY_SWITCH"
)

// Task is the pending command held by an access controller.
type Task int

const (
	TaskIdle          Task = 0
	TaskOpenOnce      Task = 1
	TaskEmergencyOpen Task = 2
	TaskDeactivated   Task = 3
)

func (t Task) Valid() bool { return t >= TaskIdle && t <= TaskDeactivated }

// Hardware is the kind-specific part of a device: *AccessController or
// *RelaySwitch.
type Hardware interface {
	Kind() DeviceKind
	hardware()
}

type AccessController struct {
	Task Task
}

func (*AccessController) Kind() DeviceKind { return KindAccessController }
func (*AccessController) hardware()        {}

type RelaySwitch struct {
	Output    bool
	IPAddress string
	// CloudID is the cloud device id, optionally suffixed "_N" for the
	// 1-based relay channel.
	CloudID string
}

func (*RelaySwitch) Kind() DeviceKind { return KindRelaySwitch }
func (*RelaySwitch) hardware()        {}

type Device struct {
	ID           int64
	TenantID     int64
	Name         string
	Active       bool
	EntryAreaID  *int64
	ExitAreaID   *int64
	AllowReentry bool
	LastSeenAt   *time.Time
	Firmware     string
	Hardware     Hardware
}

func (d Device) Kind() DeviceKind {
	if d.Hardware == nil {
		return ""
	}
	return d.Hardware.Kind()
}

func (d Device) Controller() (*AccessController, bool) {
	c, ok := d.Hardware.(*AccessController)
	return c, ok
}

func (d Device) Relay() (*RelaySwitch, bool) {
	r, ok := d.Hardware.(*RelaySwitch)
	return r, ok
}

func (d Device) Online(now time.Time) bool {
	return d.LastSeenAt != nil && now.Sub(*d.LastSeenAt) <= OnlineWindow
}

// AreaBound reports whether the device has any entry or exit binding.
func (d Device) AreaBound() bool {
	return d.EntryAreaID != nil || d.ExitAreaID != nil
}

// ServesArea reports whether areaID is the device's entry or exit binding.
func (d Device) ServesArea(areaID int64) bool {
	return (d.EntryAreaID != nil && *d.EntryAreaID == areaID) ||
		(d.ExitAreaID != nil && *d.ExitAreaID == areaID)
}

// IsExitFor reports whether a scan of a credential bound to areaID (nil
// when unbound) passes this device in the exit direction. Exit-only devices
// are always exits; a device with both bindings is an exit for credentials
// of its exit area when that differs from the entry area.
func (d Device) IsExitFor(areaID *int64) bool {
	if d.ExitAreaID == nil {
		return false
	}
	if d.EntryAreaID == nil {
		return true
	}
	return areaID != nil && *areaID == *d.ExitAreaID && *areaID != *d.EntryAreaID
}
