package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/venuegate/server/internal/venue/events"
	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
)

var (
	ErrInvalidCommand = errors.New("unknown command for device kind")
	ErrNotRelay       = errors.New("device is not a relay switch")
)

type Command string

const (
	CommandOpen          Command = "open"
	CommandEmergencyOpen Command = "emergency-open"
	CommandDeactivate    Command = "deactivate"
	CommandReset         Command = "reset"
	CommandOn            Command = "on"
	CommandOff           Command = "off"
)

var controllerTasks = map[Command]store.Task{
	CommandOpen:          store.TaskOpenOnce,
	CommandEmergencyOpen: store.TaskEmergencyOpen,
	CommandDeactivate:    store.TaskDeactivated,
	CommandReset:         store.TaskIdle,
}

// TransportPoll marks controller commands, which the device picks up on
// its next config poll.
const TransportPoll = "poll"

// SourceUnavailable is the relay status source when no transport answered.
const SourceUnavailable = "unavailable"

type ActuationResult struct {
	Accepted  bool
	Delivered bool
	Task      *store.Task
	Output    *bool
	Transport string
}

type RelayStatus struct {
	Source string
	RelayState
}

type ActuatorDeps struct {
	Devices      store.DeviceStore
	Integrations store.IntegrationStore
	Transports   []RelayTransport

	Nudger events.TaskNudger // nil: events.Nop
	Events events.Publisher  // nil: events.Nop

	// PulseLength is how long "open" keeps a relay on.
	PulseLength time.Duration
	Logger      *slog.Logger
}

// Actuator sends operator commands to devices. Delivery failures are
// results, not errors.
type Actuator struct {
	devices      store.DeviceStore
	integrations store.IntegrationStore
	transports   []RelayTransport
	nudger       events.TaskNudger
	events       events.Publisher
	pulse        time.Duration
	logger       *slog.Logger
}

func NewActuator(d ActuatorDeps) *Actuator {
	if d.Nudger == nil {
		d.Nudger = events.Nop{}
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.PulseLength <= 0 {
		d.PulseLength = 3 * time.Second
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Actuator{
		devices:      d.Devices,
		integrations: d.Integrations,
		transports:   d.Transports,
		nudger:       d.Nudger,
		events:       d.Events,
		pulse:        d.PulseLength,
		logger:       d.Logger,
	}
}

func (a *Actuator) Actuate(ctx context.Context, deviceID int64, cmd Command) (ActuationResult, error) {
	if _, err := tenant.Require(ctx); err != nil {
		return ActuationResult{}, err
	}
	device, err := a.device(ctx, deviceID)
	if err != nil {
		return ActuationResult{}, err
	}

	switch hw := device.Hardware.(type) {
	case *store.AccessController:
		return a.setTask(ctx, device, cmd)
	case *store.RelaySwitch:
		return a.switchRelay(ctx, device, hw, cmd)
	default:
		return ActuationResult{}, ErrInvalidCommand
	}
}

func (a *Actuator) setTask(ctx context.Context, device store.Device, cmd Command) (ActuationResult, error) {
	task, ok := controllerTasks[cmd]
	if !ok {
		return ActuationResult{}, ErrInvalidCommand
	}
	if err := a.devices.SetDeviceTask(ctx, device.ID, task); err != nil {
		return ActuationResult{}, fmt.Errorf("set task: %w", err)
	}

	a.logger.Info("device task set",
		slog.Int64("tenant_id", device.TenantID),
		slog.Int64("device_id", device.ID),
		slog.Int("task", int(task)),
	)
	a.announceTask(ctx, device, task)

	return ActuationResult{Accepted: true, Delivered: true, Task: &task, Transport: TransportPoll}, nil
}

// announceTask nudges the controller and publishes the change. Neither
// affects the result.
func (a *Actuator) announceTask(ctx context.Context, device store.Device, task store.Task) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := a.nudger.NudgeTask(ctx, device.TenantID, device.ID, int(task)); err != nil {
		a.logger.Debug("task nudge failed", slog.Int64("device_id", device.ID), slog.Any("err", err))
	}
	ev, err := events.NewEvent(events.TypeTaskChanged, device.TenantID, time.Now(), map[string]any{
		"device_id": device.ID,
		"task":      int(task),
	})
	if err == nil {
		err = a.events.Publish(ctx, ev)
	}
	if err != nil {
		a.logger.Debug("task event failed", slog.Int64("device_id", device.ID), slog.Any("err", err))
	}
}

func (a *Actuator) switchRelay(ctx context.Context, device store.Device, hw *store.RelaySwitch, cmd Command) (ActuationResult, error) {
	var (
		on      bool
		autoOff time.Duration
		output  bool
	)
	switch cmd {
	case CommandOn:
		on, output = true, true
	case CommandOff:
		on, output = false, false
	case CommandOpen:
		// Pulse: the relay is back off once the pulse ends.
		on, autoOff, output = true, a.pulse, false
	default:
		return ActuationResult{}, ErrInvalidCommand
	}

	target, err := a.target(ctx, hw)
	if err != nil {
		return ActuationResult{}, err
	}

	res := ActuationResult{Accepted: true}
	for _, t := range a.transports {
		if !t.Available(target) {
			continue
		}
		if err := t.Switch(ctx, target, on, autoOff); err != nil {
			a.logger.Warn("relay transport failed",
				slog.Int64("device_id", device.ID),
				slog.String("transport", t.Name()),
				slog.Any("err", err),
			)
			continue
		}
		res.Delivered = true
		res.Transport = t.Name()
		if _, cloud := t.(*ShellyCloud); cloud && autoOff > 0 {
			a.scheduleOff(ctx, device.ID, t, target)
		}
		break
	}

	if err := a.devices.SetRelayOutput(ctx, device.ID, output); err != nil {
		return ActuationResult{}, fmt.Errorf("set relay output: %w", err)
	}
	res.Output = &output

	a.logger.Info("relay switched",
		slog.Int64("tenant_id", device.TenantID),
		slog.Int64("device_id", device.ID),
		slog.String("command", string(cmd)),
		slog.Bool("delivered", res.Delivered),
		slog.String("transport", res.Transport),
	)
	return res, nil
}

// scheduleOff ends a pulse on transports without a relay-side timer.
func (a *Actuator) scheduleOff(ctx context.Context, deviceID int64, t RelayTransport, target RelayTarget) {
	ctx = context.WithoutCancel(ctx)
	time.AfterFunc(a.pulse, func() {
		if err := t.Switch(ctx, target, false, 0); err != nil {
			a.logger.Warn("pulse off failed",
				slog.Int64("device_id", deviceID),
				slog.String("transport", t.Name()),
				slog.Any("err", err),
			)
		}
	})
}

// RelayStatus asks the transports in order; the first answer wins.
func (a *Actuator) RelayStatus(ctx context.Context, deviceID int64) (RelayStatus, error) {
	if _, err := tenant.Require(ctx); err != nil {
		return RelayStatus{}, err
	}
	device, err := a.device(ctx, deviceID)
	if err != nil {
		return RelayStatus{}, err
	}
	hw, ok := device.Relay()
	if !ok {
		return RelayStatus{}, ErrNotRelay
	}
	target, err := a.target(ctx, hw)
	if err != nil {
		return RelayStatus{}, err
	}

	for _, t := range a.transports {
		if !t.Available(target) {
			continue
		}
		st, err := t.Status(ctx, target)
		if err != nil {
			a.logger.Debug("relay status failed",
				slog.Int64("device_id", device.ID),
				slog.String("transport", t.Name()),
				slog.Any("err", err),
			)
			continue
		}
		return RelayStatus{Source: t.Name(), RelayState: st}, nil
	}
	return RelayStatus{Source: SourceUnavailable}, nil
}

func (a *Actuator) device(ctx context.Context, id int64) (store.Device, error) {
	if id <= 0 {
		return store.Device{}, ErrInvalidDeviceID
	}
	d, err := a.devices.DeviceByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Device{}, ErrUnknownDevice
	}
	if err != nil {
		return store.Device{}, fmt.Errorf("load device: %w", err)
	}
	return d, nil
}

// target resolves addressing for hw, including the tenant's cloud
// credential when the relay has a cloud id.
func (a *Actuator) target(ctx context.Context, hw *store.RelaySwitch) (RelayTarget, error) {
	t := RelayTarget{
		IPAddress: hw.IPAddress,
		CloudID:   BaseDeviceID(hw.CloudID),
		Channel:   ChannelIndex(hw.CloudID),
	}
	if hw.CloudID == "" || a.integrations == nil {
		return t, nil
	}

	ins, err := a.integrations.Integrations(ctx)
	if err != nil {
		return RelayTarget{}, fmt.Errorf("load integrations: %w", err)
	}
	for _, in := range ins {
		if in.Provider == store.ProviderShellyCloud && in.Token != "" {
			t.Cloud = &CloudCredential{BaseURL: in.BaseURL, AuthKey: in.Token}
			break
		}
	}
	return t, nil
}
