package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/venuegate/server/internal/clock"
	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/tenant"
	"github.com/venuegate/server/internal/venue/types"
)

// DeviceStatusService handles what polling controllers send and fetch:
// self-reports and their current config.
type DeviceStatusService struct {
	devices store.DeviceStore
	reports store.StatusReportStore
	clock   clock.Clock
	logger  *slog.Logger
}

func NewDeviceStatusService(ds store.DeviceStore, rs store.StatusReportStore, clk clock.Clock, logger *slog.Logger) *DeviceStatusService {
	if clk == nil {
		clk = clock.Real()
	}
	return &DeviceStatusService{devices: ds, reports: rs, clock: clk, logger: logger}
}

// Report records a self-report. A controller reporting task 1 has executed
// its one-shot open, so the task is reset to idle.
func (s *DeviceStatusService) Report(ctx context.Context, req types.StatusReportRequest) (types.StatusReportResponse, error) {
	if _, err := tenant.Require(ctx); err != nil {
		return types.StatusReportResponse{}, err
	}
	if req.DeviceID <= 0 {
		return types.StatusReportResponse{}, ErrInvalidDeviceID
	}
	if req.Task != nil && !store.Task(*req.Task).Valid() {
		return types.StatusReportResponse{}, fmt.Errorf("task %d: %w", *req.Task, ErrInvalidCommand)
	}

	device, err := s.devices.DeviceByID(ctx, req.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return types.StatusReportResponse{}, ErrUnknownDevice
	}
	if err != nil {
		return types.StatusReportResponse{}, fmt.Errorf("load device: %w", err)
	}

	now := s.clock.Now().UTC()
	if err := s.devices.TouchDevice(ctx, device.ID, now, req.FirmwareVersion); err != nil {
		return types.StatusReportResponse{}, fmt.Errorf("touch device: %w", err)
	}

	var current store.Task
	if c, ok := device.Controller(); ok {
		current = c.Task
		if req.Task != nil && store.Task(*req.Task) == store.TaskOpenOnce && current == store.TaskOpenOnce {
			if err := s.devices.SetDeviceTask(ctx, device.ID, store.TaskIdle); err != nil {
				return types.StatusReportResponse{}, fmt.Errorf("ack task: %w", err)
			}
			current = store.TaskIdle
			s.logger.Info("open task acknowledged", slog.Int64("device_id", device.ID))
		}
	}

	reported := current
	if req.Task != nil {
		reported = store.Task(*req.Task)
	}
	var info string
	if len(req.SystemInfo) > 0 {
		if b, err := json.Marshal(req.SystemInfo); err == nil {
			info = string(b)
		}
	}
	if err := s.reports.AppendStatusReport(ctx, store.StatusReport{
		DeviceID:   device.ID,
		ReceivedAt: now,
		Task:       reported,
		Firmware:   req.FirmwareVersion,
		SystemInfo: info,
	}); err != nil {
		return types.StatusReportResponse{}, fmt.Errorf("append status report: %w", err)
	}

	return types.StatusReportResponse{
		OK:         true,
		DeviceID:   device.ID,
		Task:       int(current),
		ServerTime: now.Format(time.RFC3339Nano),
	}, nil
}

// Config is what a controller polls for. Polling counts as being seen.
func (s *DeviceStatusService) Config(ctx context.Context, deviceID int64) (types.DeviceConfigResponse, error) {
	if _, err := tenant.Require(ctx); err != nil {
		return types.DeviceConfigResponse{}, err
	}
	if deviceID <= 0 {
		return types.DeviceConfigResponse{}, ErrInvalidDeviceID
	}
	device, err := s.devices.DeviceByID(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return types.DeviceConfigResponse{}, ErrUnknownDevice
	}
	if err != nil {
		return types.DeviceConfigResponse{}, fmt.Errorf("load device: %w", err)
	}

	now := s.clock.Now().UTC()
	if err := s.devices.TouchDevice(ctx, device.ID, now, ""); err != nil {
		s.logger.Warn("touch device on poll", slog.Int64("device_id", device.ID), slog.Any("err", err))
	}

	resp := types.DeviceConfigResponse{
		DeviceID:     device.ID,
		Name:         device.Name,
		Kind:         string(device.Kind()),
		Active:       device.Active,
		EntryAreaID:  device.EntryAreaID,
		ExitAreaID:   device.ExitAreaID,
		AllowReentry: device.AllowReentry,
		ServerTime:   now.Format(time.RFC3339Nano),
	}
	if c, ok := device.Controller(); ok {
		resp.Task = int(c.Task)
	}
	return resp, nil
}
