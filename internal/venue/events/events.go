// Package events publishes admission outcomes and controller task changes
// to downstream systems. Publishing is best effort: callers log failures
// and never let them change an admission or actuation result.
package events

import (
	"context"
	"encoding/json"
	"time"
)

const (
	TypeScanRecorded = "scan.recorded"
	TypeTaskChanged  = "device.task_changed"
)

type Event struct {
	Type     string          `json:"type"`
	TenantID int64           `json:"tenant_id"`
	At       time.Time       `json:"at"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event stamped at.
func NewEvent(typ string, tenantID int64, at time.Time, data any) (Event, error) {
	ev := Event{Type: typ, TenantID: tenantID, At: at.UTC()}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		ev.Data = b
	}
	return ev, nil
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// TaskNudger tells a polling controller that a new task is waiting.
type TaskNudger interface {
	NudgeTask(ctx context.Context, tenantID, deviceID int64, task int) error
}

// Nop discards everything. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error               { return nil }
func (Nop) NudgeTask(context.Context, int64, int64, int) error { return nil }
