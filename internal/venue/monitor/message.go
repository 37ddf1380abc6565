// Package monitor streams a tenant's scans, per-area counts, device states
// and the active ticket roster to live subscribers.
package monitor

import (
	"encoding/json"
	"time"

	"github.com/venuegate/server/internal/venue/store"
)

const (
	TypeMeta    = "meta"
	TypeScans   = "scans"
	TypeCounts  = "counts"
	TypeDevices = "devices"
	TypeTickets = "tickets"
	TypeError   = "error"
)

// Message is one frame on a subscription, identical on SSE and WebSocket.
type Message struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewMessage(typ string, at time.Time, data any) (Message, error) {
	m := Message{Type: typ, At: at.UTC().Format(time.RFC3339Nano)}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		m.Data = b
	}
	return m, nil
}

type MetaData struct {
	Name       string     `json:"name,omitempty"`
	IntervalMS int64      `json:"interval_ms"`
	Areas      []AreaInfo `json:"areas"`
	Devices    []int64    `json:"device_ids"`
}

type AreaInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PersonLimit *int   `json:"person_limit,omitempty"`
}

type ScanData struct {
	ID           int64  `json:"id"`
	DeviceID     int64  `json:"device_id"`
	CredentialID *int64 `json:"credential_id,omitempty"`
	Code         string `json:"code"`
	Result       string `json:"result"`
	Reason       string `json:"reason"`
	ScannedAt    string `json:"scanned_at"`
}

func scanData(scans []store.Scan) []ScanData {
	out := make([]ScanData, len(scans))
	for i, s := range scans {
		out[i] = ScanData{
			ID:           s.ID,
			DeviceID:     s.DeviceID,
			CredentialID: s.CredentialID,
			Code:         s.Code,
			Result:       string(s.Result),
			Reason:       s.Reason,
			ScannedAt:    s.ScannedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return out
}

// CountData is today's traffic through one area. Current may be negative
// when exits were scanned without matching entries.
type CountData struct {
	AreaID      int64  `json:"area_id"`
	Name        string `json:"name"`
	Entries     int    `json:"entries"`
	Exits       int    `json:"exits"`
	Current     int    `json:"current"`
	PersonLimit *int   `json:"person_limit,omitempty"`
}

type DeviceData struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Active     bool    `json:"active"`
	Online     bool    `json:"online"`
	Task       *int    `json:"task,omitempty"`
	Output     *bool   `json:"output,omitempty"`
	LastSeenAt *string `json:"last_seen_at,omitempty"`
}

func deviceData(devices []store.Device, now time.Time) []DeviceData {
	out := make([]DeviceData, len(devices))
	for i, d := range devices {
		dd := DeviceData{
			ID:     d.ID,
			Name:   d.Name,
			Kind:   string(d.Kind()),
			Active: d.Active,
			Online: d.Online(now),
		}
		switch hw := d.Hardware.(type) {
		case *store.AccessController:
			task := int(hw.Task)
			dd.Task = &task
		case *store.RelaySwitch:
			on := hw.Output
			dd.Output = &on
		}
		dd.LastSeenAt = rfc3339(d.LastSeenAt)
		out[i] = dd
	}
	return out
}

// TicketData is one roster entry: an active credential usable at the
// monitored devices.
type TicketData struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	FirstName       string  `json:"first_name,omitempty"`
	LastName        string  `json:"last_name,omitempty"`
	TicketType      string  `json:"ticket_type,omitempty"`
	Status          string  `json:"status"`
	Validity        string  `json:"validity"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	FirstScanAt     *string `json:"first_scan_at,omitempty"`
	StartDate       *string `json:"start_date,omitempty"`
	EndDate         *string `json:"end_date,omitempty"`
	SlotStart       string  `json:"slot_start,omitempty"`
	SlotEnd         string  `json:"slot_end,omitempty"`
}

func ticketData(creds []store.Credential) []TicketData {
	out := make([]TicketData, len(creds))
	for i, c := range creds {
		out[i] = TicketData{
			ID:              c.ID,
			Name:            c.Name,
			FirstName:       c.FirstName,
			LastName:        c.LastName,
			TicketType:      c.TicketType,
			Status:          string(c.Status),
			Validity:        string(c.Validity),
			DurationMinutes: c.DurationMinutes,
			FirstScanAt:     rfc3339(c.FirstScanAt),
			StartDate:       rfc3339(c.StartDate),
			EndDate:         rfc3339(c.EndDate),
			SlotStart:       c.SlotStart,
			SlotEnd:         c.SlotEnd,
		}
	}
	return out
}

func rfc3339(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// ErrorData reports a poll that could not read its sources. The
// subscription stays open and retries on the next tick.
type ErrorData struct {
	Message string `json:"message"`
}
