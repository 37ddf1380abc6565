package types

type ActionRequest struct {
	Command string `json:"command"`
}

type ActionResponse struct {
	OK        bool   `json:"ok"`
	DeviceID  int64  `json:"device_id"`
	Command   string `json:"command"`
	Accepted  bool   `json:"accepted"`
	Delivered bool   `json:"delivered"`
	Task      *int   `json:"task,omitempty"`
	Output    *bool  `json:"output,omitempty"`
	Transport string `json:"transport,omitempty"`
}

type RelayStatusResponse struct {
	DeviceID int64    `json:"device_id"`
	Source   string   `json:"source"` // transport name or "unavailable"
	Online   bool     `json:"online"`
	Output   *bool    `json:"output,omitempty"`
	PowerW   *float64 `json:"power_w,omitempty"`
}

// StatusReportRequest is the periodic self-report of a polling controller.
type StatusReportRequest struct {
	DeviceID        int64          `json:"device_id"`
	Task            *int           `json:"task,omitempty"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	SystemInfo      map[string]any `json:"system_info,omitempty"`
}

type StatusReportResponse struct {
	OK         bool   `json:"ok"`
	DeviceID   int64  `json:"device_id"`
	Task       int    `json:"task"`
	ServerTime string `json:"server_time"`
}

// DeviceConfigResponse is what a controller polls for: its pending task and
// the bindings it reports scans under.
type DeviceConfigResponse struct {
	DeviceID     int64  `json:"device_id"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Active       bool   `json:"active"`
	Task         int    `json:"task"`
	EntryAreaID  *int64 `json:"entry_area_id,omitempty"`
	ExitAreaID   *int64 `json:"exit_area_id,omitempty"`
	AllowReentry bool   `json:"allow_reentry"`
	ServerTime   string `json:"server_time"`
}
