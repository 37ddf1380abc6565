package types

// DashboardOpenCode is the code an operator dashboard submits to open a gate
// by hand. It bypasses every credential check.
const DashboardOpenCode = "__DASHBOARD_OPEN__"

type ScanRequest struct {
	DeviceID int64  `json:"device_id"`
	Code     string `json:"code"`
}

type ScanResponse struct {
	Granted    bool            `json:"granted"`
	Result     string          `json:"result"` // GRANTED | DENIED | PROTECTED
	Reason     string          `json:"reason"`
	Message    string          `json:"message"`
	DeviceID   int64           `json:"device_id"`
	ScanID     int64           `json:"scan_id"`
	Credential *CredentialInfo `json:"credential,omitempty"`
	ServerTime string          `json:"server_time"`
}

// CredentialInfo is the display subset returned to a gate on grant.
type CredentialInfo struct {
	ID         int64  `json:"id"`
	Name       string `json:"name,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	TicketType string `json:"ticket_type,omitempty"`
	Status     string `json:"status"`
}
