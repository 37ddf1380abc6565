package httpapi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/venuegate/server/internal/venue/service"
	"github.com/venuegate/server/internal/venue/types"
)

// ── Scan ─────────────────────────────────────────────────────────────────────

func scanResponse(res service.AdmissionResult, deviceID int64, now time.Time) types.ScanResponse {
	resp := types.ScanResponse{
		Granted:    res.Granted(),
		Result:     string(res.Result),
		Reason:     res.Reason,
		Message:    res.Message,
		DeviceID:   deviceID,
		ScanID:     res.Scan.ID,
		ServerTime: now.UTC().Format(time.RFC3339),
	}
	// Holder details go back to the gate only when it opens.
	if c := res.Credential; c != nil && res.Granted() {
		resp.Credential = &types.CredentialInfo{
			ID:         c.ID,
			Name:       c.Name,
			FirstName:  c.FirstName,
			LastName:   c.LastName,
			TicketType: c.TicketType,
			Status:     string(c.Status),
		}
	}
	return resp
}

// scanRequestFromStruct reads a scan from the generic protobuf Struct that
// gate firmware sends. device_id may be a number or a decimal string.
func scanRequestFromStruct(st *structpb.Struct) (types.ScanRequest, error) {
	f := st.GetFields()
	req := types.ScanRequest{Code: f["code"].GetStringValue()}

	switch v := f["device_id"].GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := v.NumberValue
		if math.Trunc(n) != n || n < math.MinInt64 || n >= math.MaxInt64 {
			return types.ScanRequest{}, fmt.Errorf("device_id: %v is not an integer", n)
		}
		req.DeviceID = int64(n)
	case *structpb.Value_StringValue:
		id, err := strconv.ParseInt(strings.TrimSpace(v.StringValue), 10, 64)
		if err != nil {
			return types.ScanRequest{}, fmt.Errorf("device_id: %w", err)
		}
		req.DeviceID = id
	}
	return req, nil
}

func scanResponseToStruct(r types.ScanResponse) (*structpb.Struct, error) {
	m := map[string]any{
		"granted":     r.Granted,
		"result":      r.Result,
		"reason":      r.Reason,
		"message":     r.Message,
		"device_id":   r.DeviceID,
		"scan_id":     r.ScanID,
		"server_time": r.ServerTime,
	}
	if c := r.Credential; c != nil {
		m["credential"] = map[string]any{
			"id":          c.ID,
			"name":        c.Name,
			"first_name":  c.FirstName,
			"last_name":   c.LastName,
			"ticket_type": c.TicketType,
			"status":      c.Status,
		}
	}
	return structpb.NewStruct(m)
}

// ── Devices ──────────────────────────────────────────────────────────────────

func actionResponse(deviceID int64, cmd string, res service.ActuationResult) types.ActionResponse {
	resp := types.ActionResponse{
		OK:        true,
		DeviceID:  deviceID,
		Command:   cmd,
		Accepted:  res.Accepted,
		Delivered: res.Delivered,
		Output:    res.Output,
		Transport: res.Transport,
	}
	if res.Task != nil {
		task := int(*res.Task)
		resp.Task = &task
	}
	return resp
}

func relayStatusResponse(deviceID int64, st service.RelayStatus) types.RelayStatusResponse {
	return types.RelayStatusResponse{
		DeviceID: deviceID,
		Source:   st.Source,
		Online:   st.Online,
		Output:   st.Output,
		PowerW:   st.PowerW,
	}
}
