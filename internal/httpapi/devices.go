package httpapi

import (
	"net/http"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/venuegate/server/internal/venue/service"
	"github.com/venuegate/server/internal/venue/types"
)

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.deviceScope(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var req types.ScanRequest
	protobuf := isProtobuf(r)
	if protobuf {
		var st structpb.Struct
		if err := readProto(r, &st); err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
		if req, err = scanRequestFromStruct(&st); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_device_id", err.Error())
			return
		}
	} else if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	res, err := s.engine.Decide(ctx, service.AdmissionRequest{DeviceID: req.DeviceID, Code: req.Code})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := scanResponse(res, req.DeviceID, s.clock.Now())
	if protobuf {
		st, err := scanResponseToStruct(resp)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeProto(w, http.StatusOK, st)
		return
	}
	// Denials are decisions, not errors: always 200.
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeviceConfig(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.deviceScope(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	resp, err := s.deviceStatus.Config(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatusReport(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.deviceScope(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var req types.StatusReportRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.deviceStatus.Report(ctx, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.operatorScope(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req types.ActionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	res, err := s.actuator.Actuate(ctx, id, service.Command(req.Command))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse(id, req.Command, res))
}

func (s *Server) handleRelayStatus(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.operatorScope(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	st, err := s.actuator.RelayStatus(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, relayStatusResponse(id, st))
}

// pathID parses the {id} segment, writing a 400 when it is not a positive
// integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_device_id", "device id must be a positive integer")
		return 0, false
	}
	return id, true
}
