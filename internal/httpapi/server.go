package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/venuegate/server/internal/clock"
	"github.com/venuegate/server/internal/venue/monitor"
	"github.com/venuegate/server/internal/venue/service"
	"github.com/venuegate/server/internal/venue/store"
)

type Dependencies struct {
	Logger *slog.Logger
	Addr   string
	Clock  clock.Clock

	Auth         *service.TenantAuth
	Engine       *service.AdmissionEngine
	Actuator     *service.Actuator
	DeviceStatus *service.DeviceStatusService

	Feed     *monitor.Feed
	Monitors store.MonitorStore
	// Scans replayed on connect: public monitors and the operator stream.
	PublicBacklog int
	StreamBacklog int
	// WSOrigins are extra Origin patterns accepted on the WebSocket route.
	WSOrigins []string
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	mux        *http.ServeMux
	clock      clock.Clock

	auth         *service.TenantAuth
	engine       *service.AdmissionEngine
	actuator     *service.Actuator
	deviceStatus *service.DeviceStatusService

	feed          *monitor.Feed
	monitors      store.MonitorStore
	publicBacklog int
	streamBacklog int
	wsOrigins     []string
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}

	s := &Server{
		logger:        d.Logger,
		mux:           mux,
		clock:         d.Clock,
		auth:          d.Auth,
		engine:        d.Engine,
		actuator:      d.Actuator,
		deviceStatus:  d.DeviceStatus,
		feed:          d.Feed,
		monitors:      d.Monitors,
		publicBacklog: d.PublicBacklog,
		streamBacklog: d.StreamBacklog,
		wsOrigins:     d.WSOrigins,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/scan", s.handleScan)
	mux.HandleFunc("GET /v1/devices/{id}/config", s.handleDeviceConfig)
	mux.HandleFunc("POST /v1/devices/status", s.handleStatusReport)
	mux.HandleFunc("POST /v1/devices/{id}/actions", s.handleAction)
	mux.HandleFunc("GET /v1/devices/{id}/relay-status", s.handleRelayStatus)

	mux.HandleFunc("GET /v1/stream", s.handleOperatorStream)
	mux.HandleFunc("GET /v1/monitors/{token}/events", s.handleMonitorEvents)
	mux.HandleFunc("GET /v1/monitors/{token}/ws", s.handleMonitorWS)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"server_time": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
