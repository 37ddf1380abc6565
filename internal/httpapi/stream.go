package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/venuegate/server/internal/venue/monitor"
	"github.com/venuegate/server/internal/venue/store"
)

const wsWriteTimeout = 5 * time.Second

// handleOperatorStream streams the session tenant's activity, optionally
// narrowed with ?areas=1,2&devices=3.
func (s *Server) handleOperatorStream(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.sessionScope(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	areas, err := parseIDs(q.Get("areas"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_areas", err.Error())
		return
	}
	devices, err := parseIDs(q.Get("devices"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_devices", err.Error())
		return
	}

	s.serveSSE(ctx, w, r, monitor.Subscription{
		AreaIDs:   areas,
		DeviceIDs: devices,
		Backlog:   s.streamBacklog,
	})
}

func (s *Server) handleMonitorEvents(w http.ResponseWriter, r *http.Request) {
	ctx, sub, ok := s.monitorScope(w, r)
	if !ok {
		return
	}
	s.serveSSE(ctx, w, r, sub)
}

func (s *Server) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	ctx, sub, ok := s.monitorScope(w, r)
	if !ok {
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.wsOrigins) > 0 {
		opts.OriginPatterns = s.wsOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}

	// Monitors only listen; CloseRead ends ctx when the client goes away.
	ctx = conn.CloseRead(ctx)
	err = s.feed.Run(ctx, sub, func(m monitor.Message) error {
		writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
		return wsjson.Write(writeCtx, conn, m)
	})
	if err != nil {
		s.logger.Debug("monitor websocket closed", "monitor", sub.Name, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "stream failed")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "closed")
}

// monitorScope resolves the {token} capability to its tenant and view. It
// writes the error response itself.
func (s *Server) monitorScope(w http.ResponseWriter, r *http.Request) (context.Context, monitor.Subscription, bool) {
	m, err := s.monitors.MonitorByToken(r.Context(), r.PathValue("token"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && !m.Active) {
		writeError(w, http.StatusNotFound, "monitor_not_found", "unknown monitor")
		return nil, monitor.Subscription{}, false
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, monitor.Subscription{}, false
	}

	ctx, _, err := s.auth.Bind(r.Context(), m.TenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, monitor.Subscription{}, false
	}
	return ctx, monitor.SubscriptionFor(m, s.publicBacklog), true
}

// serveSSE runs the feed as a text/event-stream, one JSON message per event.
func (s *Server) serveSSE(ctx context.Context, w http.ResponseWriter, r *http.Request, sub monitor.Subscription) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("sse flush unsupported", "path", r.URL.Path, "err", err)
		return
	}

	err := s.feed.Run(ctx, sub, func(m monitor.Message) error {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil {
		s.logger.Debug("sse stream ended",
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"err", err,
		)
	}
}

// parseIDs reads a comma-separated id list; empty means no filter.
func parseIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}
