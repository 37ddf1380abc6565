package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/venuegate/server/internal/venue/service"
	"github.com/venuegate/server/internal/venue/tenant"
)

// SessionCookie carries the operator session issued by the admin application.
const SessionCookie = "venuegate_session"

// bearerToken returns the Authorization bearer value, or "".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// deviceScope binds the tenant of a device-facing request. Gates that cannot
// set headers pass the token as ?token=.
func (s *Server) deviceScope(r *http.Request) (context.Context, error) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	ctx, _, err := s.auth.FromToken(r.Context(), token)
	return ctx, err
}

// operatorScope accepts a session cookie, a session JWT as bearer, or a
// tenant API token.
func (s *Server) operatorScope(r *http.Request) (context.Context, error) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		ctx, _, err := s.auth.FromSession(r.Context(), c.Value)
		return ctx, err
	}
	token := bearerToken(r)
	if looksLikeJWT(token) {
		ctx, _, err := s.auth.FromSession(r.Context(), token)
		return ctx, err
	}
	ctx, _, err := s.auth.FromToken(r.Context(), token)
	return ctx, err
}

// sessionScope accepts operator sessions only.
func (s *Server) sessionScope(r *http.Request) (context.Context, error) {
	raw := bearerToken(r)
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		raw = c.Value
	}
	ctx, _, err := s.auth.FromSession(r.Context(), raw)
	return ctx, err
}

func looksLikeJWT(s string) bool {
	return strings.Count(s, ".") == 2
}

// writeServiceError maps service and tenant errors onto the API error body.
// Anything unrecognized is logged and reported as a 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid credentials")
	case errors.Is(err, tenant.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "tenant access denied")
	case errors.Is(err, service.ErrUnknownDevice):
		writeError(w, http.StatusForbidden, "unknown_device", err.Error())
	case errors.Is(err, service.ErrInvalidDeviceID):
		writeError(w, http.StatusBadRequest, "invalid_device_id", err.Error())
	case errors.Is(err, service.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid_code", err.Error())
	case errors.Is(err, service.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, "invalid_command", err.Error())
	case errors.Is(err, service.ErrNotRelay):
		writeError(w, http.StatusBadRequest, "not_relay", err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"err", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
