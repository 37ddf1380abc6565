// Package tenant carries the per-request isolation scope. Every store
// operation reads the scope from its context and refuses to run without
// one.
package tenant

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoScope         = errors.New("tenant scope not established")
	ErrUnauthenticated = errors.New("missing credentials")
	ErrForbidden       = errors.New("tenant access denied")
)

// Scope identifies the tenant a request acts for.
type Scope struct {
	TenantID int64
	// Location is the venue wall clock; never nil once bound by Bind.
	Location *time.Location
	// Subject and Role are set for operator sessions only.
	Subject string
	Role    string
}

type scopeKey struct{}

// WithScope returns a child context bound to s. A nil Location defaults to UTC.
func WithScope(ctx context.Context, s Scope) context.Context {
	if s.Location == nil {
		s.Location = time.UTC
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok && s.TenantID > 0
}

// Require returns the bound scope or ErrNoScope.
func Require(ctx context.Context) (Scope, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return Scope{}, ErrNoScope
	}
	return s, nil
}

// ID is a shorthand for stores that only need the tenant id.
func ID(ctx context.Context) (int64, error) {
	s, err := Require(ctx)
	if err != nil {
		return 0, err
	}
	return s.TenantID, nil
}
