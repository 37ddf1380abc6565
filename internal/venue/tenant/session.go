package tenant

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the payload of an operator session token issued by the
// admin application.
type SessionClaims struct {
	TenantID int64  `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// SessionVerifier checks HS256 operator session tokens.
type SessionVerifier struct {
	secret []byte
}

func NewSessionVerifier(secret string) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret)}
}

// Enabled reports whether a signing secret is configured.
func (v *SessionVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

func (v *SessionVerifier) Verify(raw string) (SessionClaims, error) {
	if !v.Enabled() {
		return SessionClaims{}, ErrUnauthenticated
	}
	if raw == "" {
		return SessionClaims{}, ErrUnauthenticated
	}

	var claims SessionClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.TenantID <= 0 {
		return SessionClaims{}, errors.Join(ErrUnauthenticated, errors.New("session without tenant_id"))
	}
	return claims, nil
}

// Issue signs a session for tenantID. Used by the dev seed and tests; the
// admin application issues production sessions with the same secret.
func (v *SessionVerifier) Issue(tenantID int64, subject, role string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", errors.New("session secret not configured")
	}
	now := time.Now()
	claims := SessionClaims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
