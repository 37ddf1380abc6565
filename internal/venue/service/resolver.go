package service

import (
	"context"
	"strings"
	"unicode"

	"github.com/venuegate/server/internal/venue/store"
)

// Resolver maps a scanned code to a credential of the scoped tenant.
type Resolver struct {
	credentials store.CredentialStore
}

func NewResolver(cs store.CredentialStore) *Resolver {
	return &Resolver{credentials: cs}
}

// Resolve tries the whitespace-stripped code first and the trimmed raw code
// second. It has no side effects.
func (r *Resolver) Resolve(ctx context.Context, rawCode string) (store.Credential, bool, error) {
	normalized := NormalizeCode(rawCode)
	raw := strings.TrimSpace(rawCode)

	for _, code := range candidates(normalized, raw) {
		c, ok, err := r.credentials.CredentialByCode(ctx, code)
		if err != nil {
			return store.Credential{}, false, err
		}
		if ok {
			return c, true, nil
		}
	}
	return store.Credential{}, false, nil
}

// NormalizeCode removes every whitespace rune.
func NormalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code)
}

func candidates(normalized, raw string) []string {
	out := make([]string, 0, 2)
	if normalized != "" {
		out = append(out, normalized)
	}
	if raw != "" && raw != normalized {
		out = append(out, raw)
	}
	return out
}
