package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/joao-fontenele/bitelynk/internal/respond"
)

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Authenticate resolves the caller from a Bearer header, the "token" cookie,
// or an access_token query parameter (browsers cannot set headers on
// websocket upgrades).
func (m *TokenManager) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			_ = respond.Error(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}

		id, err := m.Parse(raw)
		if err != nil {
			_ = respond.Error(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			_ = respond.Error(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		if !id.IsAdmin() {
			_ = respond.Error(w, http.StatusForbidden, "Admin access required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
		return strings.TrimSpace(h)
	}
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("access_token")
}
