package api

import (
	"context"
	"net/http"
	"strings"

	"filmdoms/cmd/account"
	"filmdoms/cmd/internal/auth/session"
)

type claimsKey struct{}

// ClaimsFromContext returns the access claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (session.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(session.AccessClaims)
	return c, ok
}

// RequireAuth admits requests carrying a valid bearer access token and
// stores its claims in the request context. Failures answer 401 with the
// token result code.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, CodeTokenNotFound, "missing bearer token")
			return
		}
		claims, err := h.sessions.AuthorizeRequest(raw, h.now())
		if err != nil {
			h.writeSessionError(w, r, "auth.authorize.fail", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// RequireRole admits requests whose claims carry one of roles. It must run
// inside RequireAuth.
func RequireRole(next http.Handler, roles ...account.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, CodeTokenNotFound, "missing bearer token")
			return
		}
		for _, role := range roles {
			if claims.Role == role {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusForbidden, CodeForbidden, "insufficient role")
	})
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
