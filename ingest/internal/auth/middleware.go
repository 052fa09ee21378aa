// Package auth authenticates first-party API callers and carries their
// workspace through the request context.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/adamwolfe2/leadme-sub019/common/httputil"
	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/common/tokens"
)

type contextKey struct{}

// TokenValidator is implemented by tokens.Manager.
type TokenValidator interface {
	Validate(token string) (*tokens.Claims, error)
}

// RequireWorkspace rejects requests without a valid bearer token and stores
// the caller's claims in the request context.
func RequireWorkspace(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			claims, err := v.Validate(raw)
			if err != nil {
				slog.DebugContext(r.Context(), "bearer token rejected", logging.Error(err))
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, claims)
			ctx = logging.WithWorkspace(ctx, claims.WorkspaceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by RequireWorkspace.
func ClaimsFromContext(ctx context.Context) (*tokens.Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*tokens.Claims)
	return c, ok
}

// WorkspaceFromContext returns the authenticated caller's workspace.
func WorkspaceFromContext(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.WorkspaceID
	}
	return ""
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, c *tokens.Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
