package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/abctrading/tradeauth"
)

// AccessValidator is satisfied by *tradeauth.Engine.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, accessToken string) (*tradeauth.AuthResult, error)
}

type authResultContextKey struct{}

// AuthResultFromContext returns the claims stored by RequireAccess.
func AuthResultFromContext(ctx context.Context) (*tradeauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*tradeauth.AuthResult)
	return res, ok
}

// WithAuthResult stores res in ctx. Handlers under test use it to skip the
// middleware.
func WithAuthResult(ctx context.Context, res *tradeauth.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// RequireAccess rejects requests without a valid Bearer access token with 401.
func RequireAccess(v AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			res, err := v.ValidateAccess(r.Context(), token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

// RequireScope must run after RequireAccess. It responds 403 unless the
// token's scope list contains every required scope.
func RequireScope(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			granted := strings.Fields(res.Scope)
			for _, want := range required {
				if !contains(granted, want) {
					writeError(w, http.StatusForbidden, "forbidden", "insufficient scope")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
