package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey struct{}

var scopesKey = ctxKey{}

// ScopeProfilesRead is required for any profile endpoint; ScopePIIRead
// additionally lifts PII redaction from responses.
const (
	ScopeProfilesRead = "profiles:read"
	ScopePIIRead      = "pii:read"
)

// Auth validates a Bearer JWT (HS256) and stores its scopes in context.
func Auth(signingKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(signingKey), nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			scopes := parseScopes(claims)
			if !scopes[ScopeProfilesRead] {
				writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			ctx := context.WithValue(r.Context(), scopesKey, scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseScopes(claims jwt.MapClaims) map[string]bool {
	scopes := make(map[string]bool)
	raw, _ := claims["scope"].(string)
	for _, s := range strings.Fields(raw) {
		scopes[s] = true
	}
	return scopes
}

// HasScope reports whether the authenticated caller carries the scope.
func HasScope(ctx context.Context, scope string) bool {
	scopes, ok := ctx.Value(scopesKey).(map[string]bool)
	return ok && scopes[scope]
}
