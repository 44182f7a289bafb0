package middleware

import (
	"net/http"
	"strings"

	"github.com/gosuda/bazaar/internal/auth"
)

// Auth requires a valid bearer access token and stores its user id and role
// in the request context.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := extractBearer(r); tok != "" {
				userID, role, err := auth.ValidateAccessToken(jwtSecret, tok)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, role)))
					return
				}
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}
