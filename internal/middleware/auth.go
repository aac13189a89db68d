package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cassiomorais/docpay/internal/service"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload. Capabilities gate the admin operations
// (manual submission and approval); plain document clients carry none.
type Claims struct {
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// RequireAuth validates the bearer token and stashes the principal for the
// service layer's capability checks.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "missing authorization header", "auth_required")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, "invalid authorization scheme", "auth_invalid_scheme")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method")
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid {
				writeAuthError(w, "invalid token", "auth_invalid")
				return
			}

			ctx := service.WithPrincipal(r.Context(), service.Principal{
				Subject:      claims.Subject,
				Capabilities: claims.Capabilities,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}
