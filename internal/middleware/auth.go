// Package middleware provides HTTP middleware for the console API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// AdminIDKey is the context key for the authenticated admin id.
	AdminIDKey ContextKey = "admin_id"
	// AdminNameKey is the context key for the admin display name.
	AdminNameKey ContextKey = "admin_name"
)

// Claims represents console JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	AdminID int64  `json:"admin_id"`
	Name    string `json:"name,omitempty"`
}

// Auth creates JWT authentication middleware for agent-facing routes.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), AdminIDKey, claims.AdminID)
			ctx = context.WithValue(ctx, AdminNameKey, claims.Name)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdminID gets the authenticated admin id from context.
func GetAdminID(ctx context.Context) int64 {
	if v := ctx.Value(AdminIDKey); v != nil {
		return v.(int64)
	}
	return 0
}

// GetAdminName gets the admin display name from context.
func GetAdminName(ctx context.Context) string {
	if v := ctx.Value(AdminNameKey); v != nil {
		return v.(string)
	}
	return ""
}
