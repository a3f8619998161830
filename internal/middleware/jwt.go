package myMiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// 1. Define Context Keys (Exported so other packages can read them)
type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// 2. Define what we need from the User Service
// This interface decouples 'middleware' from 'user'
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}

// 3. The Middleware Structure
type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// 4. The actual Handler
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := TokenFromRequest(r)

		if tokenString == "" {
			writeJSONError(w, http.StatusUnauthorized, "Missing authentication token")
			return
		}

		// Validate using the interface
		userID, username, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		// Inject into Context
		ctx := WithIdentity(r.Context(), userID, username)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromRequest reads the Authorization header ("Bearer x" or a bare token),
// falling back to the token query param for browser websocket clients.
func TokenFromRequest(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader != "" {
		parts := strings.Fields(authHeader)
		switch {
		case len(parts) == 2 && strings.EqualFold(parts[0], "Bearer"):
			return parts[1]
		case len(parts) == 1:
			return parts[0]
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func WithIdentity(ctx context.Context, userID int, username string) context.Context {
	ctx = context.WithValue(ctx, UserKey, userID)
	return context.WithValue(ctx, UsernameKey, username)
}

// UserID returns the authenticated identity injected by Handle.
func UserID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(UserKey).(int)
	return id, ok && id != 0
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
