package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/vaulin/backend/internal/appctx"
	"github.com/vaulin/backend/internal/auth"
	"github.com/vaulin/backend/internal/repository"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionGuard authenticates protected routes. A request passes only if it
// carries a valid signed token AND the token still matches the user's live
// session row, so logout and password reset revoke access immediately even
// for tokens that have not expired.
type SessionGuard struct {
	tokens   *auth.TokenService
	sessions repository.SessionRepository
}

// NewSessionGuard creates a new SessionGuard instance
func NewSessionGuard(tokens *auth.TokenService, sessions repository.SessionRepository) *SessionGuard {
	return &SessionGuard{
		tokens:   tokens,
		sessions: sessions,
	}
}

// Authenticate validates the bearer token and the backing session row.
// Accepts both `Bearer <token>` and the legacy `Bearer SessionToken=<token>`
// header shape.
func (g *SessionGuard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenMissing, "Authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid authorization header format")
			return
		}

		tokenString := strings.TrimPrefix(parts[1], "SessionToken=")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Token is empty")
			return
		}

		claims, err := g.tokens.Validate(tokenString)
		if err != nil {
			writeError(w, http.StatusForbidden, auth.CodeAuthTokenInvalid, "Invalid or expired token")
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			writeError(w, http.StatusForbidden, auth.CodeAuthTokenInvalid, "Invalid or expired token")
			return
		}

		if _, err := g.sessions.GetLive(r.Context(), userID, g.tokens.Hash(tokenString)); err != nil {
			writeError(w, http.StatusForbidden, auth.CodeSessionInvalid, "Session expired or invalid")
			return
		}

		ctx := appctx.WithUser(r.Context(), userID, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}
