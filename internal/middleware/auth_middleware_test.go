package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vaulin/backend/internal/appctx"
	"github.com/vaulin/backend/internal/auth"
	"github.com/vaulin/backend/internal/repository"
)

// mockSessions implements repository.SessionRepository for testing
type mockSessions struct {
	sessions map[uuid.UUID]*repository.Session
}

func newMockSessions() *mockSessions {
	return &mockSessions{sessions: make(map[uuid.UUID]*repository.Session)}
}

func (m *mockSessions) Upsert(ctx context.Context, session *repository.Session) error {
	m.sessions[session.UserID] = session
	return nil
}

func (m *mockSessions) GetLive(ctx context.Context, userID uuid.UUID, tokenHash string) (*repository.Session, error) {
	session, ok := m.sessions[userID]
	if !ok || session.TokenHash != tokenHash || session.ExpiresAt.Before(time.Now()) {
		return nil, repository.ErrSessionNotFound
	}
	return session, nil
}

func (m *mockSessions) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	delete(m.sessions, userID)
	return nil
}

func newGuardForTest() (*SessionGuard, *auth.TokenService, *mockSessions) {
	tokens := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:     "test-secret-at-least-32-bytes-long!",
		SessionTTL: 5 * time.Minute,
		Issuer:     "vaulin-test",
	})
	sessions := newMockSessions()
	return NewSessionGuard(tokens, sessions), tokens, sessions
}

// loginFor mints a token and backs it with a live session row
func loginFor(tokens *auth.TokenService, sessions *mockSessions, userID uuid.UUID) string {
	token, expiresAt, _ := tokens.Generate(userID, "alice@example.com")
	sessions.sessions[userID] = &repository.Session{
		UserID:    userID,
		TokenHash: tokens.Hash(token),
		ExpiresAt: expiresAt,
	}
	return token
}

func serveGuarded(guard *SessionGuard, authHeader string) (*httptest.ResponseRecorder, *http.Request) {
	var captured *http.Request
	handler := guard.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/vault/list", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, captured
}

func TestAuthenticateAllowsLiveSession(t *testing.T) {
	guard, tokens, sessions := newGuardForTest()
	userID := uuid.New()
	token := loginFor(tokens, sessions, userID)

	rec, captured := serveGuarded(guard, "Bearer "+token)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	gotID, ok := appctx.UserID(captured.Context())
	if !ok || gotID != userID {
		t.Errorf("context user = %v (ok=%v), want %v", gotID, ok, userID)
	}
	gotEmail, _ := appctx.Email(captured.Context())
	if gotEmail != "alice@example.com" {
		t.Errorf("context email = %q", gotEmail)
	}
}

func TestAuthenticateAcceptsSessionTokenPrefix(t *testing.T) {
	guard, tokens, sessions := newGuardForTest()
	userID := uuid.New()
	token := loginFor(tokens, sessions, userID)

	rec, _ := serveGuarded(guard, "Bearer SessionToken="+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	guard, _, _ := newGuardForTest()

	rec, _ := serveGuarded(guard, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticateRejectsMalformedHeader(t *testing.T) {
	guard, _, _ := newGuardForTest()

	for _, header := range []string{"Bearer", "Basic abc", "Bearer "} {
		rec, _ := serveGuarded(guard, header)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestAuthenticateRejectsTokenWithoutSession(t *testing.T) {
	guard, tokens, _ := newGuardForTest()

	// valid signature but no backing session row
	token, _, _ := tokens.Generate(uuid.New(), "alice@example.com")

	rec, _ := serveGuarded(guard, "Bearer "+token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAuthenticateRejectsRevokedSession(t *testing.T) {
	guard, tokens, sessions := newGuardForTest()
	userID := uuid.New()
	token := loginFor(tokens, sessions, userID)

	// logout revokes the row; the still-unexpired token is now useless
	delete(sessions.sessions, userID)

	rec, _ := serveGuarded(guard, "Bearer "+token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAuthenticateRejectsSupersededToken(t *testing.T) {
	guard, tokens, sessions := newGuardForTest()
	userID := uuid.New()
	oldToken := loginFor(tokens, sessions, userID)
	loginFor(tokens, sessions, userID) // second login replaces the row

	rec, _ := serveGuarded(guard, "Bearer "+oldToken)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
