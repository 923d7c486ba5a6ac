package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vaulin/backend/internal/auth"
	"github.com/vaulin/backend/internal/middleware"
	"github.com/vaulin/backend/internal/otp"
	"github.com/vaulin/backend/internal/repository"
	"github.com/vaulin/backend/internal/vault"
)

// Mock implementations for testing

type mockStore struct {
	users    map[uuid.UUID]*repository.User
	otps     []*repository.OTPRecord
	sessions map[uuid.UUID]*repository.Session
	entries  map[uuid.UUID]*repository.VaultEntry
	activity []*repository.ActivityEntry
}

func newMockStore() *mockStore {
	return &mockStore{
		users:    make(map[uuid.UUID]*repository.User),
		sessions: make(map[uuid.UUID]*repository.Session),
		entries:  make(map[uuid.UUID]*repository.VaultEntry),
	}
}

func (m *mockStore) Users() repository.UserRepository         { return &mockUsers{store: m} }
func (m *mockStore) OTPs() repository.OTPRepository           { return &mockOTPs{store: m} }
func (m *mockStore) Sessions() repository.SessionRepository   { return &mockSessions{store: m} }
func (m *mockStore) VaultEntries() repository.VaultRepository { return &mockVault{store: m} }
func (m *mockStore) Activity() repository.ActivityRepository  { return &mockActivity{store: m} }

func (m *mockStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	return fn(m)
}

func (m *mockStore) latestOTP(userID uuid.UUID, purpose repository.OTPPurpose) *repository.OTPRecord {
	var latest *repository.OTPRecord
	for _, r := range m.otps {
		if r.UserID != userID || r.Purpose != purpose {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

type mockUsers struct {
	store *mockStore
}

func (m *mockUsers) Create(ctx context.Context, user *repository.User) error {
	for _, existing := range m.store.users {
		if existing.Email == user.Email || existing.Username == user.Username {
			return repository.ErrDuplicateUser
		}
	}
	user.ID = uuid.New()
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	m.store.users[user.ID] = user
	return nil
}

func (m *mockUsers) GetByID(ctx context.Context, id uuid.UUID) (*repository.User, error) {
	if user, ok := m.store.users[id]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUsers) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	for _, user := range m.store.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUsers) MarkVerified(ctx context.Context, id uuid.UUID) error {
	user, ok := m.store.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.IsVerified = true
	return nil
}

func (m *mockUsers) RotateCredentials(ctx context.Context, id uuid.UUID, passwordHash string, encryptionSalt []byte) error {
	user, ok := m.store.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	user.EncryptionSalt = encryptionSalt
	user.UpdatedAt = time.Now().UTC()
	return nil
}

type mockOTPs struct {
	store *mockStore
}

func (m *mockOTPs) Create(ctx context.Context, record *repository.OTPRecord) error {
	record.ID = uuid.New()
	record.CreatedAt = time.Now().UTC().Add(time.Duration(len(m.store.otps)) * time.Millisecond)
	m.store.otps = append(m.store.otps, record)
	return nil
}

func (m *mockOTPs) LatestByPurpose(ctx context.Context, userID uuid.UUID, purpose repository.OTPPurpose) (*repository.OTPRecord, error) {
	if latest := m.store.latestOTP(userID, purpose); latest != nil {
		copied := *latest
		return &copied, nil
	}
	return nil, repository.ErrOTPNotFound
}

func (m *mockOTPs) Transition(ctx context.Context, id uuid.UUID, from, to repository.OTPStatus) error {
	for _, r := range m.store.otps {
		if r.ID == id {
			if r.Status != from {
				return repository.ErrOTPStale
			}
			r.Status = to
			return nil
		}
	}
	return repository.ErrOTPStale
}

type mockSessions struct {
	store *mockStore
}

func (m *mockSessions) Upsert(ctx context.Context, session *repository.Session) error {
	session.ID = uuid.New()
	session.CreatedAt = time.Now().UTC()
	m.store.sessions[session.UserID] = session
	return nil
}

func (m *mockSessions) GetLive(ctx context.Context, userID uuid.UUID, tokenHash string) (*repository.Session, error) {
	session, ok := m.store.sessions[userID]
	if !ok || session.TokenHash != tokenHash || session.ExpiresAt.Before(time.Now()) {
		return nil, repository.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *mockSessions) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	delete(m.store.sessions, userID)
	return nil
}

type mockVault struct {
	store *mockStore
}

func (m *mockVault) Create(ctx context.Context, entry *repository.VaultEntry) error {
	entry.ID = uuid.New()
	entry.IsActive = true
	entry.CreatedAt = time.Now().UTC()
	entry.UpdatedAt = entry.CreatedAt
	m.store.entries[entry.ID] = entry
	return nil
}

func (m *mockVault) GetByID(ctx context.Context, userID, entryID uuid.UUID) (*repository.VaultEntry, error) {
	entry, ok := m.store.entries[entryID]
	if !ok || entry.UserID != userID {
		return nil, repository.ErrEntryNotFound
	}
	copied := *entry
	return &copied, nil
}

func (m *mockVault) Update(ctx context.Context, userID, entryID uuid.UUID, patch repository.VaultEntryPatch) error {
	entry, ok := m.store.entries[entryID]
	if !ok || entry.UserID != userID || !entry.IsActive {
		return repository.ErrEntryNotFound
	}
	if patch.ServiceName != nil {
		entry.ServiceName = *patch.ServiceName
	}
	if patch.EncryptedUsername != nil {
		entry.EncryptedUsername = *patch.EncryptedUsername
	}
	if patch.EncryptedPassword != nil {
		entry.EncryptedPassword = *patch.EncryptedPassword
	}
	if patch.IV != nil {
		entry.IV = patch.IV
	}
	if patch.Notes != nil {
		entry.Notes = patch.Notes
	}
	if patch.Tags != nil {
		entry.Tags = patch.Tags
	}
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockVault) SoftDelete(ctx context.Context, userID, entryID uuid.UUID) error {
	entry, ok := m.store.entries[entryID]
	if !ok || entry.UserID != userID || !entry.IsActive {
		return repository.ErrEntryNotFound
	}
	now := time.Now().UTC()
	entry.IsActive = false
	entry.DeletedAt = &now
	return nil
}

func (m *mockVault) ListActive(ctx context.Context, userID uuid.UUID) ([]repository.VaultEntry, error) {
	var entries []repository.VaultEntry
	for _, entry := range m.store.entries {
		if entry.UserID == userID && entry.IsActive {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

func (m *mockVault) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var deleted int64
	for id, entry := range m.store.entries {
		if entry.UserID == userID {
			delete(m.store.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

type mockActivity struct {
	store *mockStore
}

func (m *mockActivity) Record(ctx context.Context, entry *repository.ActivityEntry) error {
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	m.store.activity = append(m.store.activity, entry)
	return nil
}

type mockSender struct{}

func (m *mockSender) SendOTP(ctx context.Context, to string, purpose repository.OTPPurpose, code string) error {
	return nil
}

// envelope mirrors the response body shape for decoding in assertions
type envelope struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   *struct {
		Code    string      `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details"`
	} `json:"error"`
}

func newTestRouter(store *mockStore) http.Handler {
	tokens := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:     "test-secret-at-least-32-bytes-long!",
		SessionTTL: 5 * time.Minute,
		Issuer:     "vaulin-test",
	})
	otps := otp.NewService(store, &mockSender{}, 5*time.Minute, nil)
	authService := auth.NewService(store, tokens, auth.NewPasswordValidator(), otps, nil)
	vaultService := vault.NewService(store, nil)

	guard := middleware.NewSessionGuard(tokens, store.Sessions())
	limiter := middleware.NewOTPResendLimiter(time.Minute)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		RegisterAuthRoutes(r, NewAuthHandler(authService, nil), limiter.Limit, guard.Authenticate)
		RegisterVaultRoutes(r, NewVaultHandler(vaultService, nil), guard.Authenticate)
	})
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func TestFullAccountAndVaultFlow(t *testing.T) {
	store := newMockStore()
	router := newTestRouter(store)

	// register
	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "Str0ng!Pass",
	})
	if rec.Code != http.StatusCreated || !env.Success {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}
	userID, err := uuid.Parse(env.Data["userId"].(string))
	if err != nil {
		t.Fatalf("register returned bad userId: %v", err)
	}

	// verify the registration code lifted from the ledger
	code := store.latestOTP(userID, repository.PurposeRegistration).Code
	rec, env = doJSON(t, router, http.MethodPost, "/api/v1/auth/verify-otp", "", map[string]string{
		"userId": userID.String(),
		"otp":    code,
		"type":   "registration",
	})
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("verify-otp: status %d body %s", rec.Code, rec.Body.String())
	}

	// login step one
	rec, env = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "Str0ng!Pass",
	})
	if rec.Code != http.StatusOK || env.Data["status"] != "otp_sent" {
		t.Fatalf("login step one: status %d body %s", rec.Code, rec.Body.String())
	}

	// login step two
	code = store.latestOTP(userID, repository.PurposeLogin).Code
	rec, env = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "Str0ng!Pass",
		"otp":      code,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login step two: status %d body %s", rec.Code, rec.Body.String())
	}
	token, _ := env.Data["token"].(string)
	aesKey, _ := env.Data["aesKey"].(string)
	if token == "" || aesKey == "" {
		t.Fatalf("login step two missing token or key: %v", env.Data)
	}

	// create a vault entry with the session token
	rec, env = doJSON(t, router, http.MethodPost, "/api/v1/vault/create", token, map[string]interface{}{
		"serviceName":       "github",
		"encryptedUsername": "dXNlcg==",
		"encryptedPassword": "cGFzcw==",
		"iv":                "abababababababababababababababab",
	})
	if rec.Code != http.StatusCreated || !env.Success {
		t.Fatalf("vault create: status %d body %s", rec.Code, rec.Body.String())
	}

	rec, env = doJSON(t, router, http.MethodGet, "/api/v1/vault/list", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("vault list: status %d body %s", rec.Code, rec.Body.String())
	}
	if count, _ := env.Data["count"].(float64); count != 1 {
		t.Fatalf("vault list count = %v, want 1", env.Data["count"])
	}

	// logout revokes the session; the vault becomes unreachable
	rec, _ = doJSON(t, router, http.MethodPost, "/api/v1/auth/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d body %s", rec.Code, rec.Body.String())
	}
	rec, env = doJSON(t, router, http.MethodGet, "/api/v1/vault/list", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("vault list after logout: status %d, want 403", rec.Code)
	}
	if env.Error == nil || env.Error.Code != auth.CodeSessionInvalid {
		t.Fatalf("vault list after logout error = %+v", env.Error)
	}
}

func TestRegisterRejectsMalformedPayload(t *testing.T) {
	store := newMockStore()
	router := newTestRouter(store)

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "alice",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.Success || env.Error == nil || env.Error.Code != CodeValidationError {
		t.Fatalf("error envelope = %+v", env)
	}
}

func TestRegisterDuplicateReturnsConflict(t *testing.T) {
	store := newMockStore()
	router := newTestRouter(store)

	payload := map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "Str0ng!Pass",
	}
	if rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", payload); rec.Code != http.StatusCreated {
		t.Fatalf("first register: status %d", rec.Code)
	}

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", payload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second register: status %d, want 409", rec.Code)
	}
	if env.Error == nil || env.Error.Code != auth.CodeConflict {
		t.Fatalf("error envelope = %+v", env.Error)
	}
}

func TestLoginUnknownEmailReturnsGenericError(t *testing.T) {
	store := newMockStore()
	router := newTestRouter(store)

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "Str0ng!Pass",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if env.Error == nil || env.Error.Code != auth.CodeInvalidCredentials {
		t.Fatalf("error envelope = %+v", env.Error)
	}
}

func TestForgotPasswordMasksUnknownEmail(t *testing.T) {
	store := newMockStore()
	router := newTestRouter(store)

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/auth/forgot-password/request", "", map[string]string{
		"email": "nobody@example.com",
	})
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d body %s, want generic 200", rec.Code, rec.Body.String())
	}
	if _, present := env.Data["userId"]; present {
		t.Fatal("unknown email must not surface a userId")
	}
}

func TestVaultRoutesRequireSession(t *testing.T) {
	store := newMockStore()
	router := newTestRouter(store)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/vault/list"},
		{http.MethodPost, "/api/v1/vault/create"},
		{http.MethodDelete, fmt.Sprintf("/api/v1/vault/soft-delete/%s", uuid.New())},
	} {
		rec, env := doJSON(t, router, tc.method, tc.path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status %d, want 401", tc.method, tc.path, rec.Code)
		}
		if env.Error == nil || env.Error.Code != auth.CodeAuthTokenMissing {
			t.Errorf("%s %s: error = %+v", tc.method, tc.path, env.Error)
		}
	}
}
