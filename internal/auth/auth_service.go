package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vaulin/backend/internal/keys"
	"github.com/vaulin/backend/internal/metrics"
	"github.com/vaulin/backend/internal/otp"
	"github.com/vaulin/backend/internal/repository"
)

// Auth service errors. Credential and OTP messages stay generic on the wire
// to avoid account enumeration; registration conflicts may be specific since
// the attempt already discloses intent.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSamePassword       = errors.New("new password must differ from the current password")
)

// UnverifiedError reports a login attempt by an account that has not yet
// completed registration OTP verification. It carries the user ID so the
// client can jump straight to re-verification.
type UnverifiedError struct {
	UserID uuid.UUID
}

func (e *UnverifiedError) Error() string {
	return "account not verified"
}

// Error codes for API responses
const (
	CodeConflict           = "CONFLICT"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnverified         = "UNVERIFIED"
	CodeInvalidOTP         = "INVALID_OTP"
	CodeSamePassword       = "SAME_PASSWORD"
	CodeNoVerifiedOTP      = "NO_VERIFIED_OTP"
	CodeAuthTokenMissing   = "AUTH_TOKEN_MISSING"
	CodeAuthTokenInvalid   = "AUTH_TOKEN_INVALID"
	CodeSessionInvalid     = "SESSION_INVALID"
)

const (
	// MinUsernameLength and MaxUsernameLength bound account usernames
	MinUsernameLength = 3
	MaxUsernameLength = 32
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the login request payload. OTP empty means step
// one (credentials, send code); OTP present means step two (complete login).
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	OTP      string `json:"otp,omitempty"`
}

// LoginResult is the outcome of a completed step-two login. AESKey is the
// hex-encoded vault encryption key, returned exactly once and never
// persisted server-side.
type LoginResult struct {
	Token     string
	AESKey    string
	ExpiresAt time.Time
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Service is the authentication state machine. Per login attempt it drives
// AwaitingCredentials -> AwaitingOTP -> Authenticated; it also owns
// registration, logout and the password reset flow.
type Service struct {
	store     repository.Store
	tokens    *TokenService
	passwords *PasswordValidator
	otps      *otp.Service
	logger    *slog.Logger
}

// NewService creates the authentication service
func NewService(
	store repository.Store,
	tokens *TokenService,
	passwords *PasswordValidator,
	otps *otp.Service,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		otps:      otps,
		logger:    logger,
	}
}

// Register creates an unverified account: fresh encryption salt, bcrypt
// password hash, and a registration OTP sent to the email. No key is derived
// here; derivation happens at login.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (uuid.UUID, []ValidationError, error) {
	var validationErrors []ValidationError

	username := strings.TrimSpace(req.Username)
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "username",
			Message: fmt.Sprintf("Username must be between %d and %d characters", MinUsernameLength, MaxUsernameLength),
		})
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !isValidEmail(email) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "email",
			Message: "Invalid email format",
		})
	}

	for _, err := range s.passwords.ValidatePassword(req.Password) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field,
			Message: err.Message,
		})
	}

	if len(validationErrors) > 0 {
		return uuid.Nil, validationErrors, nil
	}

	salt, err := keys.NewSalt()
	if err != nil {
		return uuid.Nil, nil, err
	}

	passwordHash, err := s.passwords.HashPassword(req.Password)
	if err != nil {
		return uuid.Nil, nil, err
	}

	user := &repository.User{
		Username:       username,
		Email:          email,
		PasswordHash:   passwordHash,
		EncryptionSalt: salt,
	}

	if err := s.store.Users().Create(ctx, user); err != nil {
		return uuid.Nil, nil, err
	}

	// A failed dispatch is not fatal: the account exists and the client
	// can request a resend.
	if _, err := s.otps.Issue(ctx, user.ID, repository.PurposeRegistration, email); err != nil {
		s.logger.Warn("failed to send registration OTP", "user_id", user.ID, "error", err)
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return user.ID, nil, nil
}

// VerifyOTP delegates to the OTP engine for the given purpose. For the
// registration purpose a success also marks the account verified.
func (s *Service) VerifyOTP(ctx context.Context, userID uuid.UUID, purpose repository.OTPPurpose, code string) error {
	return s.otps.Verify(ctx, userID, purpose, code)
}

// ResendOTP issues a fresh code for the given purpose. The new row
// supersedes any earlier pending code because verification only ever
// consults the latest. Throttling is enforced at the HTTP layer per
// client address.
func (s *Service) ResendOTP(ctx context.Context, userID uuid.UUID, purpose repository.OTPPurpose) error {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.otps.Issue(ctx, user.ID, purpose, user.Email)
	return err
}

// LoginStep1 validates credentials and sends a login OTP. No token is
// issued yet; the attempt is now AwaitingOTP.
func (s *Service) LoginStep1(ctx context.Context, email, password string) error {
	user, err := s.checkCredentials(ctx, email, password)
	if err != nil {
		return err
	}

	if _, err := s.otps.Issue(ctx, user.ID, repository.PurposeLogin, user.Email); err != nil {
		return err
	}

	return nil
}

// LoginStep2 re-validates credentials (the client's step-one state may be
// stale), verifies the login OTP, and on success derives the vault key from
// the submitted plaintext password and stored salt, mints a session token,
// upserts the single session row, consumes the OTP and records the audit
// event. The derived key is returned once and forgotten.
func (s *Service) LoginStep2(ctx context.Context, req LoginRequest, ip, userAgent string) (*LoginResult, error) {
	user, err := s.checkCredentials(ctx, req.Email, req.Password)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, err
	}

	if err := s.otps.Verify(ctx, user.ID, repository.PurposeLogin, req.OTP); err != nil {
		metrics.LoginsTotal.WithLabelValues("invalid_otp").Inc()
		return nil, err
	}

	key := keys.Derive(req.Password, user.EncryptionSalt)
	defer keys.Zero(key)

	token, expiresAt, err := s.tokens.Generate(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx repository.Store) error {
		session := &repository.Session{
			UserID:    user.ID,
			TokenHash: s.tokens.Hash(token),
			IPAddress: optional(ip),
			UserAgent: optional(userAgent),
			ExpiresAt: expiresAt,
		}
		if err := tx.Sessions().Upsert(ctx, session); err != nil {
			return err
		}

		if err := otp.Consume(ctx, tx, user.ID, repository.PurposeLogin); err != nil {
			return err
		}

		return tx.Activity().Record(ctx, &repository.ActivityEntry{
			UserID:     user.ID,
			ActionType: repository.ActionLogin,
			Target:     "session",
			IPAddress:  optional(ip),
			UserAgent:  optional(userAgent),
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.logger.Info("login completed", "user_id", user.ID)

	return &LoginResult{
		Token:     token,
		AESKey:    hex.EncodeToString(key),
		ExpiresAt: expiresAt,
	}, nil
}

// RequestPasswordReset issues a reset OTP and records the request in the
// audit trail. Unknown emails surface repository.ErrUserNotFound to the
// caller; the HTTP handler masks it to avoid enumeration.
func (s *Service) RequestPasswordReset(ctx context.Context, email, ip, userAgent string) (uuid.UUID, error) {
	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		return uuid.Nil, err
	}

	if _, err := s.otps.Issue(ctx, user.ID, repository.PurposeResetPassword, user.Email); err != nil {
		return uuid.Nil, err
	}

	if err := s.store.Activity().Record(ctx, &repository.ActivityEntry{
		UserID:     user.ID,
		ActionType: repository.ActionOTPRequested,
		Target:     "reset_password",
		IPAddress:  optional(ip),
		UserAgent:  optional(userAgent),
	}); err != nil {
		return uuid.Nil, err
	}

	return user.ID, nil
}

// VerifyResetOTP confirms a reset code. The record parks at `verified`;
// only a completed ResetPassword consumes it.
func (s *Service) VerifyResetOTP(ctx context.Context, userID uuid.UUID, code string) error {
	return s.otps.Verify(ctx, userID, repository.PurposeResetPassword, code)
}

// ResetPassword completes a verified reset in one transaction: consume the
// OTP, rotate the encryption salt and password hash, hard-delete every
// vault entry, drop the session, and record the audit events.
//
// The vault wipe is intentional, contracted data loss: the salt rotation
// makes the old ciphertext unrecoverable, so keeping the rows would only
// preserve data nobody can ever decrypt again.
func (s *Service) ResetPassword(ctx context.Context, userID uuid.UUID, newPassword, ip, userAgent string) error {
	if errs := s.passwords.ValidatePassword(newPassword); len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPassword, errs[0].Message)
	}

	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if s.passwords.VerifyPassword(newPassword, user.PasswordHash) == nil {
		return ErrSamePassword
	}

	// Checked again inside the transaction via the guarded transition;
	// this early check just gives a clean error before any work.
	record, err := s.store.OTPs().LatestByPurpose(ctx, userID, repository.PurposeResetPassword)
	if err != nil {
		if errors.Is(err, repository.ErrOTPNotFound) {
			return otp.ErrNoVerifiedOTP
		}
		return err
	}
	if record.Status != repository.OTPStatusVerified {
		return otp.ErrNoVerifiedOTP
	}

	newSalt, err := keys.NewSalt()
	if err != nil {
		return err
	}

	newHash, err := s.passwords.HashPassword(newPassword)
	if err != nil {
		return err
	}

	err = s.store.InTx(ctx, func(tx repository.Store) error {
		if err := otp.Consume(ctx, tx, userID, repository.PurposeResetPassword); err != nil {
			return err
		}

		if err := tx.Users().RotateCredentials(ctx, userID, newHash, newSalt); err != nil {
			return err
		}

		wiped, err := tx.VaultEntries().DeleteAllForUser(ctx, userID)
		if err != nil {
			return err
		}

		if err := tx.Sessions().DeleteByUser(ctx, userID); err != nil {
			return err
		}

		if err := tx.Activity().Record(ctx, &repository.ActivityEntry{
			UserID:     userID,
			ActionType: repository.ActionChangePassword,
			Target:     "master_password",
			IPAddress:  optional(ip),
			UserAgent:  optional(userAgent),
		}); err != nil {
			return err
		}

		if err := tx.Activity().Record(ctx, &repository.ActivityEntry{
			UserID:     userID,
			ActionType: repository.ActionDeleteEntry,
			Target:     "vault_wipe_due_to_reset",
			IPAddress:  optional(ip),
			UserAgent:  optional(userAgent),
		}); err != nil {
			return err
		}

		s.logger.Info("password reset completed", "user_id", userID, "entries_wiped", wiped)
		return nil
	})

	return err
}

// Logout drops the user's session row. A missing session is a no-op;
// calling Logout twice behaves the same as calling it once.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID, ip, userAgent string) error {
	if err := s.store.Sessions().DeleteByUser(ctx, userID); err != nil {
		return err
	}

	return s.store.Activity().Record(ctx, &repository.ActivityEntry{
		UserID:     userID,
		ActionType: repository.ActionLogout,
		Target:     "session",
		IPAddress:  optional(ip),
		UserAgent:  optional(userAgent),
	})
}

// ErrInvalidPassword reports a reset password failing complexity checks
var ErrInvalidPassword = errors.New("password does not meet requirements")

// checkCredentials resolves email+password to a verified user. Unknown
// email and wrong password both return ErrInvalidCredentials so responses
// keep a constant shape.
func (s *Service) checkCredentials(ctx context.Context, email, password string) (*repository.User, error) {
	user, err := s.store.Users().GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := s.passwords.VerifyPassword(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.IsVerified {
		return nil, &UnverifiedError{UserID: user.ID}
	}

	return user, nil
}

// isValidEmail checks if the email format is valid
func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

// optional converts a possibly-empty string to a nullable column value
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
