package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/vaulin/backend/internal/appctx"
	"github.com/vaulin/backend/internal/auth"
	"github.com/vaulin/backend/internal/middleware"
	"github.com/vaulin/backend/internal/otp"
	"github.com/vaulin/backend/internal/repository"
)

// AuthHandler handles HTTP requests for authentication endpoints
type AuthHandler struct {
	service *auth.Service
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(service *auth.Service, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRequest is the registration payload
type RegisterRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// VerifyOTPRequest is the OTP verification payload
type VerifyOTPRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	OTP    string `json:"otp" validate:"required,len=6,numeric"`
	Type   string `json:"type" validate:"required,oneof=registration login reset_password"`
}

// ResendOTPRequest is the OTP resend payload. Clients may send the email
// they registered with; the code always goes to the address on record.
type ResendOTPRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Email  string `json:"email" validate:"omitempty,email"`
	Type   string `json:"type" validate:"required,oneof=registration login reset_password"`
}

// LoginRequest is the login payload. A missing otp field selects step one
// (send a code); a present otp field selects step two (complete the login).
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	OTP      string `json:"otp,omitempty" validate:"omitempty,len=6,numeric"`
}

// ForgotPasswordRequest starts a password reset
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes a verified password reset
type ResetPasswordRequest struct {
	UserID      string `json:"userId" validate:"required,uuid"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.bind(w, r, &req) {
		return
	}

	userID, validationErrs, err := h.service.Register(r.Context(), auth.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.handleAuthError(w, r, err)
		return
	}
	if len(validationErrs) > 0 {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Registration failed validation", validationErrs)
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"userId":  userID,
		"message": "Registration successful. Check your email for the verification code.",
	})
}

// VerifyOTP handles POST /api/v1/auth/verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !h.bind(w, r, &req) {
		return
	}

	userID, _ := uuid.Parse(req.UserID)
	if err := h.service.VerifyOTP(r.Context(), userID, repository.OTPPurpose(req.Type), req.OTP); err != nil {
		h.handleAuthError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "OTP verified",
	})
}

// ResendOTP handles POST /api/v1/auth/resend-otp
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req ResendOTPRequest
	if !h.bind(w, r, &req) {
		return
	}

	userID, _ := uuid.Parse(req.UserID)
	if err := h.service.ResendOTP(r.Context(), userID, repository.OTPPurpose(req.Type)); err != nil {
		h.handleAuthError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "A new code has been sent to your email.",
	})
}

// Login handles POST /api/v1/auth/login, dispatching on the presence of
// the otp field.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.bind(w, r, &req) {
		return
	}

	if req.OTP == "" {
		if err := h.service.LoginStep1(r.Context(), req.Email, req.Password); err != nil {
			h.handleAuthError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]interface{}{
			"status":  "otp_sent",
			"message": "OTP sent to your email.",
		})
		return
	}

	result, err := h.service.LoginStep2(r.Context(), auth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		OTP:      req.OTP,
	}, middleware.ClientIP(r), r.UserAgent())
	if err != nil {
		h.handleAuthError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message":   "Login successful",
		"token":     result.Token,
		"aesKey":    result.AESKey,
		"expiresAt": result.ExpiresAt,
	})
}

// ForgotPassword handles POST /api/v1/auth/forgot-password/request.
// Unknown emails get the same generic 200 as known ones, without a userId,
// so the endpoint cannot be used to probe for accounts.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.bind(w, r, &req) {
		return
	}

	const message = "If the address is registered, a reset code has been sent."

	userID, err := h.service.RequestPasswordReset(r.Context(), req.Email, middleware.ClientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeSuccess(w, http.StatusOK, map[string]interface{}{"message": message})
			return
		}
		h.handleAuthError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message": message,
		"userId":  userID,
	})
}

// VerifyResetOTP handles POST /api/v1/auth/forgot-password/verify
func (h *AuthHandler) VerifyResetOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !h.bind(w, r, &req) {
		return
	}

	userID, _ := uuid.Parse(req.UserID)
	if err := h.service.VerifyResetOTP(r.Context(), userID, req.OTP); err != nil {
		h.handleAuthError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "OTP verified. You may now set a new password.",
	})
}

// ResetPassword handles POST /api/v1/auth/forgot-password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.bind(w, r, &req) {
		return
	}

	userID, _ := uuid.Parse(req.UserID)
	if err := h.service.ResetPassword(r.Context(), userID, req.NewPassword, middleware.ClientIP(r), r.UserAgent()); err != nil {
		h.handleAuthError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "Password reset. All vault entries were removed and every session was signed out.",
	})
}

// Logout handles POST /api/v1/auth/logout (protected)
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	if err := h.service.Logout(r.Context(), userID, middleware.ClientIP(r), r.UserAgent()); err != nil {
		h.handleAuthError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "Logged out",
	})
}

// bind decodes and validates a JSON request body, writing the error
// response itself when the payload is bad.
func (h *AuthHandler) bind(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request failed validation", fieldErrors(err))
		return false
	}
	return true
}

// handleAuthError maps service errors onto HTTP responses
func (h *AuthHandler) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var unverified *auth.UnverifiedError

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, auth.CodeInvalidCredentials, "Invalid email or password", nil)
	case errors.As(err, &unverified):
		writeError(w, http.StatusForbidden, auth.CodeUnverified, "Account not verified. Complete OTP verification first.", map[string]interface{}{
			"userId": unverified.UserID,
		})
	case errors.Is(err, otp.ErrNoOTP), errors.Is(err, otp.ErrOTPMismatch):
		writeError(w, http.StatusBadRequest, auth.CodeInvalidOTP, "Invalid OTP", nil)
	case errors.Is(err, otp.ErrOTPExpired):
		writeError(w, http.StatusBadRequest, auth.CodeInvalidOTP, "OTP expired. Request a new code.", nil)
	case errors.Is(err, otp.ErrOTPConsumed):
		writeError(w, http.StatusBadRequest, auth.CodeInvalidOTP, "OTP already used. Request a new code.", nil)
	case errors.Is(err, otp.ErrNoVerifiedOTP):
		writeError(w, http.StatusBadRequest, auth.CodeNoVerifiedOTP, "No verified reset code on file. Verify a code first.", nil)
	case errors.Is(err, auth.ErrSamePassword):
		writeError(w, http.StatusBadRequest, auth.CodeSamePassword, "New password must differ from the current password", nil)
	case errors.Is(err, auth.ErrInvalidPassword):
		writeError(w, http.StatusBadRequest, CodeValidationError, err.Error(), nil)
	case errors.Is(err, repository.ErrDuplicateUser):
		writeError(w, http.StatusConflict, auth.CodeConflict, "Username or email already registered", nil)
	case errors.Is(err, repository.ErrUserNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "User not found", nil)
	default:
		h.logger.Error("auth request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error", nil)
	}
}
