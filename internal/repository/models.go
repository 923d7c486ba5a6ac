package repository

import (
	"time"

	"github.com/google/uuid"
)

// User represents a vault account in the database
type User struct {
	ID             uuid.UUID `db:"id"`
	Username       string    `db:"username"`
	Email          string    `db:"email"`
	PasswordHash   string    `db:"password_hash"`
	EncryptionSalt []byte    `db:"encryption_salt"`
	IsVerified     bool      `db:"is_verified"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// OTPPurpose identifies what an issued code is allowed to prove.
type OTPPurpose string

const (
	PurposeRegistration  OTPPurpose = "registration"
	PurposeLogin         OTPPurpose = "login"
	PurposeResetPassword OTPPurpose = "reset_password"
)

// OTPStatus tracks the lifecycle of an issued code. A row reaches each
// status at most once; expired, failed and used are terminal.
type OTPStatus string

const (
	OTPStatusSent     OTPStatus = "sent"
	OTPStatusVerified OTPStatus = "verified"
	OTPStatusUsed     OTPStatus = "used"
	OTPStatusExpired  OTPStatus = "expired"
	OTPStatusFailed   OTPStatus = "failed"
)

// OTPRecord represents one issued code in the append-only OTP ledger
type OTPRecord struct {
	ID        uuid.UUID  `db:"id"`
	UserID    uuid.UUID  `db:"user_id"`
	Purpose   OTPPurpose `db:"purpose"`
	Code      string     `db:"code"`
	Status    OTPStatus  `db:"status"`
	CreatedAt time.Time  `db:"created_at"`
}

// Session represents the single live session row for a user. The raw token
// is never stored; only its SHA-256 hash.
type Session struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	TokenHash string    `db:"token_hash"`
	IPAddress *string   `db:"ip_address"`
	UserAgent *string   `db:"user_agent"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// VaultEntry represents one credential record. Username and password columns
// hold client-side AES-GCM ciphertext; the server never sees plaintext.
type VaultEntry struct {
	ID                uuid.UUID  `db:"id"`
	UserID            uuid.UUID  `db:"user_id"`
	ServiceName       string     `db:"service_name"`
	EncryptedUsername string     `db:"encrypted_username"`
	EncryptedPassword string     `db:"encrypted_password"`
	IV                []byte     `db:"iv"`
	Notes             *string    `db:"notes"`
	Tags              []string   `db:"tags"`
	IsActive          bool       `db:"is_active"`
	DeletedAt         *time.Time `db:"deleted_at"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// VaultEntryPatch holds the optional fields of a vault entry update.
// Nil fields are left unchanged.
type VaultEntryPatch struct {
	ServiceName       *string
	EncryptedUsername *string
	EncryptedPassword *string
	IV                []byte
	Notes             *string
	Tags              []string
}

// ActivityEntry represents one immutable row of the security audit trail
type ActivityEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	ActionType string    `db:"action_type" json:"action_type"`
	Target     string    `db:"target" json:"target"`
	IPAddress  *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent  *string   `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"timestamp"`
}

// Audit action types recorded by the services.
const (
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionOTPRequested   = "otp_requested"
	ActionChangePassword = "change_password"
	ActionCreateEntry    = "create_entry"
	ActionUpdateEntry    = "update_entry"
	ActionDeleteEntry    = "delete_entry"
)
