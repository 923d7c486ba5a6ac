// Package otp implements the one-time passcode engine: issuance, dispatch
// and verification against the append-only OTP ledger.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/vaulin/backend/internal/metrics"
	"github.com/vaulin/backend/internal/repository"
)

// OTP engine errors
var (
	ErrNoOTP         = errors.New("no OTP found")
	ErrOTPConsumed   = errors.New("OTP already used")
	ErrOTPExpired    = errors.New("OTP has expired")
	ErrOTPMismatch   = errors.New("invalid OTP")
	ErrNoVerifiedOTP = errors.New("no verified OTP pending")
)

// Code range: inclusive six-digit codes, 100000-999999.
const (
	codeMin  = 100000
	codeSpan = 900000
)

// Sender dispatches an issued code to its destination. The SMTP mailer
// implements it in production; tests substitute a recorder.
type Sender interface {
	SendOTP(ctx context.Context, to string, purpose repository.OTPPurpose, code string) error
}

// Service is the OTP engine
type Service struct {
	store  repository.Store
	sender Sender
	expiry time.Duration
	logger *slog.Logger
}

// NewService creates an OTP engine with the given ledger, sender and expiry
func NewService(store repository.Store, sender Sender, expiry time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		sender: sender,
		expiry: expiry,
		logger: logger,
	}
}

// Issue generates a fresh code, appends a `sent` row to the ledger and
// dispatches it. The returned code is for internal chaining only and must
// never reach an HTTP response.
//
// Issue never cancels earlier pending codes: Verify only consults the
// newest row per (user, purpose), so older rows are superseded implicitly.
func (s *Service) Issue(ctx context.Context, userID uuid.UUID, purpose repository.OTPPurpose, email string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generating OTP code: %w", err)
	}

	record := &repository.OTPRecord{
		UserID:  userID,
		Purpose: purpose,
		Code:    code,
		Status:  repository.OTPStatusSent,
	}
	if err := s.store.OTPs().Create(ctx, record); err != nil {
		return "", fmt.Errorf("persisting OTP record: %w", err)
	}

	if err := s.sender.SendOTP(ctx, email, purpose, code); err != nil {
		return "", fmt.Errorf("dispatching OTP: %w", err)
	}

	metrics.OTPIssuedTotal.WithLabelValues(string(purpose)).Inc()
	s.logger.Info("OTP issued", "user_id", userID, "purpose", purpose)

	return code, nil
}

// Verify checks a submitted code against the newest ledger row for
// (user, purpose). Failure outcomes mutate the row's status: this is a
// state-transition command, not a read.
//
// On success the registration purpose completes immediately: the row goes
// to `used` and the user is marked verified in one transaction. Other
// purposes park the row at `verified`; the caller flips it to `used` via
// Consume once the action the code authorized actually completes.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID, purpose repository.OTPPurpose, submitted string) error {
	record, err := s.store.OTPs().LatestByPurpose(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrOTPNotFound) {
			return s.outcome(purpose, "not_found", ErrNoOTP)
		}
		return err
	}

	switch record.Status {
	case repository.OTPStatusUsed, repository.OTPStatusVerified:
		return s.outcome(purpose, "consumed", ErrOTPConsumed)
	case repository.OTPStatusExpired:
		return s.outcome(purpose, "expired", ErrOTPExpired)
	case repository.OTPStatusFailed:
		return s.outcome(purpose, "mismatch", ErrOTPMismatch)
	}

	if time.Since(record.CreatedAt) > s.expiry {
		if err := s.transition(ctx, record.ID, repository.OTPStatusExpired); err != nil {
			return err
		}
		return s.outcome(purpose, "expired", ErrOTPExpired)
	}

	if submitted != record.Code {
		if err := s.transition(ctx, record.ID, repository.OTPStatusFailed); err != nil {
			return err
		}
		return s.outcome(purpose, "mismatch", ErrOTPMismatch)
	}

	if purpose == repository.PurposeRegistration {
		err := s.store.InTx(ctx, func(tx repository.Store) error {
			if err := tx.OTPs().Transition(ctx, record.ID, repository.OTPStatusSent, repository.OTPStatusUsed); err != nil {
				return err
			}
			return tx.Users().MarkVerified(ctx, userID)
		})
		if err != nil {
			if errors.Is(err, repository.ErrOTPStale) {
				return s.outcome(purpose, "consumed", ErrOTPConsumed)
			}
			return err
		}
		return s.outcome(purpose, "success", nil)
	}

	if err := s.store.OTPs().Transition(ctx, record.ID, repository.OTPStatusSent, repository.OTPStatusVerified); err != nil {
		if errors.Is(err, repository.ErrOTPStale) {
			return s.outcome(purpose, "consumed", ErrOTPConsumed)
		}
		return err
	}

	return s.outcome(purpose, "success", nil)
}

// Consume flips the newest `verified` row for (user, purpose) to `used`.
// Callers invoke it when the action the code authorized completes (login
// step two, password reset).
func (s *Service) Consume(ctx context.Context, userID uuid.UUID, purpose repository.OTPPurpose) error {
	return Consume(ctx, s.store, userID, purpose)
}

// Consume is the store-level form of (*Service).Consume so callers holding
// a transactional Store can consume inside their transaction.
func Consume(ctx context.Context, store repository.Store, userID uuid.UUID, purpose repository.OTPPurpose) error {
	record, err := store.OTPs().LatestByPurpose(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrOTPNotFound) {
			return ErrNoVerifiedOTP
		}
		return err
	}

	if record.Status != repository.OTPStatusVerified {
		return ErrNoVerifiedOTP
	}

	if err := store.OTPs().Transition(ctx, record.ID, repository.OTPStatusVerified, repository.OTPStatusUsed); err != nil {
		if errors.Is(err, repository.ErrOTPStale) {
			return ErrNoVerifiedOTP
		}
		return err
	}

	return nil
}

// transition applies a failure-path status change from `sent`. A stale
// transition here means a concurrent attempt resolved the row first; the
// caller's own outcome still stands.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to repository.OTPStatus) error {
	err := s.store.OTPs().Transition(ctx, id, repository.OTPStatusSent, to)
	if err != nil && !errors.Is(err, repository.ErrOTPStale) {
		return err
	}
	return nil
}

// outcome records the verification result metric and passes the error through
func (s *Service) outcome(purpose repository.OTPPurpose, result string, err error) error {
	metrics.OTPVerifiedTotal.WithLabelValues(string(purpose), result).Inc()
	return err
}

// generateCode returns a uniformly random six-digit code
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", codeMin+n.Int64()), nil
}
