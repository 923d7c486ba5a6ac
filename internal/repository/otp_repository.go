package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OTP repository errors
var (
	ErrOTPNotFound = errors.New("no OTP record found")
	// ErrOTPStale signals a guarded status transition whose expected
	// current status no longer matched, i.e. another attempt got there
	// first. Terminal rows never transition again.
	ErrOTPStale = errors.New("OTP record no longer in expected status")
)

// OTPRepository defines the interface for the OTP ledger. Rows are
// append-only apart from the single status transition each verification
// outcome performs.
type OTPRepository interface {
	Create(ctx context.Context, record *OTPRecord) error
	// LatestByPurpose returns the single authoritative record for
	// (user, purpose): the most recently created one. Older rows are
	// historical and never consulted for verification.
	LatestByPurpose(ctx context.Context, userID uuid.UUID, purpose OTPPurpose) (*OTPRecord, error)
	// Transition moves a record from an expected status to a new one.
	// Returns ErrOTPStale when the record is not in the expected status.
	Transition(ctx context.Context, id uuid.UUID, from, to OTPStatus) error
}

// otpRepository implements OTPRepository using PostgreSQL
type otpRepository struct {
	q Querier
}

// Create appends a new record to the ledger
func (r *otpRepository) Create(ctx context.Context, record *OTPRecord) error {
	query := `
		INSERT INTO otp_logs (user_id, purpose, code, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	return r.q.QueryRow(ctx, query,
		record.UserID,
		record.Purpose,
		record.Code,
		record.Status,
	).Scan(&record.ID, &record.CreatedAt)
}

// LatestByPurpose returns the newest record for (user, purpose)
func (r *otpRepository) LatestByPurpose(ctx context.Context, userID uuid.UUID, purpose OTPPurpose) (*OTPRecord, error) {
	query := `
		SELECT id, user_id, purpose, code, status, created_at
		FROM otp_logs
		WHERE user_id = $1 AND purpose = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	record := &OTPRecord{}
	err := r.q.QueryRow(ctx, query, userID, purpose).Scan(
		&record.ID,
		&record.UserID,
		&record.Purpose,
		&record.Code,
		&record.Status,
		&record.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOTPNotFound
		}
		return nil, err
	}

	return record, nil
}

// Transition performs a guarded single status change
func (r *otpRepository) Transition(ctx context.Context, id uuid.UUID, from, to OTPStatus) error {
	query := `
		UPDATE otp_logs
		SET status = $1
		WHERE id = $2 AND status = $3
	`

	result, err := r.q.Exec(ctx, query, to, id, from)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrOTPStale
	}

	return nil
}
