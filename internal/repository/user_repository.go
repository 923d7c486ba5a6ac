package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vaulin/backend/internal/metrics"
)

// User repository errors
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("username or email already exists")
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
	// RotateCredentials replaces the password hash and encryption salt in a
	// single statement. Rotating the salt is what makes prior vault
	// ciphertext unrecoverable after a password reset.
	RotateCredentials(ctx context.Context, id uuid.UUID, passwordHash string, encryptionSalt []byte) error
}

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	q Querier
}

// Create inserts a new user into the database
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (username, email, password_hash, encryption_salt)
		VALUES ($1, $2, $3, $4)
		RETURNING id, is_verified, created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		user.Username,
		strings.ToLower(user.Email),
		user.PasswordHash,
		user.EncryptionSalt,
	).Scan(&user.ID, &user.IsVerified, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateUser
		}
		return err
	}

	return nil
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, username, email, password_hash, encryption_salt, is_verified, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user := &User{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.EncryptionSalt,
		&user.IsVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}

// GetByEmail retrieves a user by their email address (case-insensitive)
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	defer metrics.TimeQuery("get_user_by_email")()

	query := `
		SELECT id, username, email, password_hash, encryption_salt, is_verified, created_at, updated_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`

	user := &User{}
	err := r.q.QueryRow(ctx, query, email).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.EncryptionSalt,
		&user.IsVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}

// MarkVerified flips is_verified once a registration OTP succeeds
func (r *userRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET is_verified = TRUE, updated_at = $1
		WHERE id = $2
	`

	result, err := r.q.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// RotateCredentials replaces the password hash and encryption salt together
func (r *userRepository) RotateCredentials(ctx context.Context, id uuid.UUID, passwordHash string, encryptionSalt []byte) error {
	query := `
		UPDATE users
		SET password_hash = $1, encryption_salt = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := r.q.Exec(ctx, query, passwordHash, encryptionSalt, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}
