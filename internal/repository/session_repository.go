package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Session repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository defines the interface for session data access. The
// user_id column carries a unique constraint, so Upsert enforces at most
// one live session row per user: a new login replaces the prior session.
type SessionRepository interface {
	Upsert(ctx context.Context, session *Session) error
	// GetLive returns the session for (user, token hash) only while
	// expires_at is in the future. Expired rows are treated as absent;
	// they are swept lazily, not by a timer.
	GetLive(ctx context.Context, userID uuid.UUID, tokenHash string) (*Session, error)
	// DeleteByUser removes the user's session row. Deleting an absent
	// session is not an error; logout is idempotent.
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

// sessionRepository implements SessionRepository using PostgreSQL
type sessionRepository struct {
	q Querier
}

// Upsert inserts or replaces the single session row for a user
func (r *sessionRepository) Upsert(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO user_sessions (user_id, token_hash, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			token_hash = EXCLUDED.token_hash,
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent,
			expires_at = EXCLUDED.expires_at,
			created_at = NOW()
		RETURNING id, created_at
	`

	return r.q.QueryRow(ctx, query,
		session.UserID,
		session.TokenHash,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
	).Scan(&session.ID, &session.CreatedAt)
}

// GetLive retrieves a non-expired session by (user, token hash)
func (r *sessionRepository) GetLive(ctx context.Context, userID uuid.UUID, tokenHash string) (*Session, error) {
	query := `
		SELECT id, user_id, token_hash, ip_address, user_agent, expires_at, created_at
		FROM user_sessions
		WHERE user_id = $1 AND token_hash = $2 AND expires_at > $3
	`

	session := &Session{}
	err := r.q.QueryRow(ctx, query, userID, tokenHash, time.Now().UTC()).Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.IPAddress,
		&session.UserAgent,
		&session.ExpiresAt,
		&session.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return session, nil
}

// DeleteByUser removes the session row for a user, if any
func (r *sessionRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM user_sessions WHERE user_id = $1`

	_, err := r.q.Exec(ctx, query, userID)
	return err
}
