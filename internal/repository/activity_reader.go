package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vaulin/backend/internal/metrics"
)

// DefaultActivityLimit caps activity listings when the caller does not ask
// for a specific page size.
const DefaultActivityLimit = 100

// ActivityReader serves the activity listing endpoint. It runs on sqlx over
// the pgx stdlib driver so rows scan straight into structs; writes stay on
// the pgx repositories.
type ActivityReader struct {
	db *sqlx.DB
}

// NewActivityReader creates an ActivityReader on the given sqlx handle
func NewActivityReader(db *sqlx.DB) *ActivityReader {
	return &ActivityReader{db: db}
}

// ListByUser returns the user's audit trail, newest first
func (r *ActivityReader) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]ActivityEntry, error) {
	if limit <= 0 || limit > DefaultActivityLimit {
		limit = DefaultActivityLimit
	}
	defer metrics.TimeQuery("list_activity")()

	query := `
		SELECT id, user_id, action_type, target, ip_address, user_agent, created_at
		FROM activity_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	entries := []ActivityEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, userID, limit); err != nil {
		return nil, err
	}

	return entries, nil
}
