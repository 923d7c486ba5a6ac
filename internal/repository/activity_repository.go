package repository

import (
	"context"
)

// ActivityRepository defines the append-only audit trail writer. Entries are
// never updated or deleted; reads go through ActivityReader.
type ActivityRepository interface {
	Record(ctx context.Context, entry *ActivityEntry) error
}

// activityRepository implements ActivityRepository using PostgreSQL
type activityRepository struct {
	q Querier
}

// Record appends one audit entry
func (r *activityRepository) Record(ctx context.Context, entry *ActivityEntry) error {
	query := `
		INSERT INTO activity_logs (user_id, action_type, target, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	return r.q.QueryRow(ctx, query,
		entry.UserID,
		entry.ActionType,
		entry.Target,
		entry.IPAddress,
		entry.UserAgent,
	).Scan(&entry.ID, &entry.CreatedAt)
}
