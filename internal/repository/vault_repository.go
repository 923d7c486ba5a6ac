package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vaulin/backend/internal/metrics"
)

// Vault repository errors
var (
	ErrEntryNotFound = errors.New("vault entry not found")
)

// VaultRepository defines the interface for vault entry data access
type VaultRepository interface {
	Create(ctx context.Context, entry *VaultEntry) error
	GetByID(ctx context.Context, userID, entryID uuid.UUID) (*VaultEntry, error)
	Update(ctx context.Context, userID, entryID uuid.UUID, patch VaultEntryPatch) error
	// SoftDelete hides an active entry (is_active=false, deleted_at set).
	// Already-deleted or foreign entries report ErrEntryNotFound.
	SoftDelete(ctx context.Context, userID, entryID uuid.UUID) error
	ListActive(ctx context.Context, userID uuid.UUID) ([]VaultEntry, error)
	// DeleteAllForUser hard-deletes every entry the user owns, active or
	// not. Only the password-reset wipe calls this: once the encryption
	// salt rotates the ciphertext is unrecoverable anyway.
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// vaultRepository implements VaultRepository using PostgreSQL
type vaultRepository struct {
	q Querier
}

// Create inserts a new vault entry
func (r *vaultRepository) Create(ctx context.Context, entry *VaultEntry) error {
	tags, err := marshalTags(entry.Tags)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO vault_entries
			(user_id, service_name, encrypted_username, encrypted_password, iv, notes, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, is_active, created_at, updated_at
	`

	return r.q.QueryRow(ctx, query,
		entry.UserID,
		entry.ServiceName,
		entry.EncryptedUsername,
		entry.EncryptedPassword,
		entry.IV,
		entry.Notes,
		tags,
	).Scan(&entry.ID, &entry.IsActive, &entry.CreatedAt, &entry.UpdatedAt)
}

// GetByID retrieves one entry owned by the user
func (r *vaultRepository) GetByID(ctx context.Context, userID, entryID uuid.UUID) (*VaultEntry, error) {
	query := `
		SELECT id, user_id, service_name, encrypted_username, encrypted_password,
		       iv, notes, tags, is_active, deleted_at, created_at, updated_at
		FROM vault_entries
		WHERE id = $1 AND user_id = $2
	`

	return scanEntry(r.q.QueryRow(ctx, query, entryID, userID))
}

// Update applies the non-nil fields of the patch to an active entry
func (r *vaultRepository) Update(ctx context.Context, userID, entryID uuid.UUID, patch VaultEntryPatch) error {
	sets := []string{}
	args := []any{}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if patch.ServiceName != nil {
		add("service_name", *patch.ServiceName)
	}
	if patch.EncryptedUsername != nil {
		add("encrypted_username", *patch.EncryptedUsername)
	}
	if patch.EncryptedPassword != nil {
		add("encrypted_password", *patch.EncryptedPassword)
	}
	if patch.IV != nil {
		add("iv", patch.IV)
	}
	if patch.Notes != nil {
		add("notes", *patch.Notes)
	}
	if patch.Tags != nil {
		tags, err := marshalTags(patch.Tags)
		if err != nil {
			return err
		}
		add("tags", tags)
	}

	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	query := "UPDATE vault_entries SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	args = append(args, entryID, userID)
	query += " WHERE id = $" + strconv.Itoa(len(args)-1) +
		" AND user_id = $" + strconv.Itoa(len(args)) +
		" AND is_active = TRUE"

	result, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// SoftDelete hides an active entry
func (r *vaultRepository) SoftDelete(ctx context.Context, userID, entryID uuid.UUID) error {
	query := `
		UPDATE vault_entries
		SET is_active = FALSE, deleted_at = $1
		WHERE id = $2 AND user_id = $3 AND is_active = TRUE
	`

	result, err := r.q.Exec(ctx, query, time.Now().UTC(), entryID, userID)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// ListActive returns the user's active entries, newest-updated first
func (r *vaultRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]VaultEntry, error) {
	defer metrics.TimeQuery("list_vault_entries")()

	query := `
		SELECT id, user_id, service_name, encrypted_username, encrypted_password,
		       iv, notes, tags, is_active, deleted_at, created_at, updated_at
		FROM vault_entries
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY updated_at DESC
	`

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []VaultEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// DeleteAllForUser hard-deletes every entry for a user
func (r *vaultRepository) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `DELETE FROM vault_entries WHERE user_id = $1`

	result, err := r.q.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// scanEntry scans one vault entry row, decoding the tags JSON column
func scanEntry(row pgx.Row) (*VaultEntry, error) {
	entry := &VaultEntry{}
	var tags []byte

	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.ServiceName,
		&entry.EncryptedUsername,
		&entry.EncryptedPassword,
		&entry.IV,
		&entry.Notes,
		&tags,
		&entry.IsActive,
		&entry.DeletedAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &entry.Tags); err != nil {
			return nil, err
		}
	}

	return entry, nil
}

// marshalTags encodes tags for the jsonb column; nil stays NULL
func marshalTags(tags []string) (any, error) {
	if tags == nil {
		return nil, nil
	}
	return json.Marshal(tags)
}
