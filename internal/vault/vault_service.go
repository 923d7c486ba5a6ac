// Package vault implements credential entry management. Entries arrive
// already encrypted by the client; this service stores, lists and
// soft-deletes opaque ciphertext and never handles plaintext secrets.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/vaulin/backend/internal/metrics"
	"github.com/vaulin/backend/internal/repository"
)

const (
	// MaxServiceNameLength bounds the service_name column
	MaxServiceNameLength = 128
	// MaxNotesLength bounds the notes column
	MaxNotesLength = 1024
	// MaxTags bounds the number of tags per entry
	MaxTags = 16
	// IVSize is the required initialization vector length in bytes
	IVSize = 16
)

var (
	// ErrInvalidEntry reports an entry failing validation
	ErrInvalidEntry = errors.New("invalid vault entry")
)

// Service manages vault entries for authenticated users
type Service struct {
	store  repository.Store
	policy *bluemonday.Policy
	logger *slog.Logger
}

// NewService creates the vault service. Plaintext metadata fields
// (service name, notes, tags) are stripped of any HTML before storage;
// ciphertext fields pass through untouched.
func NewService(store repository.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		policy: bluemonday.StrictPolicy(),
		logger: logger,
	}
}

// CreateEntryInput carries a new entry's fields
type CreateEntryInput struct {
	ServiceName       string
	EncryptedUsername string
	EncryptedPassword string
	IV                []byte
	Notes             *string
	Tags              []string
}

// Create validates, sanitizes and stores a new entry, recording the audit
// event in the same transaction.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, input CreateEntryInput, ip, userAgent string) (*repository.VaultEntry, error) {
	entry := &repository.VaultEntry{
		UserID:            userID,
		ServiceName:       s.sanitize(input.ServiceName),
		EncryptedUsername: input.EncryptedUsername,
		EncryptedPassword: input.EncryptedPassword,
		IV:                input.IV,
		Notes:             s.sanitizeOptional(input.Notes),
		Tags:              s.sanitizeTags(input.Tags),
	}

	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	err := s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.VaultEntries().Create(ctx, entry); err != nil {
			return err
		}
		return tx.Activity().Record(ctx, &repository.ActivityEntry{
			UserID:     userID,
			ActionType: repository.ActionCreateEntry,
			Target:     entry.ServiceName,
			IPAddress:  optional(ip),
			UserAgent:  optional(userAgent),
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.VaultEntriesCreated.Inc()
	s.logger.Info("vault entry created", "user_id", userID, "entry_id", entry.ID)
	return entry, nil
}

// Update applies a partial update to an active entry owned by the user and
// returns the fresh row. Updating a soft-deleted entry fails with
// repository.ErrEntryNotFound.
func (s *Service) Update(ctx context.Context, userID, entryID uuid.UUID, patch repository.VaultEntryPatch, ip, userAgent string) (*repository.VaultEntry, error) {
	if patch.ServiceName != nil {
		name := s.sanitize(*patch.ServiceName)
		if name == "" || len(name) > MaxServiceNameLength {
			return nil, fmt.Errorf("%w: service name must be 1-%d characters", ErrInvalidEntry, MaxServiceNameLength)
		}
		patch.ServiceName = &name
	}
	if patch.Notes != nil {
		patch.Notes = s.sanitizeOptional(patch.Notes)
		if patch.Notes != nil && len(*patch.Notes) > MaxNotesLength {
			return nil, fmt.Errorf("%w: notes must not exceed %d characters", ErrInvalidEntry, MaxNotesLength)
		}
	}
	if patch.Tags != nil {
		patch.Tags = s.sanitizeTags(patch.Tags)
		if len(patch.Tags) > MaxTags {
			return nil, fmt.Errorf("%w: at most %d tags allowed", ErrInvalidEntry, MaxTags)
		}
	}
	if patch.IV != nil && len(patch.IV) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes", ErrInvalidEntry, IVSize)
	}

	var updated *repository.VaultEntry
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.VaultEntries().Update(ctx, userID, entryID, patch); err != nil {
			return err
		}
		entry, err := tx.VaultEntries().GetByID(ctx, userID, entryID)
		if err != nil {
			return err
		}
		updated = entry
		return tx.Activity().Record(ctx, &repository.ActivityEntry{
			UserID:     userID,
			ActionType: repository.ActionUpdateEntry,
			Target:     entry.ServiceName,
			IPAddress:  optional(ip),
			UserAgent:  optional(userAgent),
		})
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// SoftDelete marks an entry inactive. The row is kept for the audit trail;
// only a password reset removes vault rows outright.
func (s *Service) SoftDelete(ctx context.Context, userID, entryID uuid.UUID, ip, userAgent string) error {
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		entry, err := tx.VaultEntries().GetByID(ctx, userID, entryID)
		if err != nil {
			return err
		}
		if err := tx.VaultEntries().SoftDelete(ctx, userID, entryID); err != nil {
			return err
		}
		return tx.Activity().Record(ctx, &repository.ActivityEntry{
			UserID:     userID,
			ActionType: repository.ActionDeleteEntry,
			Target:     entry.ServiceName,
			IPAddress:  optional(ip),
			UserAgent:  optional(userAgent),
		})
	})
	if err != nil {
		return err
	}

	metrics.VaultEntriesDeleted.Inc()
	return nil
}

// List returns the user's active entries, most recently updated first
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]repository.VaultEntry, error) {
	return s.store.VaultEntries().ListActive(ctx, userID)
}

// Get returns one active entry owned by the user
func (s *Service) Get(ctx context.Context, userID, entryID uuid.UUID) (*repository.VaultEntry, error) {
	return s.store.VaultEntries().GetByID(ctx, userID, entryID)
}

func validateEntry(entry *repository.VaultEntry) error {
	if entry.ServiceName == "" || len(entry.ServiceName) > MaxServiceNameLength {
		return fmt.Errorf("%w: service name must be 1-%d characters", ErrInvalidEntry, MaxServiceNameLength)
	}
	if entry.EncryptedUsername == "" || entry.EncryptedPassword == "" {
		return fmt.Errorf("%w: encrypted username and password are required", ErrInvalidEntry)
	}
	if len(entry.IV) != IVSize {
		return fmt.Errorf("%w: iv must be %d bytes", ErrInvalidEntry, IVSize)
	}
	if entry.Notes != nil && len(*entry.Notes) > MaxNotesLength {
		return fmt.Errorf("%w: notes must not exceed %d characters", ErrInvalidEntry, MaxNotesLength)
	}
	if len(entry.Tags) > MaxTags {
		return fmt.Errorf("%w: at most %d tags allowed", ErrInvalidEntry, MaxTags)
	}
	return nil
}

func (s *Service) sanitize(value string) string {
	return strings.TrimSpace(s.policy.Sanitize(value))
}

func (s *Service) sanitizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	clean := s.sanitize(*value)
	if clean == "" {
		return nil
	}
	return &clean
}

func (s *Service) sanitizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	clean := make([]string, 0, len(tags))
	for _, tag := range tags {
		if t := s.sanitize(tag); t != "" {
			clean = append(clean, t)
		}
	}
	return clean
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
