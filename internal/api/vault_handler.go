package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vaulin/backend/internal/appctx"
	"github.com/vaulin/backend/internal/auth"
	"github.com/vaulin/backend/internal/middleware"
	"github.com/vaulin/backend/internal/repository"
	"github.com/vaulin/backend/internal/vault"
)

// Error codes for vault operations
const (
	CodeEntryNotFound = "ENTRY_NOT_FOUND"
	CodeInvalidEntry  = "INVALID_ENTRY"
)

// VaultHandler handles HTTP requests for vault entry endpoints
type VaultHandler struct {
	service *vault.Service
	logger  *slog.Logger
}

// NewVaultHandler creates a new VaultHandler instance
func NewVaultHandler(service *vault.Service, logger *slog.Logger) *VaultHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VaultHandler{
		service: service,
		logger:  logger,
	}
}

// CreateEntryRequest is the payload for a new vault entry. The iv field is
// hex-encoded; username and password are opaque client-side ciphertext.
type CreateEntryRequest struct {
	ServiceName       string   `json:"serviceName" validate:"required,max=128"`
	EncryptedUsername string   `json:"encryptedUsername" validate:"required"`
	EncryptedPassword string   `json:"encryptedPassword" validate:"required"`
	IV                string   `json:"iv" validate:"required,hexadecimal,len=32"`
	Notes             *string  `json:"notes,omitempty" validate:"omitempty,max=1024"`
	Tags              []string `json:"tags,omitempty" validate:"omitempty,max=16,dive,max=64"`
}

// UpdateEntryRequest is the partial-update payload. Absent fields are
// left unchanged.
type UpdateEntryRequest struct {
	ID                string   `json:"id" validate:"required,uuid"`
	ServiceName       *string  `json:"serviceName,omitempty" validate:"omitempty,max=128"`
	EncryptedUsername *string  `json:"encryptedUsername,omitempty"`
	EncryptedPassword *string  `json:"encryptedPassword,omitempty"`
	IV                *string  `json:"iv,omitempty" validate:"omitempty,hexadecimal,len=32"`
	Notes             *string  `json:"notes,omitempty" validate:"omitempty,max=1024"`
	Tags              []string `json:"tags,omitempty" validate:"omitempty,max=16,dive,max=64"`
}

// EntryResponse is the wire representation of a vault entry
type EntryResponse struct {
	ID                uuid.UUID `json:"id"`
	ServiceName       string    `json:"serviceName"`
	EncryptedUsername string    `json:"encryptedUsername"`
	EncryptedPassword string    `json:"encryptedPassword"`
	IV                string    `json:"iv"`
	Notes             *string   `json:"notes,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func toEntryResponse(e *repository.VaultEntry) EntryResponse {
	return EntryResponse{
		ID:                e.ID,
		ServiceName:       e.ServiceName,
		EncryptedUsername: e.EncryptedUsername,
		EncryptedPassword: e.EncryptedPassword,
		IV:                hex.EncodeToString(e.IV),
		Notes:             e.Notes,
		Tags:              e.Tags,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

// CreateEntry handles POST /api/v1/vault/create
func (h *VaultHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req CreateEntryRequest
	if !h.bind(w, r, &req) {
		return
	}

	iv, err := hex.DecodeString(req.IV)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "iv must be hex encoded", nil)
		return
	}

	entry, err := h.service.Create(r.Context(), userID, vault.CreateEntryInput{
		ServiceName:       req.ServiceName,
		EncryptedUsername: req.EncryptedUsername,
		EncryptedPassword: req.EncryptedPassword,
		IV:                iv,
		Notes:             req.Notes,
		Tags:              req.Tags,
	}, middleware.ClientIP(r), r.UserAgent())
	if err != nil {
		h.handleVaultError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"entry": toEntryResponse(entry),
	})
}

// UpdateEntry handles PUT /api/v1/vault/update
func (h *VaultHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req UpdateEntryRequest
	if !h.bind(w, r, &req) {
		return
	}

	entryID, _ := uuid.Parse(req.ID)

	patch := repository.VaultEntryPatch{
		ServiceName:       req.ServiceName,
		EncryptedUsername: req.EncryptedUsername,
		EncryptedPassword: req.EncryptedPassword,
		Notes:             req.Notes,
		Tags:              req.Tags,
	}
	if req.IV != nil {
		iv, err := hex.DecodeString(*req.IV)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationError, "iv must be hex encoded", nil)
			return
		}
		patch.IV = iv
	}

	entry, err := h.service.Update(r.Context(), userID, entryID, patch, middleware.ClientIP(r), r.UserAgent())
	if err != nil {
		h.handleVaultError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"entry": toEntryResponse(entry),
	})
}

// DeleteEntry handles DELETE /api/v1/vault/soft-delete/{id}
func (h *VaultHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	entryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid entry id", nil)
		return
	}

	if err := h.service.SoftDelete(r.Context(), userID, entryID, middleware.ClientIP(r), r.UserAgent()); err != nil {
		h.handleVaultError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "Entry deleted",
	})
}

// ListEntries handles GET /api/v1/vault/list
func (h *VaultHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	entries, err := h.service.List(r.Context(), userID)
	if err != nil {
		h.handleVaultError(w, r, err)
		return
	}

	responses := make([]EntryResponse, 0, len(entries))
	for i := range entries {
		responses = append(responses, toEntryResponse(&entries[i]))
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"entries": responses,
		"count":   len(responses),
	})
}

func (h *VaultHandler) bind(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
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

func (h *VaultHandler) handleVaultError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, CodeEntryNotFound, "Vault entry not found", nil)
	case errors.Is(err, vault.ErrInvalidEntry):
		writeError(w, http.StatusBadRequest, CodeInvalidEntry, err.Error(), nil)
	default:
		h.logger.Error("vault request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error", nil)
	}
}
