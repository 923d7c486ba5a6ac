package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vaulin/backend/internal/appctx"
	"github.com/vaulin/backend/internal/auth"
	"github.com/vaulin/backend/internal/repository"
)

// ActivityHandler serves the per-user audit trail
type ActivityHandler struct {
	reader *repository.ActivityReader
	logger *slog.Logger
}

// NewActivityHandler creates a new ActivityHandler instance
func NewActivityHandler(reader *repository.ActivityReader, logger *slog.Logger) *ActivityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityHandler{
		reader: reader,
		logger: logger,
	}
}

// ListActivity handles GET /api/v1/activity
func (h *ActivityHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	limit := repository.DefaultActivityLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
			if limit > repository.DefaultActivityLimit {
				limit = repository.DefaultActivityLimit
			}
		}
	}

	entries, err := h.reader.ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("failed to list activity", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to list activity", nil)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"activity": entries,
		"count":    len(entries),
	})
}
