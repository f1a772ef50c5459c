package handlers

import (
	"net/http"

	"github.com/eldtechnologies/streamchat/internal/models"
)

// SendsResponse lists logged sends, newest first.
type SendsResponse struct {
	Sends []models.SendRecord `json:"sends"`
}

// Sends lists recent confirmed sends from the local log.
func (h *Handler) Sends(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.Error(w, http.StatusServiceUnavailable, "send log not configured")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"), 50, 200)
	sends, err := h.db.ListRecentSends(r.Context(), r.URL.Query().Get("room"), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list sends")
		h.Error(w, http.StatusInternalServerError, "failed to list sends")
		return
	}

	h.JSON(w, http.StatusOK, SendsResponse{Sends: sends})
}
