package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/eldtechnologies/streamchat/internal/models"
)

// SendPreview represents a preview of a logged send.
type SendPreview struct {
	TxHash     string `json:"tx_hash"`
	Room       string `json:"room"`
	SenderName string `json:"sender_name,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalSends   int64                 `json:"total_sends"`
	TotalRooms   int64                 `json:"total_rooms"`
	LastActivity string                `json:"last_activity"`
	TopRooms     []models.RoomActivity `json:"top_rooms"`
	RecentSends  []SendPreview         `json:"recent_sends"`
}

// Stats returns send statistics from the local log.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.Error(w, http.StatusServiceUnavailable, "send log not configured")
		return
	}
	ctx := r.Context()

	// Get aggregate counts
	totalSends, err := h.db.CountSends(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count sends")
		return
	}

	totalRooms, err := h.db.CountRooms(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count rooms")
		return
	}

	// Get most recent activity
	latest, err := h.db.GetMostRecentSend(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to get last activity")
		return
	}

	lastActivity := "no activity yet"
	if latest != nil {
		lastActivity = formatTimeAgo(time.UnixMilli(latest.Timestamp))
	}

	topRooms, err := h.db.GetTopRooms(ctx, 5)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to get top rooms")
		return
	}

	recent, err := h.db.ListRecentSends(ctx, "", 5)
	if err != nil {
		// Non-fatal, continue with empty previews
		recent = nil
	}

	previews := make([]SendPreview, 0, len(recent))
	for _, rec := range recent {
		previews = append(previews, SendPreview{
			TxHash:     rec.TxHash,
			Room:       rec.Room,
			SenderName: rec.SenderName,
			Timestamp:  rec.Timestamp,
		})
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalSends:   totalSends,
		TotalRooms:   totalRooms,
		LastActivity: lastActivity,
		TopRooms:     topRooms,
		RecentSends:  previews,
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return strconv.Itoa(mins) + " minutes ago"
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return strconv.Itoa(hours) + " hours ago"
	default:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return strconv.Itoa(days) + " days ago"
	}
}
