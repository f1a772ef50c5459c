package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/eldtechnologies/streamchat/internal/chat"
)

const maxReadLimit = 500

// MessagesResponse represents the one-shot read response.
type MessagesResponse struct {
	Room     string         `json:"room"`
	Messages []chat.Message `json:"messages"`
	Cached   bool           `json:"cached"`
}

// Messages returns the most recent messages of a room. An empty room
// returns messages across every room.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if len(room) > 32 {
		h.Error(w, http.StatusBadRequest, "room name must be at most 32 bytes")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), h.limit, maxReadLimit)

	if h.redis != nil {
		msgs, ok, err := h.redis.GetCachedRoomMessages(r.Context(), room, limit)
		if err != nil {
			h.logger.Warn().Err(err).Str("room", room).Msg("room cache read failed")
		} else if ok {
			h.JSON(w, http.StatusOK, MessagesResponse{Room: room, Messages: msgs, Cached: true})
			return
		}
	}

	msgs, err := h.fetcher.Fetch(r.Context(), room)
	if err != nil {
		if errors.Is(err, chat.ErrRoomTooLong) {
			h.Error(w, http.StatusBadRequest, "room name must be at most 32 bytes")
			return
		}
		h.logger.Error().Err(err).Str("room", room).Msg("failed to load chat messages")
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	buf := chat.NewBuffer(maxReadLimit)
	buf.Replace(msgs)
	all := buf.Messages()

	if h.redis != nil {
		if err := h.redis.CacheRoomMessages(r.Context(), room, all); err != nil {
			h.logger.Warn().Err(err).Str("room", room).Msg("room cache write failed")
		}
	}

	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	h.JSON(w, http.StatusOK, MessagesResponse{Room: room, Messages: all})
}

// parseLimit reads a positive limit, falling back to def and capping at max.
func parseLimit(raw string, def, max int) int {
	limit := def
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
