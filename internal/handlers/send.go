package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/eldtechnologies/streamchat/internal/chat"
	"github.com/eldtechnologies/streamchat/internal/models"
	"github.com/eldtechnologies/streamchat/internal/store"
)

const (
	maxContentLength = 4096
	// IdempotencyHeader lets clients retry a send without publishing twice.
	IdempotencyHeader = "Idempotency-Key"
)

// SendRequest represents the send message request.
type SendRequest struct {
	Room       string `json:"room"`
	Content    string `json:"content"`
	SenderName string `json:"senderName,omitempty"`
}

// SendResponse represents a successful send.
type SendResponse struct {
	OK     bool   `json:"ok"`
	TxHash string `json:"txHash"`
}

// Send publishes one chat message on chain and waits for confirmation.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Room) == "" || strings.TrimSpace(req.Content) == "" {
		h.Error(w, http.StatusBadRequest, "room & content required")
		return
	}
	if len(req.Room) > 32 {
		h.Error(w, http.StatusBadRequest, "room name must be at most 32 bytes")
		return
	}
	if len(req.Content) > maxContentLength {
		h.Error(w, http.StatusBadRequest, "content too long (max 4096 bytes)")
		return
	}
	senderName := sanitizeName(req.SenderName)

	idemKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if idemKey != "" && h.redis != nil {
		prev, claimed, err := h.redis.ClaimIdempotentSend(r.Context(), idemKey)
		switch {
		case err != nil:
			// Send without idempotency rather than fail the request.
			h.logger.Warn().Err(err).Msg("idempotency claim failed")
			idemKey = ""
		case claimed:
		case prev == store.IdempotencyPending:
			h.Error(w, http.StatusConflict, "send already in progress")
			return
		default:
			h.JSON(w, http.StatusOK, SendResponse{OK: true, TxHash: prev})
			return
		}
	}

	hash, err := h.sender.SendMessage(r.Context(), req.Room, req.Content, senderName)
	if err != nil {
		if idemKey != "" && h.redis != nil {
			if err := h.redis.ReleaseIdempotentSend(context.WithoutCancel(r.Context()), idemKey); err != nil {
				h.logger.Warn().Err(err).Msg("failed to release idempotency key")
			}
		}
		switch {
		case errors.Is(err, chat.ErrRoomRequired), errors.Is(err, chat.ErrContentRequired):
			h.Error(w, http.StatusBadRequest, "room & content required")
		case errors.Is(err, chat.ErrRoomTooLong):
			h.Error(w, http.StatusBadRequest, "room name must be at most 32 bytes")
		default:
			h.logger.Error().Err(err).Str("room", req.Room).Msg("send failed")
			h.Error(w, http.StatusInternalServerError, "send failed (server)")
		}
		return
	}

	txHash := hash.Hex()
	h.afterSend(r.Context(), idemKey, req.Room, senderName, txHash)

	h.JSON(w, http.StatusOK, SendResponse{OK: true, TxHash: txHash})
}

// afterSend updates the local log and caches. The message is already on
// chain, so failures here are only logged.
func (h *Handler) afterSend(ctx context.Context, idemKey, room, senderName, txHash string) {
	if h.redis != nil {
		if idemKey != "" {
			if err := h.redis.SaveIdempotentSend(ctx, idemKey, txHash); err != nil {
				h.logger.Warn().Err(err).Msg("failed to save idempotency key")
			}
		}
		// The all-rooms read is cached under the empty room.
		for _, key := range []string{room, ""} {
			if err := h.redis.InvalidateRoom(ctx, key); err != nil {
				h.logger.Warn().Err(err).Str("room", key).Msg("failed to invalidate room cache")
			}
		}
	}

	if h.db == nil {
		return
	}
	roomID, _ := chat.RoomID(room)
	rec := &models.SendRecord{
		TxHash:     txHash,
		Room:       room,
		RoomID:     roomID.Hex(),
		SenderName: senderName,
		Sender:     h.account.Hex(),
		Timestamp:  time.Now().UnixMilli(),
	}
	if err := h.db.RecordSend(ctx, rec); err != nil {
		h.logger.Warn().Err(err).Str("tx", txHash).Msg("failed to record send")
	}
}
