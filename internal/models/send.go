package models

import (
	"time"

	"github.com/google/uuid"
)

// SendRecord is the local log entry for a confirmed chat send.
type SendRecord struct {
	ID         uuid.UUID `json:"id"`
	TxHash     string    `json:"tx_hash"`
	Room       string    `json:"room"`
	RoomID     string    `json:"room_id"` // 0x-prefixed bytes32
	SenderName string    `json:"sender_name,omitempty"`
	Sender     string    `json:"sender"`
	Timestamp  int64     `json:"ts"` // Unix ms
	CreatedAt  time.Time `json:"created_at"`
}
