// Package chat implements the chat pipelines on top of the streams protocol:
// schema registration, publishing and the poll and push read pipelines.
package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eldtechnologies/streamchat/internal/streams"
)

const (
	// SchemaDefinition is the on-chain layout of one chat row.
	SchemaDefinition = "uint64 timestamp, bytes32 roomId, string content, string senderName, address sender"
	// SchemaName is the logical name the data schema is registered under.
	SchemaName = "ChatMessageData"
	// EventID is the logical id of the chat event.
	EventID = "ChatMessageV2"
	// EventSignature carries the room id as its single indexed topic.
	EventSignature = "ChatMessageV2(bytes32 indexed roomId)"

	// DefaultLimit is the default Message Buffer size.
	DefaultLimit = 100
)

var (
	ErrRoomRequired    = errors.New("room is required")
	ErrContentRequired = errors.New("content is required")
	ErrRoomTooLong     = errors.New("room name longer than 32 bytes")
	ErrMalformedRow    = errors.New("malformed chat row")
)

// Message is one chat row as read back from the chain.
type Message struct {
	Timestamp  int64          `json:"timestamp"` // Unix ms
	RoomID     common.Hash    `json:"roomId"`
	Content    string         `json:"content"`
	SenderName string         `json:"senderName"`
	Sender     common.Address `json:"sender"`
}

type messageKey struct {
	timestamp int64
	sender    common.Address
	content   string
}

func (m Message) key() messageKey {
	return messageKey{timestamp: m.Timestamp, sender: m.Sender, content: m.Content}
}

// RoomID maps a room name to its fixed-width on-chain id: the UTF-8 bytes of
// the name, right-padded with zeros to 32 bytes.
func RoomID(name string) (common.Hash, error) {
	var id common.Hash
	if strings.TrimSpace(name) == "" {
		return id, ErrRoomRequired
	}
	if len(name) > common.HashLength {
		return id, ErrRoomTooLong
	}
	copy(id[:], name)
	return id, nil
}

// normalizeTimestamp treats values of at most ten decimal digits as seconds.
func normalizeTimestamp(ts uint64) int64 {
	if ts < 10_000_000_000 {
		return int64(ts) * 1000
	}
	return int64(ts)
}

// messageFromItems converts one decoded row into a Message.
func messageFromItems(items []streams.SchemaItem) (Message, error) {
	if len(items) != 5 {
		return Message{}, fmt.Errorf("%w: %d fields", ErrMalformedRow, len(items))
	}

	ts, ok := items[0].Value.(uint64)
	if !ok {
		return Message{}, fmt.Errorf("%w: timestamp is %T", ErrMalformedRow, items[0].Value)
	}
	room, ok := items[1].Value.([32]byte)
	if !ok {
		return Message{}, fmt.Errorf("%w: roomId is %T", ErrMalformedRow, items[1].Value)
	}
	content, ok := items[2].Value.(string)
	if !ok {
		return Message{}, fmt.Errorf("%w: content is %T", ErrMalformedRow, items[2].Value)
	}
	name, ok := items[3].Value.(string)
	if !ok {
		return Message{}, fmt.Errorf("%w: senderName is %T", ErrMalformedRow, items[3].Value)
	}
	sender, ok := items[4].Value.(common.Address)
	if !ok {
		return Message{}, fmt.Errorf("%w: sender is %T", ErrMalformedRow, items[4].Value)
	}

	return Message{
		Timestamp:  normalizeTimestamp(ts),
		RoomID:     room,
		Content:    content,
		SenderName: name,
		Sender:     sender,
	}, nil
}

// filterRoom keeps messages for room; a nil room keeps everything.
func filterRoom(msgs []Message, room *common.Hash) []Message {
	if room == nil {
		return msgs
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.RoomID == *room {
			out = append(out, m)
		}
	}
	return out
}
