package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/streamchat/internal/chat"
	"github.com/eldtechnologies/streamchat/internal/store"
)

// MessageSender publishes chat messages. *chat.Publisher satisfies it.
type MessageSender interface {
	SendMessage(ctx context.Context, room, content, senderName string) (common.Hash, error)
}

// MessageFetcher performs one-shot reads. *chat.Fetcher satisfies it.
type MessageFetcher interface {
	Fetch(ctx context.Context, room string) ([]chat.Message, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SendCache is the optional Redis layer. *store.RedisStore satisfies it.
type SendCache interface {
	Pinger
	GetCachedRoomMessages(ctx context.Context, room string, limit int) ([]chat.Message, bool, error)
	CacheRoomMessages(ctx context.Context, room string, msgs []chat.Message) error
	InvalidateRoom(ctx context.Context, room string) error
	ClaimIdempotentSend(ctx context.Context, key string) (prev string, claimed bool, err error)
	SaveIdempotentSend(ctx context.Context, key, txHash string) error
	ReleaseIdempotentSend(ctx context.Context, key string) error
}

// Config holds the dependencies of a Handler. DB, Redis and Chain are
// optional; leave them nil when not configured.
type Config struct {
	Logger       zerolog.Logger
	Publisher    MessageSender
	Fetcher      MessageFetcher
	Account      common.Address // signing account, recorded in the send log
	DB           store.DataStore
	Redis        SendCache
	Chain        Pinger
	MessageLimit int
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	logger  zerolog.Logger
	sender  MessageSender
	fetcher MessageFetcher
	account common.Address
	db      store.DataStore
	redis   SendCache
	chain   Pinger
	limit   int
}

// NewHandler creates a new Handler from cfg.
func NewHandler(cfg Config) *Handler {
	limit := cfg.MessageLimit
	if limit <= 0 {
		limit = chat.DefaultLimit
	}
	return &Handler{
		logger:  cfg.Logger,
		sender:  cfg.Publisher,
		fetcher: cfg.Fetcher,
		account: cfg.Account,
		db:      cfg.DB,
		redis:   cfg.Redis,
		chain:   cfg.Chain,
		limit:   limit,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Limit to 100 characters
	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}

	return name
}
