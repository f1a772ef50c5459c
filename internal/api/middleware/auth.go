package middleware

import (
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// SendKeyHeader carries the shared key that unlocks POST /api/send.
const SendKeyHeader = "X-Send-Key"

// SendKeyGuard restricts the send endpoint to callers holding the operator's
// key. Every send spends gas from the server account, so the endpoint is
// closed unless the key matches the configured bcrypt hash.
type SendKeyGuard struct {
	hash   []byte
	logger zerolog.Logger

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]bool
}

// NewSendKeyGuard creates a guard for the given bcrypt hash.
func NewSendKeyGuard(hash string, logger zerolog.Logger) (*SendKeyGuard, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, err
	}
	return &SendKeyGuard{
		hash:     []byte(hash),
		logger:   logger,
		verified: make(map[[sha256.Size]byte]bool),
	}, nil
}

// RequireKey rejects requests without a valid X-Send-Key header.
func (g *SendKeyGuard) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(SendKeyHeader)
		if key == "" {
			jsonError(w, http.StatusUnauthorized, "missing send key")
			return
		}
		if !g.check(key) {
			g.logger.Warn().
				Str("type", "security").
				Str("event", "bad_send_key").
				Str("ip", RealIP(r)).
				Msg("rejected send key")
			jsonError(w, http.StatusUnauthorized, "invalid send key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// check compares key against the hash. bcrypt is slow on purpose, so keys
// that already matched are remembered by digest.
func (g *SendKeyGuard) check(key string) bool {
	digest := sha256.Sum256([]byte(key))

	g.mu.RLock()
	ok := g.verified[digest]
	g.mu.RUnlock()
	if ok {
		return true
	}

	if bcrypt.CompareHashAndPassword(g.hash, []byte(key)) != nil {
		return false
	}

	g.mu.Lock()
	g.verified[digest] = true
	g.mu.Unlock()
	return true
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
