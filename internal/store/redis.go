package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/streamchat/internal/chat"
	"github.com/eldtechnologies/streamchat/internal/metrics"
)

const (
	roomCacheTTL   = 3 * time.Second
	idempotencyTTL = 10 * time.Minute

	// IdempotencyPending marks a key whose send is still being mined.
	IdempotencyPending = "pending"
)

// RedisStore handles Redis operations: the short-lived room read cache,
// send idempotency keys and the rate limiter's counters.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomMessagesKey returns the key for a room's cached message sorted set.
func roomMessagesKey(room string) string {
	return fmt.Sprintf("room:%s:messages", room)
}

// idempotencyKey returns the key remembering the tx hash of a keyed send.
func idempotencyKey(key string) string {
	return fmt.Sprintf("send:idem:%s", key)
}

// CacheRoomMessages stores a room's messages for a few seconds. An empty
// result is not cached.
func (s *RedisStore) CacheRoomMessages(ctx context.Context, room string, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	members := make([]redis.Z, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		members = append(members, redis.Z{
			Score:  float64(msg.Timestamp),
			Member: string(data),
		})
	}

	key := roomMessagesKey(room)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, roomCacheTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetCachedRoomMessages returns up to limit of the newest cached messages in
// ascending order. ok is false on a cache miss.
func (s *RedisStore) GetCachedRoomMessages(ctx context.Context, room string, limit int) ([]chat.Message, bool, error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	results, err := s.client.ZRevRangeByScore(ctx, roomMessagesKey(room), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, false, err
	}
	if len(results) == 0 {
		return nil, false, nil
	}

	msgs := make([]chat.Message, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var msg chat.Message
		if err := json.Unmarshal([]byte(results[i]), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}

	return msgs, true, nil
}

// InvalidateRoom drops a room's cached messages.
func (s *RedisStore) InvalidateRoom(ctx context.Context, room string) error {
	return s.client.Del(ctx, roomMessagesKey(room)).Err()
}

// GetIdempotentSend returns the tx hash recorded for key, or "" if none.
func (s *RedisStore) GetIdempotentSend(ctx context.Context, key string) (string, error) {
	hash, err := s.client.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return hash, err
}

// ClaimIdempotentSend atomically reserves key for a new send. When the key is
// already taken it returns claimed=false and the stored value: a tx hash, or
// IdempotencyPending while the first send is in flight.
func (s *RedisStore) ClaimIdempotentSend(ctx context.Context, key string) (prev string, claimed bool, err error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	claimed, err = s.client.SetNX(ctx, idempotencyKey(key), IdempotencyPending, idempotencyTTL).Result()
	if err != nil || claimed {
		return "", claimed, err
	}
	prev, err = s.GetIdempotentSend(ctx, key)
	if err != nil {
		return "", false, err
	}
	if prev == "" {
		// Expired between SetNX and Get.
		return s.ClaimIdempotentSend(ctx, key)
	}
	return prev, false, nil
}

// ReleaseIdempotentSend drops a claim whose send failed so the key can be retried.
func (s *RedisStore) ReleaseIdempotentSend(ctx context.Context, key string) error {
	return s.client.Del(ctx, idempotencyKey(key)).Err()
}

// SaveIdempotentSend remembers the tx hash produced for key.
func (s *RedisStore) SaveIdempotentSend(ctx context.Context, key, txHash string) error {
	return s.client.Set(ctx, idempotencyKey(key), txHash, idempotencyTTL).Err()
}
