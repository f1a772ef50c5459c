package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/streamchat/internal/chat"
	"github.com/eldtechnologies/streamchat/internal/store"
)

type fakeSender struct {
	mu    sync.Mutex
	hash  common.Hash
	err   error
	calls []SendRequest

	// When release is set, SendMessage signals started and waits on release.
	started chan struct{}
	release chan struct{}
}

func (f *fakeSender) SendMessage(ctx context.Context, room, content, senderName string) (common.Hash, error) {
	f.mu.Lock()
	f.calls = append(f.calls, SendRequest{Room: room, Content: content, SenderName: senderName})
	hash, err := f.hash, f.err
	f.mu.Unlock()

	if f.release != nil {
		f.started <- struct{}{}
		<-f.release
	}
	if err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeCache is an in-memory SendCache with SetNX semantics for claims.
type fakeCache struct {
	mu          sync.Mutex
	idem        map[string]string
	rooms       map[string][]chat.Message
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{idem: map[string]string{}, rooms: map[string][]chat.Message{}}
}

func (c *fakeCache) Ping(ctx context.Context) error { return nil }

func (c *fakeCache) GetCachedRoomMessages(ctx context.Context, room string, limit int) ([]chat.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.rooms[room]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, ok, nil
}

func (c *fakeCache) CacheRoomMessages(ctx context.Context, room string, msgs []chat.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = msgs
	return nil
}

func (c *fakeCache) InvalidateRoom(ctx context.Context, room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
	c.invalidated = append(c.invalidated, room)
	return nil
}

func (c *fakeCache) ClaimIdempotentSend(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.idem[key]; ok {
		return prev, false, nil
	}
	c.idem[key] = store.IdempotencyPending
	return "", true, nil
}

func (c *fakeCache) SaveIdempotentSend(ctx context.Context, key, txHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idem[key] = txHash
	return nil
}

func (c *fakeCache) ReleaseIdempotentSend(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.idem, key)
	return nil
}

func (c *fakeCache) idemValue(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.idem[key]
	return v, ok
}

type fakeFetcher struct {
	msgs []chat.Message
	err  error
	room string
}

func (f *fakeFetcher) Fetch(ctx context.Context, room string) ([]chat.Message, error) {
	f.room = room
	return f.msgs, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

var account = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func newTestHandler(t *testing.T, sender *fakeSender, fetcher *fakeFetcher, db store.DataStore) *Handler {
	t.Helper()
	cfg := Config{
		Logger:    zerolog.Nop(),
		Publisher: sender,
		Fetcher:   fetcher,
		Account:   account,
		Chain:     fakePinger{},
	}
	if db != nil {
		cfg.DB = db
	}
	return NewHandler(cfg)
}

func newTestDB(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "sends.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func newCachedHandler(sender *fakeSender, fetcher *fakeFetcher, cache *fakeCache) *Handler {
	return NewHandler(Config{
		Logger:    zerolog.Nop(),
		Publisher: sender,
		Fetcher:   fetcher,
		Account:   account,
		Redis:     cache,
		Chain:     fakePinger{},
	})
}

func postSend(h *Handler, body string) *httptest.ResponseRecorder {
	return postSendWithKey(h, "", body)
}

func postSendWithKey(h *Handler, idemKey, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(IdempotencyHeader, idemKey)
	}
	rec := httptest.NewRecorder()
	h.Send(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSendRequiresRoomAndContent(t *testing.T) {
	for _, body := range []string{
		`{}`,
		`{"room":"general"}`,
		`{"content":"hello"}`,
		`{"room":"  ","content":"hello"}`,
		`{"room":"general","content":"\n"}`,
	} {
		sender := &fakeSender{}
		h := newTestHandler(t, sender, &fakeFetcher{}, nil)

		rec := postSend(h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, map[string]any{"error": "room & content required"}, decode(t, rec))
		assert.Empty(t, sender.calls)
	}
}

func TestSendRejectsLongRoomAndBadJSON(t *testing.T) {
	sender := &fakeSender{}
	h := newTestHandler(t, sender, &fakeFetcher{}, nil)

	rec := postSend(h, `{"room":"`+strings.Repeat("r", 33)+`","content":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postSend(h, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sender.calls)
}

func TestSendSuccess(t *testing.T) {
	sender := &fakeSender{hash: common.HexToHash("0xabcdef")}
	db := newTestDB(t)
	h := newTestHandler(t, sender, &fakeFetcher{}, db)

	rec := postSend(h, `{"room":"general","content":"hello","senderName":"Alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, sender.hash.Hex(), resp.TxHash)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, SendRequest{Room: "general", Content: "hello", SenderName: "Alice"}, sender.calls[0])

	sends, err := db.ListRecentSends(context.Background(), "general", 10)
	require.NoError(t, err)
	require.Len(t, sends, 1)
	assert.Equal(t, resp.TxHash, sends[0].TxHash)
	assert.Equal(t, account.Hex(), sends[0].Sender)
}

func TestSendMissingSenderNameIsEmpty(t *testing.T) {
	sender := &fakeSender{hash: common.HexToHash("0x01")}
	h := newTestHandler(t, sender, &fakeFetcher{}, nil)

	rec := postSend(h, `{"room":"general","content":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", sender.calls[0].SenderName)
}

func TestSendFailureIsGeneric(t *testing.T) {
	sender := &fakeSender{err: errors.New("rpc: insufficient funds for gas")}
	h := newTestHandler(t, sender, &fakeFetcher{}, nil)

	rec := postSend(h, `{"room":"general","content":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{"error": "send failed (server)"}, decode(t, rec))
	assert.NotContains(t, rec.Body.String(), "insufficient")
}

func TestSendIdempotentReplay(t *testing.T) {
	sender := &fakeSender{hash: common.HexToHash("0xabc")}
	cache := newFakeCache()
	h := newCachedHandler(sender, &fakeFetcher{}, cache)
	body := `{"room":"general","content":"hello"}`

	first := postSendWithKey(h, "key-1", body)
	require.Equal(t, http.StatusOK, first.Code)
	second := postSendWithKey(h, "key-1", body)
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, decode(t, first), decode(t, second))
	assert.Equal(t, 1, sender.callCount())
	stored, _ := cache.idemValue("key-1")
	assert.Equal(t, sender.hash.Hex(), stored)

	// A different key publishes again.
	require.Equal(t, http.StatusOK, postSendWithKey(h, "key-2", body).Code)
	assert.Equal(t, 2, sender.callCount())
}

func TestSendConcurrentDuplicateConflicts(t *testing.T) {
	sender := &fakeSender{
		hash:    common.HexToHash("0xabc"),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	cache := newFakeCache()
	h := newCachedHandler(sender, &fakeFetcher{}, cache)
	body := `{"room":"general","content":"hello"}`

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- postSendWithKey(h, "key-1", body) }()
	<-sender.started

	// The first send is still being mined.
	dup := postSendWithKey(h, "key-1", body)
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Equal(t, map[string]any{"error": "send already in progress"}, decode(t, dup))

	close(sender.release)
	first := <-done
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, 1, sender.callCount())

	replay := postSendWithKey(h, "key-1", body)
	require.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, decode(t, first), decode(t, replay))
	assert.Equal(t, 1, sender.callCount())
}

func TestSendConcurrentDuplicatesPublishOnce(t *testing.T) {
	sender := &fakeSender{hash: common.HexToHash("0xabc")}
	h := newCachedHandler(sender, &fakeFetcher{}, newFakeCache())
	body := `{"room":"general","content":"hello"}`

	const n = 8
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- postSendWithKey(h, "key-1", body).Code
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		assert.Contains(t, []int{http.StatusOK, http.StatusConflict}, code)
	}
	assert.Equal(t, 1, sender.callCount())
}

func TestSendFailureReleasesIdempotencyKey(t *testing.T) {
	sender := &fakeSender{err: errors.New("rpc: nonce too low")}
	cache := newFakeCache()
	h := newCachedHandler(sender, &fakeFetcher{}, cache)
	body := `{"room":"general","content":"hello"}`

	require.Equal(t, http.StatusInternalServerError, postSendWithKey(h, "key-1", body).Code)
	_, held := cache.idemValue("key-1")
	assert.False(t, held)

	sender.err = nil
	sender.hash = common.HexToHash("0xabc")
	rec := postSendWithKey(h, "key-1", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, sender.callCount())
}

func TestSendInvalidatesRoomAndAllRoomsCache(t *testing.T) {
	fetcher := &fakeFetcher{msgs: []chat.Message{{Timestamp: 1, Content: "old"}}}
	cache := newFakeCache()
	h := newCachedHandler(&fakeSender{hash: common.HexToHash("0x01")}, fetcher, cache)

	for _, path := range []string{"/api/messages?room=general", "/api/messages"} {
		rec := httptest.NewRecorder()
		h.Messages(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	_, ok, _ := cache.GetCachedRoomMessages(context.Background(), "", 10)
	require.True(t, ok)

	require.Equal(t, http.StatusOK, postSend(h, `{"room":"general","content":"new"}`).Code)
	assert.ElementsMatch(t, []string{"general", ""}, cache.invalidated)

	// The all-rooms read goes back to the chain.
	fetcher.msgs = append(fetcher.msgs, chat.Message{Timestamp: 2, Content: "new"})
	rec := httptest.NewRecorder()
	h.Messages(rec, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp MessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Cached)
	assert.Len(t, resp.Messages, 2)
}

func TestMessages(t *testing.T) {
	room, _ := chat.RoomID("general")
	fetcher := &fakeFetcher{msgs: []chat.Message{
		{Timestamp: 3000, RoomID: room, Content: "c"},
		{Timestamp: 1000, RoomID: room, Content: "a"},
		{Timestamp: 2000, RoomID: room, Content: "b"},
	}}
	h := newTestHandler(t, &fakeSender{}, fetcher, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/messages?room=general&limit=2", nil)
	rec := httptest.NewRecorder()
	h.Messages(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "general", fetcher.room)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "b", resp.Messages[0].Content)
	assert.Equal(t, "c", resp.Messages[1].Content)
}

func TestMessagesFetchError(t *testing.T) {
	h := newTestHandler(t, &fakeSender{}, &fakeFetcher{err: errors.New("dial tcp: refused")}, nil)

	rec := httptest.NewRecorder()
	h.Messages(rec, httptest.NewRequest(http.MethodGet, "/api/messages?room=general", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "refused")
}

func TestSendsAndStatsWithoutDB(t *testing.T) {
	h := newTestHandler(t, &fakeSender{}, &fakeFetcher{}, nil)

	rec := httptest.NewRecorder()
	h.Sends(rec, httptest.NewRequest(http.MethodGet, "/api/sends", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStats(t *testing.T) {
	sender := &fakeSender{hash: common.HexToHash("0x01")}
	db := newTestDB(t)
	h := newTestHandler(t, sender, &fakeFetcher{}, db)

	require.Equal(t, http.StatusOK, postSend(h, `{"room":"general","content":"one"}`).Code)
	sender.hash = common.HexToHash("0x02")
	require.Equal(t, http.StatusOK, postSend(h, `{"room":"random","content":"two"}`).Code)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.TotalSends)
	assert.Equal(t, int64(2), resp.TotalRooms)
	assert.Equal(t, "just now", resp.LastActivity)
	assert.Len(t, resp.RecentSends, 2)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &fakeSender{}, &fakeFetcher{}, nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "pass", resp.Checks["chain"].Status)
	assert.Equal(t, "skip", resp.Checks["redis"].Status)

	h.chain = fakePinger{err: errors.New("down")}
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 100, parseLimit("", 100, 500))
	assert.Equal(t, 20, parseLimit("20", 100, 500))
	assert.Equal(t, 100, parseLimit("-3", 100, 500))
	assert.Equal(t, 500, parseLimit("9999", 100, 500))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Alice", sanitizeName("  Al\x00ice\n"))
	assert.Len(t, []rune(sanitizeName(strings.Repeat("é", 150))), 100)
}
