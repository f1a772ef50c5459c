package chat

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/streamchat/internal/streams"
)

var testTopic = common.HexToHash("0x7e57")

func simulated(t *testing.T, rows ...[]byte) hexutil.Bytes {
	t.Helper()
	out, err := streams.ProtocolABI.Methods["getAllPublisherDataForSchema"].Outputs.Pack(rows)
	require.NoError(t, err)
	return out
}

func notification(t *testing.T, room string, rows ...[]byte) streams.Notification {
	t.Helper()
	id, err := RoomID(room)
	require.NoError(t, err)
	return streams.Notification{
		Address:           protoAddr,
		Topics:            []common.Hash{testTopic, id},
		SimulationResults: []hexutil.Bytes{simulated(t, rows...)},
	}
}

type liveHarness struct {
	proto   *fakeProtocol
	watcher *fakeWatcher
	snaps   *collector
	notes   chan<- streams.Notification
	sub     *fakeSub
	done    chan error
	cancel  context.CancelFunc
}

func startLive(t *testing.T, proto *fakeProtocol, limit int) *liveHarness {
	t.Helper()
	h := &liveHarness{
		proto:   proto,
		watcher: newFakeWatcher(),
		snaps:   newCollector(),
		done:    make(chan error, 1),
	}
	feed := NewLiveFeed(
		NewFetcher(proto, testEncoder(t), alice, zerolog.Nop()),
		h.watcher,
		LiveConfig{Room: "general", Limit: limit, Protocol: protoAddr, EventTopic: testTopic, RetryDelay: time.Millisecond},
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.done <- feed.Run(ctx, h.snaps.handle) }()

	h.awaitSubscription(t)
	return h
}

// awaitSubscription waits for the next Watch call and switches the harness
// to its channels.
func (h *liveHarness) awaitSubscription(t *testing.T) {
	t.Helper()
	select {
	case h.notes = <-h.watcher.notes:
	case <-timeout():
		t.Fatal("feed never subscribed")
	}
	h.sub = <-h.watcher.subs
}

func TestLiveFeedSeedsHistoryThenSubscribes(t *testing.T) {
	enc := testEncoder(t)
	proto := &fakeProtocol{rows: [][]byte{encodeRow(t, enc, 1000, "general", "old", "Bob", bob)}}
	h := startLive(t, proto, 10)

	history := h.snaps.next(t)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "old", history.Messages[0].Content)

	req := <-h.watcher.reqs
	assert.Equal(t, []common.Hash{testTopic}, req.Topics)
	require.Len(t, req.EthCalls, 1)
	assert.Equal(t, protoAddr, req.EthCalls[0].To)

	want, err := streams.EncodeGetAllPublisherData(streams.ComputeSchemaID(SchemaDefinition), alice)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Bytes(want), req.EthCalls[0].Data)
}

func TestLiveFeedReplacesWithLatestRows(t *testing.T) {
	enc := testEncoder(t)
	h := startLive(t, &fakeProtocol{}, 2)
	assert.Empty(t, h.snaps.next(t).Messages)

	h.notes <- notification(t, "general",
		encodeRow(t, enc, 1000, "general", "one", "Alice", alice),
		encodeRow(t, enc, 2000, "general", "two", "Alice", alice),
		encodeRow(t, enc, 2500, "random", "other room", "Bob", bob),
		encodeRow(t, enc, 3000, "general", "three", "Bob", bob),
	)

	snap := h.snaps.next(t)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "two", snap.Messages[0].Content)
	assert.Equal(t, "three", snap.Messages[1].Content)
	assert.Empty(t, snap.Err)
}

func TestLiveFeedIgnoresOtherRoomsAndMalformed(t *testing.T) {
	enc := testEncoder(t)
	h := startLive(t, &fakeProtocol{}, 10)
	h.snaps.next(t)

	h.notes <- notification(t, "random", encodeRow(t, enc, 1000, "random", "nope", "Bob", bob))
	h.notes <- streams.Notification{
		Topics:            []common.Hash{testTopic, mustRoom(t, "general")},
		SimulationResults: []hexutil.Bytes{{0xde, 0xad}},
	}
	h.notes <- notification(t, "general", []byte("not a row"))
	h.notes <- notification(t, "general", encodeRow(t, enc, 4000, "general", "yes", "Alice", alice))

	snap := h.snaps.next(t)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "yes", snap.Messages[0].Content)
}

func TestLiveFeedSubscriptionError(t *testing.T) {
	enc := testEncoder(t)
	proto := &fakeProtocol{rows: [][]byte{encodeRow(t, enc, 1000, "general", "kept", "Bob", bob)}}
	h := startLive(t, proto, 10)
	h.snaps.next(t)

	first := h.sub
	first.errc <- errBoom

	snap := h.snaps.next(t)
	assert.Contains(t, snap.Err, "boom")
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "kept", snap.Messages[0].Content)

	// The feed drops the failed subscription and opens a new one.
	h.awaitSubscription(t)
	assert.NotSame(t, first, h.sub)
	select {
	case <-first.done:
	default:
		t.Fatal("failed subscription not released")
	}

	h.notes <- notification(t, "general",
		encodeRow(t, enc, 1000, "general", "kept", "Bob", bob),
		encodeRow(t, enc, 2000, "general", "after", "Alice", alice),
	)
	snap = h.snaps.next(t)
	assert.Empty(t, snap.Err)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "after", snap.Messages[1].Content)
}

func TestLiveFeedStopsRetryingOnCancel(t *testing.T) {
	h := startLive(t, &fakeProtocol{}, 10)
	h.snaps.next(t)

	h.watcher.err = errBoom
	h.sub.errc <- errBoom
	assert.Contains(t, h.snaps.next(t).Err, "boom")

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-timeout():
		t.Fatal("feed did not stop while retrying")
	}
}

func TestLiveFeedUnsubscribesOnCancel(t *testing.T) {
	h := startLive(t, &fakeProtocol{}, 10)
	h.snaps.next(t)

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-timeout():
		t.Fatal("feed did not stop")
	}

	select {
	case <-h.sub.done:
	default:
		t.Fatal("subscription left open")
	}
}

func TestLiveFeedHistoryFailure(t *testing.T) {
	proto := &fakeProtocol{readErr: errBoom}
	feed := NewLiveFeed(
		NewFetcher(proto, testEncoder(t), alice, zerolog.Nop()),
		newFakeWatcher(),
		LiveConfig{Room: "general", Protocol: protoAddr, EventTopic: testTopic},
		zerolog.Nop(),
	)
	snaps := newCollector()

	err := feed.Run(context.Background(), snaps.handle)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, snaps.next(t).Err, "boom")
}

func TestLiveFeedWatchFailure(t *testing.T) {
	w := newFakeWatcher()
	w.err = errBoom
	feed := NewLiveFeed(
		NewFetcher(&fakeProtocol{}, testEncoder(t), alice, zerolog.Nop()),
		w,
		LiveConfig{Room: "general", Protocol: protoAddr, EventTopic: testTopic},
		zerolog.Nop(),
	)
	snaps := newCollector()

	err := feed.Run(context.Background(), snaps.handle)
	assert.ErrorIs(t, err, errBoom)

	assert.Empty(t, snaps.next(t).Err) // history
	assert.Contains(t, snaps.next(t).Err, "subscribe")
}

func mustRoom(t *testing.T, name string) common.Hash {
	t.Helper()
	id, err := RoomID(name)
	require.NoError(t, err)
	return id
}
