// Package feed runs one read pipeline per watched room and fans its
// snapshots out to subscribers.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/streamchat/internal/chat"
	"github.com/eldtechnologies/streamchat/internal/crypto"
	"github.com/eldtechnologies/streamchat/internal/metrics"
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("feed hub closed")

// Pipeline is a read pipeline for one room. *chat.Poller and *chat.LiveFeed
// satisfy it.
type Pipeline interface {
	Run(ctx context.Context, out chat.SnapshotHandler) error
}

// Factory builds the pipeline for a room.
type Factory func(room string) Pipeline

// Subscription delivers a room's snapshots. C holds at most one pending
// snapshot; a slow reader only ever sees the latest. C is closed when the
// subscription ends or the room's pipeline stops.
type Subscription struct {
	ID   string
	Room string
	C    <-chan chat.Snapshot

	once  sync.Once
	leave func()
}

// Close leaves the room. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.leave)
}

type roomFeed struct {
	cancel context.CancelFunc
	subs   map[string]chan chat.Snapshot
	last   *chat.Snapshot
}

// Hub owns the per-room pipelines. A room's pipeline starts with its first
// subscriber and is cancelled when the last one leaves.
type Hub struct {
	factory Factory
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rooms  map[string]*roomFeed
	closed bool
}

// NewHub creates a hub that builds pipelines with factory.
func NewHub(factory Factory, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		factory: factory,
		logger:  logger.With().Str("component", "feed").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[string]*roomFeed),
	}
}

// Subscribe joins room, starting its pipeline if needed. The latest known
// snapshot, if any, is delivered immediately.
func (h *Hub) Subscribe(room string) (*Subscription, error) {
	if room != "" {
		if _, err := chat.RoomID(room); err != nil {
			return nil, err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	rf, ok := h.rooms[room]
	if !ok {
		rf = h.start(room)
	}

	id := crypto.NewConnID()
	ch := make(chan chat.Snapshot, 1)
	if rf.last != nil {
		ch <- *rf.last
	}
	rf.subs[id] = ch
	metrics.FeedClients.Inc()

	sub := &Subscription{ID: id, Room: room, C: ch}
	sub.leave = func() { h.leave(room, rf, id) }
	return sub, nil
}

// Snapshot returns the latest snapshot of a running room.
func (h *Hub) Snapshot(room string) (chat.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rf, ok := h.rooms[room]
	if !ok || rf.last == nil {
		return chat.Snapshot{}, false
	}
	return *rf.last, true
}

// Rooms returns the number of rooms with a running pipeline.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Close stops every pipeline and waits for them to return.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}

// start launches the pipeline for room. h.mu must be held.
func (h *Hub) start(room string) *roomFeed {
	ctx, cancel := context.WithCancel(h.ctx)
	rf := &roomFeed{
		cancel: cancel,
		subs:   make(map[string]chan chat.Snapshot),
	}
	h.rooms[room] = rf

	pipeline := h.factory(room)
	metrics.ActiveFeeds.Inc()
	h.logger.Info().Str("room", room).Msg("room feed started")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer metrics.ActiveFeeds.Dec()

		err := pipeline.Run(ctx, func(s chat.Snapshot) { h.publish(rf, s) })
		if err != nil && ctx.Err() == nil {
			h.logger.Error().Err(err).Str("room", room).Msg("room feed stopped")
		}
		cancel()
		h.stopped(room, rf)
	}()

	return rf
}

// publish stores s as the room's latest snapshot and hands it to every
// subscriber, replacing any snapshot they have not read yet.
func (h *Hub) publish(rf *roomFeed, s chat.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rf.last = &s
	for _, ch := range rf.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (h *Hub) leave(room string, rf *roomFeed, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := rf.subs[id]
	if !ok {
		return
	}
	delete(rf.subs, id)
	close(ch)
	metrics.FeedClients.Dec()

	if len(rf.subs) == 0 {
		rf.cancel()
		if h.rooms[room] == rf {
			delete(h.rooms, room)
		}
		h.logger.Info().Str("room", room).Msg("last subscriber left")
	}
}

// stopped detaches a finished pipeline and ends its remaining subscriptions.
func (h *Hub) stopped(room string, rf *roomFeed) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room] == rf {
		delete(h.rooms, room)
	}
	for id, ch := range rf.subs {
		delete(rf.subs, id)
		close(ch)
		metrics.FeedClients.Dec()
	}
}
