package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/streamchat/internal/metrics"
	"github.com/eldtechnologies/streamchat/internal/streams"
)

// Event is what the subscription side hands to the buffer owner.
type Event interface {
	isEvent()
}

// RowsUpdated carries the full decoded row set of one notification.
type RowsUpdated struct {
	Messages []Message
}

// SubscriptionError reports a transport failure of the subscription.
type SubscriptionError struct {
	Err error
}

func (RowsUpdated) isEvent()       {}
func (SubscriptionError) isEvent() {}

// ErrSubscriptionClosed is reported when the node ends the subscription.
var ErrSubscriptionClosed = errors.New("subscription closed")

const (
	// DefaultRetryDelay is the first wait before resubscribing after a
	// subscription error. It doubles per failed attempt up to maxRetryDelay.
	DefaultRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

// Watcher opens push subscriptions. *streams.Watcher satisfies it.
type Watcher interface {
	Watch(ctx context.Context, req streams.WatchRequest, ch chan<- streams.Notification) (ethereum.Subscription, error)
}

// LiveConfig configures a LiveFeed.
type LiveConfig struct {
	Room  string
	Limit int

	// Protocol is the contract the simulated read call targets.
	Protocol common.Address
	// EventTopic is topic0 of the chat event.
	EventTopic common.Hash
	// RetryDelay is the initial resubscribe backoff.
	RetryDelay time.Duration
}

// LiveFeed is the push read pipeline: it seeds history once, then keeps one
// subscription whose notifications carry the publisher's full row set.
type LiveFeed struct {
	fetcher *Fetcher
	watcher Watcher
	cfg     LiveConfig
	buf     *Buffer
	logger  zerolog.Logger
}

// NewLiveFeed creates a push pipeline for one room.
func NewLiveFeed(fetcher *Fetcher, watcher Watcher, cfg LiveConfig, logger zerolog.Logger) *LiveFeed {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &LiveFeed{
		fetcher: fetcher,
		watcher: watcher,
		cfg:     cfg,
		buf:     NewBuffer(cfg.Limit),
		logger:  logger.With().Str("component", "live").Str("room", cfg.Room).Logger(),
	}
}

// Run loads history, subscribes and applies events until ctx is cancelled.
// Setup failures are reported in a snapshot and returned. Once the first
// subscription is open, a subscription error sets the snapshot error and the
// feed resubscribes with backoff, keeping its buffer.
func (l *LiveFeed) Run(ctx context.Context, out SnapshotHandler) error {
	out(Snapshot{Room: l.cfg.Room, Messages: []Message{}, Loading: true})

	fail := func(err error) error {
		if ctx.Err() != nil {
			return nil
		}
		out(Snapshot{Room: l.cfg.Room, Messages: l.buf.Messages(), Err: err.Error()})
		return err
	}

	history, err := l.fetcher.Fetch(ctx, l.cfg.Room)
	if err != nil {
		return fail(fmt.Errorf("load history: %w", err))
	}
	if ctx.Err() != nil {
		return nil
	}
	l.buf.Replace(history)
	out(Snapshot{Room: l.cfg.Room, Messages: l.buf.Messages()})

	events := make(chan Event, 16)
	sub, err := l.subscribe(ctx, events)
	if err != nil {
		return fail(fmt.Errorf("subscribe: %w", err))
	}
	defer func() { sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch e := ev.(type) {
			case RowsUpdated:
				l.buf.Replace(e.Messages)
				out(Snapshot{Room: l.cfg.Room, Messages: l.buf.Messages()})
			case SubscriptionError:
				l.logger.Warn().Err(e.Err).Msg("subscription error")
				out(Snapshot{Room: l.cfg.Room, Messages: l.buf.Messages(), Err: e.Err.Error()})
				sub.Unsubscribe()
				next := l.resubscribe(ctx, events, out)
				if next == nil {
					return nil
				}
				sub = next
			}
		}
	}
}

// subscribe opens the subscription and starts the goroutine that turns raw
// notifications into events.
func (l *LiveFeed) subscribe(ctx context.Context, events chan<- Event) (ethereum.Subscription, error) {
	room, err := roomFilter(l.cfg.Room)
	if err != nil {
		return nil, err
	}
	callData, err := streams.EncodeGetAllPublisherData(l.fetcher.SchemaID(), l.fetcher.Publisher())
	if err != nil {
		return nil, err
	}

	notes := make(chan streams.Notification, 16)
	sub, err := l.watcher.Watch(ctx, streams.WatchRequest{
		Topics:   []common.Hash{l.cfg.EventTopic},
		EthCalls: []streams.EthCall{{To: l.cfg.Protocol, Data: callData}},
	}, notes)
	if err != nil {
		return nil, err
	}

	go l.forward(ctx, sub, notes, events, room)
	return sub, nil
}

// resubscribe retries subscribe with exponential backoff until it succeeds.
// It returns nil when ctx is cancelled first.
func (l *LiveFeed) resubscribe(ctx context.Context, events chan<- Event, out SnapshotHandler) ethereum.Subscription {
	delay := l.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		sub, err := l.subscribe(ctx, events)
		if err == nil {
			l.logger.Info().Int("attempt", attempt).Msg("resubscribed")
			return sub
		}
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("resubscribe failed")
		out(Snapshot{Room: l.cfg.Room, Messages: l.buf.Messages(), Err: fmt.Sprintf("resubscribe: %v", err)})
		delay = min(delay*2, maxRetryDelay)
	}
}

func (l *LiveFeed) forward(ctx context.Context, sub ethereum.Subscription, notes <-chan streams.Notification, events chan<- Event, room *common.Hash) {
	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-sub.Err():
			if !ok {
				return
			}
			if err == nil {
				err = ErrSubscriptionClosed
			}
			emit(SubscriptionError{Err: err})
			return
		case n := <-notes:
			metrics.FeedNotifications.Inc()
			msgs, ok := l.decode(n, room)
			if !ok {
				continue
			}
			if !emit(RowsUpdated{Messages: msgs}) {
				return
			}
		}
	}
}

// decode turns a notification into messages. It reports false when the
// notification is for another room, carries nothing, or cannot be decoded.
func (l *LiveFeed) decode(n streams.Notification, room *common.Hash) ([]Message, bool) {
	if room != nil {
		if len(n.Topics) < 2 || n.Topics[1] != *room {
			return nil, false
		}
	}
	if len(n.SimulationResults) == 0 {
		return nil, false
	}

	rawRows, err := streams.DecodeGetAllPublisherData(n.SimulationResults[0])
	if err != nil {
		l.dropped(err)
		return nil, false
	}
	rows, err := l.fetcher.encoder.DeserialiseRawData(rawRows)
	if err != nil {
		l.dropped(err)
		return nil, false
	}

	msgs := make([]Message, 0, len(rows))
	for _, items := range rows {
		msg, err := messageFromItems(items)
		if err != nil {
			l.dropped(err)
			return nil, false
		}
		msgs = append(msgs, msg)
	}

	msgs = filterRoom(msgs, room)
	if len(msgs) == 0 {
		return nil, false
	}
	sortByTimestamp(msgs)
	return msgs, true
}

func (l *LiveFeed) dropped(err error) {
	metrics.DecodeFailures.Inc()
	l.logger.Warn().Err(err).Msg("dropping undecodable notification")
}
