package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPollInterval is the refresh period of the poll pipeline.
const DefaultPollInterval = 5 * time.Second

// Snapshot is the state a read pipeline reports after every change.
type Snapshot struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
	Loading  bool      `json:"loading"`
	Err      string    `json:"error,omitempty"`
}

// SnapshotHandler receives snapshots in delivery order from one pipeline
// goroutine. It must not block for long.
type SnapshotHandler func(Snapshot)

// PollConfig configures a Poller.
type PollConfig struct {
	Room     string
	Limit    int
	Interval time.Duration
}

// Poller is the poll read pipeline: it refetches every row on a fixed
// interval and merges the result into its buffer.
type Poller struct {
	fetcher *Fetcher
	cfg     PollConfig
	buf     *Buffer
	logger  zerolog.Logger
}

// NewPoller creates a poll pipeline for one room.
func NewPoller(fetcher *Fetcher, cfg PollConfig, logger zerolog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	return &Poller{
		fetcher: fetcher,
		cfg:     cfg,
		buf:     NewBuffer(cfg.Limit),
		logger:  logger.With().Str("component", "poller").Str("room", cfg.Room).Logger(),
	}
}

// Run fetches immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, out SnapshotHandler) error {
	out(Snapshot{Room: p.cfg.Room, Messages: []Message{}, Loading: true})

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		snap, ok := p.poll(ctx)
		if !ok {
			return nil
		}
		out(snap)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll performs one fetch and merge. It reports false when ctx ended while
// the fetch was in flight, in which case the result is discarded.
func (p *Poller) poll(ctx context.Context) (Snapshot, bool) {
	msgs, err := p.fetcher.Fetch(ctx, p.cfg.Room)
	if ctx.Err() != nil {
		return Snapshot{}, false
	}

	snap := Snapshot{Room: p.cfg.Room}
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to load chat messages")
		snap.Err = err.Error()
	} else {
		p.buf.Merge(msgs)
	}
	snap.Messages = p.buf.Messages()
	return snap, true
}
