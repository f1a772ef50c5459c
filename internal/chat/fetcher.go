package chat

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/streamchat/internal/metrics"
	"github.com/eldtechnologies/streamchat/internal/streams"
)

// Fetcher reads all chat rows of one publisher.
type Fetcher struct {
	reader    RowReader
	encoder   *streams.SchemaEncoder
	publisher common.Address
	logger    zerolog.Logger
}

// NewFetcher returns a fetcher for rows written by publisher.
func NewFetcher(reader RowReader, enc *streams.SchemaEncoder, publisher common.Address, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		reader:    reader,
		encoder:   enc,
		publisher: publisher,
		logger:    logger.With().Str("component", "fetcher").Logger(),
	}
}

// Publisher returns the account whose rows are read.
func (f *Fetcher) Publisher() common.Address {
	return f.publisher
}

// SchemaID returns the schema rows are read under.
func (f *Fetcher) SchemaID() common.Hash {
	return f.encoder.SchemaID()
}

// Fetch returns the publisher's messages for room sorted by timestamp. An
// empty room returns every room. No rows yet is an empty result, not an error.
func (f *Fetcher) Fetch(ctx context.Context, room string) ([]Message, error) {
	filter, err := roomFilter(room)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := f.reader.GetAllPublisherDataForSchema(ctx, f.encoder.SchemaID(), f.publisher)
	metrics.RPCLatency.WithLabelValues("getAllPublisherDataForSchema").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, streams.ErrNoData) || streams.IsNoData(err) {
			return []Message{}, nil
		}
		return nil, err
	}

	msgs := make([]Message, 0, len(rows))
	for i, row := range rows {
		items, err := f.encoder.DecodeData(row)
		if err != nil {
			f.logger.Warn().Err(err).Int("row", i).Msg("skipping undecodable row")
			continue
		}
		msg, err := messageFromItems(items)
		if err != nil {
			f.logger.Warn().Err(err).Int("row", i).Msg("skipping malformed row")
			continue
		}
		msgs = append(msgs, msg)
	}

	msgs = filterRoom(msgs, filter)
	sortByTimestamp(msgs)
	return msgs, nil
}

func roomFilter(room string) (*common.Hash, error) {
	if room == "" {
		return nil, nil
	}
	id, err := RoomID(room)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func sortByTimestamp(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}
