package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/streamchat/internal/metrics"
	"github.com/eldtechnologies/streamchat/internal/streams"
)

// Publisher writes chat messages on chain.
type Publisher struct {
	registrar *Registrar
	protocol  Protocol
	signer    Signer
	encoder   *streams.SchemaEncoder
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPublisher creates a publisher that registers through registrar.
func NewPublisher(registrar *Registrar, protocol Protocol, signer Signer, enc *streams.SchemaEncoder, logger zerolog.Logger) *Publisher {
	return &Publisher{
		registrar: registrar,
		protocol:  protocol,
		signer:    signer,
		encoder:   enc,
		logger:    logger.With().Str("component", "publisher").Logger(),
		now:       time.Now,
	}
}

// SendMessage writes one message row and emits the chat event in a single
// transaction, waits for it to be mined and returns its hash.
func (p *Publisher) SendMessage(ctx context.Context, room, content, senderName string) (common.Hash, error) {
	if strings.TrimSpace(room) == "" {
		return common.Hash{}, ErrRoomRequired
	}
	if strings.TrimSpace(content) == "" {
		return common.Hash{}, ErrContentRequired
	}
	roomID, err := RoomID(room)
	if err != nil {
		return common.Hash{}, err
	}

	start := time.Now()
	hash, err := p.send(ctx, room, roomID, content, senderName)
	if err != nil {
		metrics.SendFailures.Inc()
		return common.Hash{}, err
	}
	metrics.MessagesSent.Inc()
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	return hash, nil
}

func (p *Publisher) send(ctx context.Context, room string, roomID common.Hash, content, senderName string) (common.Hash, error) {
	schemaID, err := p.registrar.EnsureSchema(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	if err := p.registrar.EnsureEventSchema(ctx); err != nil {
		return common.Hash{}, err
	}

	now := p.now().UnixMilli()
	data, err := p.encoder.EncodeData([]streams.SchemaItem{
		{Name: "timestamp", Type: "uint64", Value: uint64(now)},
		{Name: "roomId", Type: "bytes32", Value: [32]byte(roomID)},
		{Name: "content", Type: "string", Value: content},
		{Name: "senderName", Type: "string", Value: senderName},
		{Name: "sender", Type: "address", Value: p.signer.Sender()},
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode message: %w", err)
	}

	opts, err := p.signer.Transactor(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := p.protocol.SetAndEmitEvents(ctx, opts,
		[]streams.DataStream{{ID: DataID(room, now), SchemaID: schemaID, Data: data}},
		[]streams.EventStream{{ID: EventID, ArgumentTopics: EventTopics(roomID), Data: []byte{}}},
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("publish message: %w", err)
	}

	if _, err := p.protocol.WaitMined(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("publish message: %w", err)
	}

	p.logger.Debug().
		Str("room", room).
		Str("tx", tx.Hash().Hex()).
		Int64("timestamp", now).
		Msg("message published")

	return tx.Hash(), nil
}

// DataID is the row id for a message sent to room at unixMs.
func DataID(room string, unixMs int64) common.Hash {
	return crypto.Keccak256Hash([]byte(room + "-" + strconv.FormatInt(unixMs, 10)))
}

// EventTopics returns the argument topics of the chat event for a room: the
// room id itself, since an indexed bytes32 is stored verbatim as a topic.
func EventTopics(roomID common.Hash) []common.Hash {
	return []common.Hash{roomID}
}
