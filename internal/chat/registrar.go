package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/streamchat/internal/metrics"
	"github.com/eldtechnologies/streamchat/internal/streams"
)

// ErrRegistrationNotVisible means a registration transaction was confirmed
// but reading the registration back still reports it missing.
var ErrRegistrationNotVisible = errors.New("registration not visible after confirmation")

// RowReader reads raw rows for a schema/publisher pair.
type RowReader interface {
	GetAllPublisherDataForSchema(ctx context.Context, schemaID common.Hash, publisher common.Address) ([][]byte, error)
}

// Protocol is the part of the streams client the write path needs.
type Protocol interface {
	RowReader
	IsDataSchemaRegistered(ctx context.Context, schemaID common.Hash) (bool, error)
	RegisterDataSchemas(ctx context.Context, opts *bind.TransactOpts, regs []streams.DataSchemaRegistration) (*types.Transaction, error)
	GetEventSchemasByID(ctx context.Context, ids []string) ([]streams.EventSchema, error)
	RegisterEventSchemas(ctx context.Context, opts *bind.TransactOpts, ids []string, schemas []streams.EventSchema) (*types.Transaction, error)
	SetAndEmitEvents(ctx context.Context, opts *bind.TransactOpts, data []streams.DataStream, events []streams.EventStream) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Signer supplies transaction options and the sending account.
type Signer interface {
	Transactor(ctx context.Context) (*bind.TransactOpts, error)
	Sender() common.Address
}

// Registrar makes sure the chat data schema and event schema exist on chain.
// Ensure calls are serialised so concurrent senders never race two
// registration transactions for the same entity.
type Registrar struct {
	protocol Protocol
	signer   Signer
	encoder  *streams.SchemaEncoder
	event    streams.EventSchema
	logger   zerolog.Logger

	mu          sync.Mutex
	schemaReady bool
	eventReady  bool
}

// NewRegistrar creates a registrar for the schema encoded by enc and the chat event.
func NewRegistrar(protocol Protocol, signer Signer, enc *streams.SchemaEncoder, logger zerolog.Logger) *Registrar {
	event, err := streams.ParseEventSignature(EventSignature)
	if err != nil {
		panic(err)
	}
	return &Registrar{
		protocol: protocol,
		signer:   signer,
		encoder:  enc,
		event:    event,
		logger:   logger.With().Str("component", "registrar").Logger(),
	}
}

// SchemaID returns the chat data schema id.
func (r *Registrar) SchemaID() common.Hash {
	return r.encoder.SchemaID()
}

// EventTopic returns topic0 of the chat event.
func (r *Registrar) EventTopic() common.Hash {
	return r.event.EventTopic
}

// EnsureSchema registers the data schema if needed and returns its id.
func (r *Registrar) EnsureSchema(ctx context.Context) (common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.encoder.SchemaID()
	if r.schemaReady {
		return id, nil
	}

	exists, err := r.protocol.IsDataSchemaRegistered(ctx, id)
	if err != nil {
		return common.Hash{}, fmt.Errorf("check schema %s: %w", id.Hex(), err)
	}

	if !exists {
		opts, err := r.signer.Transactor(ctx)
		if err != nil {
			return common.Hash{}, err
		}
		tx, err := r.protocol.RegisterDataSchemas(ctx, opts, []streams.DataSchemaRegistration{
			{ID: SchemaName, Schema: r.encoder.Schema()},
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("register schema: %w", err)
		}
		r.logger.Info().Str("schema_id", id.Hex()).Str("tx", tx.Hash().Hex()).Msg("data schema registration submitted")

		if _, err := r.protocol.WaitMined(ctx, tx); err != nil {
			return common.Hash{}, fmt.Errorf("register schema: %w", err)
		}
		metrics.Registrations.WithLabelValues("data").Inc()

		exists, err = r.protocol.IsDataSchemaRegistered(ctx, id)
		if err != nil {
			return common.Hash{}, fmt.Errorf("verify schema %s: %w", id.Hex(), err)
		}
		if !exists {
			return common.Hash{}, fmt.Errorf("schema %s: %w", id.Hex(), ErrRegistrationNotVisible)
		}
	}

	r.schemaReady = true
	return id, nil
}

// EnsureEventSchema registers the chat event schema if needed.
func (r *Registrar) EnsureEventSchema(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eventReady {
		return nil
	}

	registered, err := r.eventRegistered(ctx)
	if err != nil {
		// Unknown ids may revert instead of returning a zero schema.
		r.logger.Debug().Err(err).Msg("event schema lookup failed, registering")
	}

	if !registered {
		opts, err := r.signer.Transactor(ctx)
		if err != nil {
			return err
		}
		tx, err := r.protocol.RegisterEventSchemas(ctx, opts, []string{EventID}, []streams.EventSchema{r.event})
		if err != nil {
			return fmt.Errorf("register event schema: %w", err)
		}
		r.logger.Info().Str("event_id", EventID).Str("tx", tx.Hash().Hex()).Msg("event schema registration submitted")

		if _, err := r.protocol.WaitMined(ctx, tx); err != nil {
			return fmt.Errorf("register event schema: %w", err)
		}
		metrics.Registrations.WithLabelValues("event").Inc()

		registered, err = r.eventRegistered(ctx)
		if err != nil {
			return fmt.Errorf("verify event schema %s: %w", EventID, err)
		}
		if !registered {
			return fmt.Errorf("event schema %s: %w", EventID, ErrRegistrationNotVisible)
		}
	}

	r.eventReady = true
	return nil
}

func (r *Registrar) eventRegistered(ctx context.Context) (bool, error) {
	existing, err := r.protocol.GetEventSchemasByID(ctx, []string{EventID})
	if err != nil {
		return false, err
	}
	return len(existing) > 0 && existing[0].Registered(), nil
}
