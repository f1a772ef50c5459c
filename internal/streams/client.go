package streams

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrNoData is returned by reads when the publisher has no rows yet.
	ErrNoData = errors.New("streams: no data")
	// ErrTxReverted is returned when a mined transaction has failed status.
	ErrTxReverted = errors.New("streams: transaction reverted")
)

// Backend is what the client needs from an RPC connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client calls the streams protocol contract at a fixed address.
type Client struct {
	address  common.Address
	backend  Backend
	contract *bind.BoundContract
}

// NewClient binds the protocol contract deployed at address.
func NewClient(address common.Address, backend Backend) *Client {
	return &Client{
		address:  address,
		backend:  backend,
		contract: bind.NewBoundContract(address, ProtocolABI, backend, backend, backend),
	}
}

// Address returns the protocol contract address.
func (c *Client) Address() common.Address {
	return c.address
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		if IsNoData(err) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

// IsDataSchemaRegistered reports whether schemaID is registered.
func (c *Client) IsDataSchemaRegistered(ctx context.Context, schemaID common.Hash) (bool, error) {
	out, err := c.call(ctx, methodIsSchemaRegistered, schemaID)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// RegisterDataSchemas submits a registration transaction. It does not wait
// for it to be mined.
func (c *Client) RegisterDataSchemas(ctx context.Context, opts *bind.TransactOpts, regs []DataSchemaRegistration) (*types.Transaction, error) {
	wire := make([]dataSchemaRegistrationABI, len(regs))
	for i, r := range regs {
		wire[i] = dataSchemaRegistrationABI{Id: r.ID, Schema: r.Schema, ParentSchemaId: r.ParentSchemaID}
	}
	return c.transact(ctx, opts, methodRegisterSchemas, wire)
}

// GetEventSchemasByID returns the stored event schemas for ids, in order.
func (c *Client) GetEventSchemasByID(ctx context.Context, ids []string) ([]EventSchema, error) {
	out, err := c.call(ctx, methodGetEventSchemas, ids)
	if err != nil {
		return nil, err
	}

	var wire []eventSchemaABI
	if err := ProtocolABI.Methods[methodGetEventSchemas].Outputs.Copy(&wire, out); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", methodGetEventSchemas, err)
	}

	schemas := make([]EventSchema, len(wire))
	for i, w := range wire {
		schemas[i] = w.toSchema()
	}
	return schemas, nil
}

// RegisterEventSchemas submits an event schema registration transaction.
func (c *Client) RegisterEventSchemas(ctx context.Context, opts *bind.TransactOpts, ids []string, schemas []EventSchema) (*types.Transaction, error) {
	if len(ids) != len(schemas) {
		return nil, fmt.Errorf("%s: %d ids for %d schemas", methodRegisterEventSchemas, len(ids), len(schemas))
	}
	wire := make([]eventSchemaABI, len(schemas))
	for i, s := range schemas {
		wire[i] = s.toABI()
	}
	return c.transact(ctx, opts, methodRegisterEventSchemas, ids, wire)
}

// SetAndEmitEvents writes data rows and emits events in one transaction.
func (c *Client) SetAndEmitEvents(ctx context.Context, opts *bind.TransactOpts, data []DataStream, events []EventStream) (*types.Transaction, error) {
	rows := make([]dataStreamABI, len(data))
	for i, d := range data {
		rows[i] = dataStreamABI{Id: d.ID, SchemaId: d.SchemaID, Data: d.Data}
	}
	evs := make([]eventStreamABI, len(events))
	for i, e := range events {
		evs[i] = e.toABI()
	}
	return c.transact(ctx, opts, methodSetAndEmit, rows, evs)
}

// GetAllPublisherDataForSchema returns the raw encoded rows publisher wrote
// under schemaID. It returns ErrNoData when there are none.
func (c *Client) GetAllPublisherDataForSchema(ctx context.Context, schemaID common.Hash, publisher common.Address) ([][]byte, error) {
	out, err := c.call(ctx, methodGetPublisherData, schemaID, publisher)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([][]byte)).(*[][]byte), nil
}

// WaitMined blocks until tx is mined and fails if it reverted.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTxReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

func (c *Client) transact(ctx context.Context, opts *bind.TransactOpts, method string, args ...any) (*types.Transaction, error) {
	if opts == nil {
		return nil, fmt.Errorf("%s: missing transact options", method)
	}
	if opts.Context == nil {
		opts.Context = ctx
	}
	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return tx, nil
}

// EncodeGetAllPublisherData returns call data for getAllPublisherDataForSchema,
// used as a simulated call attached to subscriptions.
func EncodeGetAllPublisherData(schemaID common.Hash, publisher common.Address) ([]byte, error) {
	return ProtocolABI.Pack(methodGetPublisherData, schemaID, publisher)
}

// DecodeGetAllPublisherData decodes the return data of getAllPublisherDataForSchema.
func DecodeGetAllPublisherData(data []byte) ([][]byte, error) {
	out, err := ProtocolABI.Unpack(methodGetPublisherData, data)
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", methodGetPublisherData, err)
	}
	rows, ok := out[0].([][]byte)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", methodGetPublisherData, out[0])
	}
	return rows, nil
}

var noDataSelector = ProtocolABI.Errors["NoData"].ID.Bytes()[:4]

// IsNoData reports whether err is the protocol's NoData() revert, either as
// ErrNoData, as RPC revert data, or in the error text.
func IsNoData(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoData) {
		return true
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(s); decErr == nil && len(raw) >= 4 && bytes.Equal(raw[:4], noDataSelector) {
				return true
			}
		}
	}

	return strings.Contains(err.Error(), "NoData()")
}
