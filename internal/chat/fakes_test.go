package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/streamchat/internal/streams"
)

var (
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	protoAddr = common.HexToAddress("0x00000000000000000000000000000000c0ffee01")
)

type publishCall struct {
	data   []streams.DataStream
	events []streams.EventStream
}

// fakeProtocol is an in-memory streams protocol. Published rows become
// readable immediately.
type fakeProtocol struct {
	mu sync.Mutex

	schemaRegistered bool
	eventRegistered  bool

	// hideRegistrations keeps registrations invisible after they are mined.
	hideRegistrations bool
	eventLookupErr    error
	readErr           error
	publishErr        error

	rows       [][]byte
	reads      int
	schemaRegs int
	eventRegs  int
	published  []publishCall
	nonce      uint64
}

func (f *fakeProtocol) nextTx() *types.Transaction {
	f.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: f.nonce})
}

func (f *fakeProtocol) GetAllPublisherDataForSchema(ctx context.Context, schemaID common.Hash, publisher common.Address) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.rows) == 0 {
		return nil, streams.ErrNoData
	}
	out := make([][]byte, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeProtocol) IsDataSchemaRegistered(ctx context.Context, schemaID common.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schemaRegistered, nil
}

func (f *fakeProtocol) RegisterDataSchemas(ctx context.Context, opts *bind.TransactOpts, regs []streams.DataSchemaRegistration) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemaRegs++
	if !f.hideRegistrations {
		f.schemaRegistered = true
	}
	return f.nextTx(), nil
}

func (f *fakeProtocol) GetEventSchemasByID(ctx context.Context, ids []string) ([]streams.EventSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventLookupErr != nil {
		return nil, f.eventLookupErr
	}
	if f.eventRegistered {
		return []streams.EventSchema{{EventTopic: common.HexToHash("0x01")}}, nil
	}
	return []streams.EventSchema{{}}, nil
}

func (f *fakeProtocol) RegisterEventSchemas(ctx context.Context, opts *bind.TransactOpts, ids []string, schemas []streams.EventSchema) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventRegs++
	f.eventLookupErr = nil
	if !f.hideRegistrations {
		f.eventRegistered = true
	}
	return f.nextTx(), nil
}

func (f *fakeProtocol) SetAndEmitEvents(ctx context.Context, opts *bind.TransactOpts, data []streams.DataStream, events []streams.EventStream) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.published = append(f.published, publishCall{data: data, events: events})
	for _, d := range data {
		f.rows = append(f.rows, d.Data)
	}
	return f.nextTx(), nil
}

func (f *fakeProtocol) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
}

type fakeSigner struct {
	addr common.Address
	err  error
}

func (s fakeSigner) Transactor(ctx context.Context) (*bind.TransactOpts, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &bind.TransactOpts{From: s.addr, Context: ctx}, nil
}

func (s fakeSigner) Sender() common.Address { return s.addr }

// fakeSub is a controllable ethereum.Subscription.
type fakeSub struct {
	errc chan error
	once sync.Once
	done chan struct{}
}

func newFakeSub() *fakeSub {
	return &fakeSub{errc: make(chan error, 1), done: make(chan struct{})}
}

func (s *fakeSub) Err() <-chan error { return s.errc }

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.done) })
}

// fakeWatcher hands the request, notification channel and subscription of
// each Watch call to the test.
type fakeWatcher struct {
	err   error
	reqs  chan streams.WatchRequest
	notes chan chan<- streams.Notification
	subs  chan *fakeSub
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		reqs:  make(chan streams.WatchRequest, 4),
		notes: make(chan chan<- streams.Notification, 4),
		subs:  make(chan *fakeSub, 4),
	}
}

func (w *fakeWatcher) Watch(ctx context.Context, req streams.WatchRequest, ch chan<- streams.Notification) (ethereum.Subscription, error) {
	if w.err != nil {
		return nil, w.err
	}
	sub := newFakeSub()
	w.reqs <- req
	w.notes <- ch
	w.subs <- sub
	return sub, nil
}

var errBoom = errors.New("boom")

func testEncoder(t *testing.T) *streams.SchemaEncoder {
	t.Helper()
	enc, err := streams.NewSchemaEncoder(SchemaDefinition)
	require.NoError(t, err)
	return enc
}

// encodeRow builds a raw chat row. Timestamps are written as given.
func encodeRow(t *testing.T, enc *streams.SchemaEncoder, ts uint64, room, content, name string, sender common.Address) []byte {
	t.Helper()
	roomID, err := RoomID(room)
	require.NoError(t, err)
	data, err := enc.EncodeData([]streams.SchemaItem{
		{Name: "timestamp", Type: "uint64", Value: ts},
		{Name: "roomId", Type: "bytes32", Value: [32]byte(roomID)},
		{Name: "content", Type: "string", Value: content},
		{Name: "senderName", Type: "string", Value: name},
		{Name: "sender", Type: "address", Value: sender},
	})
	require.NoError(t, err)
	return data
}

// collector records snapshots from a pipeline goroutine.
type collector struct {
	ch chan Snapshot
}

func newCollector() *collector {
	return &collector{ch: make(chan Snapshot, 64)}
}

func (c *collector) handle(s Snapshot) { c.ch <- s }

// next returns the next snapshot that is not a loading placeholder.
func (c *collector) next(t *testing.T) Snapshot {
	t.Helper()
	for {
		select {
		case s := <-c.ch:
			if s.Loading {
				continue
			}
			return s
		case <-timeout():
			t.Fatal("timed out waiting for snapshot")
			return Snapshot{}
		}
	}
}

func timeout() <-chan time.Time {
	return time.After(2 * time.Second)
}
