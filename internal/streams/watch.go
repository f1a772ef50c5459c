package streams

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// watchKind is the eth_subscribe subscription name served by the streams RPC.
const watchKind = "somnia_watch"

var ErrNoWatchClient = errors.New("streams: watcher has no rpc client")

// EthCall is a read call the node simulates on every matching event.
type EthCall struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// WatchRequest selects the events to watch and the calls to simulate.
type WatchRequest struct {
	Topics          []common.Hash
	EthCalls        []EthCall
	OnlyPushChanges bool
}

// Notification is one pushed event together with the simulated call results,
// in the same order as WatchRequest.EthCalls.
type Notification struct {
	Address           common.Address  `json:"address"`
	Topics            []common.Hash   `json:"topics"`
	Data              hexutil.Bytes   `json:"data"`
	SimulationResults []hexutil.Bytes `json:"simulationResults"`
}

type watchParams struct {
	Address         common.Address `json:"address"`
	Topics          []common.Hash  `json:"topics"`
	EthCalls        []EthCall      `json:"eth_calls"`
	PushChangesOnly bool           `json:"push_changes_only"`
}

// Watcher opens push subscriptions for events emitted by the protocol contract.
type Watcher struct {
	client  *rpc.Client
	address common.Address
}

// NewWatcher returns a watcher using a WebSocket RPC client.
func NewWatcher(client *rpc.Client, address common.Address) *Watcher {
	return &Watcher{client: client, address: address}
}

// Watch subscribes and delivers notifications on ch until the returned
// subscription is unsubscribed or fails; failures arrive on its Err channel.
func (w *Watcher) Watch(ctx context.Context, req WatchRequest, ch chan<- Notification) (ethereum.Subscription, error) {
	if w.client == nil {
		return nil, ErrNoWatchClient
	}
	calls := req.EthCalls
	if calls == nil {
		calls = []EthCall{}
	}
	params := watchParams{
		Address:         w.address,
		Topics:          req.Topics,
		EthCalls:        calls,
		PushChangesOnly: req.OnlyPushChanges,
	}
	sub, err := w.client.EthSubscribe(ctx, ch, watchKind, params)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
