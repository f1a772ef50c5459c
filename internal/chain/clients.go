package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/eldtechnologies/streamchat/internal/crypto"
)

var (
	ErrNoSigner   = errors.New("no signing key configured")
	ErrNoProtocol = errors.New("streams protocol address not configured")
	ErrNoWSClient = errors.New("websocket client not dialed")
)

// Options controls how Dial builds the client handles.
type Options struct {
	Network Network

	// PrivateKey signs write transactions. Optional for read-only deployments.
	PrivateKey *ecdsa.PrivateKey

	// Publisher overrides the account whose rows are read. Zero means the
	// signer's own address (or the zero address when there is no signer).
	Publisher common.Address

	// DialWS opens the WebSocket client used by subscriptions.
	DialWS bool
}

// Clients holds the read clients and signing identity for one process.
// Create it once at startup and Close it on shutdown.
type Clients struct {
	Network Network
	HTTP    *ethclient.Client
	WS      *rpc.Client

	key       *ecdsa.PrivateKey
	sender    common.Address
	publisher common.Address
}

// Dial connects the HTTP client and, if requested, the WebSocket client.
func Dial(ctx context.Context, opts Options) (*Clients, error) {
	if !opts.Network.HasProtocol() {
		return nil, ErrNoProtocol
	}

	httpClient, err := ethclient.DialContext(ctx, opts.Network.HTTPURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.Network.HTTPURL, err)
	}

	c := &Clients{
		Network: opts.Network,
		HTTP:    httpClient,
		key:     opts.PrivateKey,
	}

	if opts.PrivateKey != nil {
		c.sender = crypto.AddressOf(opts.PrivateKey)
	}
	c.publisher = opts.Publisher
	if c.publisher == (common.Address{}) {
		c.publisher = c.sender
	}

	if opts.DialWS {
		ws, err := rpc.DialContext(ctx, opts.Network.WSURL)
		if err != nil {
			httpClient.Close()
			return nil, fmt.Errorf("dial %s: %w", opts.Network.WSURL, err)
		}
		c.WS = ws
	}

	return c, nil
}

// CanSign reports whether a signing key is available.
func (c *Clients) CanSign() bool {
	return c.key != nil
}

// Sender returns the signer's address, the on-chain sender of every write.
func (c *Clients) Sender() common.Address {
	return c.sender
}

// Publisher returns the account whose rows the read pipelines fetch.
func (c *Clients) Publisher() common.Address {
	return c.publisher
}

// Transactor returns fresh transaction options bound to ctx.
func (c *Clients) Transactor(ctx context.Context) (*bind.TransactOpts, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, big.NewInt(c.Network.ChainID))
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// Ping checks that the HTTP endpoint answers and serves the expected chain.
func (c *Clients) Ping(ctx context.Context) error {
	id, err := c.HTTP.ChainID(ctx)
	if err != nil {
		return err
	}
	if id.Int64() != c.Network.ChainID {
		return fmt.Errorf("chain id mismatch: want %d, got %s", c.Network.ChainID, id)
	}
	return nil
}

// Close releases both RPC connections.
func (c *Clients) Close() {
	c.HTTP.Close()
	if c.WS != nil {
		c.WS.Close()
	}
}
