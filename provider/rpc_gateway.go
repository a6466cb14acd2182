package provider

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/token-registry-sync/interfaces"
)

// RPCGateway is a ProviderGateway over a JSON-RPC endpoint that manages
// accounts itself, such as a dev node or a remote signer.
//
// A plain JSON-RPC endpoint cannot push EIP-1193 notifications, so Watch polls
// eth_chainId and eth_accounts and publishes the differences.
type RPCGateway struct {
	client *rpc.Client
	feed   event.Feed
	log    *slog.Logger

	mu           sync.Mutex
	seeded       bool
	lastChainID  uint64
	lastAccounts []common.Address
}

// NewRPCGateway wraps an existing client. A nil client yields a gateway that
// reports itself unavailable.
func NewRPCGateway(client *rpc.Client, log *slog.Logger) *RPCGateway {
	return &RPCGateway{client: client, log: log}
}

// DialRPCGateway connects to a JSON-RPC endpoint.
func DialRPCGateway(ctx context.Context, url string, log *slog.Logger) (*RPCGateway, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrProviderUnavailable, err)
	}
	return NewRPCGateway(client, log), nil
}

func (g *RPCGateway) IsAvailable() bool {
	return g.client != nil
}

func (g *RPCGateway) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if g.client == nil {
		return interfaces.ErrWalletNotFound
	}
	return Classify(g.client.CallContext(ctx, result, method, params...))
}

func (g *RPCGateway) Subscribe(ch chan<- interfaces.ProviderEvent) event.Subscription {
	return g.feed.Subscribe(ch)
}

// Watch polls the endpoint every interval until ctx is done. The first poll
// only records the current values.
func (g *RPCGateway) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := g.poll(ctx); err != nil && ctx.Err() == nil {
			g.log.Debug("wallet poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *RPCGateway) poll(ctx context.Context) error {
	var chainID hexutil.Uint64
	if err := g.Request(ctx, &chainID, "eth_chainId"); err != nil {
		return err
	}
	var accounts []common.Address
	if err := g.Request(ctx, &accounts, "eth_accounts"); err != nil {
		return err
	}

	g.mu.Lock()
	seeded := g.seeded
	chainChanged := seeded && g.lastChainID != uint64(chainID)
	accountsChanged := seeded && !slices.Equal(g.lastAccounts, accounts)
	g.seeded = true
	g.lastChainID = uint64(chainID)
	g.lastAccounts = accounts
	g.mu.Unlock()

	if chainChanged {
		g.feed.Send(interfaces.ProviderEvent{Name: interfaces.EventChainChanged, ChainID: uint64(chainID)})
	}
	if accountsChanged {
		g.feed.Send(interfaces.ProviderEvent{Name: interfaces.EventAccountsChanged, Accounts: accounts})
	}
	return nil
}

// Close releases the underlying client.
func (g *RPCGateway) Close() {
	if g.client != nil {
		g.client.Close()
	}
}
