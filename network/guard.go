// Package network verifies and changes the wallet's active chain.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/provider"
)

// Guard compares the wallet's chain with the required one. It caches nothing:
// every check asks the wallet again.
type Guard struct {
	gateway  interfaces.ProviderGateway
	required interfaces.NetworkConfig
	log      *slog.Logger
}

func NewGuard(gateway interfaces.ProviderGateway, required interfaces.NetworkConfig, log *slog.Logger) *Guard {
	return &Guard{gateway: gateway, required: required, log: log}
}

// RequiredChainID is the configured chain id.
func (g *Guard) RequiredChainID() uint64 {
	return g.required.ChainID
}

// CurrentNetworkID reads eth_chainId from the wallet.
func (g *Guard) CurrentNetworkID(ctx context.Context) (uint64, error) {
	if !g.gateway.IsAvailable() {
		return 0, interfaces.ErrWalletNotFound
	}
	var chainID hexutil.Uint64
	if err := g.gateway.Request(ctx, &chainID, "eth_chainId"); err != nil {
		return 0, err
	}
	return uint64(chainID), nil
}

// EnsureRequiredNetwork returns ErrNetworkMismatch unless the wallet is on the
// required chain.
func (g *Guard) EnsureRequiredNetwork(ctx context.Context) error {
	current, err := g.CurrentNetworkID(ctx)
	if err != nil {
		return err
	}
	return g.Check(current)
}

// Check compares an already known chain id with the required one.
func (g *Guard) Check(chainID uint64) error {
	if chainID != g.required.ChainID {
		return fmt.Errorf("%w: wallet on chain %d, required %d", interfaces.ErrNetworkMismatch, chainID, g.required.ChainID)
	}
	return nil
}

// RequestNetworkSwitch asks the wallet to switch to the required chain,
// registering the chain first if the wallet does not know it.
//
// A nil return only means the wallet accepted the request. The switch itself
// is observed through chainChanged or a fresh CurrentNetworkID.
func (g *Guard) RequestNetworkSwitch(ctx context.Context) error {
	if !g.gateway.IsAvailable() {
		return interfaces.ErrWalletNotFound
	}

	switchParams := provider.SwitchChainParams{ChainID: hexutil.Uint64(g.required.ChainID)}
	err := g.gateway.Request(ctx, nil, "wallet_switchEthereumChain", switchParams)
	if code, ok := provider.ErrorCode(err); ok && code == provider.CodeUnrecognizedChain {
		g.log.Info("required network unknown to wallet, adding it",
			"chainID", g.required.ChainID,
			"chainName", g.required.ChainName)

		if err := g.gateway.Request(ctx, nil, "wallet_addEthereumChain", provider.AddChainParamsFor(g.required)); err != nil {
			return g.switchError(err)
		}
		err = g.gateway.Request(ctx, nil, "wallet_switchEthereumChain", switchParams)
	}
	return g.switchError(err)
}

func (g *Guard) switchError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, interfaces.ErrProviderRejected) {
		return fmt.Errorf("%w: %w", interfaces.ErrNetworkSwitchRejected, err)
	}
	return err
}
