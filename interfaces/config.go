package interfaces

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeCurrency describes a chain's native currency for wallet_addEthereumChain.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// NetworkConfig is the required network. Immutable per deployment.
type NetworkConfig struct {
	ChainID           uint64
	ChainName         string
	RPCURLs           []string
	NativeCurrency    NativeCurrency
	BlockExplorerURLs []string
}

// DefaultLocalNetwork is a local development chain (hardhat/anvil).
func DefaultLocalNetwork() NetworkConfig {
	return NetworkConfig{
		ChainID:   1337,
		ChainName: "Localhost 8545",
		RPCURLs:   []string{"http://127.0.0.1:8545/"},
		NativeCurrency: NativeCurrency{
			Name:     "ETH",
			Symbol:   "ETH",
			Decimals: 18,
		},
	}
}

// ClientConfig is everything the sync client needs injected.
type ClientConfig struct {
	ContractAddress common.Address
	Network         NetworkConfig
	// MaxRecords is the registry's maximum record count per write.
	MaxRecords int
	// ConfirmationPollInterval is how often receipts are polled.
	ConfirmationPollInterval time.Duration
	// ReadTimeout bounds a single registry read. Zero means no bound.
	ReadTimeout time.Duration
}

// DefaultMaxRecords matches the deployed registry contract.
const DefaultMaxRecords = 10

// Validate rejects configurations the client cannot work with.
func (c *ClientConfig) Validate() error {
	if c.ContractAddress == (common.Address{}) {
		return fmt.Errorf("%w: contract address is required", ErrInvalidConfig)
	}
	if c.Network.ChainID == 0 {
		return fmt.Errorf("%w: required chain id is required", ErrInvalidConfig)
	}
	if c.MaxRecords <= 0 {
		return fmt.Errorf("%w: max records must be positive", ErrInvalidConfig)
	}
	if c.ConfirmationPollInterval <= 0 {
		return fmt.Errorf("%w: confirmation poll interval must be positive", ErrInvalidConfig)
	}
	return nil
}
