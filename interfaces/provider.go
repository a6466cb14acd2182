package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// EventName identifies a wallet notification.
type EventName string

const (
	EventChainChanged    EventName = "chainChanged"
	EventAccountsChanged EventName = "accountsChanged"
)

// ProviderEvent is a notification pushed by the wallet provider.
type ProviderEvent struct {
	Name EventName
	// ChainID is set for EventChainChanged.
	ChainID uint64
	// Accounts is set for EventAccountsChanged; empty means the wallet
	// revoked access or was locked.
	Accounts []common.Address
}

// ProviderGateway wraps the user-supplied wallet provider. It has no knowledge
// of the contract and never retries: each Request is a single attempt.
//
// Request may block on an external wallet prompt until the user resolves or
// dismisses it. Failures are reported as ErrProviderUnavailable,
// ErrProviderRejected or ErrProviderError, wrapping the original JSON-RPC error.
type ProviderGateway interface {
	IsAvailable() bool
	Request(ctx context.Context, result interface{}, method string, params ...interface{}) error
	Subscribe(ch chan<- ProviderEvent) event.Subscription
}
