// Package interfaces defines the core interfaces and types for the token registry
// sync client. It provides the contract between different components without
// implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// weiPerEther is used to render wei-denominated prices.
var weiPerEther = decimal.New(1, 18)

// TokenRecord is a single entry of the on-chain token registry.
type TokenRecord struct {
	TokenAddress common.Address `json:"tokenAddress"`
	Symbol       string         `json:"symbol"`
	// Price is wei-denominated.
	Price *big.Int `json:"price"`
	// Timestamp is the unix time (seconds) the record was written on-chain.
	Timestamp uint64 `json:"timestamp"`
}

// Validate checks the record invariants the contract enforces on-chain:
// non-zero address, non-empty symbol, positive price.
func (r TokenRecord) Validate() error {
	if r.TokenAddress == (common.Address{}) {
		return errors.New("invalid token address")
	}
	if len(r.Symbol) == 0 {
		return errors.New("empty symbol")
	}
	if r.Price == nil || r.Price.Sign() <= 0 {
		return errors.New("invalid price")
	}
	return nil
}

// PriceEther returns the price formatted in ether units.
func (r TokenRecord) PriceEther() string {
	if r.Price == nil {
		return "0"
	}
	return decimal.NewFromBigInt(r.Price, -18).String()
}

// ParseEther converts a decimal ether amount ("1.5") into wei.
// Amounts with more than 18 decimal places are rejected.
func ParseEther(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid ether amount %q: %w", amount, err)
	}
	wei := d.Mul(weiPerEther)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("invalid ether amount %q: too many decimal places", amount)
	}
	return wei.BigInt(), nil
}

// RegistrySnapshot is the locally cached view of the registry. It is replaced
// wholesale on every successful refresh, never patched.
type RegistrySnapshot struct {
	// Records are kept in on-chain insertion order.
	Records   []TokenRecord   `json:"records"`
	FetchedAt time.Time       `json:"fetchedAt"`
	ChainID   uint64          `json:"chainId"`
	Account   *common.Address `json:"account,omitempty"`
	// Rejected counts records dropped because they failed TokenRecord.Validate.
	Rejected int `json:"rejected,omitempty"`
}

// SessionStatus is the state of the wallet connection.
type SessionStatus int

const (
	Disconnected SessionStatus = iota
	Connecting
	Connected
	WrongNetwork
)

func (s SessionStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case WrongNetwork:
		return "wrong-network"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the status by name.
func (s SessionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name produced by MarshalText.
func (s *SessionStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []SessionStatus{Disconnected, Connecting, Connected, WrongNetwork} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", string(text))
}

// Session is a point-in-time copy of the connection state.
type Session struct {
	Status  SessionStatus   `json:"status"`
	Account *common.Address `json:"account,omitempty"`
	// ChainID is the chain id most recently reported by the wallet, 0 if never queried.
	ChainID uint64 `json:"chainId"`
}

// SessionReader exposes the connection state to components that do not own it.
type SessionReader interface {
	Snapshot() Session
}

// TxState is the lifecycle state of a submitted transaction.
type TxState int

const (
	TxSubmitted TxState = iota
	TxConfirmed
	TxFailed
)

func (s TxState) String() string {
	switch s {
	case TxSubmitted:
		return "submitted"
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the state by name.
func (s TxState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *TxState) UnmarshalText(text []byte) error {
	for _, candidate := range []TxState{TxSubmitted, TxConfirmed, TxFailed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown transaction state %q", string(text))
}

// WriteCall describes a state-changing contract call.
type WriteCall struct {
	Method string
	Args   []interface{}
}
