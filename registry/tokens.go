package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/token-registry-sync/bindings/toptokens"
	"github.com/ruteri/token-registry-sync/interfaces"
)

// TokenSource is the read side of the registry used by the sync engine.
type TokenSource interface {
	GetTokens(ctx context.Context) (records []interfaces.TokenRecord, rejected int, err error)
}

// TokenRegistry is the typed facade over the TopTokens contract.
type TokenRegistry struct {
	client     *ContractClient
	maxRecords int
}

// NewTokenRegistry wraps client and installs the contract's argument checks.
func NewTokenRegistry(client *ContractClient, maxRecords int) *TokenRegistry {
	client.SetValidator(toptokens.MethodSaveTokens, ValidateSaveTokens(maxRecords))
	client.SetValidator(toptokens.MethodTransferOwnership, validateNewOwner)
	return &TokenRegistry{client: client, maxRecords: maxRecords}
}

// Client exposes the underlying contract client.
func (r *TokenRegistry) Client() *ContractClient {
	return r.client
}

// GetTokens reads the full registry in on-chain order. Records failing
// TokenRecord.Validate are dropped and counted in rejected.
func (r *TokenRegistry) GetTokens(ctx context.Context) ([]interfaces.TokenRecord, int, error) {
	out, err := r.client.ReadCall(ctx, toptokens.MethodGetTokens)
	if err != nil {
		return nil, 0, err
	}

	tokens := *abi.ConvertType(out[0], new([]toptokens.Token)).(*[]toptokens.Token)

	records := make([]interfaces.TokenRecord, 0, len(tokens))
	rejected := 0
	for _, record := range tokensToRecords(tokens) {
		if err := record.Validate(); err != nil {
			rejected++
			continue
		}
		records = append(records, record)
	}
	return records, rejected, nil
}

// GetTokenCount reads the number of stored records.
func (r *TokenRegistry) GetTokenCount(ctx context.Context) (uint64, error) {
	out, err := r.client.ReadCall(ctx, toptokens.MethodGetTokenCount)
	if err != nil {
		return 0, err
	}
	count := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if !count.IsUint64() {
		return 0, fmt.Errorf("%w: token count out of range", interfaces.ErrReadFailed)
	}
	return count.Uint64(), nil
}

// Owner reads the contract owner.
func (r *TokenRegistry) Owner(ctx context.Context) (common.Address, error) {
	out, err := r.client.ReadCall(ctx, toptokens.MethodOwner)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// SaveTokens describes a saveTokens call replacing the registry with records.
func (r *TokenRegistry) SaveTokens(records []interfaces.TokenRecord) interfaces.WriteCall {
	addresses := make([]common.Address, len(records))
	symbols := make([]string, len(records))
	prices := make([]*big.Int, len(records))
	for i, record := range records {
		addresses[i] = record.TokenAddress
		symbols[i] = record.Symbol
		prices[i] = record.Price
		if prices[i] == nil {
			prices[i] = new(big.Int)
		}
	}
	return interfaces.WriteCall{
		Method: toptokens.MethodSaveTokens,
		Args:   []interface{}{addresses, symbols, prices},
	}
}

// ClearTokens describes a clearTokens call.
func (r *TokenRegistry) ClearTokens() interfaces.WriteCall {
	return interfaces.WriteCall{Method: toptokens.MethodClearTokens}
}

// TransferOwnership describes a transferOwnership call.
func (r *TokenRegistry) TransferOwnership(newOwner common.Address) interfaces.WriteCall {
	return interfaces.WriteCall{
		Method: toptokens.MethodTransferOwnership,
		Args:   []interface{}{newOwner},
	}
}

// ValidateSaveTokens mirrors the contract's revert conditions for saveTokens so
// a doomed transaction is never sent.
func ValidateSaveTokens(maxRecords int) Validator {
	return func(args []interface{}) error {
		addresses, okA := args[0].([]common.Address)
		symbols, okS := args[1].([]string)
		prices, okP := args[2].([]*big.Int)
		if !okA || !okS || !okP {
			return errors.New("expected ([]common.Address, []string, []*big.Int)")
		}

		if len(addresses) != len(symbols) || len(addresses) != len(prices) {
			return errors.New(toptokens.ReasonLengthMismatch)
		}
		if len(addresses) == 0 {
			return errors.New("no tokens to save")
		}
		if len(addresses) > maxRecords {
			return fmt.Errorf("%s: %d exceeds maximum of %d", toptokens.ReasonTooManyTokens, len(addresses), maxRecords)
		}
		for i := range addresses {
			if addresses[i] == (common.Address{}) {
				return fmt.Errorf("%s at index %d", toptokens.ReasonInvalidAddress, i)
			}
			if symbols[i] == "" {
				return fmt.Errorf("%s at index %d", toptokens.ReasonEmptySymbol, i)
			}
			if prices[i] == nil || prices[i].Sign() <= 0 {
				return fmt.Errorf("%s at index %d", toptokens.ReasonInvalidPrice, i)
			}
		}
		return nil
	}
}

func validateNewOwner(args []interface{}) error {
	owner, ok := args[0].(common.Address)
	if !ok {
		return errors.New("expected common.Address")
	}
	if owner == (common.Address{}) {
		return errors.New("new owner is the zero address")
	}
	return nil
}
