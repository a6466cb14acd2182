// Package registry talks to the TopTokens registry contract through the
// injected wallet provider.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/provider"
)

// Binding is the contract a call is routed to and the account it is sent from.
// It is derived from the session on every call and never stored.
type Binding struct {
	Address common.Address
	ABI     abi.ABI
	From    common.Address
}

// Validator checks the already ABI-typed arguments of one method.
type Validator func(args []interface{}) error

// ContractClient encodes calls against the contract ABI and sends them through
// the wallet provider as the session's account.
type ContractClient struct {
	gateway    interfaces.ProviderGateway
	session    interfaces.SessionReader
	address    common.Address
	abi        abi.ABI
	validators map[string]Validator
	log        *slog.Logger
}

// NewContractClient creates a client for the contract at address.
func NewContractClient(gateway interfaces.ProviderGateway, session interfaces.SessionReader, address common.Address, contractABI abi.ABI, log *slog.Logger) *ContractClient {
	return &ContractClient{
		gateway:    gateway,
		session:    session,
		address:    address,
		abi:        contractABI,
		validators: make(map[string]Validator),
		log:        log,
	}
}

// SetValidator installs the domain check run for method after ABI encoding
// succeeds. It must be called before the client is shared.
func (c *ContractClient) SetValidator(method string, v Validator) {
	c.validators[method] = v
}

// Address is the contract address.
func (c *ContractClient) Address() common.Address {
	return c.address
}

// Binding derives the current binding. Fails with ErrNotConnected unless the
// session is Connected with an account.
func (c *ContractClient) Binding() (Binding, error) {
	s := c.session.Snapshot()
	if s.Status != interfaces.Connected || s.Account == nil {
		return Binding{}, fmt.Errorf("%w: session is %s", interfaces.ErrNotConnected, s.Status)
	}
	return Binding{Address: c.address, ABI: c.abi, From: *s.Account}, nil
}

// Validate checks method and args against the ABI and the method's validator
// and returns the encoded calldata. No provider call is made.
func (c *ContractClient) Validate(method string, args ...interface{}) ([]byte, error) {
	m, ok := c.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %q", interfaces.ErrInvalidArguments, method)
	}
	if len(args) != len(m.Inputs) {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", interfaces.ErrInvalidArguments, method, len(m.Inputs), len(args))
	}
	// Validators run first: the ABI encoder panics on nil big integers.
	if v := c.validators[method]; v != nil {
		if err := v(args); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", interfaces.ErrInvalidArguments, method, err)
		}
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", interfaces.ErrInvalidArguments, method, err)
	}
	return data, nil
}

// ReadCall executes a view method with eth_call against the latest block.
func (c *ContractClient) ReadCall(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	binding, err := c.Binding()
	if err != nil {
		return nil, err
	}
	data, err := c.Validate(method, args...)
	if err != nil {
		return nil, err
	}
	m := c.abi.Methods[method]
	if !m.IsConstant() {
		return nil, fmt.Errorf("%w: %s is not a view method", interfaces.ErrInvalidArguments, method)
	}

	var out hexutil.Bytes
	err = c.gateway.Request(ctx, &out, "eth_call", provider.TransactionArgs{
		From: &binding.From,
		To:   &binding.Address,
		Data: data,
	}, "latest")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", interfaces.ErrReadFailed, method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s returned no data, is the contract deployed at %s?", interfaces.ErrReadFailed, method, binding.Address.Hex())
	}

	values, err := m.Outputs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", interfaces.ErrReadFailed, method, err)
	}
	return values, nil
}

// WriteCall sends a state-changing method through eth_sendTransaction and
// returns as soon as the wallet hands back the transaction hash.
func (c *ContractClient) WriteCall(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	binding, err := c.Binding()
	if err != nil {
		return common.Hash{}, err
	}
	data, err := c.Validate(method, args...)
	if err != nil {
		return common.Hash{}, err
	}
	if c.abi.Methods[method].IsConstant() {
		return common.Hash{}, fmt.Errorf("%w: %s is a view method", interfaces.ErrInvalidArguments, method)
	}

	var hash common.Hash
	err = c.gateway.Request(ctx, &hash, "eth_sendTransaction", provider.TransactionArgs{
		From: &binding.From,
		To:   &binding.Address,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, err
	}

	c.log.Info("transaction submitted",
		"method", method,
		"hash", hash.Hex(),
		"from", binding.From.Hex())
	return hash, nil
}

// TransactionReceipt returns nil without error while the transaction is pending.
func (c *ContractClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*provider.Receipt, error) {
	var receipt *provider.Receipt
	if err := c.gateway.Request(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	return receipt, nil
}

// ReplayRevert re-executes calldata with eth_call at block to recover the
// reason a mined transaction reverted. ok is false when the replay succeeds,
// which happens if the state changed in a way that hides the original cause.
func (c *ContractClient) ReplayRevert(ctx context.Context, from common.Address, data []byte, block *big.Int) (reason string, ok bool, err error) {
	blockTag := "latest"
	if block != nil {
		blockTag = hexutil.EncodeBig(block)
	}

	var out hexutil.Bytes
	err = c.gateway.Request(ctx, &out, "eth_call", provider.TransactionArgs{
		From: &from,
		To:   &c.address,
		Data: data,
	}, blockTag)

	var revert *interfaces.RevertError
	if errors.As(err, &revert) {
		return revert.Reason, true, nil
	}
	if err != nil {
		return "", false, err
	}
	return "", false, nil
}
