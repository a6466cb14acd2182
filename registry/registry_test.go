package registry

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/token-registry-sync/bindings/toptokens"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	ownerAccount = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	otherAccount = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	tokenA       = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB       = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

type staticSession struct {
	session interfaces.Session
}

func (s *staticSession) Snapshot() interfaces.Session {
	return s.session
}

func connectedAs(account common.Address) *staticSession {
	return &staticSession{session: interfaces.Session{Status: interfaces.Connected, Account: &account, ChainID: 1337}}
}

func setupRegistry(t *testing.T, account common.Address) (*MockWallet, *TokenRegistry) {
	t.Helper()
	wallet := NewMockWallet(testContract, 1337, ownerAccount, otherAccount)
	require.NoError(t, wallet.Request(context.Background(), nil, "eth_requestAccounts"))

	client := NewContractClient(wallet, connectedAs(account), testContract, toptokens.MustABI(), slog.Default())
	return wallet, NewTokenRegistry(client, toptokens.MaxTokens)
}

func record(addr common.Address, symbol string, price int64) interfaces.TokenRecord {
	return interfaces.TokenRecord{TokenAddress: addr, Symbol: symbol, Price: big.NewInt(price)}
}

// TestTokenRegistry_SaveAndRead tests a write followed by reads of all views
func TestTokenRegistry_SaveAndRead(t *testing.T) {
	wallet, reg := setupRegistry(t, ownerAccount)
	ctx := context.Background()

	count, err := reg.GetTokenCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)

	call := reg.SaveTokens([]interfaces.TokenRecord{
		record(tokenA, "TKN1", 100),
		record(tokenB, "TKN2", 200),
	})
	hash, err := reg.Client().WriteCall(ctx, call.Method, call.Args...)
	require.NoError(t, err)

	receipt, err := reg.Client().TransactionReceipt(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.True(t, receipt.Succeeded())

	records, rejected, err := reg.GetTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, rejected)
	require.Len(t, records, 2)
	assert.Equal(t, tokenA, records[0].TokenAddress)
	assert.Equal(t, "TKN1", records[0].Symbol)
	assert.Equal(t, int64(100), records[0].Price.Int64())
	assert.Equal(t, tokenB, records[1].TokenAddress)
	assert.NotZero(t, records[1].Timestamp)

	count, err = reg.GetTokenCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	owner, err := reg.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, ownerAccount, owner)

	assert.Equal(t, 1, wallet.Calls("eth_sendTransaction"))
}

// TestContractClient_NotConnected tests that no provider call is made without a connected session
func TestContractClient_NotConnected(t *testing.T) {
	wallet := NewMockWallet(testContract, 1337, ownerAccount)
	for _, status := range []interfaces.SessionStatus{interfaces.Disconnected, interfaces.Connecting, interfaces.WrongNetwork} {
		session := &staticSession{session: interfaces.Session{Status: status, Account: &ownerAccount}}
		client := NewContractClient(wallet, session, testContract, toptokens.MustABI(), slog.Default())
		reg := NewTokenRegistry(client, toptokens.MaxTokens)

		_, _, err := reg.GetTokens(context.Background())
		assert.ErrorIs(t, err, interfaces.ErrNotConnected, status.String())

		call := reg.ClearTokens()
		_, err = client.WriteCall(context.Background(), call.Method, call.Args...)
		assert.ErrorIs(t, err, interfaces.ErrNotConnected, status.String())

		_, err = client.Binding()
		assert.ErrorIs(t, err, interfaces.ErrNotConnected, status.String())
	}

	assert.Zero(t, wallet.Calls("eth_call"))
	assert.Zero(t, wallet.Calls("eth_sendTransaction"))
}

// TestValidateSaveTokens tests the client-side mirror of the contract's revert conditions
func TestValidateSaveTokens(t *testing.T) {
	eleven := make([]interfaces.TokenRecord, 11)
	for i := range eleven {
		eleven[i] = record(common.BigToAddress(big.NewInt(int64(i+1))), "TKN", int64(i+100))
	}

	tests := []struct {
		name    string
		args    []interface{}
		message string
	}{
		{
			name:    "length mismatch",
			args:    []interface{}{[]common.Address{tokenA, tokenB}, []string{"A"}, []*big.Int{big.NewInt(1), big.NewInt(2)}},
			message: toptokens.ReasonLengthMismatch,
		},
		{
			name:    "empty batch",
			args:    []interface{}{[]common.Address{}, []string{}, []*big.Int{}},
			message: "no tokens",
		},
		{
			name:    "too many",
			args:    (&TokenRegistry{}).SaveTokens(eleven).Args,
			message: toptokens.ReasonTooManyTokens,
		},
		{
			name:    "zero address",
			args:    (&TokenRegistry{}).SaveTokens([]interfaces.TokenRecord{record(common.Address{}, "A", 1)}).Args,
			message: toptokens.ReasonInvalidAddress,
		},
		{
			name:    "empty symbol",
			args:    (&TokenRegistry{}).SaveTokens([]interfaces.TokenRecord{record(tokenA, "", 1)}).Args,
			message: toptokens.ReasonEmptySymbol,
		},
		{
			name:    "zero price",
			args:    (&TokenRegistry{}).SaveTokens([]interfaces.TokenRecord{record(tokenA, "A", 0)}).Args,
			message: toptokens.ReasonInvalidPrice,
		},
		{
			name:    "nil price",
			args:    []interface{}{[]common.Address{tokenA}, []string{"A"}, []*big.Int{nil}},
			message: toptokens.ReasonInvalidPrice,
		},
		{
			name:    "wrong argument types",
			args:    []interface{}{[]common.Address{tokenA}, []string{"A"}, []int64{1}},
			message: "expected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wallet, reg := setupRegistry(t, ownerAccount)
			_, err := reg.Client().WriteCall(context.Background(), toptokens.MethodSaveTokens, tt.args...)
			require.ErrorIs(t, err, interfaces.ErrInvalidArguments)
			assert.Contains(t, err.Error(), tt.message)
			assert.Zero(t, wallet.Calls("eth_sendTransaction"), "invalid arguments must never reach the wallet")
		})
	}
}

// TestContractClient_ABIValidation tests method, arity and type checks
func TestContractClient_ABIValidation(t *testing.T) {
	_, reg := setupRegistry(t, ownerAccount)
	client := reg.Client()

	_, err := client.Validate("mintTokens")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArguments)

	_, err = client.Validate(toptokens.MethodTransferOwnership)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArguments)

	_, err = client.Validate(toptokens.MethodTransferOwnership, "not an address")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArguments)

	_, err = client.Validate(toptokens.MethodTransferOwnership, common.Address{})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArguments)

	assert.NotPanics(t, func() {
		_, err = client.Validate(toptokens.MethodSaveTokens, []common.Address{tokenA}, []string{"A"}, []*big.Int{nil})
	})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArguments)

	data, err := client.Validate(toptokens.MethodTransferOwnership, otherAccount)
	require.NoError(t, err)
	assert.Len(t, data, 4+32)

	_, err = client.WriteCall(context.Background(), toptokens.MethodOwner)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArguments)

	_, err = client.ReadCall(context.Background(), toptokens.MethodClearTokens)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArguments)
}

// TestTokenRegistry_FiltersInvalidRecords tests that malformed on-chain records are dropped and counted
func TestTokenRegistry_FiltersInvalidRecords(t *testing.T) {
	wallet, reg := setupRegistry(t, ownerAccount)
	wallet.SeedTokens(
		record(tokenA, "TKN1", 100),
		record(tokenB, "", 5),
		record(common.Address{}, "ZERO", 1),
		record(tokenB, "TKN2", 0),
		record(tokenB, "TKN3", 300),
	)

	records, rejected, err := reg.GetTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rejected)
	require.Len(t, records, 2)
	assert.Equal(t, "TKN1", records[0].Symbol)
	assert.Equal(t, "TKN3", records[1].Symbol)
}

// TestContractClient_ReadFailed tests that node failures on reads are reported as ErrReadFailed
func TestContractClient_ReadFailed(t *testing.T) {
	wallet, reg := setupRegistry(t, ownerAccount)
	wallet.FailNext("eth_call", errors.New("header not found"))

	_, _, err := reg.GetTokens(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrReadFailed)
	assert.ErrorIs(t, err, interfaces.ErrProviderError)

	noContract := NewContractClient(wallet, connectedAs(ownerAccount), tokenA, toptokens.MustABI(), slog.Default())
	_, err = NewTokenRegistry(noContract, 10).GetTokenCount(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrReadFailed)
}

// TestContractClient_RevertReplay tests recovering the revert reason of a mined failure
func TestContractClient_RevertReplay(t *testing.T) {
	wallet, reg := setupRegistry(t, otherAccount)
	ctx := context.Background()

	call := reg.ClearTokens()
	hash, err := reg.Client().WriteCall(ctx, call.Method, call.Args...)
	require.NoError(t, err)

	receipt, err := reg.Client().TransactionReceipt(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.False(t, receipt.Succeeded())

	data, err := reg.Client().Validate(call.Method, call.Args...)
	require.NoError(t, err)
	reason, ok, err := reg.Client().ReplayRevert(ctx, otherAccount, data, receipt.BlockNumber.ToInt())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, toptokens.ReasonNotOwner, reason)

	wallet.SetOwner(otherAccount)
	_, ok, err = reg.Client().ReplayRevert(ctx, otherAccount, data, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestContractClient_UserRejectsTransaction tests that a declined signature prompt is typed
func TestContractClient_UserRejectsTransaction(t *testing.T) {
	wallet, reg := setupRegistry(t, ownerAccount)
	wallet.RejectNext("eth_sendTransaction")

	call := reg.TransferOwnership(otherAccount)
	_, err := reg.Client().WriteCall(context.Background(), call.Method, call.Args...)
	assert.ErrorIs(t, err, interfaces.ErrProviderRejected)
	assert.Empty(t, wallet.Tokens())
}
