package session_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/network"
	"github.com/ruteri/token-registry-sync/registry"
	"github.com/ruteri/token-registry-sync/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	accountA     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	accountB     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type recorder struct {
	mu      sync.Mutex
	changes []session.Change
}

func (r *recorder) SessionChanged(_ context.Context, change session.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recorder) all() []session.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Change(nil), r.changes...)
}

func (r *recorder) last() session.Change {
	all := r.all()
	return all[len(all)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = nil
}

func setupSession(t *testing.T, chainID uint64) (*registry.MockWallet, *session.ConnectionSession, *recorder) {
	t.Helper()
	wallet := registry.NewMockWallet(testContract, chainID, accountA, accountB)
	guard := network.NewGuard(wallet, interfaces.DefaultLocalNetwork(), slog.Default())
	s := session.New(wallet, guard, slog.Default(), nil)
	t.Cleanup(s.Close)

	rec := &recorder{}
	s.AddObserver(rec)
	return wallet, s, rec
}

func connected(t *testing.T) (*registry.MockWallet, *session.ConnectionSession, *recorder) {
	t.Helper()
	wallet, s, rec := setupSession(t, 1337)
	require.NoError(t, s.Connect(context.Background()))
	rec.reset()
	return wallet, s, rec
}

// TestConnect tests the successful connection flow
func TestConnect(t *testing.T) {
	_, s, rec := setupSession(t, 1337)
	assert.Equal(t, interfaces.Disconnected, s.Status())

	require.NoError(t, s.Connect(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, interfaces.Connected, snap.Status)
	require.NotNil(t, snap.Account)
	assert.Equal(t, accountA, *snap.Account)
	assert.Equal(t, uint64(1337), snap.ChainID)

	changes := rec.all()
	require.Len(t, changes, 2)
	assert.Equal(t, interfaces.Connecting, changes[0].To.Status)
	assert.False(t, changes[0].NeedsRefresh())
	assert.Equal(t, interfaces.Connected, changes[1].To.Status)
	assert.True(t, changes[1].NeedsRefresh())
}

// TestConnect_WalletNotFound tests connecting without a wallet
func TestConnect_WalletNotFound(t *testing.T) {
	wallet, s, rec := setupSession(t, 1337)
	wallet.SetAvailable(false)

	assert.ErrorIs(t, s.Connect(context.Background()), interfaces.ErrWalletNotFound)
	assert.Equal(t, interfaces.Disconnected, s.Status())
	assert.Empty(t, rec.all())
}

// TestConnect_WrongNetwork tests that accounts are never requested on the wrong chain
func TestConnect_WrongNetwork(t *testing.T) {
	wallet, s, rec := setupSession(t, 1)

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrNetworkMismatch)
	assert.Equal(t, interfaces.WrongNetwork, s.Status())
	assert.Equal(t, uint64(1), s.Snapshot().ChainID)
	assert.Zero(t, wallet.Calls("eth_requestAccounts"))
	assert.True(t, rec.last().NeedsClear())
}

// TestConnect_Rejected tests a declined account prompt
func TestConnect_Rejected(t *testing.T) {
	wallet, s, rec := setupSession(t, 1337)
	wallet.RejectNext("eth_requestAccounts")

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrProviderRejected)
	assert.Equal(t, interfaces.Disconnected, s.Status())
	assert.Nil(t, s.Account())
	assert.True(t, rec.last().NeedsClear())

	// A later attempt may succeed.
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, interfaces.Connected, s.Status())
}

// TestChainChanged_LeaveAndReturn tests Connected -> WrongNetwork -> Connected
func TestChainChanged_LeaveAndReturn(t *testing.T) {
	wallet, s, rec := connected(t)
	ctx := context.Background()

	wallet.SetChainID(5)
	require.NoError(t, s.HandleEvent(ctx, interfaces.ProviderEvent{Name: interfaces.EventChainChanged, ChainID: 5}))
	assert.Equal(t, interfaces.WrongNetwork, s.Status())
	assert.True(t, rec.last().NeedsClear())
	require.NotNil(t, s.Account(), "account is kept while on the wrong network")

	wallet.SetChainID(1337)
	require.NoError(t, s.HandleEvent(ctx, interfaces.ProviderEvent{Name: interfaces.EventChainChanged, ChainID: 1337}))
	assert.Equal(t, interfaces.Connected, s.Status())
	assert.Equal(t, accountA, *s.Account())
	assert.True(t, rec.last().NeedsRefresh())
	assert.Equal(t, 1, wallet.Calls("eth_accounts"))
}

// TestChainChanged_Idempotent tests that a repeated wrong chain id has no side effects
func TestChainChanged_Idempotent(t *testing.T) {
	wallet, s, rec := connected(t)
	ctx := context.Background()

	wallet.SetChainID(5)
	ev := interfaces.ProviderEvent{Name: interfaces.EventChainChanged, ChainID: 5}
	require.NoError(t, s.HandleEvent(ctx, ev))
	require.Len(t, rec.all(), 1)
	chainIDCalls := wallet.Calls("eth_chainId")

	for i := 0; i < 3; i++ {
		require.NoError(t, s.HandleEvent(ctx, ev))
	}
	assert.Len(t, rec.all(), 1)
	assert.Equal(t, chainIDCalls, wallet.Calls("eth_chainId"))
	assert.Equal(t, interfaces.WrongNetwork, s.Status())

	// A different wrong chain is still evaluated, but stays WrongNetwork.
	wallet.SetChainID(10)
	require.NoError(t, s.HandleEvent(ctx, interfaces.ProviderEvent{Name: interfaces.EventChainChanged, ChainID: 10}))
	assert.Equal(t, interfaces.WrongNetwork, s.Status())
	assert.Equal(t, uint64(10), s.Snapshot().ChainID)
}

// TestChainChanged_ReturnWithoutAccess tests returning to the required chain after access was revoked
func TestChainChanged_ReturnWithoutAccess(t *testing.T) {
	wallet, s, _ := connected(t)
	ctx := context.Background()

	wallet.SetChainID(5)
	require.NoError(t, s.HandleEvent(ctx, interfaces.ProviderEvent{Name: interfaces.EventChainChanged, ChainID: 5}))

	// Revoke silently: the session never consumes this notification.
	wallet.EmitAccountsChanged()
	wallet.SetChainID(1337)
	require.NoError(t, s.HandleEvent(ctx, interfaces.ProviderEvent{Name: interfaces.EventChainChanged, ChainID: 1337}))
	assert.Equal(t, interfaces.Disconnected, s.Status())
	assert.Nil(t, s.Account())
}

// TestAccountsChanged tests the account transitions in every state
func TestAccountsChanged(t *testing.T) {
	ctx := context.Background()
	accountsEvent := func(accounts ...common.Address) interfaces.ProviderEvent {
		return interfaces.ProviderEvent{Name: interfaces.EventAccountsChanged, Accounts: accounts}
	}

	t.Run("new account while connected", func(t *testing.T) {
		_, s, rec := connected(t)
		require.NoError(t, s.HandleEvent(ctx, accountsEvent(accountB)))
		assert.Equal(t, interfaces.Connected, s.Status())
		assert.Equal(t, accountB, *s.Account())
		change := rec.last()
		assert.True(t, change.AccountChanged())
		assert.True(t, change.NeedsRefresh())
	})

	t.Run("new account while chain query fails", func(t *testing.T) {
		wallet, s, rec := connected(t)
		wallet.FailNext("eth_chainId", errors.New("transport hiccup"))
		require.NoError(t, s.HandleEvent(ctx, accountsEvent(accountB)))
		assert.Equal(t, interfaces.Connected, s.Status())
		require.NotNil(t, s.Account())
		assert.Equal(t, accountB, *s.Account())
		assert.Equal(t, uint64(1337), s.Snapshot().ChainID)
		assert.True(t, rec.last().AccountChanged())
	})

	t.Run("same account while connected", func(t *testing.T) {
		_, s, rec := connected(t)
		require.NoError(t, s.HandleEvent(ctx, accountsEvent(accountA, accountB)))
		assert.Empty(t, rec.all())
	})

	t.Run("empty while connected", func(t *testing.T) {
		_, s, rec := connected(t)
		require.NoError(t, s.HandleEvent(ctx, accountsEvent()))
		assert.Equal(t, interfaces.Disconnected, s.Status())
		assert.Nil(t, s.Account())
		assert.True(t, rec.last().NeedsClear())
	})

	t.Run("new account while wrong network", func(t *testing.T) {
		wallet, s, rec := connected(t)
		wallet.SetChainID(5)
		require.NoError(t, s.HandleEvent(ctx, interfaces.ProviderEvent{Name: interfaces.EventChainChanged, ChainID: 5}))
		rec.reset()

		require.NoError(t, s.HandleEvent(ctx, accountsEvent(accountB)))
		assert.Equal(t, interfaces.WrongNetwork, s.Status())
		assert.Equal(t, accountB, *s.Account())
		assert.Empty(t, rec.all())
	})

	t.Run("empty while wrong network", func(t *testing.T) {
		wallet, s, _ := connected(t)
		wallet.SetChainID(5)
		require.NoError(t, s.HandleEvent(ctx, interfaces.ProviderEvent{Name: interfaces.EventChainChanged, ChainID: 5}))

		require.NoError(t, s.HandleEvent(ctx, accountsEvent()))
		assert.Equal(t, interfaces.Disconnected, s.Status())
	})

	t.Run("ignored while disconnected", func(t *testing.T) {
		_, s, rec := setupSession(t, 1337)
		require.NoError(t, s.HandleEvent(ctx, accountsEvent(accountB)))
		assert.Equal(t, interfaces.Disconnected, s.Status())
		assert.Nil(t, s.Account())
		assert.Empty(t, rec.all())
	})
}

// TestSwitchNetwork tests switching to the required chain after a mismatch
func TestSwitchNetwork(t *testing.T) {
	wallet, s, _ := setupSession(t, 1)
	wallet.ForgetChain(1337)
	ctx := context.Background()

	require.ErrorIs(t, s.Connect(ctx), interfaces.ErrNetworkMismatch)

	require.NoError(t, s.SwitchNetwork(ctx))
	assert.Equal(t, 1, wallet.Calls("wallet_addEthereumChain"))
	// Accounts were never granted, so the session is back to Disconnected.
	assert.Equal(t, interfaces.Disconnected, s.Status())
	assert.Equal(t, uint64(1337), s.Snapshot().ChainID)

	require.NoError(t, s.Connect(ctx))
	assert.Equal(t, interfaces.Connected, s.Status())
}

// TestSwitchNetwork_Rejected tests that a declined switch leaves the session untouched
func TestSwitchNetwork_Rejected(t *testing.T) {
	wallet, s, rec := setupSession(t, 1)
	ctx := context.Background()
	require.ErrorIs(t, s.Connect(ctx), interfaces.ErrNetworkMismatch)
	rec.reset()

	wallet.SetChainID(1337)
	wallet.SetChainID(1)
	wallet.RejectNext("wallet_switchEthereumChain")

	assert.ErrorIs(t, s.SwitchNetwork(ctx), interfaces.ErrNetworkSwitchRejected)
	assert.Equal(t, interfaces.WrongNetwork, s.Status())
	assert.Empty(t, rec.all())
}

// TestRun tests that notifications published by the wallet are consumed by Run
func TestRun(t *testing.T) {
	wallet, s, _ := connected(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	wallet.EmitChainChanged(5)
	assert.Eventually(t, func() bool { return s.Status() == interfaces.WrongNetwork }, time.Second, 5*time.Millisecond)

	wallet.EmitChainChanged(1337)
	assert.Eventually(t, func() bool { return s.Status() == interfaces.Connected }, time.Second, 5*time.Millisecond)

	wallet.EmitAccountsChanged()
	assert.Eventually(t, func() bool { return s.Status() == interfaces.Disconnected }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
