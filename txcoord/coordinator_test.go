package txcoord_test

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/token-registry-sync/bindings/toptokens"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/journal"
	"github.com/ruteri/token-registry-sync/network"
	"github.com/ruteri/token-registry-sync/provider"
	"github.com/ruteri/token-registry-sync/registry"
	"github.com/ruteri/token-registry-sync/registrysync"
	"github.com/ruteri/token-registry-sync/session"
	"github.com/ruteri/token-registry-sync/txcoord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	ownerAccount = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	otherAccount = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type stack struct {
	wallet   *registry.MockWallet
	guard    *network.Guard
	session  *session.ConnectionSession
	client   *registry.ContractClient
	registry *registry.TokenRegistry
	engine   *registrysync.Engine
}

// newStack wires the full client against a mock wallet. The first account is
// the one the session connects as.
func newStack(t *testing.T, accounts ...common.Address) *stack {
	t.Helper()
	log := slog.Default()

	wallet := registry.NewMockWallet(testContract, 1337, accounts...)
	wallet.SetOwner(ownerAccount)
	guard := network.NewGuard(wallet, interfaces.DefaultLocalNetwork(), log)
	sess := session.New(wallet, guard, log, nil)
	t.Cleanup(sess.Close)

	client := registry.NewContractClient(wallet, sess, testContract, toptokens.MustABI(), log)
	reg := registry.NewTokenRegistry(client, toptokens.MaxTokens)
	engine := registrysync.NewEngine(reg, sess, registrysync.Config{}, log, nil)
	sess.AddObserver(engine)

	return &stack{wallet: wallet, guard: guard, session: sess, client: client, registry: reg, engine: engine}
}

func (s *stack) coordinator(t *testing.T) *txcoord.Coordinator {
	t.Helper()
	c := txcoord.NewCoordinator(s.client, s.session, s.guard, s.engine, txcoord.Config{PollInterval: 5 * time.Millisecond}, slog.Default(), nil)
	t.Cleanup(c.Close)
	return c
}

func connectedStack(t *testing.T, accounts ...common.Address) *stack {
	t.Helper()
	s := newStack(t, accounts...)
	require.NoError(t, s.session.Connect(context.Background()))
	require.NotNil(t, s.engine.Snapshot())
	return s
}

func tokens(symbols ...string) []interfaces.TokenRecord {
	out := make([]interfaces.TokenRecord, 0, len(symbols))
	for i, sym := range symbols {
		out = append(out, interfaces.TokenRecord{
			TokenAddress: common.BigToAddress(big.NewInt(int64(0x1000 + i))),
			Symbol:       sym,
			Price:        big.NewInt(int64(1e15 * (i + 1))),
		})
	}
	return out
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type fakeArchiver struct {
	mu       sync.Mutex
	outcomes []*txcoord.Outcome
}

func (a *fakeArchiver) Archive(_ context.Context, kind interfaces.ArtifactKind, v interface{}) (interfaces.ContentID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if kind != interfaces.OutcomeArtifact {
		return interfaces.ContentID{}, errors.New("unexpected artifact kind")
	}
	a.outcomes = append(a.outcomes, v.(*txcoord.Outcome))
	return interfaces.ContentID{1}, nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outcomes)
}

// TestSubmit_Confirmed tests the success path including the refresh that follows confirmation
func TestSubmit_Confirmed(t *testing.T) {
	s := connectedStack(t, ownerAccount)
	coord := s.coordinator(t)
	archiver := &fakeArchiver{}
	coord.SetArchiver(archiver)

	// A transient receipt failure is retried, never resubmitted.
	s.wallet.FailNext("eth_getTransactionReceipt", errors.New("connection reset"))

	p, err := coord.Submit(waitCtx(t), s.registry.SaveTokens(tokens("WETH", "USDC")))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, p.TxHash)
	assert.Equal(t, toptokens.MethodSaveTokens, p.Method)

	outcome, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxConfirmed, outcome.State)
	assert.Equal(t, interfaces.TxConfirmed, p.State())
	require.NotNil(t, outcome.Receipt)
	assert.True(t, outcome.Receipt.Succeeded())
	assert.Empty(t, outcome.RefreshError)

	require.NotNil(t, outcome.Snapshot)
	require.Len(t, outcome.Snapshot.Records, 2)
	assert.Equal(t, "WETH", outcome.Snapshot.Records[0].Symbol)
	assert.Same(t, outcome.Snapshot, s.engine.Snapshot())

	assert.Equal(t, 1, s.wallet.Calls("eth_sendTransaction"))
	assert.Empty(t, coord.Pending())

	require.Eventually(t, func() bool { return archiver.count() == 1 }, time.Second, 5*time.Millisecond)
}

// TestSubmit_SnapshotChangesOnlyAfterConfirmation tests that the cache never shows unconfirmed writes
func TestSubmit_SnapshotChangesOnlyAfterConfirmation(t *testing.T) {
	s := connectedStack(t, ownerAccount)
	s.wallet.SetAutoMine(false)
	coord := s.coordinator(t)

	p, err := coord.Submit(waitCtx(t), s.registry.SaveTokens(tokens("DAI")))
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxSubmitted, p.State())

	// Abandoning the wait leaves the transaction tracked.
	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Wait(short)
	assert.ErrorIs(t, err, interfaces.ErrStillPending)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Empty(t, s.engine.Snapshot().Records)
	pending := coord.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, p.ID, pending[0].ID)
	found, ok := coord.Lookup(p.ID)
	require.True(t, ok)
	assert.Equal(t, interfaces.TxSubmitted, found.Info().State)

	s.wallet.Mine()

	outcome, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxConfirmed, outcome.State)
	require.Len(t, s.engine.Snapshot().Records, 1)
	assert.Equal(t, "DAI", s.engine.Snapshot().Records[0].Symbol)

	_, ok = coord.Lookup(p.ID)
	assert.False(t, ok)

	// The outcome stays readable from the handle.
	again, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Same(t, outcome, again)
}

// TestSubmit_ReceiptQueryFailing tests that receipt errors are exposed while tracking continues
func TestSubmit_ReceiptQueryFailing(t *testing.T) {
	s := connectedStack(t, ownerAccount)
	s.wallet.SetAutoMine(false)
	coord := s.coordinator(t)

	p, err := coord.Submit(waitCtx(t), s.registry.SaveTokens(tokens("DAI")))
	require.NoError(t, err)
	assert.Empty(t, p.Info().LastPollError)

	s.wallet.SetAvailable(false)
	require.Eventually(t, func() bool { return p.Info().LastPollError != "" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, interfaces.TxSubmitted, p.Info().State)
	_, reported := p.Report()
	assert.False(t, reported, "a pending transaction has no outcome")

	s.wallet.SetAvailable(true)
	require.Eventually(t, func() bool { return p.Info().LastPollError == "" }, time.Second, 5*time.Millisecond)

	s.wallet.Mine()
	outcome, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxConfirmed, outcome.State)
	assert.Equal(t, 1, s.wallet.Calls("eth_sendTransaction"))
}

// TestReport_Once tests that concurrent reporters receive a finished outcome exactly once
func TestReport_Once(t *testing.T) {
	s := connectedStack(t, ownerAccount)
	coord := s.coordinator(t)

	p, err := coord.Submit(waitCtx(t), s.registry.SaveTokens(tokens("WETH")))
	require.NoError(t, err)
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("transaction was not confirmed")
	}

	const reporters = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered []*txcoord.Outcome
	)
	for i := 0; i < reporters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if outcome, ok := p.Report(); ok {
				mu.Lock()
				delivered = append(delivered, outcome)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, delivered, 1)
	assert.Equal(t, interfaces.TxConfirmed, delivered[0].State)
	_, ok := coord.Lookup(p.ID)
	assert.False(t, ok)
}

// TestSubmit_Reverted tests that a mined revert carries the contract reason and skips the refresh
func TestSubmit_Reverted(t *testing.T) {
	s := connectedStack(t, otherAccount, ownerAccount)
	coord := s.coordinator(t)
	readsBefore := s.engine.Stats().Reads

	outcome, err := coord.SubmitAndWait(waitCtx(t), s.registry.SaveTokens(tokens("WBTC")))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrTransactionReverted)

	var revert *interfaces.RevertError
	require.True(t, errors.As(err, &revert))
	assert.Equal(t, toptokens.ReasonNotOwner, revert.Reason)
	assert.Equal(t, outcome.TxHash, revert.TxHash)

	assert.Equal(t, interfaces.TxFailed, outcome.State)
	assert.Nil(t, outcome.Snapshot)
	assert.Contains(t, outcome.Error, toptokens.ReasonNotOwner)
	assert.Equal(t, readsBefore, s.engine.Stats().Reads)
	assert.Empty(t, s.wallet.Tokens())
}

// TestSubmit_RevertAtSend tests a revert reported by the wallet before broadcasting
func TestSubmit_RevertAtSend(t *testing.T) {
	s := connectedStack(t, ownerAccount)
	coord := s.coordinator(t)
	s.wallet.FailNext("eth_sendTransaction", provider.NewRevertError(toptokens.ReasonTooManyTokens))

	_, err := coord.Submit(waitCtx(t), s.registry.ClearTokens())
	var revert *interfaces.RevertError
	require.True(t, errors.As(err, &revert))
	assert.Equal(t, toptokens.ReasonTooManyTokens, revert.Reason)
	assert.Equal(t, common.Hash{}, revert.TxHash)
	assert.Empty(t, coord.Pending())
}

// TestSubmit_Preflight tests that failed preflight checks never reach the wallet
func TestSubmit_Preflight(t *testing.T) {
	t.Run("NotConnected", func(t *testing.T) {
		s := newStack(t, ownerAccount)
		coord := s.coordinator(t)

		_, err := coord.Submit(waitCtx(t), s.registry.ClearTokens())
		assert.ErrorIs(t, err, interfaces.ErrNotConnected)
		assert.Equal(t, 0, s.wallet.Calls("eth_sendTransaction"))
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		s := connectedStack(t, ownerAccount)
		coord := s.coordinator(t)
		bad := tokens("OK", "")

		_, err := coord.Submit(waitCtx(t), s.registry.SaveTokens(bad))
		assert.ErrorIs(t, err, interfaces.ErrInvalidArguments)

		_, err = coord.Submit(waitCtx(t), s.registry.SaveTokens(nil))
		assert.ErrorIs(t, err, interfaces.ErrInvalidArguments)

		_, err = coord.Submit(waitCtx(t), s.registry.TransferOwnership(common.Address{}))
		assert.ErrorIs(t, err, interfaces.ErrInvalidArguments)

		assert.Equal(t, 0, s.wallet.Calls("eth_sendTransaction"))
	})

	t.Run("WrongNetwork", func(t *testing.T) {
		s := connectedStack(t, ownerAccount)
		coord := s.coordinator(t)
		// The wallet moved without notifying; the guard still catches it.
		s.wallet.SetChainID(1)

		_, err := coord.Submit(waitCtx(t), s.registry.ClearTokens())
		assert.ErrorIs(t, err, interfaces.ErrNetworkMismatch)
		assert.Equal(t, 0, s.wallet.Calls("eth_sendTransaction"))
	})
}

// TestSubmit_UserRejected tests a transaction declined in the wallet
func TestSubmit_UserRejected(t *testing.T) {
	s := connectedStack(t, ownerAccount)
	coord := s.coordinator(t)
	s.wallet.RejectNext("eth_sendTransaction")

	_, err := coord.Submit(waitCtx(t), s.registry.SaveTokens(tokens("LINK")))
	assert.ErrorIs(t, err, interfaces.ErrProviderRejected)
	assert.Empty(t, coord.Pending())
	assert.Empty(t, s.wallet.Tokens())
}

// TestResume tests that journaled transactions are tracked again after a restart
func TestResume(t *testing.T) {
	s := connectedStack(t, ownerAccount)
	s.wallet.SetAutoMine(false)

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), slog.Default())
	require.NoError(t, err)
	defer j.Close()

	first := s.coordinator(t)
	first.SetJournal(j)
	p, err := first.Submit(waitCtx(t), s.registry.SaveTokens(tokens("UNI")))
	require.NoError(t, err)

	first.Close()
	_, err = p.Wait(waitCtx(t))
	assert.ErrorIs(t, err, interfaces.ErrStillPending)

	records, err := j.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, p.TxHash, records[0].TxHash)
	assert.Equal(t, ownerAccount, records[0].From)

	s.wallet.Mine()

	second := s.coordinator(t)
	second.SetJournal(j)
	resumed, err := second.Resume(waitCtx(t))
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, p.ID, resumed[0].ID)

	outcome, err := resumed[0].Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxConfirmed, outcome.State)
	assert.Equal(t, "UNI", s.engine.Snapshot().Records[0].Symbol)

	records, err = j.List()
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 1, s.wallet.Calls("eth_sendTransaction"))
}
