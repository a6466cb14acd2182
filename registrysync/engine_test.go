package registrysync

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/registry"
	"github.com/ruteri/token-registry-sync/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	account = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	tokenA  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB  = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

type staticSession struct {
	session interfaces.Session
}

func (s *staticSession) Snapshot() interfaces.Session {
	return s.session
}

func connectedSession() *staticSession {
	a := account
	return &staticSession{session: interfaces.Session{Status: interfaces.Connected, Account: &a, ChainID: 1337}}
}

func records(symbols ...string) []interfaces.TokenRecord {
	out := make([]interfaces.TokenRecord, 0, len(symbols))
	for i, s := range symbols {
		out = append(out, interfaces.TokenRecord{
			TokenAddress: common.BigToAddress(big.NewInt(int64(i + 1))),
			Symbol:       s,
			Price:        big.NewInt(int64(100 * (i + 1))),
		})
	}
	return out
}

// gatedSource holds every read until the test releases it. The records
// returned are the ones current when the read started.
type gatedSource struct {
	mu      sync.Mutex
	records []interfaces.TokenRecord
	err     error
	started chan int
	release chan struct{}
	calls   int
}

func newGatedSource(initial []interfaces.TokenRecord) *gatedSource {
	return &gatedSource{
		records: initial,
		started: make(chan int, 16),
		release: make(chan struct{}),
	}
}

func (s *gatedSource) set(records []interfaces.TokenRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

func (s *gatedSource) GetTokens(ctx context.Context) ([]interfaces.TokenRecord, int, error) {
	s.mu.Lock()
	s.calls++
	n, records, err := s.calls, s.records, s.err
	s.mu.Unlock()

	s.started <- n
	<-s.release
	return records, 0, err
}

func (s *gatedSource) waitStarted(t *testing.T, n int) {
	t.Helper()
	select {
	case got := <-s.started:
		require.Equal(t, n, got)
	case <-time.After(time.Second):
		t.Fatalf("read %d did not start", n)
	}
}

type result struct {
	snapshot *interfaces.RegistrySnapshot
	err      error
}

func async(fn func() (*interfaces.RegistrySnapshot, error)) <-chan result {
	ch := make(chan result, 1)
	go func() {
		snapshot, err := fn()
		ch <- result{snapshot, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("refresh did not return")
		return result{}
	}
}

func newEngine(source registry.TokenSource) *Engine {
	return NewEngine(source, connectedSession(), Config{}, slog.Default(), nil)
}

// TestRefresh_InstallsSnapshot tests that a refresh replaces the snapshot wholesale
func TestRefresh_InstallsSnapshot(t *testing.T) {
	source := &registry.MockTokenRegistry{}
	source.On("GetTokens", mock.Anything).Return(records("AAA", "BBB"), 1, nil).Once()
	source.On("GetTokens", mock.Anything).Return(records("CCC"), 0, nil).Once()

	engine := newEngine(source)
	assert.Nil(t, engine.Snapshot())

	first, err := engine.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.Equal(t, "AAA", first.Records[0].Symbol)
	assert.Equal(t, "BBB", first.Records[1].Symbol)
	assert.Equal(t, 1, first.Rejected)
	assert.Equal(t, uint64(1337), first.ChainID)
	assert.Equal(t, account, *first.Account)
	assert.False(t, first.FetchedAt.IsZero())
	assert.Same(t, first, engine.Snapshot())

	second, err := engine.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, second.Records, 1)
	assert.Len(t, first.Records, 2, "installed snapshots are never patched")
	assert.Same(t, second, engine.Snapshot())

	source.AssertExpectations(t)
}

// TestRefresh_ErrorsKeepSnapshot tests that failures leave the cached snapshot in place
func TestRefresh_ErrorsKeepSnapshot(t *testing.T) {
	source := &registry.MockTokenRegistry{}
	source.On("GetTokens", mock.Anything).Return(records("AAA"), 0, nil).Once()
	source.On("GetTokens", mock.Anything).Return(nil, 0, errors.New("connection reset")).Once()
	source.On("GetTokens", mock.Anything).Return(nil, 0, interfaces.ErrNotConnected).Once()

	engine := newEngine(source)
	installed, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	_, err = engine.Refresh(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrReadFailed)
	assert.Same(t, installed, engine.Snapshot())

	_, err = engine.Refresh(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrNotConnected)
	assert.NotErrorIs(t, err, interfaces.ErrReadFailed)
	assert.Same(t, installed, engine.Snapshot())
}

// TestRefresh_JoinsInFlight tests that concurrent plain refreshes share one read
func TestRefresh_JoinsInFlight(t *testing.T) {
	source := newGatedSource(records("AAA"))
	engine := newEngine(source)
	ctx := context.Background()

	first := async(func() (*interfaces.RegistrySnapshot, error) { return engine.Refresh(ctx) })
	source.waitStarted(t, 1)

	second := async(func() (*interfaces.RegistrySnapshot, error) { return engine.Refresh(ctx) })
	require.Eventually(t, func() bool { return engine.Stats().Joined == 1 }, time.Second, time.Millisecond)

	source.release <- struct{}{}
	r1, r2 := await(t, first), await(t, second)
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Same(t, r1.snapshot, r2.snapshot)
	assert.Equal(t, uint64(1), engine.Stats().Reads)
}

// TestRefreshAfterConfirmation_StartsNewRead tests that a post-confirmation
// refresh never reuses a read that started before it
func TestRefreshAfterConfirmation_StartsNewRead(t *testing.T) {
	source := newGatedSource(records("OLD"))
	engine := newEngine(source)
	ctx := context.Background()

	early := async(func() (*interfaces.RegistrySnapshot, error) { return engine.Refresh(ctx) })
	source.waitStarted(t, 1)

	// The transaction is confirmed while the early read is in flight.
	source.set(records("NEW"))
	confirmed := async(func() (*interfaces.RegistrySnapshot, error) { return engine.RefreshAfterConfirmation(ctx) })
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, engine.Stats().Joined)

	source.release <- struct{}{}
	r1 := await(t, early)
	require.NoError(t, r1.err)
	assert.Equal(t, "OLD", r1.snapshot.Records[0].Symbol)

	source.waitStarted(t, 2)

	// A plain refresh may share the post-confirmation read.
	late := async(func() (*interfaces.RegistrySnapshot, error) { return engine.Refresh(ctx) })
	require.Eventually(t, func() bool { return engine.Stats().Joined == 1 }, time.Second, time.Millisecond)

	source.release <- struct{}{}
	r2, r3 := await(t, confirmed), await(t, late)
	require.NoError(t, r2.err)
	assert.Equal(t, "NEW", r2.snapshot.Records[0].Symbol)
	assert.Same(t, r2.snapshot, r3.snapshot)
	assert.Same(t, r2.snapshot, engine.Snapshot())
	assert.Equal(t, uint64(2), engine.Stats().Reads)
}

// TestRefreshAfterConfirmation_Idle tests a post-confirmation refresh with nothing in flight
func TestRefreshAfterConfirmation_Idle(t *testing.T) {
	source := &registry.MockTokenRegistry{}
	source.On("GetTokens", mock.Anything).Return(records("AAA"), 0, nil)
	engine := newEngine(source)

	snapshot, err := engine.RefreshAfterConfirmation(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot.Records, 1)
	source.AssertNumberOfCalls(t, "GetTokens", 1)
}

// TestClear_DiscardsInFlightRead tests that a read in flight at Clear never installs
func TestClear_DiscardsInFlightRead(t *testing.T) {
	source := newGatedSource(records("STALE"))
	engine := newEngine(source)
	ctx := context.Background()

	stale := async(func() (*interfaces.RegistrySnapshot, error) { return engine.Refresh(ctx) })
	source.waitStarted(t, 1)

	engine.Clear()

	// A refresh requested after Clear must not share the stale read.
	fresh := async(func() (*interfaces.RegistrySnapshot, error) { return engine.Refresh(ctx) })
	time.Sleep(20 * time.Millisecond)

	source.set(records("FRESH"))
	source.release <- struct{}{}
	r1 := await(t, stale)
	assert.ErrorIs(t, r1.err, ErrRefreshSuperseded)
	assert.Nil(t, engine.Snapshot())

	source.waitStarted(t, 2)
	source.release <- struct{}{}
	r2 := await(t, fresh)
	require.NoError(t, r2.err)
	assert.Equal(t, "FRESH", r2.snapshot.Records[0].Symbol)
	assert.Same(t, r2.snapshot, engine.Snapshot())
	assert.Zero(t, engine.Stats().Joined)
}

// TestRefresh_WaiterCancellation tests that cancelling a waiter does not cancel the read
func TestRefresh_WaiterCancellation(t *testing.T) {
	source := newGatedSource(records("AAA"))
	engine := newEngine(source)

	ctx, cancel := context.WithCancel(context.Background())
	waiter := async(func() (*interfaces.RegistrySnapshot, error) { return engine.Refresh(ctx) })
	source.waitStarted(t, 1)

	cancel()
	r := await(t, waiter)
	assert.ErrorIs(t, r.err, context.Canceled)

	source.release <- struct{}{}
	require.Eventually(t, func() bool { return engine.Snapshot() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, "AAA", engine.Snapshot().Records[0].Symbol)
}

// TestRefresh_ReadTimeout tests that a hanging read is bounded by the configured timeout
func TestRefresh_ReadTimeout(t *testing.T) {
	source := &registry.MockTokenRegistry{}
	source.On("GetTokens", mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, 0, context.DeadlineExceeded)

	engine := NewEngine(source, connectedSession(), Config{ReadTimeout: 10 * time.Millisecond}, slog.Default(), nil)
	_, err := engine.Refresh(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrReadFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestSessionChanged tests the refresh and clear policy driven by session transitions
func TestSessionChanged(t *testing.T) {
	source := &registry.MockTokenRegistry{}
	source.On("GetTokens", mock.Anything).Return(records("AAA"), 0, nil)
	engine := newEngine(source)
	ctx := context.Background()

	a := account
	other := tokenB
	disconnected := interfaces.Session{Status: interfaces.Disconnected}
	connecting := interfaces.Session{Status: interfaces.Connecting}
	connectedA := interfaces.Session{Status: interfaces.Connected, Account: &a, ChainID: 1337}
	connectedB := interfaces.Session{Status: interfaces.Connected, Account: &other, ChainID: 1337}
	wrong := interfaces.Session{Status: interfaces.WrongNetwork, Account: &a, ChainID: 5}

	engine.SessionChanged(ctx, session.Change{From: disconnected, To: connecting})
	assert.Nil(t, engine.Snapshot())
	source.AssertNumberOfCalls(t, "GetTokens", 0)

	engine.SessionChanged(ctx, session.Change{From: connecting, To: connectedA})
	require.NotNil(t, engine.Snapshot())
	source.AssertNumberOfCalls(t, "GetTokens", 1)

	engine.SessionChanged(ctx, session.Change{From: connectedA, To: connectedA})
	source.AssertNumberOfCalls(t, "GetTokens", 1)

	engine.SessionChanged(ctx, session.Change{From: connectedA, To: connectedB})
	require.NotNil(t, engine.Snapshot())
	source.AssertNumberOfCalls(t, "GetTokens", 2)

	engine.SessionChanged(ctx, session.Change{From: connectedB, To: wrong})
	assert.Nil(t, engine.Snapshot())

	engine.SessionChanged(ctx, session.Change{From: wrong, To: connectedA})
	require.NotNil(t, engine.Snapshot())

	engine.SessionChanged(ctx, session.Change{From: connectedA, To: disconnected})
	assert.Nil(t, engine.Snapshot())
}

type fakePublisher struct {
	mu        sync.Mutex
	published []*interfaces.RegistrySnapshot
}

func (p *fakePublisher) Publish(_ context.Context, snapshot *interfaces.RegistrySnapshot) (interfaces.ContentID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, snapshot)
	return interfaces.ComputeID([]byte(snapshot.Records[0].Symbol)), nil
}

// TestRefresh_Publishes tests that installed snapshots are archived
func TestRefresh_Publishes(t *testing.T) {
	source := &registry.MockTokenRegistry{}
	source.On("GetTokens", mock.Anything).Return(records("AAA"), 0, nil)
	engine := newEngine(source)
	publisher := &fakePublisher{}
	engine.SetPublisher(publisher)

	_, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := engine.LastArchived()
		return ok
	}, time.Second, time.Millisecond)
	id, _ := engine.LastArchived()
	assert.Equal(t, interfaces.ComputeID([]byte("AAA")), id)

	engine.Clear()
	_, ok := engine.LastArchived()
	assert.False(t, ok)
}
