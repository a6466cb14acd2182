package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/metrics"
	"github.com/ruteri/token-registry-sync/network"
)

// eventBuffer lets the wallet publish notifications while a transition that
// triggered them is still in progress.
const eventBuffer = 32

// Change describes one session transition.
type Change struct {
	From interfaces.Session
	To   interfaces.Session
}

// AccountChanged reports a different active account.
func (c Change) AccountChanged() bool {
	switch {
	case c.From.Account == nil && c.To.Account == nil:
		return false
	case c.From.Account == nil || c.To.Account == nil:
		return true
	default:
		return *c.From.Account != *c.To.Account
	}
}

// NeedsRefresh is true on a fresh Connected or on an account change while Connected.
func (c Change) NeedsRefresh() bool {
	if c.To.Status != interfaces.Connected {
		return false
	}
	return c.From.Status != interfaces.Connected || c.AccountChanged()
}

// NeedsClear is true whenever the session leaves the usable state.
func (c Change) NeedsClear() bool {
	return c.To.Status == interfaces.Disconnected || c.To.Status == interfaces.WrongNetwork
}

// Observer is notified synchronously after every transition, in order.
type Observer interface {
	SessionChanged(ctx context.Context, change Change)
}

// ConnectionSession owns the wallet connection state. It is the only writer of
// interfaces.Session and the only consumer of the gateway's notifications.
type ConnectionSession struct {
	gateway interfaces.ProviderGateway
	guard   *network.Guard
	log     *slog.Logger
	metrics *metrics.SessionMetrics

	events chan interfaces.ProviderEvent
	sub    event.Subscription

	// opMu serializes transitions, including the provider calls they make.
	opMu sync.Mutex
	// lastEvaluated is the chain id of the most recent network evaluation.
	lastEvaluated uint64

	mu        sync.RWMutex
	state     interfaces.Session
	observers []Observer
}

// New creates a Disconnected session and subscribes to the gateway's
// notifications. Run must be started to consume them.
func New(gateway interfaces.ProviderGateway, guard *network.Guard, log *slog.Logger, m *metrics.SessionMetrics) *ConnectionSession {
	s := &ConnectionSession{
		gateway: gateway,
		guard:   guard,
		log:     log,
		metrics: m,
		events:  make(chan interfaces.ProviderEvent, eventBuffer),
		state:   interfaces.Session{Status: interfaces.Disconnected},
	}
	s.sub = gateway.Subscribe(s.events)
	s.metrics.SetStatus(interfaces.Disconnected.String(), allStatuses)
	return s
}

var allStatuses = []string{
	interfaces.Disconnected.String(),
	interfaces.Connecting.String(),
	interfaces.Connected.String(),
	interfaces.WrongNetwork.String(),
}

// AddObserver registers o for all subsequent transitions.
func (s *ConnectionSession) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Snapshot returns a copy of the current session.
func (s *ConnectionSession) Snapshot() interfaces.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.state)
}

func (s *ConnectionSession) Status() interfaces.SessionStatus {
	return s.Snapshot().Status
}

// Account is the active account, nil unless one has been authorized.
func (s *ConnectionSession) Account() *common.Address {
	return s.Snapshot().Account
}

// Run consumes wallet notifications until ctx is done or the subscription fails.
func (s *ConnectionSession) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-s.events:
			if err := s.HandleEvent(ctx, ev); err != nil {
				s.log.Warn("handling wallet notification failed",
					"event", ev.Name,
					"err", err)
			}
		case err := <-s.sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops receiving notifications.
func (s *ConnectionSession) Close() {
	s.sub.Unsubscribe()
}

// Connect verifies the network and asks the wallet for account access.
//
// A wallet on the wrong chain leaves the session WrongNetwork with
// ErrNetworkMismatch. A declined prompt leaves it Disconnected with
// ErrProviderRejected.
func (s *ConnectionSession) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.gateway.IsAvailable() {
		return interfaces.ErrWalletNotFound
	}

	prev := s.Snapshot()
	s.transition(ctx, interfaces.Session{Status: interfaces.Connecting, Account: prev.Account, ChainID: prev.ChainID})

	chainID, err := s.guard.CurrentNetworkID(ctx)
	if err != nil {
		s.transition(ctx, interfaces.Session{Status: interfaces.Disconnected, ChainID: prev.ChainID})
		return err
	}
	s.lastEvaluated = chainID

	if err := s.guard.Check(chainID); err != nil {
		s.transition(ctx, interfaces.Session{Status: interfaces.WrongNetwork, ChainID: chainID})
		return err
	}

	var accounts []common.Address
	if err := s.gateway.Request(ctx, &accounts, "eth_requestAccounts"); err != nil {
		s.transition(ctx, interfaces.Session{Status: interfaces.Disconnected, ChainID: chainID})
		return err
	}
	if len(accounts) == 0 {
		s.transition(ctx, interfaces.Session{Status: interfaces.Disconnected, ChainID: chainID})
		return fmt.Errorf("%w: wallet returned no accounts", interfaces.ErrNotConnected)
	}

	account := accounts[0]
	s.transition(ctx, interfaces.Session{Status: interfaces.Connected, Account: &account, ChainID: chainID})
	return nil
}

// SwitchNetwork asks the wallet to move to the required chain and re-evaluates
// the session against the chain the wallet reports afterwards.
func (s *ConnectionSession) SwitchNetwork(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.gateway.IsAvailable() {
		return interfaces.ErrWalletNotFound
	}
	if err := s.guard.RequestNetworkSwitch(ctx); err != nil {
		return err
	}

	chainID, err := s.guard.CurrentNetworkID(ctx)
	if err != nil {
		return err
	}
	if err := s.evaluateChain(ctx, chainID); err != nil {
		return err
	}
	return s.guard.Check(chainID)
}

// HandleEvent applies one wallet notification.
func (s *ConnectionSession) HandleEvent(ctx context.Context, ev interfaces.ProviderEvent) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.metrics.Event(string(ev.Name))
	s.log.Debug("wallet notification", "event", ev.Name, "chainID", ev.ChainID, "accounts", len(ev.Accounts))

	switch ev.Name {
	case interfaces.EventChainChanged:
		cur := s.Snapshot()
		if cur.Status == interfaces.WrongNetwork && ev.ChainID == s.lastEvaluated {
			return nil
		}
		chainID, err := s.guard.CurrentNetworkID(ctx)
		if err != nil {
			s.log.Warn("could not confirm chain change with wallet, using notified id", "err", err)
			chainID = ev.ChainID
		}
		return s.evaluateChain(ctx, chainID)

	case interfaces.EventAccountsChanged:
		return s.accountsChanged(ctx, ev.Accounts)
	}
	return nil
}

func (s *ConnectionSession) evaluateChain(ctx context.Context, chainID uint64) error {
	cur := s.Snapshot()
	s.lastEvaluated = chainID

	switch cur.Status {
	case interfaces.Disconnected, interfaces.Connecting:
		s.setChainID(chainID)
		return nil
	}

	if s.guard.Check(chainID) != nil {
		if cur.Status == interfaces.WrongNetwork && cur.ChainID == chainID {
			return nil
		}
		s.transition(ctx, interfaces.Session{Status: interfaces.WrongNetwork, Account: cur.Account, ChainID: chainID})
		return nil
	}

	if cur.Status == interfaces.Connected {
		s.setChainID(chainID)
		return nil
	}

	// WrongNetwork back on the required chain: confirm the wallet still grants access.
	var accounts []common.Address
	if err := s.gateway.Request(ctx, &accounts, "eth_accounts"); err != nil {
		s.transition(ctx, interfaces.Session{Status: interfaces.Disconnected, ChainID: chainID})
		return err
	}
	if len(accounts) == 0 {
		s.transition(ctx, interfaces.Session{Status: interfaces.Disconnected, ChainID: chainID})
		return nil
	}
	account := accounts[0]
	s.transition(ctx, interfaces.Session{Status: interfaces.Connected, Account: &account, ChainID: chainID})
	return nil
}

func (s *ConnectionSession) accountsChanged(ctx context.Context, accounts []common.Address) error {
	cur := s.Snapshot()

	switch cur.Status {
	case interfaces.Disconnected, interfaces.Connecting:
		return nil
	}

	if len(accounts) == 0 {
		s.transition(ctx, interfaces.Session{Status: interfaces.Disconnected, ChainID: cur.ChainID})
		return nil
	}

	account := accounts[0]
	if cur.Status == interfaces.WrongNetwork {
		s.setAccount(&account)
		return nil
	}
	if cur.Account != nil && *cur.Account == account {
		return nil
	}

	// The new account always replaces the old one, even when the chain query fails.
	chainID, err := s.guard.CurrentNetworkID(ctx)
	if err != nil {
		s.log.Warn("could not confirm chain after account change, using last known id", "err", err)
		chainID = cur.ChainID
	}
	s.lastEvaluated = chainID
	if s.guard.Check(chainID) != nil {
		s.transition(ctx, interfaces.Session{Status: interfaces.WrongNetwork, Account: &account, ChainID: chainID})
		return nil
	}
	s.transition(ctx, interfaces.Session{Status: interfaces.Connected, Account: &account, ChainID: chainID})
	return nil
}

// transition installs next and notifies observers outside the state lock.
func (s *ConnectionSession) transition(ctx context.Context, next interfaces.Session) {
	s.mu.Lock()
	prev := s.state
	s.state = copySession(next)
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	change := Change{From: copySession(prev), To: copySession(next)}
	if prev.Status != next.Status || change.AccountChanged() {
		s.log.Info("session changed",
			"from", prev.Status,
			"to", next.Status,
			"account", accountString(next.Account),
			"chainID", next.ChainID)
	}
	s.metrics.SetStatus(next.Status.String(), allStatuses)

	for _, o := range observers {
		o.SessionChanged(ctx, change)
	}
}

func (s *ConnectionSession) setChainID(chainID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ChainID = chainID
}

func (s *ConnectionSession) setAccount(account *common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Account = account
}

func copySession(in interfaces.Session) interfaces.Session {
	out := in
	if in.Account != nil {
		account := *in.Account
		out.Account = &account
	}
	return out
}

func accountString(account *common.Address) string {
	if account == nil {
		return ""
	}
	return account.Hex()
}
