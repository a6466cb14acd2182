package txcoord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/journal"
	"github.com/ruteri/token-registry-sync/metrics"
	"github.com/ruteri/token-registry-sync/provider"
	"github.com/ruteri/token-registry-sync/registry"
)

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = time.Second

// Contract is the part of registry.ContractClient the coordinator drives.
type Contract interface {
	Binding() (registry.Binding, error)
	Validate(method string, args ...interface{}) ([]byte, error)
	WriteCall(ctx context.Context, method string, args ...interface{}) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*provider.Receipt, error)
	ReplayRevert(ctx context.Context, from common.Address, data []byte, block *big.Int) (string, bool, error)
}

// NetworkChecker is satisfied by *network.Guard.
type NetworkChecker interface {
	EnsureRequiredNetwork(ctx context.Context) error
	RequiredChainID() uint64
}

// Refresher is satisfied by *registrysync.Engine.
type Refresher interface {
	RefreshAfterConfirmation(ctx context.Context) (*interfaces.RegistrySnapshot, error)
}

// Journal persists transactions that have not reached a terminal state.
type Journal interface {
	Put(rec journal.Record) error
	Delete(id uuid.UUID) error
	List() ([]journal.Record, error)
}

// Archiver stores terminal outcomes.
type Archiver interface {
	Archive(ctx context.Context, kind interfaces.ArtifactKind, v interface{}) (interfaces.ContentID, error)
}

type Config struct {
	// PollInterval is the delay between receipt queries.
	PollInterval time.Duration
	// ArchiveTimeout bounds one outcome upload.
	ArchiveTimeout time.Duration
}

// Coordinator submits state-changing registry calls and tracks them to a
// terminal state. It never resubmits a transaction.
type Coordinator struct {
	contract  Contract
	session   interfaces.SessionReader
	guard     NetworkChecker
	refresher Refresher
	journal   Journal
	archiver  Archiver
	cfg       Config
	log       *slog.Logger
	metrics   *metrics.TxMetrics

	// baseCtx outlives every Wait; confirmations stop only on Close.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[uuid.UUID]*PendingTransaction
}

func NewCoordinator(contract Contract, sessionReader interfaces.SessionReader, guard NetworkChecker, refresher Refresher, cfg Config, log *slog.Logger, m *metrics.TxMetrics) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = 30 * time.Second
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		contract:  contract,
		session:   sessionReader,
		guard:     guard,
		refresher: refresher,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		baseCtx:   baseCtx,
		cancel:    cancel,
		pending:   make(map[uuid.UUID]*PendingTransaction),
	}
}

// SetJournal enables persisting submitted transactions. Call before Submit.
func (c *Coordinator) SetJournal(j Journal) {
	c.journal = j
}

// SetArchiver enables archiving of terminal outcomes. Call before Submit.
func (c *Coordinator) SetArchiver(a Archiver) {
	c.archiver = a
}

// Submit runs the preflight checks, hands the call to the wallet and starts
// tracking its confirmation. Nothing is sent if a preflight check fails.
//
// A revert detected by the wallet before broadcasting is returned as a
// *interfaces.RevertError with a zero TxHash.
func (c *Coordinator) Submit(ctx context.Context, call interfaces.WriteCall) (*PendingTransaction, error) {
	s := c.session.Snapshot()
	if s.Status != interfaces.Connected || s.Account == nil {
		return nil, fmt.Errorf("%w: session is %s", interfaces.ErrNotConnected, s.Status)
	}

	data, err := c.contract.Validate(call.Method, call.Args...)
	if err != nil {
		return nil, err
	}

	if err := c.guard.EnsureRequiredNetwork(ctx); err != nil {
		return nil, err
	}

	binding, err := c.contract.Binding()
	if err != nil {
		return nil, err
	}

	hash, err := c.contract.WriteCall(ctx, call.Method, call.Args...)
	if err != nil {
		var revert *interfaces.RevertError
		if errors.As(err, &revert) {
			c.log.Warn("transaction rejected by simulation", "method", call.Method, "reason", revert.Reason)
			return nil, revert
		}
		return nil, err
	}

	rec := journal.Record{
		ID:          uuid.New(),
		TxHash:      hash,
		Method:      call.Method,
		From:        binding.From,
		Data:        data,
		ChainID:     c.guard.RequiredChainID(),
		SubmittedAt: time.Now().UTC(),
	}
	if c.journal != nil {
		if err := c.journal.Put(rec); err != nil {
			// The transaction is already out; losing the journal entry only
			// loses tracking across a restart.
			c.log.Error("could not journal transaction", "id", rec.ID, "hash", hash.Hex(), "err", err)
		}
	}

	p := c.track(rec)
	c.metrics.Submitted(call.Method)
	return p, nil
}

// SubmitAndWait is Submit followed by Wait.
func (c *Coordinator) SubmitAndWait(ctx context.Context, call interfaces.WriteCall) (*Outcome, error) {
	p, err := c.Submit(ctx, call)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Pending lists transactions whose terminal state has not been reported yet,
// oldest first.
func (c *Coordinator) Pending() []*PendingTransaction {
	c.mu.Lock()
	out := make([]*PendingTransaction, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p)
	}
	c.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		return out[a].SubmittedAt.Before(out[b].SubmittedAt)
	})
	return out
}

// Lookup returns the unreported transaction with id.
func (c *Coordinator) Lookup(id uuid.UUID) (*PendingTransaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	return p, ok
}

// Resume restarts confirmation tracking for every journaled transaction that
// belongs to the required chain. Entries for other chains are left untouched.
func (c *Coordinator) Resume(ctx context.Context) ([]*PendingTransaction, error) {
	if c.journal == nil {
		return nil, nil
	}
	records, err := c.journal.List()
	if err != nil {
		return nil, fmt.Errorf("reading transaction journal: %w", err)
	}

	required := c.guard.RequiredChainID()
	var resumed []*PendingTransaction
	for _, rec := range records {
		if rec.ChainID != required {
			c.log.Warn("journaled transaction belongs to another chain, not resuming",
				"id", rec.ID, "hash", rec.TxHash.Hex(), "chainID", rec.ChainID)
			continue
		}
		if _, tracked := c.Lookup(rec.ID); tracked {
			continue
		}
		c.log.Info("resuming transaction tracking", "id", rec.ID, "method", rec.Method, "hash", rec.TxHash.Hex())
		resumed = append(resumed, c.track(rec))
	}
	return resumed, nil
}

// Close stops all confirmation tracking. Unfinished transactions stay in the
// journal for the next Resume.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) track(rec journal.Record) *PendingTransaction {
	p := &PendingTransaction{
		ID:          rec.ID,
		TxHash:      rec.TxHash,
		Method:      rec.Method,
		From:        rec.From,
		SubmittedAt: rec.SubmittedAt,
		data:        rec.Data,
		done:        make(chan struct{}),
		abandoned:   c.baseCtx.Done(),
		onReport:    c.forget,
	}

	c.mu.Lock()
	c.pending[p.ID] = p
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.confirm(p)
	}()
	return p
}

func (c *Coordinator) forget(p *PendingTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[p.ID] == p {
		delete(c.pending, p.ID)
	}
}

func (c *Coordinator) confirm(p *PendingTransaction) {
	receipt, ok := c.awaitReceipt(p)
	if !ok {
		c.log.Info("confirmation tracking stopped", "id", p.ID, "hash", p.TxHash.Hex())
		return
	}

	outcome := &Outcome{
		ID:          p.ID,
		TxHash:      p.TxHash,
		Method:      p.Method,
		Receipt:     receipt,
		SubmittedAt: p.SubmittedAt,
	}

	if receipt.Succeeded() {
		// The refresh starts after the receipt was observed, so it sees the
		// post-transaction registry.
		snapshot, err := c.refresher.RefreshAfterConfirmation(c.baseCtx)
		if err != nil {
			c.log.Warn("refresh after confirmation failed", "id", p.ID, "err", err)
			outcome.RefreshError = err.Error()
		}
		outcome.Snapshot = snapshot
		outcome.State = interfaces.TxConfirmed
	} else {
		outcome.State = interfaces.TxFailed
		outcome.Err = &interfaces.RevertError{
			Reason: c.revertReason(p, receipt),
			TxHash: p.TxHash,
		}
		outcome.Error = outcome.Err.Error()
	}
	outcome.FinishedAt = time.Now().UTC()

	if c.journal != nil {
		if err := c.journal.Delete(p.ID); err != nil {
			c.log.Error("could not remove transaction from journal", "id", p.ID, "err", err)
		}
	}

	p.finish(outcome)
	c.metrics.Finished(p.Method, outcome.State.String(), outcome.FinishedAt.Sub(p.SubmittedAt))
	c.log.Info("transaction finished",
		"id", p.ID,
		"method", p.Method,
		"hash", p.TxHash.Hex(),
		"state", outcome.State,
		"err", outcome.Err)

	if c.archiver != nil {
		c.archive(outcome)
	}
}

// awaitReceipt polls until a receipt is available. Query errors are retried and
// exposed through Info until a query succeeds; only Close ends the loop early.
func (c *Coordinator) awaitReceipt(p *PendingTransaction) (*provider.Receipt, bool) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.contract.TransactionReceipt(c.baseCtx, p.TxHash)
		switch {
		case err != nil:
			if c.baseCtx.Err() != nil {
				return nil, false
			}
			c.log.Warn("receipt query failed", "id", p.ID, "hash", p.TxHash.Hex(), "err", err)
			p.setPollError(err)
		case receipt != nil:
			return receipt, true
		default:
			p.setPollError(nil)
		}

		select {
		case <-ticker.C:
		case <-c.baseCtx.Done():
			return nil, false
		}
	}
}

func (c *Coordinator) revertReason(p *PendingTransaction, receipt *provider.Receipt) string {
	var block *big.Int
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.ToInt()
	}
	reason, ok, err := c.contract.ReplayRevert(c.baseCtx, p.From, p.data, block)
	if err != nil {
		c.log.Warn("could not replay reverted transaction", "id", p.ID, "err", err)
		return ""
	}
	if !ok {
		c.log.Debug("replay of reverted transaction succeeded, reason unknown", "id", p.ID)
	}
	return reason
}

func (c *Coordinator) archive(outcome *Outcome) {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.ArchiveTimeout)
	defer cancel()

	id, err := c.archiver.Archive(ctx, interfaces.OutcomeArtifact, outcome)
	if err != nil {
		c.log.Warn("archiving transaction outcome failed", "id", outcome.ID, "err", err)
		return
	}
	c.log.Debug("transaction outcome archived", "id", outcome.ID, "contentID", id.String())
}
