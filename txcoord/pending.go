package txcoord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/provider"
)

// Outcome is the terminal result of a transaction.
type Outcome struct {
	ID      uuid.UUID          `json:"id"`
	TxHash  common.Hash        `json:"txHash"`
	Method  string             `json:"method"`
	State   interfaces.TxState `json:"state"`
	Receipt *provider.Receipt  `json:"receipt,omitempty"`
	// Snapshot is the registry read after confirmation, nil if that read failed.
	Snapshot     *interfaces.RegistrySnapshot `json:"snapshot,omitempty"`
	RefreshError string                       `json:"refreshError,omitempty"`
	// Err is a *interfaces.RevertError for failed transactions.
	Err         error     `json:"-"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// Info is a point-in-time view of a pending transaction.
type Info struct {
	ID          uuid.UUID          `json:"id"`
	TxHash      common.Hash        `json:"txHash"`
	Method      string             `json:"method"`
	From        common.Address     `json:"from"`
	State       interfaces.TxState `json:"state"`
	SubmittedAt time.Time          `json:"submittedAt"`
	// LastPollError is the most recent receipt query failure, cleared by the
	// next successful query. Tracking continues while it is set.
	LastPollError string `json:"lastPollError,omitempty"`
}

// PendingTransaction is a submitted transaction tracked by the Coordinator.
type PendingTransaction struct {
	ID          uuid.UUID
	TxHash      common.Hash
	Method      string
	From        common.Address
	SubmittedAt time.Time

	data      []byte
	done      chan struct{}
	abandoned <-chan struct{}
	onReport  func(*PendingTransaction)

	mu       sync.Mutex
	state    interfaces.TxState
	outcome  *Outcome
	reported bool
	pollErr  error
}

func (p *PendingTransaction) State() interfaces.TxState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PendingTransaction) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := Info{
		ID:          p.ID,
		TxHash:      p.TxHash,
		Method:      p.Method,
		From:        p.From,
		State:       p.state,
		SubmittedAt: p.SubmittedAt,
	}
	if p.pollErr != nil {
		info.LastPollError = p.pollErr.Error()
	}
	return info
}

// Report hands out the outcome of a finished transaction to exactly one
// caller. It returns false while the transaction is pending and for every
// caller after the first.
func (p *PendingTransaction) Report() (*Outcome, bool) {
	select {
	case <-p.done:
	default:
		return nil, false
	}
	outcome, first := p.markReported()
	if !first {
		return nil, false
	}
	return outcome, true
}

// Done is closed once the transaction reached a terminal state.
func (p *PendingTransaction) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the transaction is Confirmed or Failed and returns its
// outcome together with outcome.Err. Returning the outcome reports it: the
// transaction is then dropped from the coordinator's pending set.
//
// If ctx ends first, Wait returns ErrStillPending and confirmation continues in
// the background.
func (p *PendingTransaction) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-p.done:
		return p.report()
	default:
	}

	select {
	case <-p.done:
		return p.report()
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", interfaces.ErrStillPending, p.TxHash.Hex(), ctx.Err())
	case <-p.abandoned:
		return nil, fmt.Errorf("%w: %s: tracking stopped", interfaces.ErrStillPending, p.TxHash.Hex())
	}
}

func (p *PendingTransaction) report() (*Outcome, error) {
	outcome, _ := p.markReported()
	return outcome, outcome.Err
}

func (p *PendingTransaction) markReported() (*Outcome, bool) {
	p.mu.Lock()
	outcome := p.outcome
	first := !p.reported
	p.reported = true
	p.mu.Unlock()

	if first && p.onReport != nil {
		p.onReport(p)
	}
	return outcome, first
}

func (p *PendingTransaction) setPollError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pollErr = err
}

func (p *PendingTransaction) finish(outcome *Outcome) {
	p.mu.Lock()
	p.state = outcome.State
	p.outcome = outcome
	p.pollErr = nil
	p.mu.Unlock()
	close(p.done)
}
