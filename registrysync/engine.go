package registrysync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/metrics"
	"github.com/ruteri/token-registry-sync/registry"
	"github.com/ruteri/token-registry-sync/session"
	"go.uber.org/atomic"
)

// ErrRefreshSuperseded is returned to waiters of a read whose result was
// discarded because the snapshot was cleared while it ran.
var ErrRefreshSuperseded = errors.New("refresh superseded: snapshot cleared while reading")

// SnapshotPublisher archives installed snapshots.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snapshot *interfaces.RegistrySnapshot) (interfaces.ContentID, error)
}

// Config tunes the engine.
type Config struct {
	// ReadTimeout bounds one registry read. Zero means no bound.
	ReadTimeout time.Duration
	// PublishTimeout bounds one archive upload.
	PublishTimeout time.Duration
}

// Stats are cumulative engine counters.
type Stats struct {
	Reads  uint64 `json:"reads"`
	Joined uint64 `json:"joined"`
}

// Engine keeps the local registry snapshot in sync with the contract.
//
// At most one read is in flight. Plain refresh requests join it; refreshes
// requested after a confirmed transaction join only a read that started after
// the request, so they never observe pre-confirmation state.
type Engine struct {
	source    registry.TokenSource
	session   interfaces.SessionReader
	cfg       Config
	log       *slog.Logger
	metrics   *metrics.SyncMetrics
	publisher SnapshotPublisher

	reads  atomic.Uint64
	joined atomic.Uint64

	mu       sync.Mutex
	snapshot *interfaces.RegistrySnapshot
	archived *interfaces.ContentID
	// epoch is bumped by Clear; reads started in an older epoch never install.
	epoch  uint64
	seq    uint64
	flight *flight
}

type flight struct {
	seq      uint64
	epoch    uint64
	done     chan struct{}
	snapshot *interfaces.RegistrySnapshot
	err      error
}

func NewEngine(source registry.TokenSource, sessionReader interfaces.SessionReader, cfg Config, log *slog.Logger, m *metrics.SyncMetrics) *Engine {
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	return &Engine{
		source:  source,
		session: sessionReader,
		cfg:     cfg,
		log:     log,
		metrics: m,
	}
}

// SetPublisher enables archiving of every installed snapshot.
func (e *Engine) SetPublisher(p SnapshotPublisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = p
}

// Snapshot returns the cached snapshot, nil if none. The result is shared and
// must not be modified.
func (e *Engine) Snapshot() *interfaces.RegistrySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// LastArchived is the content id of the most recently archived snapshot.
func (e *Engine) LastArchived() (interfaces.ContentID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.archived == nil {
		return interfaces.ContentID{}, false
	}
	return *e.archived, true
}

func (e *Engine) Stats() Stats {
	return Stats{Reads: e.reads.Load(), Joined: e.joined.Load()}
}

// Refresh reads the full registry and installs it as the new snapshot,
// joining a read already in flight.
//
// Cancelling ctx only stops waiting; the read itself continues and still
// installs its result.
func (e *Engine) Refresh(ctx context.Context) (*interfaces.RegistrySnapshot, error) {
	return e.refresh(ctx, 0)
}

// RefreshAfterConfirmation is Refresh for a transaction whose receipt has been
// observed. An in-flight read that started before this call may predate the
// transaction, so it is waited out and a new read is started.
func (e *Engine) RefreshAfterConfirmation(ctx context.Context) (*interfaces.RegistrySnapshot, error) {
	e.mu.Lock()
	minSeq := e.seq
	e.mu.Unlock()
	return e.refresh(ctx, minSeq)
}

func (e *Engine) refresh(ctx context.Context, minSeq uint64) (*interfaces.RegistrySnapshot, error) {
	for {
		e.mu.Lock()
		f := e.flight
		if f == nil {
			f = e.startLocked()
			e.mu.Unlock()
			return e.wait(ctx, f)
		}
		if f.epoch == e.epoch && f.seq > minSeq {
			e.mu.Unlock()
			e.joined.Inc()
			e.metrics.Joined()
			return e.wait(ctx, f)
		}
		e.mu.Unlock()

		// Not joinable: let it finish, then start ours.
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (e *Engine) wait(ctx context.Context, f *flight) (*interfaces.RegistrySnapshot, error) {
	select {
	case <-f.done:
		return f.snapshot, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) startLocked() *flight {
	e.seq++
	f := &flight{seq: e.seq, epoch: e.epoch, done: make(chan struct{})}
	e.flight = f
	go e.run(f)
	return f
}

func (e *Engine) run(f *flight) {
	ctx := context.Background()
	if e.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ReadTimeout)
		defer cancel()
	}

	start := time.Now()
	e.reads.Inc()
	records, rejected, err := e.source.GetTokens(ctx)
	sess := e.session.Snapshot()
	took := time.Since(start)

	var snapshot *interfaces.RegistrySnapshot
	if err == nil {
		snapshot = &interfaces.RegistrySnapshot{
			Records:   records,
			FetchedAt: time.Now().UTC(),
			ChainID:   sess.ChainID,
			Account:   sess.Account,
			Rejected:  rejected,
		}
	} else if !errors.Is(err, interfaces.ErrNotConnected) && !errors.Is(err, interfaces.ErrReadFailed) {
		err = fmt.Errorf("%w: %w", interfaces.ErrReadFailed, err)
	}

	e.mu.Lock()
	if e.flight == f {
		e.flight = nil
	}
	installed := false
	if err == nil {
		if f.epoch == e.epoch {
			e.snapshot = snapshot
			installed = true
		} else {
			err = ErrRefreshSuperseded
			snapshot = nil
		}
	}
	publisher := e.publisher
	f.snapshot, f.err = snapshot, err
	e.mu.Unlock()
	close(f.done)

	switch {
	case installed:
		e.metrics.Refreshed("ok", took)
		e.metrics.Snapshot(len(snapshot.Records), snapshot.Rejected)
		e.log.Debug("registry snapshot installed",
			"records", len(snapshot.Records),
			"rejected", snapshot.Rejected,
			"duration", took)
		if snapshot.Rejected > 0 {
			e.log.Warn("registry contains invalid records", "rejected", snapshot.Rejected)
		}
		if publisher != nil {
			go e.publish(publisher, f.epoch, snapshot)
		}
	case errors.Is(err, ErrRefreshSuperseded):
		e.metrics.Refreshed("superseded", took)
	default:
		e.metrics.Refreshed("error", took)
		e.log.Warn("registry refresh failed", "err", err, "duration", took)
	}
}

func (e *Engine) publish(p SnapshotPublisher, epoch uint64, snapshot *interfaces.RegistrySnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PublishTimeout)
	defer cancel()

	id, err := p.Publish(ctx, snapshot)
	if err != nil {
		e.log.Warn("archiving snapshot failed", "err", err)
		return
	}

	e.mu.Lock()
	if e.epoch == epoch && e.snapshot == snapshot {
		e.archived = &id
	}
	e.mu.Unlock()
	e.log.Debug("snapshot archived", "contentID", id.String())
}

// Clear drops the snapshot. A read in flight keeps running but its result is
// discarded.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.epoch++
	hadSnapshot := e.snapshot != nil
	e.snapshot = nil
	e.archived = nil
	e.mu.Unlock()

	e.metrics.Snapshot(0, 0)
	if hadSnapshot {
		e.log.Debug("registry snapshot cleared")
	}
}

// SessionChanged clears on disconnect or wrong network and refreshes on a new
// connection or account.
func (e *Engine) SessionChanged(ctx context.Context, change session.Change) {
	if change.NeedsClear() {
		e.Clear()
		return
	}
	if !change.NeedsRefresh() {
		return
	}
	if change.From.Status == interfaces.Connected {
		// Same contract, different caller: drop the old account's view first.
		e.Clear()
	}
	if _, err := e.Refresh(ctx); err != nil {
		e.log.Warn("refresh after session change failed", "err", err)
	}
}
