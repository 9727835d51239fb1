// Package reconcile drives the three periodic loops described in spec.md §5:
// initialize, finalize, and historical backfill. The ticker/select shape is
// grounded on node/sc/bridge_tx_pool.go's BridgeTxPool.loop() and
// datasync/chaindatafetcher/chaindata_fetcher.go's Start/Stop.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/tbtc-relay/relayer/internal/backfill"
	"github.com/tbtc-relay/relayer/internal/chain"
	"github.com/tbtc-relay/relayer/internal/deposit"
	rlog "github.com/tbtc-relay/relayer/internal/log"
	"github.com/tbtc-relay/relayer/internal/metrics"
	"github.com/tbtc-relay/relayer/internal/notify"
)

var logger = rlog.NewModuleLogger("reconcile")

// Config carries the three loops' tick intervals (spec.md §6 configuration).
type Config struct {
	InitializeInterval time.Duration
	FinalizeInterval   time.Duration
	BackfillInterval   time.Duration
	ChainName          string
}

// DefaultConfig mirrors BridgeTxPool's polling cadence (a few
// seconds) for the event-driven loops, and a coarser cadence for backfill
// since it re-scans a window rather than tailing the chain.
func DefaultConfig(chainName string) Config {
	return Config{
		InitializeInterval: 15 * time.Second,
		FinalizeInterval:   15 * time.Second,
		BackfillInterval:   5 * time.Minute,
		ChainName:          chainName,
	}
}

// Reconciler owns the three ticker-driven loops for a single configured
// chain.Handler, plus the notifier and status-index-backed Store they share
// (spec.md §4.6).
type Reconciler struct {
	cfg      Config
	handler  chain.Handler
	store    *deposit.Store
	notifier *notify.Notifier
	scanner  *backfill.Scanner // nil disables the backfill loop
	ids      *Serializer       // per-id locks taken by notifyTransitions

	closed chan struct{}
	wg     sync.WaitGroup
}

// New returns a Reconciler ready to Start. scanner may be nil to disable
// historical backfill entirely (e.g. tests, or a handler that never
// supports it).
func New(cfg Config, handler chain.Handler, store *deposit.Store, notifier *notify.Notifier, scanner *backfill.Scanner) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		handler:  handler,
		store:    store,
		notifier: notifier,
		scanner:  scanner,
		ids:      NewSerializer(),
		closed:   make(chan struct{}),
	}
}

// Start launches the initialize, finalize, and (if supported) backfill
// loops. It returns once every loop goroutine has been spawned; it does not
// block until they exit (call Stop for that).
func (r *Reconciler) Start(ctx context.Context) error {
	if err := r.handler.Initialize(ctx); err != nil {
		return err
	}
	if err := r.handler.SetupListeners(ctx, r.store); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.loop(ctx, "initialize", r.cfg.InitializeInterval, r.tickInitialize)

	r.wg.Add(1)
	go r.loop(ctx, "finalize", r.cfg.FinalizeInterval, r.tickFinalize)

	if r.handler.SupportsPastDepositCheck() && r.scanner != nil {
		r.wg.Add(1)
		go r.loop(ctx, "backfill", r.cfg.BackfillInterval, r.tickBackfill)
	}
	return nil
}

// Stop signals every loop to exit and waits for them, the same shutdown
// shape as ChainDataFetcher.Stop (close a channel, wg.Wait()).
func (r *Reconciler) Stop() {
	close(r.closed)
	r.wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tick(ctx)
		case <-r.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) tickInitialize(ctx context.Context) {
	before, err := r.store.ListByStatus(deposit.Queued)
	if err != nil {
		logger.Warn("failed to snapshot queued deposits before initialize tick", "err", err)
		before = nil
	}

	if err := r.handler.ProcessInitializeDeposits(ctx, r.store); err != nil {
		logger.Warn("initialize tick failed", "chain", r.cfg.ChainName, "err", err)
		metrics.InitializeErrorCounter.Inc(1)
	}
	r.notifyTransitions(before)
	r.updateQueueDepthMetrics()
}

func (r *Reconciler) tickFinalize(ctx context.Context) {
	before, err := r.store.ListByStatus(deposit.Initialized)
	if err != nil {
		logger.Warn("failed to snapshot initialized deposits before finalize tick", "err", err)
		before = nil
	}

	if err := r.handler.ProcessFinalizeDeposits(ctx, r.store); err != nil {
		logger.Warn("finalize tick failed", "chain", r.cfg.ChainName, "err", err)
		metrics.FinalizeErrorCounter.Inc(1)
	}
	r.notifyTransitions(before)
	r.updateQueueDepthMetrics()
}

// notifyTransitions re-reads every record in before and publishes a
// Transition for any whose status moved on, holding the id's Serializer
// shard during the re-read. Only this method takes those locks: the
// handler's event-listener goroutine and its Process* methods read and write
// the Store without them, so they are not serialized against each other or
// against this re-read.
func (r *Reconciler) notifyTransitions(before []deposit.Record) {
	for _, prior := range before {
		r.ids.With(prior.ID, func() {
			current, ok, err := r.store.Get(prior.ID)
			if err != nil || !ok || current.Status == prior.Status {
				return
			}
			r.notifier.Publish(notify.Transition{
				ID:         current.ID,
				Chain:      r.cfg.ChainName,
				FromStatus: prior.Status.String(),
				ToStatus:   current.Status.String(),
				TxHash:     latestTxHash(current),
				At:         current.Dates.LastActivityAt,
			})
		})
	}
}

func latestTxHash(r deposit.Record) *string {
	if r.Hashes.FinalizeTxHash != nil {
		return r.Hashes.FinalizeTxHash
	}
	return r.Hashes.InitializeTxHash
}

func (r *Reconciler) tickBackfill(ctx context.Context) {
	if err := r.scanner.Run(ctx, r.handler, r.store); err != nil {
		logger.Warn("backfill tick failed", "chain", r.cfg.ChainName, "err", err)
	}
}

func (r *Reconciler) updateQueueDepthMetrics() {
	queued, err := r.store.ListByStatus(deposit.Queued)
	if err != nil {
		logger.Warn("failed to count queued deposits for metrics", "err", err)
		return
	}
	initialized, err := r.store.ListByStatus(deposit.Initialized)
	if err != nil {
		logger.Warn("failed to count initialized deposits for metrics", "err", err)
		return
	}
	finalized, err := r.store.ListByStatus(deposit.Finalized)
	if err != nil {
		logger.Warn("failed to count finalized deposits for metrics", "err", err)
		return
	}
	metrics.UpdateQueueDepths(len(queued), len(initialized), len(finalized))
}
