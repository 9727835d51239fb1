// Package backfill implements the block-by-timestamp binary search
// (spec.md §4.8) that locates the L2 block range a past-deposits scan
// should cover, and drives that scan on a schedule for handlers that
// support it. The search itself is pure and handler-agnostic; only the
// timestamp lookup is chain-specific, expressed as the narrow BlockSource
// capability interface so internal/chain/evm can implement it without
// widening the shared chain.Handler contract (spec.md §4.2, unchanged).
package backfill

import (
	"context"
	"time"

	"github.com/tbtc-relay/relayer/internal/chain"
	"github.com/tbtc-relay/relayer/internal/deposit"
	rlog "github.com/tbtc-relay/relayer/internal/log"
	"github.com/tbtc-relay/relayer/internal/metrics"
)

var logger = rlog.NewModuleLogger("backfill")

// BlockSource fetches the timestamp of a destination-chain block by number.
// Implemented optionally by a chain.Handler; handlers that don't support
// historical backfill (SupportsPastDepositCheck()==false) need not
// implement it.
type BlockSource interface {
	BlockTimestamp(ctx context.Context, number uint64) (timestamp int64, ok bool, err error)
}

// Locate binary-searches [startBlock, latestBlock] for the highest block
// whose timestamp is <= target, per spec.md §4.8: narrow the high bound on
// a missing block, track the best <=target midpoint seen as the candidate,
// and fall back to startBlock if no candidate was found.
func Locate(ctx context.Context, src BlockSource, startBlock, latestBlock uint64, target int64) (uint64, error) {
	candidate := startBlock
	found := false

	low, high := startBlock, latestBlock
	for low <= high {
		mid := low + (high-low)/2

		ts, ok, err := src.BlockTimestamp(ctx, mid)
		if err != nil {
			return 0, err
		}
		if !ok {
			if mid == 0 {
				break
			}
			high = mid - 1
			continue
		}

		if ts == target {
			return mid, nil
		}
		if ts < target {
			candidate = mid
			found = true
			low = mid + 1
			continue
		}
		// ts > target: narrow the high bound, or stop if we're already at
		// the floor (mid==0 with nothing below it left to try).
		if mid == 0 {
			break
		}
		high = mid - 1
	}

	if !found {
		return startBlock, nil
	}
	return candidate, nil
}

// Config parameterizes a scheduled past-deposits scan.
type Config struct {
	// StartBlock is the lower bound for the binary search on a process
	// with no checkpoint yet (spec.md §6, L2_START_BLOCK).
	StartBlock uint64
	// Window is how far back from now the scan should cover (spec.md §4.6
	// past-scan loop's pastMinutes).
	Window time.Duration
}

// Checkpoint persists the last L2 block a backfill pass has scanned up to,
// so a restart does not always re-walk from StartBlock (SPEC_FULL.md §2.15).
// A nil Checkpoint is a valid no-op: Scanner always starts from cfg.StartBlock.
type Checkpoint interface {
	Load(chainName string) (uint64, bool, error)
	Save(chainName string, block uint64) error
}

// Scanner runs one past-deposits pass against a Handler.
type Scanner struct {
	cfg        Config
	chainName  string
	checkpoint Checkpoint
}

// New returns a Scanner. checkpoint may be nil.
func New(chainName string, cfg Config, checkpoint Checkpoint) *Scanner {
	return &Scanner{cfg: cfg, chainName: chainName, checkpoint: checkpoint}
}

// Run performs one backfill pass: resolve the starting block (checkpoint or
// cfg.StartBlock), binary-search the block range covering cfg.Window, and
// invoke handler.CheckForPastDeposits over it (spec.md §4.8, §4.6). A
// handler that doesn't support past-deposit checks is a silent no-op; one
// that supports them but doesn't implement BlockSource is a no-op that logs a
// warning. The reconciler only schedules this for handlers that report
// SupportsPastDepositCheck()==true.
func (s *Scanner) Run(ctx context.Context, handler chain.Handler, store *deposit.Store) error {
	if !handler.SupportsPastDepositCheck() {
		return nil
	}
	src, ok := handler.(BlockSource)
	if !ok {
		logger.Warn("handler supports past-deposit check but not BlockSource; skipping backfill", "chain", s.chainName)
		return nil
	}

	latestBlock, err := handler.GetLatestBlock(ctx)
	if err != nil {
		metrics.BackfillErrorCounter.Inc(1)
		return err
	}

	startBlock := s.cfg.StartBlock
	if s.checkpoint != nil {
		if saved, found, err := s.checkpoint.Load(s.chainName); err != nil {
			logger.Warn("failed to load backfill checkpoint, using configured start block", "chain", s.chainName, "err", err)
		} else if found {
			startBlock = saved
		}
	}

	target := time.Now().Add(-s.cfg.Window).Unix()
	rangeStart, err := Locate(ctx, src, startBlock, latestBlock, target)
	if err != nil {
		metrics.BackfillErrorCounter.Inc(1)
		return err
	}

	if err := handler.CheckForPastDeposits(ctx, store, rangeStart, latestBlock); err != nil {
		metrics.BackfillErrorCounter.Inc(1)
		return err
	}

	if s.checkpoint != nil {
		if err := s.checkpoint.Save(s.chainName, latestBlock); err != nil {
			logger.Warn("failed to persist backfill checkpoint", "chain", s.chainName, "err", err)
		}
	}
	return nil
}
