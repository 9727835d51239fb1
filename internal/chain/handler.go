// Package chain defines the pluggable per-destination-chain Handler contract
// described in SPEC_FULL.md §4 and its Factory (spec.md §4.2, §9).
package chain

import (
	"context"

	"github.com/tbtc-relay/relayer/internal/deposit"
)

// Type names a destination (L2) chain a deposit can mint on.
type Type string

const (
	EVM      Type = "evm"
	Starknet Type = "starknet"
	Sui      Type = "sui"
	Solana   Type = "solana"
)

// Config carries the per-chain configuration a Handler needs to construct
// itself (spec.md §2, Configuration). Non-EVM fields are optional and only
// consulted by handlers that use them.
type Config struct {
	Chain Type

	L1RPC      string
	L2RPC      string
	PrivateKey string

	L1BitcoinDepositorAddress string
	L2BitcoinDepositorAddress string
	TBTCVaultAddress          string

	L2StartBlock uint64

	// Off-chain endpoint polled by non-EVM stub handlers (spec.md §4.4, §9).
	StatusEndpoint string
}

// Handler is the per-chain abstraction every reconciler loop drives (spec.md
// §4.2). Implementations own their own RPC clients, wallets and nonce
// bookkeeping; the reconciler only ever calls through this interface.
type Handler interface {
	// Initialize performs one-time setup (dialing RPC endpoints, binding
	// contracts) before any other method is called.
	Initialize(ctx context.Context) error

	// SetupListeners subscribes to the on-chain events that drive the
	// event-triggered path (L2 DepositInitialized, L1
	// OptimisticMintingFinalized). Queued records observed this way are
	// pushed into store via deposit.Store.PutIfAbsent.
	SetupListeners(ctx context.Context, store *deposit.Store) error

	// InitializeDeposit submits the L1 initialize transaction for one
	// queued record (spec.md §4.3: pre-flight, submit, wait, persist).
	InitializeDeposit(ctx context.Context, record deposit.Record) (deposit.Record, error)

	// FinalizeDeposit submits the L1 finalize transaction for one
	// initialized record.
	FinalizeDeposit(ctx context.Context, record deposit.Record) (deposit.Record, error)

	// CheckDepositStatus reads the on-chain status of a single deposit id,
	// used by the reconciler to fast-forward a record that was advanced
	// by another process or found already-finalized (spec.md §4.3).
	CheckDepositStatus(ctx context.Context, id string) (deposit.Status, bool, error)

	// GetLatestBlock returns the handler's destination chain's current
	// block height, or 0 for chains that don't expose one
	// (spec.md §4.4, non-EVM stubs).
	GetLatestBlock(ctx context.Context) (uint64, error)

	// ProcessInitializeDeposits drives every QUEUED record one reconcile
	// tick forward (spec.md §4.3, §5).
	ProcessInitializeDeposits(ctx context.Context, store *deposit.Store) error

	// ProcessFinalizeDeposits drives every INITIALIZED record one
	// reconcile tick forward.
	ProcessFinalizeDeposits(ctx context.Context, store *deposit.Store) error

	// CheckForPastDeposits backfills deposits the event listeners may have
	// missed (spec.md §4.8). Implementations that don't support this
	// return immediately with a nil error; see SupportsPastDepositCheck.
	CheckForPastDeposits(ctx context.Context, store *deposit.Store, fromBlock, toBlock uint64) error

	// SupportsPastDepositCheck reports whether CheckForPastDeposits does
	// real work for this chain (spec.md §4.4: false for all non-EVM
	// stubs, since they have no block-ranged log query to run).
	SupportsPastDepositCheck() bool
}
