// Package evm implements the chain.Handler for EVM-compatible destination
// chains: it dials L1/L2 JSON-RPC endpoints, binds the three contracts the
// relayer needs (L1BitcoinDepositor, L2BitcoinDepositor, TBTCVault), and
// drives the initialize/finalize ceremony described in spec.md §4.3.
//
// The event-subscription shape is grounded on
// node/sc/bridge_manager.go (subscribeEvent spawns a goroutine looping on a
// select over the event channel and the subscription's error channel); the
// nonce bookkeeping is grounded on node/sc/bridge_tx_pool.go.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"

	"github.com/tbtc-relay/relayer/internal/chain/evm/contracts"
	"github.com/tbtc-relay/relayer/internal/chain/nonce"
	"github.com/tbtc-relay/relayer/internal/deposit"
	rlog "github.com/tbtc-relay/relayer/internal/log"
)

var logger = rlog.NewModuleLogger("chain.evm")

// retryThrottleMillis is the minimum time between reconcile touches of the
// same record (spec.md §5, "TIME_TO_RETRY"). Declared locally in every chain
// handler rather than imported from a shared package, since the reconcile
// package depends on chain.Handler and a chain handler importing reconcile
// back would be a cycle.
const retryThrottleMillis = 5 * 60 * 1000

// l1BitcoinDepositor is the subset of *contracts.L1BitcoinDepositor the
// Handler calls against. Declaring it as an interface (rather than holding
// the concrete type directly) lets handler_test.go substitute a fake
// double for the pre-flight/send discipline without dialing a real chain.
type l1BitcoinDepositor interface {
	CallInitializeDeposit(opts *bind.CallOpts, fundingTx contracts.FundingTx, reveal contracts.DepositReveal, l2DepositOwner [32]byte) error
	InitializeDeposit(opts *bind.TransactOpts, fundingTx contracts.FundingTx, reveal contracts.DepositReveal, l2DepositOwner [32]byte) (*types.Transaction, error)
	CallFinalizeDeposit(opts *bind.CallOpts, depositKey *big.Int) (*big.Int, error)
	FinalizeDeposit(opts *bind.TransactOpts, depositKey *big.Int) (*types.Transaction, error)
	Deposits(opts *bind.CallOpts, depositKey *big.Int) (uint8, error)
}

// Config is the subset of chain.Config an EVM Handler consults.
type Config struct {
	L1RPC      string
	L2RPC      string
	PrivateKey string

	L1BitcoinDepositorAddress string
	L2BitcoinDepositorAddress string
	TBTCVaultAddress          string

	L2StartBlock uint64
}

// Handler is the chain.Handler implementation for EVM chains.
type Handler struct {
	cfg Config

	l1Client *ethclient.Client
	l2Client *ethclient.Client
	l2RPC    *rpcClient

	privateKey *ecdsa.PrivateKey
	account    common.Address
	l1ChainID  *big.Int

	l1Depositor l1BitcoinDepositor
	l2Depositor *contracts.L2BitcoinDepositor
	vault       *contracts.TBTCVault

	l1Nonces    *nonce.Manager
	nonceSource nonce.Source

	// confirm waits for a submitted transaction to be mined. Defaults to
	// bind.WaitMined against l1Client; overridden in tests so the
	// pre-flight/send/confirm discipline can be exercised without a real
	// chain backend.
	confirm func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// NewHandler validates cfg and parses the private key; network dialing and
// contract binding happen in Initialize so construction never blocks on I/O.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.L1RPC == "" || cfg.L2RPC == "" {
		return nil, errors.New("chain.evm: L1RPC and L2RPC must be configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "chain.evm: parsing private key")
	}
	return &Handler{
		cfg:        cfg,
		privateKey: key,
		account:    crypto.PubkeyToAddress(key.PublicKey),
		l1Nonces:   nonce.NewManager(),
	}, nil
}

func (h *Handler) Initialize(ctx context.Context) error {
	l1Client, err := ethclient.DialContext(ctx, h.cfg.L1RPC)
	if err != nil {
		return errors.Wrap(err, "chain.evm: dialing L1 RPC")
	}
	l2Client, err := ethclient.DialContext(ctx, h.cfg.L2RPC)
	if err != nil {
		return errors.Wrap(err, "chain.evm: dialing L2 RPC")
	}

	chainID, err := l1Client.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "chain.evm: fetching L1 chain id")
	}

	l1Depositor, err := contracts.NewL1BitcoinDepositor(common.HexToAddress(h.cfg.L1BitcoinDepositorAddress), l1Client)
	if err != nil {
		return errors.Wrap(err, "chain.evm: binding L1BitcoinDepositor")
	}
	l2Depositor, err := contracts.NewL2BitcoinDepositor(common.HexToAddress(h.cfg.L2BitcoinDepositorAddress), l2Client)
	if err != nil {
		return errors.Wrap(err, "chain.evm: binding L2BitcoinDepositor")
	}
	vault, err := contracts.NewTBTCVault(common.HexToAddress(h.cfg.TBTCVaultAddress), l1Client)
	if err != nil {
		return errors.Wrap(err, "chain.evm: binding TBTCVault")
	}

	h.l1Client = l1Client
	h.l2Client = l2Client
	h.l2RPC = newRPCClient(l2Client.Client())
	h.l1ChainID = chainID
	h.l1Depositor = l1Depositor
	h.l2Depositor = l2Depositor
	h.vault = vault
	h.nonceSource = pendingNonceSource{client: l1Client}
	h.confirm = func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, h.l1Client, tx)
	}
	return nil
}

// SetupListeners starts the two event subscriptions that drive the
// event-triggered path (spec.md §4.3): L2 DepositInitialized queues new
// deposits, L1 OptimisticMintingFinalized finalizes them. Both loops follow
// bridge_manager.go's subscribeEvent/loop shape: select over the event channel and
// the subscription's error channel, exit on ctx.Done().
func (h *Handler) SetupListeners(ctx context.Context, store *deposit.Store) error {
	revealCh := make(chan *contracts.L2BitcoinDepositorDepositInitialized, 64)
	revealSub, err := h.l2Depositor.WatchDepositInitialized(&bind.WatchOpts{Context: ctx}, revealCh)
	if err != nil {
		return errors.Wrap(err, "chain.evm: subscribing to L2 DepositInitialized")
	}

	mintCh := make(chan *contracts.TBTCVaultOptimisticMintingFinalized, 64)
	mintSub, err := h.vault.WatchOptimisticMintingFinalized(&bind.WatchOpts{Context: ctx}, mintCh)
	if err != nil {
		revealSub.Unsubscribe()
		return errors.Wrap(err, "chain.evm: subscribing to TBTCVault OptimisticMintingFinalized")
	}

	go h.loop(ctx, store, revealCh, mintCh, revealSub, mintSub)
	return nil
}

func (h *Handler) loop(
	ctx context.Context,
	store *deposit.Store,
	revealCh <-chan *contracts.L2BitcoinDepositorDepositInitialized,
	mintCh <-chan *contracts.TBTCVaultOptimisticMintingFinalized,
	revealSub, mintSub event.Subscription,
) {
	defer revealSub.Unsubscribe()
	defer mintSub.Unsubscribe()

	for {
		select {
		case ev := <-revealCh:
			if err := h.handleReveal(ctx, store, ev); err != nil {
				logger.Error("failed to queue deposit from L2 reveal event", "depositKey", ev.DepositKey, "err", err)
			}
		case ev := <-mintCh:
			if err := h.handleMintFinalized(ctx, store, ev); err != nil {
				logger.Error("failed to finalize deposit from vault event", "depositKey", ev.DepositKey, "err", err)
			}
		case err := <-revealSub.Err():
			logger.Warn("L2 DepositInitialized subscription ended", "err", err)
			return
		case err := <-mintSub.Err():
			logger.Warn("TBTCVault OptimisticMintingFinalized subscription ended", "err", err)
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleReveal writes a freshly observed deposit to the Store and
// immediately attempts to initialize it, rather than leaving it QUEUED for
// the next ProcessInitializeDeposits tick (spec.md §4.3: "write-if-absent to
// the Store, then immediately attempt initializeDeposit(record)"). A record
// already present (replayed log, duplicate event) is left untouched for the
// reconcile loop to retry on its own schedule.
func (h *Handler) handleReveal(ctx context.Context, store *deposit.Store, ev *contracts.L2BitcoinDepositorDepositInitialized) error {
	id := ev.DepositKey.String()
	fundingTxHash := bitcoinTxHash(ev.FundingTx)

	record := deposit.NewQueued(
		id,
		fundingTxHash,
		ev.Reveal.FundingOutputIndex,
		fromDepositReveal(ev.Reveal),
		deposit.L1OutputEvent{
			FundingTx:      fromFundingTx(ev.FundingTx),
			OutputIndex:    ev.Reveal.FundingOutputIndex,
			Receipt:        fromDepositReveal(ev.Reveal),
			L2DepositOwner: fmt.Sprintf("0x%x", ev.L2DepositOwner),
			L2Sender:       ev.L2Sender.Hex(),
		},
		ev.Reveal.Depositor.Hex(),
		nowMillis(),
	)

	created, err := store.PutIfAbsent(record)
	if err != nil || !created {
		return err
	}

	updated, err := h.InitializeDeposit(ctx, record)
	if putErr := store.Put(updated); putErr != nil {
		logger.Error("failed to persist record after initial initialize attempt", "id", id, "err", putErr)
	}
	return err
}

func (h *Handler) handleMintFinalized(ctx context.Context, store *deposit.Store, ev *contracts.TBTCVaultOptimisticMintingFinalized) error {
	id := ev.DepositKey.String()
	record, ok, err := store.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("vault finalized a deposit the store has not seen yet", "id", id)
		return nil
	}
	updated, err := h.FinalizeDeposit(ctx, record)
	if err != nil {
		return err
	}
	return store.Put(updated)
}

// InitializeDeposit performs the pre-flight call, submits the initialize
// transaction, waits for it to be mined, and returns the advanced record
// (spec.md §4.3).
func (h *Handler) InitializeDeposit(ctx context.Context, record deposit.Record) (deposit.Record, error) {
	now := nowMillis()

	fundingTx, err := toFundingTx(record)
	if err != nil {
		return record.WithError(err.Error(), now), err
	}
	reveal, err := toDepositReveal(record, common.HexToAddress(h.cfg.TBTCVaultAddress))
	if err != nil {
		return record.WithError(err.Error(), now), err
	}
	l2Owner, err := toL2DepositOwner(record)
	if err != nil {
		return record.WithError(err.Error(), now), err
	}

	if err := h.l1Depositor.CallInitializeDeposit(&bind.CallOpts{Context: ctx}, fundingTx, reveal, l2Owner); err != nil {
		if isAlreadyInitialized(err) {
			return record.AdvanceToInitialized(nil, now), nil
		}
		return record.WithError(err.Error(), now), err
	}

	auth, err := h.transactOpts(ctx)
	if err != nil {
		return record.WithError(err.Error(), now), err
	}

	tx, err := h.l1Depositor.InitializeDeposit(auth, fundingTx, reveal, l2Owner)
	if err != nil {
		h.l1Nonces.Reset()
		return record.WithError(err.Error(), now), err
	}

	if _, err := h.confirm(ctx, tx); err != nil {
		h.l1Nonces.Reset()
		return record.WithError(err.Error(), now), err
	}

	hash := tx.Hash().Hex()
	return record.AdvanceToInitialized(&hash, nowMillis()), nil
}

// FinalizeDeposit mirrors InitializeDeposit for the second ceremony phase.
func (h *Handler) FinalizeDeposit(ctx context.Context, record deposit.Record) (deposit.Record, error) {
	now := nowMillis()

	key, err := depositKey(record.ID)
	if err != nil {
		return record.WithError(err.Error(), now), err
	}

	value, err := h.l1Depositor.CallFinalizeDeposit(&bind.CallOpts{Context: ctx}, key)
	if err != nil {
		if isAlreadyInitialized(err) {
			return record.AdvanceToFinalized(nil, now), nil
		}
		return record.WithError(err.Error(), now), err
	}
	if value == nil || value.Sign() < 0 {
		value = big.NewInt(0)
	}

	auth, err := h.transactOpts(ctx)
	if err != nil {
		return record.WithError(err.Error(), now), err
	}
	auth.Value = value

	tx, err := h.l1Depositor.FinalizeDeposit(auth, key)
	if err != nil {
		h.l1Nonces.Reset()
		return record.WithError(err.Error(), now), err
	}

	if _, err := h.confirm(ctx, tx); err != nil {
		h.l1Nonces.Reset()
		return record.WithError(err.Error(), now), err
	}

	hash := tx.Hash().Hex()
	return record.AdvanceToFinalized(&hash, nowMillis()), nil
}

func (h *Handler) CheckDepositStatus(ctx context.Context, id string) (deposit.Status, bool, error) {
	key, err := depositKey(id)
	if err != nil {
		return 0, false, err
	}
	raw, err := h.l1Depositor.Deposits(&bind.CallOpts{Context: ctx}, key)
	if err != nil {
		return 0, false, err
	}
	return deposit.StatusFromOnChain(raw)
}

// GetLatestBlock returns the L2 chain's current height, the range boundary
// CheckForPastDeposits scans against (spec.md §4.8).
func (h *Handler) GetLatestBlock(ctx context.Context) (uint64, error) {
	return h.l2RPC.LatestBlockNumber(ctx)
}

// BlockTimestamp implements internal/backfill.BlockSource so the binary
// search locator can fetch L2 block timestamps through the same RPC client
// GetLatestBlock uses (spec.md §4.8). Non-EVM handlers never implement this:
// SupportsPastDepositCheck is false for all of them, so the reconciler never
// attempts the type assertion.
func (h *Handler) BlockTimestamp(ctx context.Context, number uint64) (int64, bool, error) {
	return h.l2RPC.BlockTimestamp(ctx, number)
}

func (h *Handler) ProcessInitializeDeposits(ctx context.Context, store *deposit.Store) error {
	records, err := store.ListByStatus(deposit.Queued)
	if err != nil {
		return err
	}
	now := nowMillis()
	for _, r := range records {
		if !r.ReadyForRetry(now, retryThrottleMillis) {
			continue
		}
		updated, err := h.InitializeDeposit(ctx, r)
		if err != nil {
			logger.Warn("initialize deposit failed, will retry next tick", "id", r.ID, "err", err)
		}
		if putErr := store.Put(updated); putErr != nil {
			logger.Error("failed to persist record after initialize attempt", "id", r.ID, "err", putErr)
		}
	}
	return nil
}

func (h *Handler) ProcessFinalizeDeposits(ctx context.Context, store *deposit.Store) error {
	records, err := store.ListByStatus(deposit.Initialized)
	if err != nil {
		return err
	}
	now := nowMillis()
	for _, r := range records {
		if !r.ReadyForRetry(now, retryThrottleMillis) {
			continue
		}
		status, ok, err := h.CheckDepositStatus(ctx, r.ID)
		if err != nil {
			logger.Warn("checking deposit status failed, will retry next tick", "id", r.ID, "err", err)
			continue
		}
		if !ok || status != deposit.Finalized {
			updated, err := h.FinalizeDeposit(ctx, r)
			if err != nil {
				logger.Warn("finalize deposit failed, will retry next tick", "id", r.ID, "err", err)
			}
			if putErr := store.Put(updated); putErr != nil {
				logger.Error("failed to persist record after finalize attempt", "id", r.ID, "err", putErr)
			}
			continue
		}
		finalized := r.AdvanceToFinalized(nil, nowMillis())
		if err := store.Put(finalized); err != nil {
			logger.Error("failed to persist record discovered already finalized", "id", r.ID, "err", err)
		}
	}
	return nil
}

// CheckForPastDeposits binary-searches for the backfill range is handled by
// internal/backfill; this method only runs the log scan once the caller has
// resolved fromBlock/toBlock (spec.md §4.8).
func (h *Handler) CheckForPastDeposits(ctx context.Context, store *deposit.Store, fromBlock, toBlock uint64) error {
	events, err := h.l2Depositor.FilterDepositInitialized(&bind.FilterOpts{
		Start:   fromBlock,
		End:     &toBlock,
		Context: ctx,
	})
	if err != nil {
		return errors.Wrap(err, "chain.evm: filtering past DepositInitialized logs")
	}

	for _, ev := range events {
		if err := h.handleReveal(ctx, store, ev); err != nil {
			// Keyed by the derived deposit id, not the raw funding tx hash:
			// the bug in the original backfill implementation that keyed by
			// tx hash (and so mishandled deposits sharing a funding
			// transaction with multiple outputs) is not replicated here
			// (spec.md §9).
			logger.Error("failed to queue past deposit", "depositKey", ev.DepositKey, "err", err)
		}
	}
	return nil
}

func (h *Handler) SupportsPastDepositCheck() bool {
	return true
}

func (h *Handler) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(h.privateKey, h.l1ChainID)
	if err != nil {
		return nil, err
	}
	nextNonce, err := h.l1Nonces.Next(ctx, addrBytes(h.account), h.nonceSource)
	if err != nil {
		return nil, err
	}
	auth.Nonce = new(big.Int).SetUint64(nextNonce)
	auth.Context = ctx
	return auth, nil
}

type pendingNonceSource struct {
	client *ethclient.Client
}

func (s pendingNonceSource) PendingNonceAt(ctx context.Context, account [20]byte) (uint64, error) {
	return s.client.PendingNonceAt(ctx, common.Address(account))
}

func addrBytes(a common.Address) [20]byte {
	var out [20]byte
	copy(out[:], a[:])
	return out
}

// isAlreadyInitialized recognizes the revert reason a second initialize/
// finalize call against an already-advanced deposit returns, modeling the
// source's updateToInitializedDeposit(record, "Deposit already initialized")
// string-instead-of-tx fast-forward (spec.md §9).
func isAlreadyInitialized(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already") && (strings.Contains(msg, "initializ") || strings.Contains(msg, "finaliz"))
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
