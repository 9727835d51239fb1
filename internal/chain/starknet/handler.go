// Package starknet implements the thin off-chain-endpoint Handler stub for
// the Starknet destination chain (spec.md §4.4, §9): Starknet exposes no RPC
// the relayer binds ABIs against here, so the handler polls a status
// endpoint instead of subscribing to on-chain events or running a
// block-ranged backfill.
package starknet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/tbtc-relay/relayer/internal/deposit"
	rlog "github.com/tbtc-relay/relayer/internal/log"
)

// retryThrottleMillis is the minimum time between reconcile touches of the
// same record (spec.md §5, "TIME_TO_RETRY"); see internal/chain/evm for why
// it's declared locally rather than shared.
const retryThrottleMillis = 5 * 60 * 1000

var logger = rlog.NewModuleLogger("chain.starknet")

// Config is the subset of chain.Config a Starknet Handler consults.
type Config struct {
	StatusEndpoint string
}

// Handler polls Config.StatusEndpoint for deposit status instead of driving
// on-chain transactions directly (spec.md §4.4: "handlers for chains without
// a retrieved ABI/RPC binding act as thin off-chain-endpoint clients").
type Handler struct {
	cfg    Config
	client *http.Client
}

// NewHandler returns a Handler for the given configuration.
func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg, client: &http.Client{}}
}

func (h *Handler) Initialize(ctx context.Context) error {
	if h.cfg.StatusEndpoint == "" {
		return errors.New("chain.starknet: StatusEndpoint must be configured")
	}
	return nil
}

// SetupListeners is a no-op: there is no event subscription to establish.
// This handler never adds records to the store; the status-endpoint poll in
// ProcessInitializeDeposits/ProcessFinalizeDeposits only advances records
// that are already there.
func (h *Handler) SetupListeners(ctx context.Context, store *deposit.Store) error {
	return nil
}

type statusResponse struct {
	Status     string  `json:"status"`
	TxHash     *string `json:"txHash"`
	FinalizeAt *int64  `json:"finalizedAt"`
}

func (h *Handler) fetchStatus(ctx context.Context, id string) (statusResponse, error) {
	url := fmt.Sprintf("%s/deposits/%s", h.cfg.StatusEndpoint, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return statusResponse{}, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return statusResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return statusResponse{Status: "QUEUED"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return statusResponse{}, fmt.Errorf("chain.starknet: status endpoint returned %d", resp.StatusCode)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return statusResponse{}, errors.Wrap(err, "chain.starknet: decoding status response")
	}
	return out, nil
}

func (h *Handler) InitializeDeposit(ctx context.Context, record deposit.Record) (deposit.Record, error) {
	now := time.Now().UnixMilli()
	status, err := h.fetchStatus(ctx, record.ID)
	if err != nil {
		return record.WithError(err.Error(), now), err
	}
	if status.Status == "QUEUED" {
		return record.Touch(now), nil
	}
	return record.AdvanceToInitialized(status.TxHash, now), nil
}

func (h *Handler) FinalizeDeposit(ctx context.Context, record deposit.Record) (deposit.Record, error) {
	now := time.Now().UnixMilli()
	status, err := h.fetchStatus(ctx, record.ID)
	if err != nil {
		return record.WithError(err.Error(), now), err
	}
	if status.Status != "FINALIZED" {
		return record.Touch(now), nil
	}
	return record.AdvanceToFinalized(status.TxHash, now), nil
}

func (h *Handler) CheckDepositStatus(ctx context.Context, id string) (deposit.Status, bool, error) {
	status, err := h.fetchStatus(ctx, id)
	if err != nil {
		return 0, false, err
	}
	switch status.Status {
	case "INITIALIZED":
		return deposit.Initialized, true, nil
	case "FINALIZED":
		return deposit.Finalized, true, nil
	case "QUEUED":
		return deposit.Queued, true, nil
	default:
		return 0, false, nil
	}
}

// GetLatestBlock always returns 0: there is no block-height concept this
// handler consults (spec.md §4.4).
func (h *Handler) GetLatestBlock(ctx context.Context) (uint64, error) {
	return 0, nil
}

func (h *Handler) ProcessInitializeDeposits(ctx context.Context, store *deposit.Store) error {
	records, err := store.ListByStatus(deposit.Queued)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, r := range records {
		if !r.ReadyForRetry(now, retryThrottleMillis) {
			continue
		}
		updated, err := h.InitializeDeposit(ctx, r)
		if err != nil {
			logger.Warn("starknet status poll failed", "id", r.ID, "err", err)
			continue
		}
		if err := store.Put(updated); err != nil {
			logger.Error("failed to persist updated record", "id", r.ID, "err", err)
		}
	}
	return nil
}

func (h *Handler) ProcessFinalizeDeposits(ctx context.Context, store *deposit.Store) error {
	records, err := store.ListByStatus(deposit.Initialized)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, r := range records {
		if !r.ReadyForRetry(now, retryThrottleMillis) {
			continue
		}
		updated, err := h.FinalizeDeposit(ctx, r)
		if err != nil {
			logger.Warn("starknet status poll failed", "id", r.ID, "err", err)
			continue
		}
		if err := store.Put(updated); err != nil {
			logger.Error("failed to persist updated record", "id", r.ID, "err", err)
		}
	}
	return nil
}

// CheckForPastDeposits is a no-op: see SupportsPastDepositCheck.
func (h *Handler) CheckForPastDeposits(ctx context.Context, store *deposit.Store, fromBlock, toBlock uint64) error {
	return nil
}

// SupportsPastDepositCheck is false: there is no block-ranged log query to
// run against a status endpoint (spec.md §4.4).
func (h *Handler) SupportsPastDepositCheck() bool {
	return false
}
