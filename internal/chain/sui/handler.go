// Package sui implements the thin off-chain-endpoint Handler stub for the
// Sui destination chain (spec.md §4.4, §9), following the same
// status-endpoint-poll shape as internal/chain/starknet.
package sui

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

var logger = rlog.NewModuleLogger("chain.sui")

// Config is the subset of chain.Config a Sui Handler consults.
type Config struct {
	StatusEndpoint string
}

// Handler polls Config.StatusEndpoint for deposit status (spec.md §4.4).
type Handler struct {
	cfg    Config
	client *http.Client
}

func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg, client: &http.Client{}}
}

func (h *Handler) Initialize(ctx context.Context) error {
	if h.cfg.StatusEndpoint == "" {
		return errors.New("chain.sui: StatusEndpoint must be configured")
	}
	return nil
}

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
		return statusResponse{}, fmt.Errorf("chain.sui: status endpoint returned %d", resp.StatusCode)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return statusResponse{}, errors.Wrap(err, "chain.sui: decoding status response")
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
			logger.Warn("sui status poll failed", "id", r.ID, "err", err)
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
			logger.Warn("sui status poll failed", "id", r.ID, "err", err)
			continue
		}
		if err := store.Put(updated); err != nil {
			logger.Error("failed to persist updated record", "id", r.ID, "err", err)
		}
	}
	return nil
}

func (h *Handler) CheckForPastDeposits(ctx context.Context, store *deposit.Store, fromBlock, toBlock uint64) error {
	return nil
}

func (h *Handler) SupportsPastDepositCheck() bool {
	return false
}
