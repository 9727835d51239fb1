package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// blockHeader is the subset of eth_getBlockByNumber's response the binary
// search backfill needs (internal/backfill's Locate).
type blockHeader struct {
	Number    hexutil.Uint64 `json:"number"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// rpcClient wraps raw JSON-RPC verbs that aren't covered by an ABI binding,
// the same thin CallContext shape as client/bridge_client.go's
// BridgeGetLatestAnchoredBlockNumber, adapted to the handful of verbs the EVM
// handler needs directly rather than through ethclient.
type rpcClient struct {
	c *rpc.Client
}

func newRPCClient(c *rpc.Client) *rpcClient {
	return &rpcClient{c: c}
}

// LatestBlockNumber returns the destination chain's current block height
// (spec.md §4.4, getLatestBlock).
func (r *rpcClient) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := r.c.CallContext(ctx, &result, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// BlockTimestamp returns the Unix timestamp of the L2 block at number, or
// ok=false if the chain has no block at that height yet (internal/backfill's
// binary search narrows its high bound on this, spec.md §4.8).
func (r *rpcClient) BlockTimestamp(ctx context.Context, number uint64) (int64, bool, error) {
	var header *blockHeader
	if err := r.c.CallContext(ctx, &header, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false); err != nil {
		return 0, false, err
	}
	if header == nil {
		return 0, false, nil
	}
	return int64(header.Timestamp), true, nil
}
