package chain

import (
	"fmt"

	"github.com/tbtc-relay/relayer/internal/chain/evm"
	"github.com/tbtc-relay/relayer/internal/chain/solana"
	"github.com/tbtc-relay/relayer/internal/chain/starknet"
	"github.com/tbtc-relay/relayer/internal/chain/sui"
)

// NewHandler is the Handler Factory (spec.md §4.2): it switches on
// cfg.Chain and returns the concrete Handler for that destination chain.
// An unrecognized chain type is a configuration error the caller should
// treat as fatal at startup, the same way
// node.ServiceContext.OpenDatabase refuses to start on an unknown DBType.
func NewHandler(cfg Config) (Handler, error) {
	switch cfg.Chain {
	case EVM:
		return evm.NewHandler(evm.Config{
			L1RPC:                     cfg.L1RPC,
			L2RPC:                     cfg.L2RPC,
			PrivateKey:                cfg.PrivateKey,
			L1BitcoinDepositorAddress: cfg.L1BitcoinDepositorAddress,
			L2BitcoinDepositorAddress: cfg.L2BitcoinDepositorAddress,
			TBTCVaultAddress:          cfg.TBTCVaultAddress,
			L2StartBlock:              cfg.L2StartBlock,
		})
	case Starknet:
		return starknet.NewHandler(starknet.Config{StatusEndpoint: cfg.StatusEndpoint}), nil
	case Sui:
		return sui.NewHandler(sui.Config{StatusEndpoint: cfg.StatusEndpoint}), nil
	case Solana:
		return solana.NewHandler(solana.Config{StatusEndpoint: cfg.StatusEndpoint}), nil
	default:
		return nil, fmt.Errorf("chain: unsupported destination chain %q", cfg.Chain)
	}
}
