package contracts

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// TBTCVaultABI is the fragment of the real ABI this binding calls.
const TBTCVaultABI = `[
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"depositKey","type":"uint256"},
    {"indexed":false,"name":"minter","type":"address"},
    {"indexed":false,"name":"amount","type":"uint256"}],
   "name":"OptimisticMintingFinalized","type":"event"}
]`

// TBTCVault is the binding to the vault contract whose
// OptimisticMintingFinalized event triggers the relayer's finalize path
// (spec.md §4.5).
type TBTCVault struct {
	contract *bind.BoundContract
}

func NewTBTCVault(address common.Address, backend bind.ContractBackend) (*TBTCVault, error) {
	parsed, err := abi.JSON(strings.NewReader(TBTCVaultABI))
	if err != nil {
		return nil, err
	}
	return &TBTCVault{
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// TBTCVaultOptimisticMintingFinalized is the decoded vault event.
type TBTCVaultOptimisticMintingFinalized struct {
	DepositKey *big.Int
	Minter     common.Address
	Amount     *big.Int
	Raw        types.Log
}

// WatchOptimisticMintingFinalized subscribes to the vault's finalize signal,
// grounded on node/sc/bridge_manager.go's subscribeEvent/loop shape.
func (v *TBTCVault) WatchOptimisticMintingFinalized(opts *bind.WatchOpts, sink chan<- *TBTCVaultOptimisticMintingFinalized) (event.Subscription, error) {
	logs, sub, err := v.contract.WatchLogs(opts, "OptimisticMintingFinalized")
	if err != nil {
		return nil, err
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case log, ok := <-logs:
				if !ok {
					return nil
				}
				ev := new(TBTCVaultOptimisticMintingFinalized)
				if err := v.contract.UnpackLog(ev, "OptimisticMintingFinalized", log); err != nil {
					return err
				}
				ev.Raw = log
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}
