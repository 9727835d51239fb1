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

// L2BitcoinDepositorABI is the fragment of the real ABI this binding calls.
const L2BitcoinDepositorABI = `[
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"depositKey","type":"uint256"},
    {"indexed":false,"name":"fundingTx","type":"tuple","components":[
      {"name":"version","type":"bytes4"},
      {"name":"inputVector","type":"bytes"},
      {"name":"outputVector","type":"bytes"},
      {"name":"locktime","type":"bytes4"}]},
    {"indexed":false,"name":"reveal","type":"tuple","components":[
      {"name":"fundingOutputIndex","type":"uint32"},
      {"name":"depositor","type":"address"},
      {"name":"blindingFactor","type":"bytes8"},
      {"name":"walletPubKeyHash","type":"bytes20"},
      {"name":"refundPubKeyHash","type":"bytes20"},
      {"name":"refundLocktime","type":"bytes4"},
      {"name":"vault","type":"address"},
      {"name":"extraData","type":"bytes32"}]},
    {"indexed":false,"name":"l2DepositOwner","type":"bytes32"},
    {"indexed":false,"name":"l2Sender","type":"address"}],
   "name":"DepositInitialized","type":"event"}
]`

// L2BitcoinDepositor is the read-only binding the relayer subscribes to for
// newly revealed deposits (spec.md §4.3, L2 event listener).
type L2BitcoinDepositor struct {
	contract *bind.BoundContract
}

func NewL2BitcoinDepositor(address common.Address, backend bind.ContractBackend) (*L2BitcoinDepositor, error) {
	parsed, err := abi.JSON(strings.NewReader(L2BitcoinDepositorABI))
	if err != nil {
		return nil, err
	}
	return &L2BitcoinDepositor{
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// L2BitcoinDepositorDepositInitialized is the decoded reveal event (spec.md
// §3, L1OutputEvent).
type L2BitcoinDepositorDepositInitialized struct {
	DepositKey     *big.Int
	FundingTx      FundingTx
	Reveal         DepositReveal
	L2DepositOwner [32]byte
	L2Sender       common.Address
	Raw            types.Log
}

// WatchDepositInitialized subscribes to the reveal event, grounded on
// node/sc/bridge_manager.go's subscribeEvent/loop shape.
func (d *L2BitcoinDepositor) WatchDepositInitialized(opts *bind.WatchOpts, sink chan<- *L2BitcoinDepositorDepositInitialized) (event.Subscription, error) {
	logs, sub, err := d.contract.WatchLogs(opts, "DepositInitialized")
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
				ev := new(L2BitcoinDepositorDepositInitialized)
				if err := d.contract.UnpackLog(ev, "DepositInitialized", log); err != nil {
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

// FilterDepositInitialized scans a historical block range for reveal events,
// used by the past-deposit backfill (spec.md §4.8).
func (d *L2BitcoinDepositor) FilterDepositInitialized(opts *bind.FilterOpts) ([]*L2BitcoinDepositorDepositInitialized, error) {
	logs, sub, err := d.contract.FilterLogs(opts, "DepositInitialized")
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	var out []*L2BitcoinDepositorDepositInitialized
	for log := range logs {
		ev := new(L2BitcoinDepositorDepositInitialized)
		if err := d.contract.UnpackLog(ev, "DepositInitialized", log); err != nil {
			return nil, err
		}
		ev.Raw = log
		out = append(out, ev)
	}
	return out, nil
}
