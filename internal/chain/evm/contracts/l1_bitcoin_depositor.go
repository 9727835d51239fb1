// Code generated by hand in the style of abigen bindings (see
// contracts/token/GXToken.go) because the relayer only
// needs a handful of methods off the real L1BitcoinDepositor ABI, not the
// full surface abigen would emit.
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

// L1BitcoinDepositorABI is the fragment of the real ABI this binding calls.
const L1BitcoinDepositorABI = `[
  {"constant":false,"inputs":[
    {"name":"fundingTx","type":"tuple","components":[
      {"name":"version","type":"bytes4"},
      {"name":"inputVector","type":"bytes"},
      {"name":"outputVector","type":"bytes"},
      {"name":"locktime","type":"bytes4"}]},
    {"name":"reveal","type":"tuple","components":[
      {"name":"fundingOutputIndex","type":"uint32"},
      {"name":"depositor","type":"address"},
      {"name":"blindingFactor","type":"bytes8"},
      {"name":"walletPubKeyHash","type":"bytes20"},
      {"name":"refundPubKeyHash","type":"bytes20"},
      {"name":"refundLocktime","type":"bytes4"},
      {"name":"vault","type":"address"},
      {"name":"extraData","type":"bytes32"}]},
    {"name":"l2DepositOwner","type":"bytes32"}],
   "name":"initializeDeposit","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"constant":false,"inputs":[{"name":"depositKey","type":"uint256"}],
   "name":"finalizeDeposit","outputs":[{"name":"","type":"uint256"}],
   "stateMutability":"payable","type":"function"},
  {"constant":true,"inputs":[{"name":"depositKey","type":"uint256"}],
   "name":"deposits","outputs":[{"name":"status","type":"uint8"}],
   "stateMutability":"view","type":"function"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"depositKey","type":"uint256"},
    {"indexed":false,"name":"initializer","type":"address"}],
   "name":"DepositInitialized","type":"event"}
]`

// FundingTx mirrors the Bitcoin funding transaction tuple the contract
// expects, byte-for-byte (spec.md §3, deposit.FundingTx holds the same
// fields as opaque hex strings; this struct is the ABI-encodable form).
type FundingTx struct {
	Version      [4]byte
	InputVector  []byte
	OutputVector []byte
	Locktime     [4]byte
}

// DepositReveal mirrors the reveal tuple the contract expects.
type DepositReveal struct {
	FundingOutputIndex uint32
	Depositor          common.Address
	BlindingFactor     [8]byte
	WalletPubKeyHash   [20]byte
	RefundPubKeyHash   [20]byte
	RefundLocktime     [4]byte
	Vault              common.Address
	ExtraData          [32]byte
}

// L1BitcoinDepositor is a binding to the L1 contract the relayer submits
// initialize transactions against (spec.md §4.3).
type L1BitcoinDepositor struct {
	contract *bind.BoundContract
}

// NewL1BitcoinDepositor binds address to an already-deployed contract.
func NewL1BitcoinDepositor(address common.Address, backend bind.ContractBackend) (*L1BitcoinDepositor, error) {
	parsed, err := abi.JSON(strings.NewReader(L1BitcoinDepositorABI))
	if err != nil {
		return nil, err
	}
	return &L1BitcoinDepositor{
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// InitializeDeposit submits the on-chain initialize call (spec.md §4.3).
func (d *L1BitcoinDepositor) InitializeDeposit(opts *bind.TransactOpts, fundingTx FundingTx, reveal DepositReveal, l2DepositOwner [32]byte) (*types.Transaction, error) {
	return d.contract.Transact(opts, "initializeDeposit", fundingTx, reveal, l2DepositOwner)
}

// CallInitializeDeposit performs the pre-flight eth_call the relayer runs
// before sending a real transaction (spec.md §4.3, "pre-flight (callStatic)
// + send + confirm").
func (d *L1BitcoinDepositor) CallInitializeDeposit(opts *bind.CallOpts, fundingTx FundingTx, reveal DepositReveal, l2DepositOwner [32]byte) error {
	var out []interface{}
	return d.contract.Call(opts, &out, "initializeDeposit", fundingTx, reveal, l2DepositOwner)
}

// FinalizeDeposit submits the on-chain finalize call, either because the
// reconciler's own polling decided the deposit is ready or because a
// TBTCVault OptimisticMintingFinalized event triggered it (spec.md §4.3,
// §4.5). finalizeDeposit is payable: callers must set opts.Value to the
// amount CallFinalizeDeposit returned.
func (d *L1BitcoinDepositor) FinalizeDeposit(opts *bind.TransactOpts, depositKey *big.Int) (*types.Transaction, error) {
	return d.contract.Transact(opts, "finalizeDeposit", depositKey)
}

// CallFinalizeDeposit is the pre-flight eth_call for FinalizeDeposit. It
// returns the native-token value the real transaction must forward
// (spec.md §4.3, §6: finalizeDeposit is payable and callStatic reports the
// required L2-messaging fee).
func (d *L1BitcoinDepositor) CallFinalizeDeposit(opts *bind.CallOpts, depositKey *big.Int) (*big.Int, error) {
	value := new(big.Int)
	out := []interface{}{&value}
	if err := d.contract.Call(opts, &out, "finalizeDeposit", depositKey); err != nil {
		return nil, err
	}
	return value, nil
}

// Deposits reads the on-chain status for a derived deposit id (spec.md §4.3,
// checkDepositStatus). The returned value must be mapped through
// deposit.StatusFromOnChain.
func (d *L1BitcoinDepositor) Deposits(opts *bind.CallOpts, depositKey *big.Int) (uint8, error) {
	var status uint8
	out := []interface{}{&status}
	if err := d.contract.Call(opts, &out, "deposits", depositKey); err != nil {
		return 0, err
	}
	return status, nil
}

// L1BitcoinDepositorDepositInitialized is emitted once the on-chain
// initialize call lands. The EVM handler does not subscribe to or filter
// this event (its backfill scans the L2 DepositInitialized event); it treats
// a mined initialize transaction as success.
type L1BitcoinDepositorDepositInitialized struct {
	DepositKey  *big.Int
	Initializer common.Address
	Raw         types.Log
}

// WatchDepositInitialized subscribes to DepositInitialized logs, grounded on
// BridgeManager.subscribeEvent/WatchRequestValueTransfer
// pattern (node/sc/bridge_manager.go).
func (d *L1BitcoinDepositor) WatchDepositInitialized(opts *bind.WatchOpts, sink chan<- *L1BitcoinDepositorDepositInitialized) (event.Subscription, error) {
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
				ev := new(L1BitcoinDepositorDepositInitialized)
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
