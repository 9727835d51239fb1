package evm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/tbtc-relay/relayer/internal/chain/evm/contracts"
	"github.com/tbtc-relay/relayer/internal/deposit"
)

// bitcoinTxHash computes the Bitcoin txid (double-SHA256 of the serialized
// transaction, displayed byte-reversed) from the funding tx tuple carried on
// the reveal event. Used only to populate Record.FundingTxHash for display
// and audit; the deposit id itself is taken from the contract's DepositKey.
func bitcoinTxHash(tx contracts.FundingTx) string {
	serialized := make([]byte, 0, 4+len(tx.InputVector)+len(tx.OutputVector)+4)
	serialized = append(serialized, tx.Version[:]...)
	serialized = append(serialized, tx.InputVector...)
	serialized = append(serialized, tx.OutputVector...)
	serialized = append(serialized, tx.Locktime[:]...)

	first := sha256.Sum256(serialized)
	second := sha256.Sum256(first[:])

	reversed := make([]byte, len(second))
	for i, b := range second {
		reversed[len(second)-1-i] = b
	}
	return hex.EncodeToString(reversed)
}

// toFundingTx converts the opaque hex fields recorded on a deposit.Record
// into the ABI-encodable tuple the contract expects.
func toFundingTx(r deposit.Record) (contracts.FundingTx, error) {
	var out contracts.FundingTx
	version, err := decodeFixed4(r.L1OutputEvent.FundingTx.Version)
	if err != nil {
		return out, errors.Wrap(err, "evm: decoding funding tx version")
	}
	locktime, err := decodeFixed4(r.L1OutputEvent.FundingTx.Locktime)
	if err != nil {
		return out, errors.Wrap(err, "evm: decoding funding tx locktime")
	}
	inputVector, err := hex.DecodeString(trim0x(r.L1OutputEvent.FundingTx.InputVector))
	if err != nil {
		return out, errors.Wrap(err, "evm: decoding funding tx input vector")
	}
	outputVector, err := hex.DecodeString(trim0x(r.L1OutputEvent.FundingTx.OutputVector))
	if err != nil {
		return out, errors.Wrap(err, "evm: decoding funding tx output vector")
	}
	out.Version = version
	out.Locktime = locktime
	out.InputVector = inputVector
	out.OutputVector = outputVector
	return out, nil
}

func toDepositReveal(r deposit.Record, vault common.Address) (contracts.DepositReveal, error) {
	var out contracts.DepositReveal

	blinding, err := decodeFixed8(r.L1OutputEvent.Receipt.BlindingFactor)
	if err != nil {
		return out, errors.Wrap(err, "evm: decoding blinding factor")
	}
	wallet, err := decodeFixed20(r.L1OutputEvent.Receipt.WalletPubKeyHash)
	if err != nil {
		return out, errors.Wrap(err, "evm: decoding wallet pubkey hash")
	}
	refund, err := decodeFixed20(r.L1OutputEvent.Receipt.RefundPubKeyHash)
	if err != nil {
		return out, errors.Wrap(err, "evm: decoding refund pubkey hash")
	}
	refundLocktime, err := decodeFixed4(r.L1OutputEvent.Receipt.RefundLocktime)
	if err != nil {
		return out, errors.Wrap(err, "evm: decoding refund locktime")
	}
	extraData, err := decodeFixed32(r.L1OutputEvent.Receipt.ExtraData)
	if err != nil {
		return out, errors.Wrap(err, "evm: decoding extra data")
	}

	out.FundingOutputIndex = r.OutputIndex
	out.Depositor = common.HexToAddress(r.L1OutputEvent.Receipt.Depositor)
	out.BlindingFactor = blinding
	out.WalletPubKeyHash = wallet
	out.RefundPubKeyHash = refund
	out.RefundLocktime = refundLocktime
	out.Vault = vault
	out.ExtraData = extraData
	return out, nil
}

func toL2DepositOwner(r deposit.Record) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(trim0x(r.L1OutputEvent.L2DepositOwner))
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("evm: l2DepositOwner must be 32 bytes hex")
	}
	copy(out[:], raw)
	return out, nil
}

func depositKey(id string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return nil, fmt.Errorf("evm: %q is not a valid decimal deposit id", id)
	}
	return n, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func decodeFixed4(s string) (out [4]byte, err error) {
	raw, err := hex.DecodeString(trim0x(s))
	if err != nil || len(raw) != 4 {
		return out, fmt.Errorf("evm: expected 4 bytes hex, got %q", s)
	}
	copy(out[:], raw)
	return out, nil
}

func decodeFixed8(s string) (out [8]byte, err error) {
	raw, err := hex.DecodeString(trim0x(s))
	if err != nil || len(raw) != 8 {
		return out, fmt.Errorf("evm: expected 8 bytes hex, got %q", s)
	}
	copy(out[:], raw)
	return out, nil
}

func decodeFixed20(s string) (out [20]byte, err error) {
	raw, err := hex.DecodeString(trim0x(s))
	if err != nil || len(raw) != 20 {
		return out, fmt.Errorf("evm: expected 20 bytes hex, got %q", s)
	}
	copy(out[:], raw)
	return out, nil
}

func decodeFixed32(s string) (out [32]byte, err error) {
	raw, err := hex.DecodeString(trim0x(s))
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("evm: expected 32 bytes hex, got %q", s)
	}
	copy(out[:], raw)
	return out, nil
}

// fromFundingTx is the inverse of toFundingTx, used to build a deposit.Record
// from a decoded L2 DepositInitialized event (spec.md §3).
func fromFundingTx(tx contracts.FundingTx) deposit.FundingTx {
	return deposit.FundingTx{
		Version:      "0x" + hex.EncodeToString(tx.Version[:]),
		InputVector:  "0x" + hex.EncodeToString(tx.InputVector),
		OutputVector: "0x" + hex.EncodeToString(tx.OutputVector),
		Locktime:     "0x" + hex.EncodeToString(tx.Locktime[:]),
	}
}

func fromDepositReveal(reveal contracts.DepositReveal) deposit.Receipt {
	return deposit.Receipt{
		Depositor:        reveal.Depositor.Hex(),
		BlindingFactor:   "0x" + hex.EncodeToString(reveal.BlindingFactor[:]),
		WalletPubKeyHash: "0x" + hex.EncodeToString(reveal.WalletPubKeyHash[:]),
		RefundPubKeyHash: "0x" + hex.EncodeToString(reveal.RefundPubKeyHash[:]),
		RefundLocktime:   "0x" + hex.EncodeToString(reveal.RefundLocktime[:]),
		ExtraData:        "0x" + hex.EncodeToString(reveal.ExtraData[:]),
	}
}
