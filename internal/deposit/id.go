package deposit

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidFundingHash is returned when a funding transaction hash is not
// exactly 64 hex characters (spec.md §3, "Deposit id derivation").
var ErrInvalidFundingHash = errors.New("InvalidFundingHash")

// DerivedID computes the deposit id the same way the on-chain contract does:
// decimal(uint256(keccak256(bytes32(fundingTxHash) || uint32_be(outputIndex)))).
// fundingTxHash must be exactly 64 hex characters (spec.md §3, §8 invariant 4).
func DerivedID(fundingTxHash string, outputIndex uint32) (string, error) {
	if len(fundingTxHash) != 64 {
		return "", ErrInvalidFundingHash
	}
	raw, err := hex.DecodeString(fundingTxHash)
	if err != nil {
		return "", ErrInvalidFundingHash
	}

	buf := make([]byte, 32+4)
	copy(buf[:32], raw)
	binary.BigEndian.PutUint32(buf[32:], outputIndex)

	h := sha3.NewLegacyKeccak256()
	h.Write(buf)
	digest := h.Sum(nil)

	return new(big.Int).SetBytes(digest).String(), nil
}
