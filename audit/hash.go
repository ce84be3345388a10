// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package audit

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/danielhkuo/verivote/models"
)

// Genesis is the tip of an empty chain.
var Genesis = common.Hash{}

// abi.encode(uint256 pollId, address wallet, uint8 option, uint256 nonce,
// uint256 deadline, bytes32 leaf, bytes signature)
var rowArgs = abi.Arguments{
	{Type: mustType("uint256")},
	{Type: mustType("address")},
	{Type: mustType("uint8")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes")},
}

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// RowHash hashes the canonical ABI encoding of a stored vote.
func RowHash(v models.Vote) (common.Hash, error) {
	nonce, err := uint256.FromDecimal(v.Nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid nonce %q: %w", v.Nonce, err)
	}
	if v.Deadline < 0 {
		return common.Hash{}, fmt.Errorf("negative deadline %d", v.Deadline)
	}

	encoded, err := rowArgs.Pack(
		big.NewInt(v.PollID),
		v.Wallet,
		v.Option,
		nonce.ToBig(),
		big.NewInt(v.Deadline),
		[32]byte(v.Leaf),
		[]byte(v.Sig),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode vote row: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// NextTip links a row hash onto the previous tip: keccak256(prev ‖ row).
func NextTip(prev, row common.Hash) common.Hash {
	return crypto.Keccak256Hash(prev[:], row[:])
}
